package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/config"
	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/logging"
)

var version = "dev"

var (
	flagHome    string
	flagSession string
	flagVerbose bool

	cfg    *config.Config
	logger *zap.Logger
)

// errReported marks a failure already printed to stderr.
var errReported = errors.New("reported")

var rootCmd = &cobra.Command{
	Use:   "bctl",
	Short: "Drive an open browser through the bctl extension",
	Long: `bctl relays commands to a browser extension through a background daemon.

Start the daemon with "bctl daemon start", open the browser with the extension
enabled, then send commands with "bctl send <action> [params-json]".`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		home := flagHome
		if home == "" {
			dir, err := config.DefaultAppDir()
			if err != nil {
				return err
			}
			home = dir
		}
		var err error
		cfg, err = config.Load(home, flagSession)
		if err != nil {
			return err
		}
		logCfg := config.LoggingConfig{Level: "warn"}
		if flagVerbose {
			logCfg.Level = "debug"
		}
		logger, err = logging.New("bctl", logCfg)
		return err
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagHome, "home", "", "Application directory (default $BCTL_HOME or ~/.bctl)")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session-name", config.DefaultSession, "Daemon instance name")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")

	rootCmd.AddCommand(sendCmd, statusCmd, eventsCmd, daemonCmd, versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), "bctl", version)
	},
}

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "bctl: %v\n", err)
		}
		os.Exit(1)
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// reportFailure prints a protocol error the way every subcommand does.
func reportFailure(cmd *cobra.Command, perr *core.ProtocolError) error {
	if perr == nil {
		perr = core.Errorf(core.CodeInternal, "request failed without an error")
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "error [%s]: %s\n", perr.Code, perr.Message)
	if perr.Hint != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "hint: %s\n", perr.Hint)
	}
	return errReported
}
