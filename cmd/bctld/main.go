package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/config"
	"github.com/rexliu/bctl/pkg/daemon"
	"github.com/rexliu/bctl/pkg/lifecycle"
	"github.com/rexliu/bctl/pkg/logging"
)

var version = "dev"

func main() {
	notifier := lifecycle.NotifierFromEnv()
	var home, session string

	cmd := &cobra.Command{
		Use:           "bctld",
		Short:         "Run the bctl daemon in the foreground",
		Args:          cobra.NoArgs,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(home, session, notifier)
		},
	}
	cmd.Flags().StringVar(&home, "home", "", "Application directory (default $BCTL_HOME or ~/.bctl)")
	cmd.Flags().StringVar(&session, "session-name", config.DefaultSession, "Daemon instance name")

	if err := cmd.Execute(); err != nil {
		notifier.Fail(err)
		fmt.Fprintf(os.Stderr, "bctld: %v\n", err)
		os.Exit(1)
	}
}

func run(home, session string, notifier *lifecycle.Notifier) error {
	if home == "" {
		dir, err := config.DefaultAppDir()
		if err != nil {
			return err
		}
		home = dir
	}
	cfg, err := config.Load(home, session)
	if err != nil {
		return err
	}
	logger, err := logging.New("bctld", cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Sync()
	logger.Info("starting daemon", zap.String("home", cfg.AppDir), zap.String("session", cfg.Session))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	return daemon.Run(ctx, cfg, daemon.Options{Version: version, Logger: logger, Notifier: notifier})
}
