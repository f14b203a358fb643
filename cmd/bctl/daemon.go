package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rexliu/bctl/pkg/daemon"
	"github.com/rexliu/bctl/pkg/lifecycle"
	"github.com/rexliu/bctl/pkg/logging"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
}

func manager() (*lifecycle.Manager, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locate executable: %w", err)
	}
	launch := lifecycle.Launch{
		Path:    exe,
		Args:    []string{"daemon", "run", "--home", cfg.AppDir, "--session-name", cfg.Session},
		LogPath: filepath.Join(cfg.AppDir, cfg.Session+".log"),
	}
	// prefer a bctld installed alongside this binary
	sibling := filepath.Join(filepath.Dir(exe), "bctld"+filepath.Ext(exe))
	if info, err := os.Stat(sibling); err == nil && !info.IsDir() {
		launch.Path = sibling
		launch.Args = launch.Args[2:]
	}
	return lifecycle.NewManager(cfg, launch, logger.Named("lifecycle")), nil
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the background (no-op when running)",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := os.MkdirAll(cfg.AppDir, 0o700); err != nil {
			return err
		}
		m, err := manager()
		if err != nil {
			return err
		}
		pid, err := m.Start(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "daemon running (pid %d)\n", pid)
		return nil
	},
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon, killing it if it does not exit in time",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manager()
		if err != nil {
			return err
		}
		if err := m.Stop(cmd.Context()); err != nil {
			if errors.Is(err, lifecycle.ErrNotRunning) {
				fmt.Fprintln(cmd.OutOrStdout(), "daemon not running")
				return nil
			}
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "daemon stopped")
		return nil
	},
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether the daemon is running",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := manager()
		if err != nil {
			return err
		}
		if pid, ok := m.IsRunning(); ok {
			fmt.Fprintf(cmd.OutOrStdout(), "running (pid %d)\n", pid)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "not running")
		return errReported
	},
}

var daemonRunCmd = &cobra.Command{
	Use:    "run",
	Short:  "Run the daemon in the foreground",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		notifier := lifecycle.NotifierFromEnv()
		dlog, err := logging.New("bctld", cfg.Logging)
		if err != nil {
			notifier.Fail(err)
			return err
		}
		defer dlog.Sync()

		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		return daemon.Run(ctx, cfg, daemon.Options{Version: version, Logger: dlog, Notifier: notifier})
	},
}

func init() {
	daemonCmd.AddCommand(daemonStartCmd, daemonStopCmd, daemonStatusCmd, daemonRunCmd)
}
