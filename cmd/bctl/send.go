package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/ipc"
)

var (
	flagTarget  string
	flagTab     int
	flagTimeout time.Duration
	flagLimit   int
	flagKind    string
)

var sendCmd = &cobra.Command{
	Use:   "send <action> [params-json]",
	Short: "Send one command to the connected browser",
	Example: `  bctl send navigate '{"url":"https://example.com"}'
  bctl send getTitle
  bctl send click '{"selector":"#submit"}' --session 3f2c...`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := core.LocalRequest{
			ID:        core.NewID(),
			Command:   core.CommandEnvelope{Action: args[0]},
			SessionID: flagTarget,
		}
		if len(args) == 2 {
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("params must be valid JSON")
			}
			req.Command.Params = json.RawMessage(args[1])
		}
		if cmd.Flags().Changed("tab") {
			tab := flagTab
			req.TargetTabID = &tab
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		resp := call(ctx, req)
		if !resp.Success {
			return reportFailure(cmd, resp.Error)
		}
		if len(resp.Data) == 0 {
			return nil
		}
		var pretty any
		if err := json.Unmarshal(resp.Data, &pretty); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), string(resp.Data))
			return nil
		}
		return printJSON(cmd, pretty)
	},
}

// call dials the daemon for one request, mapping transport failures onto the response shape.
func call(ctx context.Context, req core.LocalRequest) core.LocalResponse {
	client, err := ipc.Dial(ctx, cfg.SocketPath())
	if err != nil {
		return ipc.FailureResponse(req.ID, err)
	}
	defer client.Close()
	logger.Debug("sending", zap.String("id", req.ID), zap.String("action", req.Command.Action))
	resp, err := client.Call(ctx, req)
	if err != nil {
		return ipc.FailureResponse(req.ID, err)
	}
	return resp
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon and connected browser sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		client, err := ipc.Dial(ctx, cfg.SocketPath())
		if err != nil {
			return reportFailure(cmd, ipc.FailureResponse("status", err).Error)
		}
		defer client.Close()
		status, err := client.Status(ctx)
		if err != nil {
			return reportFailure(cmd, ipc.FailureResponse("status", err).Error)
		}
		return printJSON(cmd, status)
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print buffered browser events, newest last",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), flagTimeout)
		defer cancel()
		client, err := ipc.Dial(ctx, cfg.SocketPath())
		if err != nil {
			return reportFailure(cmd, ipc.FailureResponse("events", err).Error)
		}
		defer client.Close()
		events, err := client.Events(ctx, flagLimit, flagKind)
		if err != nil {
			return reportFailure(cmd, ipc.FailureResponse("events", err).Error)
		}
		return printJSON(cmd, events)
	},
}

func init() {
	sendCmd.Flags().StringVar(&flagTarget, "session", "", "Target session id (required when several browsers are connected)")
	sendCmd.Flags().IntVar(&flagTab, "tab", 0, "Target tab id")
	for _, c := range []*cobra.Command{sendCmd, statusCmd, eventsCmd} {
		c.Flags().DurationVar(&flagTimeout, "timeout", 45*time.Second, "Give up waiting for the daemon after this long")
	}
	eventsCmd.Flags().IntVar(&flagLimit, "limit", 50, "Newest events to show (0 for all)")
	eventsCmd.Flags().StringVar(&flagKind, "kind", "", "Only show events of this kind")
}
