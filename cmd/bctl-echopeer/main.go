package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/config"
	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/logging"
	"github.com/rexliu/bctl/pkg/peer"
	"github.com/rexliu/bctl/pkg/session"
)

// echopeer connects to a daemon the way the browser extension does and
// answers every command with its own action and params.
func main() {
	url := flag.String("url", "ws://127.0.0.1:9334/extension", "Daemon peer endpoint")
	peerID := flag.String("peer-id", "echopeer", "Stable peer identifier sent in the handshake")
	tokenFile := flag.String("token-file", "", "Auth token file for non-loopback daemons")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	level := "info"
	if *verbose {
		level = "debug"
	}
	logger, err := logging.New("echopeer", config.LoggingConfig{Level: level})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, *url, *peerID, *tokenFile, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("echopeer exiting", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, url, peerID, tokenFile string, logger *zap.Logger) error {
	opts := peer.DialOptions{PeerID: peerID}
	if tokenFile != "" {
		token, err := session.ReadToken(tokenFile)
		if err != nil {
			return err
		}
		opts.Token = token
	}
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := peer.Dial(dialCtx, url, opts)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("connected", zap.String("sessionId", client.SessionID()))

	return client.Serve(ctx, func(_ context.Context, req core.PeerMessage) core.PeerMessage {
		logger.Debug("request", zap.String("id", req.ID), zap.String("action", req.Command.Action))
		if err := client.Emit("log", map[string]string{"id": req.ID, "action": req.Command.Action}, req.TargetTabID); err != nil {
			logger.Warn("emit failed", zap.Error(err))
		}
		return peer.Reply(map[string]any{
			"action": req.Command.Action,
			"params": req.Command.Params,
		})
	})
}
