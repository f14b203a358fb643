package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rexliu/bctl/pkg/bridge"
	"github.com/rexliu/bctl/pkg/config"
	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/ipc"
	"github.com/rexliu/bctl/pkg/lifecycle"
	"github.com/rexliu/bctl/pkg/logging"
	"github.com/rexliu/bctl/pkg/peer"
	"github.com/rexliu/bctl/pkg/session"
)

// Options carries process-level inputs to Run.
type Options struct {
	Version  string
	Logger   *zap.Logger
	Notifier *lifecycle.Notifier
}

// Daemon owns both servers and the state they share.
type Daemon struct {
	cfg        *config.Config
	logger     *zap.Logger
	version    string
	instanceID string
	startedAt  time.Time

	store    session.Store
	sessions *session.Map
	token    string

	peers  *peer.Server
	bridge *bridge.Bridge
	local  *ipc.Server

	// handlers run under this context; it is cancelled after peers shut down
	handlerCtx    context.Context
	cancelHandler context.CancelFunc
}

// New prepares the daemon without binding any listener.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Daemon, error) {
	logger := logging.OrNop(opts.Logger)
	store, err := session.OpenStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		version:    opts.Version,
		instanceID: core.NewID(),
		startedAt:  time.Now(),
		store:      store,
		sessions:   session.LoadMap(ctx, store, logger.Named("session")),
	}

	if session.IsNonLoopback(cfg.Peer.Host) {
		token, err := session.GenerateToken()
		if err != nil {
			store.Close()
			return nil, err
		}
		if err := session.WriteToken(cfg.TokenPath(), token); err != nil {
			store.Close()
			return nil, fmt.Errorf("write token: %w", err)
		}
		d.token = token
		logger.Info("peer listener is not loopback; token required", zap.String("tokenPath", cfg.TokenPath()))
	}

	popts := peer.OptionsFromConfig(cfg.Peer)
	popts.Token = d.token
	popts.Sessions = d.sessions
	popts.Logger = logger.Named("peer")
	d.peers = peer.NewServer(popts)
	d.bridge = bridge.New(d.peers.Registry(), cfg.Peer.CommandTimeout.Duration, logger.Named("bridge"))
	d.local = ipc.NewServer(d.bridge, d.internal, logger.Named("ipc"))
	d.handlerCtx, d.cancelHandler = context.WithCancel(context.Background())
	return d, nil
}

// Start binds the peer listener and the local socket.
func (d *Daemon) Start() error {
	var g errgroup.Group
	g.Go(func() error { return d.peers.Start(d.cfg.Peer.Addr()) })
	g.Go(func() error { return d.local.Start(d.handlerCtx, d.cfg.SocketPath()) })
	if err := g.Wait(); err != nil {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Daemon.StopTimeout.Duration)
		defer cancel()
		d.Shutdown(ctx)
		return err
	}
	d.logger.Info("daemon ready",
		zap.String("socket", d.local.Addr()),
		zap.String("peerAddr", d.peers.Addr()),
		zap.String("instanceId", d.instanceID))
	return nil
}

// Shutdown closes peers first, so in-flight calls settle as disconnected and
// their responses still reach local clients, then the local server.
func (d *Daemon) Shutdown(ctx context.Context) error {
	errs := []error{d.peers.Shutdown(ctx)}
	d.cancelHandler()
	errs = append(errs, d.local.Stop(), d.store.Close())
	if d.token != "" {
		errs = append(errs, session.CleanupToken(d.cfg.TokenPath()))
	}
	return errors.Join(errs...)
}

// Status reports daemon and session state.
func (d *Daemon) Status() core.DaemonStatus {
	return core.DaemonStatus{
		Type:       core.InternalStatus,
		PID:        os.Getpid(),
		InstanceID: d.instanceID,
		Version:    d.version,
		StartedAt:  d.startedAt.UnixMilli(),
		SocketPath: d.local.Addr(),
		PeerAddr:   d.peers.Addr(),
		Sessions:   d.peers.Registry().Infos(),
	}
}

func (d *Daemon) internal(req core.StatusRequest) (any, bool) {
	switch req.Type {
	case core.InternalStatus:
		return d.Status(), true
	case core.InternalEvents:
		return core.EventsReply{Type: core.InternalEvents, Events: d.peers.Events().Snapshot(req.Limit, req.Kind)}, true
	default:
		return nil, false
	}
}

// Run claims the PID file, serves until ctx ends, then shuts down and removes
// the PID file. A launcher waiting on opts.Notifier learns the outcome of startup.
func Run(ctx context.Context, cfg *config.Config, opts Options) error {
	logger := logging.OrNop(opts.Logger)
	notifier := opts.Notifier
	self := os.Getpid()

	pidFile := lifecycle.NewPIDFile(cfg.PIDPath())
	if err := pidFile.Claim(self, notifier.Launched(), cfg.Daemon.StartTimeout.Duration); err != nil {
		notifier.Fail(err)
		return err
	}
	defer func() {
		if err := pidFile.RemoveIfOwner(self); err != nil {
			logger.Warn("remove pid file", zap.Error(err))
		}
	}()

	d, err := New(ctx, cfg, opts)
	if err != nil {
		notifier.Fail(err)
		return err
	}
	if err := d.Start(); err != nil {
		notifier.Fail(err)
		return err
	}
	if err := notifier.Ready(); err != nil {
		logger.Warn("readiness signal failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), cfg.Daemon.StopTimeout.Duration)
		defer cancel()
		return d.Shutdown(sctx)
	})
	return g.Wait()
}
