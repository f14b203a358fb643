package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/config"
	"github.com/rexliu/bctl/pkg/logging"
)

const (
	pollInterval = 50 * time.Millisecond
	killGrace    = 2 * time.Second
)

// Launch describes how to spawn the daemon process.
type Launch struct {
	Path string
	Args []string
	Env  []string
	// LogPath receives the child's stdout and stderr when set.
	LogPath string
}

// Manager starts, stops and inspects the singleton daemon for one session.
type Manager struct {
	pid          *PIDFile
	socketPath   string
	tokenPath    string
	startTimeout time.Duration
	stopTimeout  time.Duration
	launch       Launch
	logger       *zap.Logger
}

// NewManager binds a manager to cfg's session files.
func NewManager(cfg *config.Config, launch Launch, logger *zap.Logger) *Manager {
	return &Manager{
		pid:          NewPIDFile(cfg.PIDPath()),
		socketPath:   cfg.SocketPath(),
		tokenPath:    cfg.TokenPath(),
		startTimeout: cfg.Daemon.StartTimeout.Duration,
		stopTimeout:  cfg.Daemon.StopTimeout.Duration,
		launch:       launch,
		logger:       logging.OrNop(logger),
	}
}

// IsRunning reports the live daemon PID. A PID file naming a dead process is
// removed, as is an unparseable one older than the start timeout.
func (m *Manager) IsRunning() (int, bool) {
	pid, err := m.pid.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, false
		}
		if stale, reason := m.pid.stale(m.startTimeout); stale {
			m.logger.Info("removing stale pid file", zap.String("reason", reason))
			m.pid.Remove()
		}
		return 0, false
	}
	if pid == 0 {
		if stale, _ := m.pid.stale(m.startTimeout); stale {
			m.pid.Remove()
		}
		return 0, false
	}
	if !processAlive(pid) {
		m.logger.Info("removing stale pid file", zap.Int("pid", pid))
		m.pid.Remove()
		return 0, false
	}
	return pid, true
}

// Start spawns the daemon unless one is already running, and waits for its
// readiness signal. On failure the child is killed and the PID file removed.
func (m *Manager) Start(ctx context.Context) (int, error) {
	if pid, ok := m.IsRunning(); ok {
		return pid, nil
	}
	if err := m.pid.Create(0, m.startTimeout); err != nil {
		if errors.Is(err, ErrLocked) {
			if pid, ok := m.IsRunning(); ok {
				return pid, nil
			}
		}
		return 0, err
	}

	pid, err := m.spawn(ctx)
	if err != nil {
		m.pid.Remove()
		return 0, err
	}
	return pid, nil
}

func (m *Manager) spawn(ctx context.Context) (int, error) {
	r, w, err := os.Pipe()
	if err != nil {
		return 0, fmt.Errorf("readiness pipe: %w", err)
	}
	cmd := exec.Command(m.launch.Path, m.launch.Args...)
	detach(cmd)
	fd, err := inheritReady(cmd, w)
	if err != nil {
		r.Close()
		w.Close()
		return 0, fmt.Errorf("readiness pipe: %w", err)
	}
	cmd.Env = append(append(os.Environ(), m.launch.Env...), ReadyFDEnv+"="+fd)
	if m.launch.LogPath != "" {
		logFile, err := os.OpenFile(m.launch.LogPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			r.Close()
			w.Close()
			return 0, err
		}
		defer logFile.Close()
		cmd.Stdout = logFile
		cmd.Stderr = logFile
	}

	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return 0, fmt.Errorf("spawn daemon: %w", err)
	}
	w.Close()
	pid := cmd.Process.Pid
	// reap the child so a dead daemon never looks alive to the liveness check
	go cmd.Wait()

	if err := m.pid.Write(pid); err != nil {
		cmd.Process.Kill()
		r.Close()
		return 0, fmt.Errorf("record pid: %w", err)
	}
	m.logger.Info("daemon spawned", zap.Int("pid", pid))

	if err := awaitReady(ctx, r, m.startTimeout); err != nil {
		m.logger.Warn("daemon failed to become ready", zap.Int("pid", pid), zap.Error(err))
		cmd.Process.Kill()
		m.removeSocket()
		return 0, err
	}
	return pid, nil
}

// Stop asks the daemon to exit, escalating to a forced kill after the stop
// timeout. PID, socket and token files are removed whichever way it ends.
func (m *Manager) Stop(ctx context.Context) error {
	defer m.cleanup()
	pid, ok := m.IsRunning()
	if !ok {
		return ErrNotRunning
	}
	if err := terminate(pid); err != nil && processAlive(pid) {
		m.logger.Warn("terminate failed", zap.Int("pid", pid), zap.Error(err))
	}
	if m.waitExit(ctx, pid, m.stopTimeout) {
		m.logger.Info("daemon stopped", zap.Int("pid", pid))
		return nil
	}
	m.logger.Warn("daemon ignored termination, killing", zap.Int("pid", pid))
	if err := forceKill(pid); err != nil && processAlive(pid) {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	if !m.waitExit(ctx, pid, killGrace) {
		return fmt.Errorf("process %d survived kill", pid)
	}
	return nil
}

func (m *Manager) waitExit(ctx context.Context, pid int, limit time.Duration) bool {
	deadline := time.Now().Add(limit)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		if !processAlive(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return !processAlive(pid)
		case <-ticker.C:
		}
	}
}

func (m *Manager) cleanup() {
	if err := m.pid.Remove(); err != nil {
		m.logger.Warn("remove pid file", zap.Error(err))
	}
	m.removeSocket()
	if m.tokenPath != "" {
		if err := os.Remove(m.tokenPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("remove token file", zap.Error(err))
		}
	}
}

func (m *Manager) removeSocket() {
	if m.socketPath == "" {
		return
	}
	if err := os.Remove(m.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		m.logger.Warn("remove socket", zap.Error(err))
	}
}

// PIDPath exposes the PID file location.
func (m *Manager) PIDPath() string { return m.pid.Path() }
