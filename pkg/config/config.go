package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultSession names the daemon instance used when none is given.
const DefaultSession = "default"

// Duration lets TOML carry Go duration strings ("15s", "250ms").
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// DaemonConfig controls process lifecycle timing.
type DaemonConfig struct {
	StartTimeout Duration `toml:"startTimeout"`
	StopTimeout  Duration `toml:"stopTimeout"`
}

// IPCConfig defines the local socket.
type IPCConfig struct {
	SocketPath string `toml:"socketPath"`
}

// PeerConfig defines the WebSocket listener browsers connect to.
type PeerConfig struct {
	Host              string   `toml:"host"`
	Port              int      `toml:"port"`
	Path              string   `toml:"path"`
	HeartbeatInterval Duration `toml:"heartbeatInterval"`
	HeartbeatTimeout  Duration `toml:"heartbeatTimeout"`
	CommandTimeout    Duration `toml:"commandTimeout"`
	EventBufferSize   int      `toml:"eventBufferSize"`
	EventsPerSecond   float64  `toml:"eventsPerSecond"`
	EventBurst        int      `toml:"eventBurst"`
}

// Addr returns host:port for net.Listen.
func (p PeerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// SessionConfig selects the session-map backend.
type SessionConfig struct {
	Backend string `toml:"backend"`
}

// LoggingConfig defines basic logging knobs.
type LoggingConfig struct {
	Level       string `toml:"level"`
	FilePath    string `toml:"filePath"`
	FileMaxSize int    `toml:"fileMaxSizeMB"`
}

// Config aggregates daemon configuration for one named session.
type Config struct {
	AppDir  string        `toml:"-"`
	Session string        `toml:"-"`
	Daemon  DaemonConfig  `toml:"daemon"`
	IPC     IPCConfig     `toml:"ipc"`
	Peer    PeerConfig    `toml:"peer"`
	Store   SessionConfig `toml:"session"`
	Logging LoggingConfig `toml:"logging"`
}

// Default returns the built-in configuration rooted at appDir.
func Default(appDir, session string) *Config {
	if session == "" {
		session = DefaultSession
	}
	return &Config{
		AppDir:  appDir,
		Session: session,
		Daemon: DaemonConfig{
			StartTimeout: Duration{10 * time.Second},
			StopTimeout:  Duration{5 * time.Second},
		},
		Peer: PeerConfig{
			Host:              "127.0.0.1",
			Port:              9334,
			Path:              "/extension",
			HeartbeatInterval: Duration{15 * time.Second},
			HeartbeatTimeout:  Duration{30 * time.Second},
			CommandTimeout:    Duration{30 * time.Second},
			EventBufferSize:   500,
			EventsPerSecond:   200,
			EventBurst:        400,
		},
		Store:   SessionConfig{Backend: "json"},
		Logging: LoggingConfig{Level: "info", FileMaxSize: 10},
	}
}

// DefaultAppDir resolves $BCTL_HOME, falling back to ~/.bctl.
func DefaultAppDir() (string, error) {
	if dir := os.Getenv("BCTL_HOME"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".bctl"), nil
}

// Load reads <appDir>/config.toml over the defaults. A missing file is not an error.
func Load(appDir, session string) (*Config, error) {
	cfg := Default(appDir, session)
	data, err := os.ReadFile(cfg.Path())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, cfg.validate()
		}
		return nil, err
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", cfg.Path(), err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg as TOML to <appDir>/config.toml.
func Save(cfg *Config) error {
	if err := os.MkdirAll(cfg.AppDir, 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(cfg.Path(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// Path is the config file location.
func (cfg *Config) Path() string {
	return filepath.Join(cfg.AppDir, "config.toml")
}

// PIDPath is the per-session PID file.
func (cfg *Config) PIDPath() string {
	return filepath.Join(cfg.AppDir, cfg.Session+".pid")
}

// SocketPath is the local client socket, honouring the ipc.socketPath override.
func (cfg *Config) SocketPath() string {
	if cfg.IPC.SocketPath != "" {
		return cfg.IPC.SocketPath
	}
	return filepath.Join(cfg.AppDir, cfg.Session+".sock")
}

// TokenPath is the auth token file for non-loopback peers.
func (cfg *Config) TokenPath() string {
	return filepath.Join(cfg.AppDir, cfg.Session+".token")
}

// SessionMapPath is the session store location for the configured backend.
func (cfg *Config) SessionMapPath() string {
	if cfg.Store.Backend == "sqlite" {
		return filepath.Join(cfg.AppDir, "sessions.db")
	}
	return filepath.Join(cfg.AppDir, "sessions.json")
}

func (cfg *Config) validate() error {
	if cfg.AppDir == "" {
		return fmt.Errorf("appDir required")
	}
	if cfg.Session == "" {
		cfg.Session = DefaultSession
	}
	if cfg.Peer.Host == "" {
		cfg.Peer.Host = "127.0.0.1"
	}
	if cfg.Peer.Path == "" {
		cfg.Peer.Path = "/extension"
	}
	if cfg.Peer.Port < 0 || cfg.Peer.Port > 65535 {
		return fmt.Errorf("peer.port out of range: %d", cfg.Peer.Port)
	}
	if cfg.Peer.HeartbeatInterval.Duration <= 0 {
		return fmt.Errorf("peer.heartbeatInterval must be positive")
	}
	if cfg.Peer.HeartbeatTimeout.Duration <= cfg.Peer.HeartbeatInterval.Duration {
		return fmt.Errorf("peer.heartbeatTimeout must exceed peer.heartbeatInterval")
	}
	if cfg.Peer.CommandTimeout.Duration <= 0 {
		return fmt.Errorf("peer.commandTimeout must be positive")
	}
	if cfg.Peer.EventBufferSize <= 0 {
		return fmt.Errorf("peer.eventBufferSize must be positive")
	}
	switch cfg.Store.Backend {
	case "":
		cfg.Store.Backend = "json"
	case "json", "sqlite":
	default:
		return fmt.Errorf("session.backend must be json or sqlite, got %q", cfg.Store.Backend)
	}
	if cfg.Daemon.StartTimeout.Duration <= 0 {
		cfg.Daemon.StartTimeout.Duration = 10 * time.Second
	}
	if cfg.Daemon.StopTimeout.Duration <= 0 {
		cfg.Daemon.StopTimeout.Duration = 5 * time.Second
	}
	return nil
}
