package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(dir, "")
	require.NoError(t, err)
	require.Equal(t, DefaultSession, cfg.Session)
	require.Equal(t, 15*time.Second, cfg.Peer.HeartbeatInterval.Duration)
	require.Equal(t, filepath.Join(dir, "default.sock"), cfg.SocketPath())
	require.Equal(t, filepath.Join(dir, "default.pid"), cfg.PIDPath())
	require.Equal(t, filepath.Join(dir, "sessions.json"), cfg.SessionMapPath())
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	body := `
[peer]
port = 0
heartbeatInterval = "100ms"
heartbeatTimeout = "250ms"
commandTimeout = "2s"

[session]
backend = "sqlite"

[ipc]
socketPath = "/tmp/custom.sock"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o600))

	cfg, err := Load(dir, "work")
	require.NoError(t, err)
	require.Equal(t, 0, cfg.Peer.Port)
	require.Equal(t, 100*time.Millisecond, cfg.Peer.HeartbeatInterval.Duration)
	require.Equal(t, 2*time.Second, cfg.Peer.CommandTimeout.Duration)
	require.Equal(t, "/tmp/custom.sock", cfg.SocketPath())
	require.Equal(t, filepath.Join(dir, "sessions.db"), cfg.SessionMapPath())
	require.Equal(t, filepath.Join(dir, "work.pid"), cfg.PIDPath())
	// untouched keys keep their defaults
	require.Equal(t, "/extension", cfg.Peer.Path)
	require.Equal(t, 500, cfg.Peer.EventBufferSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"timeout not above interval": "[peer]\nheartbeatInterval = \"10s\"\nheartbeatTimeout = \"5s\"\n",
		"bad backend":                "[session]\nbackend = \"redis\"\n",
		"bad duration":               "[peer]\ncommandTimeout = \"soon\"\n",
		"port range":                 "[peer]\nport = 70000\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o600))
			_, err := Load(dir, "")
			require.Error(t, err)
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg := Default(dir, "")
	cfg.Peer.Port = 9999
	cfg.Peer.CommandTimeout = Duration{45 * time.Second}
	require.NoError(t, Save(cfg))

	loaded, err := Load(dir, "")
	require.NoError(t, err)
	require.Equal(t, 9999, loaded.Peer.Port)
	require.Equal(t, 45*time.Second, loaded.Peer.CommandTimeout.Duration)
}
