package daemon

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rexliu/bctl/pkg/config"
	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/ipc"
	"github.com/rexliu/bctl/pkg/peer"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	// short dir keeps the socket path under the sun_path limit
	dir, err := os.MkdirTemp("", "bctl")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	cfg := config.Default(dir, "it")
	cfg.Peer.Port = 0
	cfg.Peer.CommandTimeout = config.Duration{Duration: 300 * time.Millisecond}
	return cfg
}

func startDaemon(t *testing.T, cfg *config.Config) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Run(ctx, cfg, Options{Version: "test", Logger: zaptest.NewLogger(t)})
	}()
	require.Eventually(t, func() bool {
		c, err := ipc.Dial(context.Background(), cfg.SocketPath())
		if err != nil {
			return false
		}
		c.Close()
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return cancel, done
}

func dialClient(t *testing.T, cfg *config.Config) *ipc.Client {
	t.Helper()
	c, err := ipc.Dial(context.Background(), cfg.SocketPath())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestDaemonEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cancel, done := startDaemon(t, cfg)
	client := dialClient(t, cfg)
	ctx := context.Background()

	pidData, err := os.ReadFile(cfg.PIDPath())
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(pidData))

	resp, err := client.Call(ctx, core.LocalRequest{
		ID:      "r1",
		Command: core.CommandEnvelope{Action: "navigate", Params: []byte(`{"url":"https://example.com"}`)},
	})
	require.NoError(t, err)
	assert.Equal(t, "r1", resp.ID)
	assert.Equal(t, core.CodeExtensionNotConnected, resp.Error.Code)

	status, err := client.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), status.PID)
	assert.Equal(t, "test", status.Version)
	assert.Empty(t, status.Sessions)

	browser, err := peer.Dial(ctx, "ws://"+status.PeerAddr+cfg.Peer.Path, peer.DialOptions{PeerID: "chrome-test"})
	require.NoError(t, err)
	serveDone := make(chan struct{})
	go func() {
		defer close(serveDone)
		browser.Serve(ctx, func(_ context.Context, req core.PeerMessage) core.PeerMessage {
			browser.Emit("command", map[string]string{"action": req.Command.Action}, nil)
			if req.Command.Action == "reload" {
				time.Sleep(time.Second)
			}
			return peer.Reply(map[string]string{"title": "Example"})
		})
	}()

	resp, err = client.Call(ctx, core.LocalRequest{ID: "r2", Command: core.CommandEnvelope{Action: "getTitle", Params: []byte(`{}`)}})
	require.NoError(t, err)
	require.True(t, resp.Success, "%+v", resp.Error)
	assert.JSONEq(t, `{"title":"Example"}`, string(resp.Data))

	resp, err = client.Call(ctx, core.LocalRequest{ID: "r3", Command: core.CommandEnvelope{Action: "reload"}})
	require.NoError(t, err)
	assert.Equal(t, core.CodeTimeout, resp.Error.Code)
	assert.Equal(t, "Request timed out after 300ms", resp.Error.Message)

	status, err = client.Status(ctx)
	require.NoError(t, err)
	require.Len(t, status.Sessions, 1)
	assert.Equal(t, browser.SessionID(), status.Sessions[0].SessionID)

	require.Eventually(t, func() bool {
		events, err := client.Events(ctx, 10, "command")
		return err == nil && len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// the session id survives in the store for the next connection
	data, err := os.ReadFile(cfg.SessionMapPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), browser.SessionID())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	browser.Close()
	<-serveDone

	assert.NoFileExists(t, cfg.PIDPath())
	assert.NoFileExists(t, cfg.SocketPath())
	_, err = ipc.Dial(ctx, cfg.SocketPath())
	require.ErrorIs(t, err, ipc.ErrDaemonNotRunning)
}

func TestSecondDaemonRefused(t *testing.T) {
	cfg := testConfig(t)
	cancel, done := startDaemon(t, cfg)
	defer func() {
		cancel()
		<-done
	}()

	// same process pid: claim succeeds as owner, so fake a foreign live owner
	require.NoError(t, os.WriteFile(cfg.PIDPath(), []byte("1\n"), 0o600))
	err := Run(context.Background(), cfg, Options{Logger: zaptest.NewLogger(t)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestNonLoopbackHostWritesToken(t *testing.T) {
	cfg := testConfig(t)
	cfg.Peer.Host = "0.0.0.0"
	d, err := New(context.Background(), cfg, Options{Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	info, err := os.Stat(cfg.TokenPath())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, d.Start())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Shutdown(ctx))
	assert.NoFileExists(t, cfg.TokenPath())
}
