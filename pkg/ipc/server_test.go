package ipc

import (
	"context"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/rexliu/bctl/pkg/core"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func echoHandler(delays map[string]time.Duration, handled *atomic.Int32) Handler {
	return HandlerFunc(func(ctx context.Context, req core.LocalRequest) core.LocalResponse {
		if d, ok := delays[req.ID]; ok {
			time.Sleep(d)
		}
		if handled != nil {
			handled.Add(1)
		}
		data, _ := json.Marshal(map[string]string{"action": req.Command.Action})
		return core.LocalResponse{ID: req.ID, Success: true, Data: data}
	})
}

func startServer(t *testing.T, h Handler, internal InternalFunc) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "d.sock")
	srv := NewServer(h, internal, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, srv.Start(ctx, path))
	t.Cleanup(func() {
		cancel()
		require.NoError(t, srv.Stop())
	})
	return path
}

func rawConn(t *testing.T, path string) (net.Conn, *LineReader) {
	t.Helper()
	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	conn.SetDeadline(time.Now().Add(5 * time.Second))
	return conn, NewLineReader(conn)
}

func readResponse(t *testing.T, lr *LineReader) core.LocalResponse {
	t.Helper()
	line, err := lr.Next()
	require.NoError(t, err)
	var resp core.LocalResponse
	require.NoError(t, json.Unmarshal(line, &resp))
	return resp
}

func TestServerMalformedLinesKeepConnection(t *testing.T) {
	path := startServer(t, echoHandler(nil, nil), nil)
	conn, lr := rawConn(t, path)

	_, err := conn.Write([]byte("this is not json\n"))
	require.NoError(t, err)
	resp := readResponse(t, lr)
	require.Equal(t, SentinelID, resp.ID)
	require.False(t, resp.Success)
	require.Equal(t, core.CodeProtocolError, resp.Error.Code)

	_, err = conn.Write([]byte(`{"id":"keep","command":"navigate"}` + "\n"))
	require.NoError(t, err)
	resp = readResponse(t, lr)
	require.Equal(t, "keep", resp.ID)
	require.Equal(t, core.CodeProtocolError, resp.Error.Code)

	_, err = conn.Write([]byte(`{"id":17}` + "\n"))
	require.NoError(t, err)
	resp = readResponse(t, lr)
	require.Equal(t, "17", resp.ID)

	_, err = conn.Write([]byte(`{"id":"nocmd"}` + "\n"))
	require.NoError(t, err)
	resp = readResponse(t, lr)
	require.Equal(t, "nocmd", resp.ID)
	require.Contains(t, resp.Error.Message, "command.action")

	// connection still serves valid requests
	_, err = conn.Write([]byte(`{"id":"ok","command":{"action":"getTitle","params":{}}}` + "\n"))
	require.NoError(t, err)
	resp = readResponse(t, lr)
	require.Equal(t, "ok", resp.ID)
	require.True(t, resp.Success)
	require.JSONEq(t, `{"action":"getTitle"}`, string(resp.Data))
}

func TestServerSplitWrites(t *testing.T) {
	path := startServer(t, echoHandler(nil, nil), nil)
	conn, lr := rawConn(t, path)

	line := []byte(`{"id":"split","command":{"action":"navigate","params":{"url":"https://example.com"}}}` + "\n")
	for _, part := range [][]byte{line[:5], line[5:30], line[30:]} {
		_, err := conn.Write(part)
		require.NoError(t, err)
		time.Sleep(10 * time.Millisecond)
	}
	resp := readResponse(t, lr)
	require.Equal(t, "split", resp.ID)
	require.True(t, resp.Success)
}

func TestServerCorrelatesConcurrentRequests(t *testing.T) {
	delays := map[string]time.Duration{"slow": 150 * time.Millisecond}
	path := startServer(t, echoHandler(delays, nil), nil)
	conn, lr := rawConn(t, path)

	_, err := conn.Write([]byte(
		`{"id":"slow","command":{"action":"reload"}}` + "\n" +
			`{"id":"fast","command":{"action":"getUrl"}}` + "\n"))
	require.NoError(t, err)

	first := readResponse(t, lr)
	second := readResponse(t, lr)
	require.Equal(t, "fast", first.ID)
	require.JSONEq(t, `{"action":"getUrl"}`, string(first.Data))
	require.Equal(t, "slow", second.ID)
	require.JSONEq(t, `{"action":"reload"}`, string(second.Data))
}

func TestServerInternalBypassesValidation(t *testing.T) {
	internal := func(req core.StatusRequest) (any, bool) {
		if req.Type != core.InternalStatus {
			return nil, false
		}
		return core.DaemonStatus{Type: core.InternalStatus, PID: 42}, true
	}
	path := startServer(t, echoHandler(nil, nil), internal)

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()

	status, err := client.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, 42, status.PID)

	// unknown internal type falls through to request parsing
	conn, lr := rawConn(t, path)
	_, err = conn.Write([]byte(`{"type":"bogus","id":"x"}` + "\n"))
	require.NoError(t, err)
	resp := readResponse(t, lr)
	require.Equal(t, "x", resp.ID)
	require.Equal(t, core.CodeProtocolError, resp.Error.Code)
}

func TestServerClientDisconnectMidCall(t *testing.T) {
	var handled atomic.Int32
	delays := map[string]time.Duration{"gone": 100 * time.Millisecond}
	path := startServer(t, echoHandler(delays, &handled), nil)

	conn, err := net.Dial("unix", path)
	require.NoError(t, err)
	_, err = conn.Write([]byte(`{"id":"gone","command":{"action":"getTitle"}}` + "\n"))
	require.NoError(t, err)
	conn.Close()

	require.Eventually(t, func() bool { return handled.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestServerClearsStaleSocketFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stale.sock")
	require.NoError(t, os.WriteFile(path, []byte("leftover"), 0o600))

	srv := NewServer(echoHandler(nil, nil), nil, zaptest.NewLogger(t))
	require.NoError(t, srv.Start(context.Background(), path))

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	resp, err := client.Call(context.Background(), core.LocalRequest{ID: "a", Command: core.CommandEnvelope{Action: "getTitle"}})
	require.NoError(t, err)
	require.True(t, resp.Success)
	client.Close()

	require.NoError(t, srv.Stop())
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestDialMissingSocket(t *testing.T) {
	_, err := Dial(context.Background(), filepath.Join(t.TempDir(), "none.sock"))
	require.ErrorIs(t, err, ErrDaemonNotRunning)

	resp := FailureResponse("r1", err)
	require.Equal(t, core.CodeDaemonNotRunning, resp.Error.Code)
	require.NotEmpty(t, resp.Error.Hint)
}

func TestClientConnectionLost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lost.sock")
	ln, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer ln.Close()
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		NewLineReader(conn).Next()
		conn.Close()
	}()

	client, err := Dial(context.Background(), path)
	require.NoError(t, err)
	defer client.Close()
	_, err = client.Call(context.Background(), core.LocalRequest{ID: "r", Command: core.CommandEnvelope{Action: "getTitle"}})
	require.ErrorIs(t, err, ErrConnectionLost)
	require.Equal(t, core.CodeConnectionLost, FailureResponse("r", err).Error.Code)
	<-done
}
