package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rexliu/bctl/pkg/core"
)

var (
	// ErrDaemonNotRunning is returned when the daemon socket cannot be reached.
	ErrDaemonNotRunning = errors.New("daemon not running")
	// ErrConnectionLost is returned when the daemon closes the connection before answering.
	ErrConnectionLost = errors.New("connection to daemon lost")
)

// DialTimeout bounds connecting to the daemon socket.
const DialTimeout = time.Second

// Client speaks the local NDJSON protocol to a running daemon. Calls are serialized.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	reader *LineReader
}

// Dial connects to the daemon at socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	d := net.Dialer{Timeout: DialTimeout}
	conn, err := d.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("%w at %s: %v", ErrDaemonNotRunning, socketPath, err)
	}
	return &Client{conn: conn, reader: NewLineReader(conn)}, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call sends req and waits for the response carrying the same id.
func (c *Client) Call(ctx context.Context, req core.LocalRequest) (core.LocalResponse, error) {
	var resp core.LocalResponse
	err := c.roundTrip(ctx, req, func(line []byte) (bool, error) {
		var candidate core.LocalResponse
		if err := json.Unmarshal(line, &candidate); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		if candidate.ID != req.ID && candidate.ID != SentinelID {
			return false, nil
		}
		resp = candidate
		return true, nil
	})
	return resp, err
}

// Status asks the daemon for its internal status.
func (c *Client) Status(ctx context.Context) (core.DaemonStatus, error) {
	var status core.DaemonStatus
	err := c.roundTrip(ctx, core.StatusRequest{Type: core.InternalStatus}, decodeInto(&status))
	return status, err
}

// Events fetches the daemon's buffered peer events, newest last.
func (c *Client) Events(ctx context.Context, limit int, kind string) ([]core.Event, error) {
	var reply core.EventsReply
	req := core.StatusRequest{Type: core.InternalEvents, Limit: limit, Kind: kind}
	err := c.roundTrip(ctx, req, decodeInto(&reply))
	return reply.Events, err
}

func decodeInto(dst any) func([]byte) (bool, error) {
	return func(line []byte) (bool, error) {
		if err := json.Unmarshal(line, dst); err != nil {
			return false, fmt.Errorf("decode reply: %w", err)
		}
		return true, nil
	}
}

func (c *Client) roundTrip(ctx context.Context, req any, accept func([]byte) (bool, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	defer c.conn.SetDeadline(time.Time{})
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if err := WriteFrame(c.conn, req); err != nil {
		return c.wrap(ctx, err)
	}
	for {
		line, err := c.reader.Next()
		if err != nil {
			return c.wrap(ctx, err)
		}
		done, err := accept(line)
		if err != nil || done {
			return err
		}
	}
}

func (c *Client) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return ErrConnectionLost
	}
	return err
}

// FailureResponse maps a client-side transport error to the local response shape.
func FailureResponse(id string, err error) core.LocalResponse {
	switch {
	case errors.Is(err, ErrDaemonNotRunning):
		return core.Fail(id, core.Errorf(core.CodeDaemonNotRunning, "%v", err).
			WithHint(`start it with "bctl daemon start"`))
	case errors.Is(err, ErrConnectionLost):
		return core.Fail(id, core.Errorf(core.CodeConnectionLost, "daemon closed the connection before responding"))
	case errors.Is(err, context.DeadlineExceeded):
		return core.Fail(id, core.Errorf(core.CodeTimeout, "no response from daemon before deadline"))
	default:
		return core.Fail(id, core.Errorf(core.CodeInternal, "%v", err))
	}
}
