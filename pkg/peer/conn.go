package peer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/core"
)

const writeWait = 10 * time.Second

type result struct {
	msg core.PeerMessage
	err error
}

// pendingCall is settled exactly once, by whoever removes it from the table.
type pendingCall struct {
	ch    chan result
	timer *time.Timer
}

// Conn is one registered browser peer.
type Conn struct {
	ws          *websocket.Conn
	peerID      string
	sessionID   string
	connectedAt time.Time
	logger      *zap.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	pending  map[string]*pendingCall
	alive    bool
	lastPong time.Time
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
	onClose   func(*Conn)
}

func newConn(ws *websocket.Conn, peerID, sessionID string, logger *zap.Logger, onClose func(*Conn)) *Conn {
	now := time.Now()
	return &Conn{
		ws:          ws,
		peerID:      peerID,
		sessionID:   sessionID,
		connectedAt: now,
		logger:      logger.With(zap.String("sessionId", sessionID), zap.String("peerId", peerID)),
		pending:     make(map[string]*pendingCall),
		alive:       true,
		lastPong:    now,
		done:        make(chan struct{}),
		onClose:     onClose,
	}
}

// SessionID is the server-assigned identifier.
func (c *Conn) SessionID() string { return c.sessionID }

// PeerID is the identifier the peer declared in its handshake.
func (c *Conn) PeerID() string { return c.peerID }

// Done is closed once the connection has been torn down.
func (c *Conn) Done() <-chan struct{} { return c.done }

// Info snapshots the connection for status replies.
func (c *Conn) Info() core.SessionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return core.SessionInfo{
		SessionID:   c.sessionID,
		PeerID:      c.peerID,
		ConnectedAt: c.connectedAt.UnixMilli(),
		LastPongAt:  c.lastPong.UnixMilli(),
		Pending:     len(c.pending),
	}
}

// SendRequest writes msg and waits for the response with the same id. It fails
// with *TimeoutError after timeout, ErrDisconnected if the connection drops
// first, or ErrNotOpen if the connection is already closed.
func (c *Conn) SendRequest(ctx context.Context, msg core.PeerMessage, timeout time.Duration) (core.PeerMessage, error) {
	call := &pendingCall{ch: make(chan result, 1)}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return core.PeerMessage{}, ErrNotOpen
	}
	if _, exists := c.pending[msg.ID]; exists {
		c.mu.Unlock()
		return core.PeerMessage{}, fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}
	c.pending[msg.ID] = call
	call.timer = time.AfterFunc(timeout, func() {
		if c.remove(msg.ID, call) {
			call.ch <- result{err: &TimeoutError{ID: msg.ID, Timeout: timeout}}
		}
	})
	c.mu.Unlock()

	if err := c.write(msg); err != nil {
		if c.remove(msg.ID, call) {
			c.Close()
			return core.PeerMessage{}, fmt.Errorf("%w: %v", ErrDisconnected, err)
		}
	}

	select {
	case res := <-call.ch:
		return res.msg, res.err
	case <-ctx.Done():
		if c.remove(msg.ID, call) {
			return core.PeerMessage{}, ctx.Err()
		}
		res := <-call.ch
		return res.msg, res.err
	}
}

// remove deletes call from the table if it is still the entry for id.
func (c *Conn) remove(id string, call *pendingCall) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending[id] != call {
		return false
	}
	delete(c.pending, id)
	call.timer.Stop()
	return true
}

// resolve settles the pending call matching msg.ID. It reports false when no call matches.
func (c *Conn) resolve(msg core.PeerMessage) bool {
	c.mu.Lock()
	call, ok := c.pending[msg.ID]
	if ok {
		delete(c.pending, msg.ID)
		call.timer.Stop()
	}
	c.mu.Unlock()
	if !ok {
		return false
	}
	call.ch <- result{msg: msg}
	return true
}

func (c *Conn) pendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

func (c *Conn) markPong(at time.Time) {
	c.mu.Lock()
	c.alive = true
	c.lastPong = at
	c.mu.Unlock()
}

// beat runs one heartbeat tick and reports whether the connection should stay up.
func (c *Conn) beat(now time.Time, timeout time.Duration) bool {
	c.mu.Lock()
	alive := c.alive
	silent := now.Sub(c.lastPong)
	c.alive = false
	c.mu.Unlock()

	if !alive && silent > timeout {
		return false
	}
	if err := c.write(core.PeerMessage{Type: core.KindPing, Timestamp: now.UnixMilli()}); err != nil {
		c.logger.Debug("ping write failed", zap.Error(err))
	}
	return true
}

func (c *Conn) heartbeat(interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case now := <-ticker.C:
			if !c.beat(now, timeout) {
				c.logger.Warn("heartbeat timeout, terminating peer", zap.Duration("timeout", timeout))
				c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(msg core.PeerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

// Close tears the connection down and rejects every pending call with
// ErrDisconnected. Later calls are no-ops.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		calls := c.pending
		c.pending = make(map[string]*pendingCall)
		c.mu.Unlock()

		for _, call := range calls {
			call.timer.Stop()
			call.ch <- result{err: ErrDisconnected}
		}
		close(c.done)
		c.ws.Close()
		if c.onClose != nil {
			c.onClose(c)
		}
		c.logger.Info("peer disconnected", zap.Int("rejected", len(calls)))
	})
}
