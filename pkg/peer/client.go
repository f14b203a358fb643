package peer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rexliu/bctl/pkg/core"
)

// DialOptions describe how a Client identifies itself to the daemon.
type DialOptions struct {
	PeerID  string
	Token   string
	Origin  string
	Version int
}

// RequestFunc answers one peer request with a response message.
type RequestFunc func(ctx context.Context, req core.PeerMessage) core.PeerMessage

// Client is the browser side of the peer protocol. The echo peer and tests use it
// to stand in for the extension.
type Client struct {
	ws        *websocket.Conn
	sessionID string
	writeMu   sync.Mutex
}

// Dial connects to url, performs the handshake and returns once handshake_ack arrives.
func Dial(ctx context.Context, url string, opts DialOptions) (*Client, error) {
	header := http.Header{}
	if opts.Token != "" {
		header.Set(TokenHeader, opts.Token)
	}
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	ws, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	version := opts.Version
	if version == 0 {
		version = core.ProtocolVersion
	}
	c := &Client{ws: ws}
	if err := c.Send(core.PeerMessage{Type: core.KindHandshake, Version: version, PeerID: opts.PeerID}); err != nil {
		ws.Close()
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		ws.SetReadDeadline(deadline)
	}
	ack, err := c.Next()
	ws.SetReadDeadline(time.Time{})
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("read handshake_ack: %w", err)
	}
	if ack.Type != core.KindHandshakeAck || ack.SessionID == "" {
		ws.Close()
		return nil, fmt.Errorf("unexpected handshake reply %q", ack.Type)
	}
	c.sessionID = ack.SessionID
	return c, nil
}

// SessionID is the id assigned in handshake_ack.
func (c *Client) SessionID() string { return c.sessionID }

// Send writes one message.
func (c *Client) Send(msg core.PeerMessage) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(msg)
}

// Next blocks for the next message from the daemon.
func (c *Client) Next() (core.PeerMessage, error) {
	var msg core.PeerMessage
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return msg, err
	}
	err = json.Unmarshal(data, &msg)
	return msg, err
}

// Emit sends an event frame.
func (c *Client) Emit(kind string, data any, tabID *int) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.Send(core.PeerMessage{
		Type:      core.KindEvent,
		Event:     kind,
		Data:      raw,
		TabID:     tabID,
		Timestamp: time.Now().UnixMilli(),
	})
}

// Serve answers pings and dispatches requests to fn until the connection or ctx ends.
// Each request runs in its own goroutine so slow handlers do not block pongs.
func (c *Client) Serve(ctx context.Context, fn RequestFunc) error {
	stop := context.AfterFunc(ctx, func() { c.ws.Close() })
	defer stop()

	var wg sync.WaitGroup
	defer wg.Wait()
	for {
		msg, err := c.Next()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch msg.Type {
		case core.KindPing:
			if err := c.Send(core.PeerMessage{Type: core.KindPong, Timestamp: time.Now().UnixMilli()}); err != nil {
				return err
			}
		case core.KindRequest:
			wg.Add(1)
			go func() {
				defer wg.Done()
				resp := fn(ctx, msg)
				resp.Type = core.KindResponse
				resp.ID = msg.ID
				c.Send(resp)
			}()
		}
	}
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.ws.Close()
}

// Reply builds a successful response carrying data.
func Reply(data any) core.PeerMessage {
	ok := true
	raw, err := json.Marshal(data)
	if err != nil {
		return ReplyError(core.Errorf(core.CodeInternal, "encode reply: %v", err))
	}
	return core.PeerMessage{Success: &ok, Data: raw}
}

// ReplyError builds a failed response.
func ReplyError(perr *core.ProtocolError) core.PeerMessage {
	ok := false
	return core.PeerMessage{Success: &ok, Error: perr}
}
