package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/logging"
)

// Server accepts local clients over a Unix socket and relays NDJSON requests to a Handler.
type Server struct {
	handler  Handler
	internal InternalFunc
	logger   *zap.Logger

	mu     sync.Mutex
	ln     net.Listener
	path   string
	conns  map[net.Conn]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewServer constructs a local server. internal may be nil.
func NewServer(handler Handler, internal InternalFunc, logger *zap.Logger) *Server {
	return &Server{
		handler:  handler,
		internal: internal,
		logger:   logging.OrNop(logger),
		conns:    make(map[net.Conn]struct{}),
	}
}

// Start removes any stale socket file at path and begins accepting connections.
// Requests are handled under ctx, which outlives individual client connections.
func (s *Server) Start(ctx context.Context, path string) error {
	if s == nil {
		return errors.New("nil server")
	}
	if err := RemoveSocket(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", path)
	if err != nil {
		return err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		s.logger.Warn("chmod socket failed", zap.Error(err))
	}
	s.mu.Lock()
	s.ln = ln
	s.path = path
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(ctx, ln)
	return nil
}

// Addr returns the socket path the server is bound to.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || s.isClosed() {
				return
			}
			s.logger.Warn("accept error", zap.Error(err))
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// clientConn serializes response writes from concurrent request goroutines.
type clientConn struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *clientConn) write(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return WriteFrame(c.conn, v)
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)
	defer conn.Close()

	cc := &clientConn{conn: conn}
	reader := NewLineReader(conn)
	for {
		line, err := reader.Next()
		if err != nil {
			return
		}
		s.dispatch(ctx, cc, line)
	}
}

func (s *Server) dispatch(ctx context.Context, cc *clientConn, line []byte) {
	if s.internal != nil {
		var internal core.StatusRequest
		if err := json.Unmarshal(line, &internal); err == nil && internal.Type != "" {
			if reply, ok := s.internal(internal); ok {
				if err := cc.write(reply); err != nil {
					s.logger.Debug("write internal reply failed", zap.Error(err))
				}
				return
			}
		}
	}

	req, perr := DecodeRequest(line)
	if perr != nil {
		id := SalvageID(line)
		s.logger.Debug("rejecting malformed request", zap.String("id", id), zap.String("reason", perr.Message))
		if err := cc.write(core.Fail(id, perr)); err != nil {
			s.logger.Debug("write error response failed", zap.Error(err))
		}
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		resp := s.handler.Handle(ctx, req)
		if err := cc.write(resp); err != nil {
			// client went away; the response has no taker
			s.logger.Debug("discarding response", zap.String("id", req.ID), zap.Error(err))
		}
	}()
}

// DecodeRequest parses and structurally validates one local request line.
func DecodeRequest(line []byte) (core.LocalRequest, *core.ProtocolError) {
	var req core.LocalRequest
	if err := json.Unmarshal(line, &req); err != nil {
		return req, core.Errorf(core.CodeProtocolError, "invalid request: %v", err)
	}
	if strings.TrimSpace(req.ID) == "" {
		return req, core.Errorf(core.CodeProtocolError, "invalid request: id is required")
	}
	if strings.TrimSpace(req.Command.Action) == "" {
		return req, core.Errorf(core.CodeProtocolError, "invalid request: command.action is required")
	}
	return req, nil
}

// SalvageID extracts whatever id a malformed line carries, or SentinelID.
func SalvageID(line []byte) string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return SentinelID
	}
	idRaw, ok := raw["id"]
	if !ok {
		return SentinelID
	}
	var id string
	if err := json.Unmarshal(idRaw, &id); err == nil && id != "" {
		return id
	}
	var num json.Number
	if err := json.Unmarshal(idRaw, &num); err == nil {
		return num.String()
	}
	return SentinelID
}

// Stop closes the listener and every client connection, then waits for
// in-flight handlers to return.
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var err error
	if s.ln != nil {
		err = s.ln.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	path := s.path
	s.mu.Unlock()

	s.wg.Wait()
	if rmErr := RemoveSocket(path); rmErr != nil && err == nil {
		err = rmErr
	}
	return err
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// RemoveSocket deletes a socket file if present.
func RemoveSocket(path string) error {
	if path == "" {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
