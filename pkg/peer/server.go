package peer

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rexliu/bctl/pkg/config"
	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/logging"
	"github.com/rexliu/bctl/pkg/session"
)

// TokenHeader carries the auth token on upgrades from non-loopback hosts.
const TokenHeader = "X-Bctl-Token"

const handshakeTimeout = 10 * time.Second

// Sessions persists the peerId to session id mapping across restarts.
type Sessions interface {
	Lookup(peerID string) (string, bool)
	Assign(peerID, sessionID string) error
}

// Options configures a Server.
type Options struct {
	Path              string
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	EventBufferSize   int
	EventsPerSecond   float64
	EventBurst        int
	// Token, when set, is required from upgrades whose Host is not loopback.
	Token    string
	Sessions Sessions
	Logger   *zap.Logger
}

// OptionsFromConfig maps the [peer] config section onto Options.
func OptionsFromConfig(cfg config.PeerConfig) Options {
	return Options{
		Path:              cfg.Path,
		HeartbeatInterval: cfg.HeartbeatInterval.Duration,
		HeartbeatTimeout:  cfg.HeartbeatTimeout.Duration,
		EventBufferSize:   cfg.EventBufferSize,
		EventsPerSecond:   cfg.EventsPerSecond,
		EventBurst:        cfg.EventBurst,
	}
}

// Server accepts browser peers over WebSocket.
type Server struct {
	opts     Options
	logger   *zap.Logger
	registry *Registry
	events   *EventBuffer
	upgrader websocket.Upgrader
	dropped  atomic.Int64

	mu      sync.Mutex
	http    *http.Server
	ln      net.Listener
	sockets map[*websocket.Conn]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewServer builds a peer server. Call Start to listen, or mount Handler directly.
func NewServer(opts Options) *Server {
	if opts.Path == "" {
		opts.Path = "/extension"
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 15 * time.Second
	}
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 2 * opts.HeartbeatInterval
	}
	s := &Server{
		opts:     opts,
		logger:   logging.OrNop(opts.Logger),
		registry: NewRegistry(),
		events:   NewEventBuffer(opts.EventBufferSize),
		sockets:  make(map[*websocket.Conn]struct{}),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: allowOrigin}
	return s
}

func allowOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" ||
		strings.HasPrefix(origin, "chrome-extension://") ||
		strings.HasPrefix(origin, "moz-extension://")
}

// Registry exposes the live connections.
func (s *Server) Registry() *Registry { return s.registry }

// Events exposes the event ring buffer.
func (s *Server) Events() *EventBuffer { return s.events }

// DroppedEvents counts events discarded by the inbound rate limit.
func (s *Server) DroppedEvents() int64 { return s.dropped.Load() }

// Handler routes the peer HTTP surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	})
	r.Get("/status", s.handleStatus)
	r.HandleFunc(s.opts.Path, s.handleUpgrade)
	return r
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}

	s.mu.Lock()
	s.ln = ln
	s.http = srv
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("peer server stopped", zap.Error(err))
		}
	}()
	s.logger.Info("peer server listening", zap.String("addr", ln.Addr().String()), zap.String("path", s.opts.Path))
	return nil
}

// Addr is the bound listener address, empty before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	infos := s.registry.Infos()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"connected": len(infos) > 0,
		"sessions":  infos,
	})
}

func (s *Server) authorized(r *http.Request) bool {
	if s.opts.Token == "" {
		return true
	}
	host := r.Host
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	if !session.IsNonLoopback(host) {
		return true
	}
	token := r.Header.Get(TokenHeader)
	if token == "" {
		token = r.URL.Query().Get("token")
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.Token)) == 1
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if !s.authorized(r) {
		s.logger.Warn("rejected unauthenticated peer", zap.String("remote", r.RemoteAddr))
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("upgrade failed", zap.Error(err))
		return
	}
	if !s.trackSocket(ws) {
		ws.Close()
		return
	}
	defer s.untrackSocket(ws)
	defer ws.Close()

	conn, err := s.handshake(ws)
	if err != nil {
		s.logger.Warn("handshake failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		ws.Close()
		return
	}
	defer conn.Close()

	go conn.heartbeat(s.opts.HeartbeatInterval, s.opts.HeartbeatTimeout)
	s.readLoop(conn)
}

func (s *Server) trackSocket(ws *websocket.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.sockets[ws] = struct{}{}
	s.wg.Add(1)
	return true
}

func (s *Server) untrackSocket(ws *websocket.Conn) {
	s.mu.Lock()
	delete(s.sockets, ws)
	s.mu.Unlock()
	s.wg.Done()
}

func (s *Server) handshake(ws *websocket.Conn) (*Conn, error) {
	ws.SetReadDeadline(time.Now().Add(handshakeTimeout))
	var hello core.PeerMessage
	if err := ws.ReadJSON(&hello); err != nil {
		return nil, fmt.Errorf("read handshake: %w", err)
	}
	if hello.Type != core.KindHandshake {
		return nil, fmt.Errorf("expected %s, got %q", core.KindHandshake, hello.Type)
	}
	ws.SetReadDeadline(time.Time{})
	if hello.Version != core.ProtocolVersion {
		s.logger.Warn("protocol version mismatch",
			zap.Int("peerVersion", hello.Version), zap.Int("serverVersion", core.ProtocolVersion))
	}

	conn, err := s.register(ws, hello.PeerID)
	if err != nil {
		return nil, err
	}
	ack := core.PeerMessage{
		Type:      core.KindHandshakeAck,
		Version:   core.ProtocolVersion,
		PeerID:    hello.PeerID,
		SessionID: conn.sessionID,
	}
	if err := conn.write(ack); err != nil {
		conn.Close()
		return nil, fmt.Errorf("write handshake_ack: %w", err)
	}
	conn.logger.Info("peer connected")
	return conn, nil
}

// register reuses the stored session id for peerID unless a live connection
// holds it. A new id is persisted before the connection becomes visible in the
// registry, so nothing after Add can fail.
func (s *Server) register(ws *websocket.Conn, peerID string) (*Conn, error) {
	var stored string
	if s.opts.Sessions != nil && peerID != "" {
		stored, _ = s.opts.Sessions.Lookup(peerID)
	}
	sessionID := stored
	for attempt := 0; attempt < 3; attempt++ {
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		if _, held := s.registry.Get(sessionID); held {
			sessionID = ""
			continue
		}
		if sessionID != stored {
			s.persistSession(peerID, sessionID)
		}
		conn := newConn(ws, peerID, sessionID, s.logger, s.registry.Remove)
		if err := s.registry.Add(conn); err != nil {
			sessionID = ""
			continue
		}
		return conn, nil
	}
	return nil, errors.New("could not allocate a session id")
}

func (s *Server) persistSession(peerID, sessionID string) {
	if s.opts.Sessions == nil || peerID == "" {
		return
	}
	if err := s.opts.Sessions.Assign(peerID, sessionID); err != nil {
		s.logger.Warn("persist session id failed", zap.String("peerId", peerID), zap.Error(err))
	}
}

func (s *Server) readLoop(conn *Conn) {
	limit := rate.Limit(s.opts.EventsPerSecond)
	if s.opts.EventsPerSecond <= 0 {
		limit = rate.Inf
	}
	limiter := rate.NewLimiter(limit, max(s.opts.EventBurst, 1))

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				conn.logger.Debug("peer read error", zap.Error(err))
			}
			return
		}
		var msg core.PeerMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			conn.logger.Warn("dropping malformed peer frame", zap.Error(err))
			continue
		}
		switch msg.Type {
		case core.KindPong:
			conn.markPong(time.Now())
		case core.KindPing:
			conn.markPong(time.Now())
			if err := conn.write(core.PeerMessage{Type: core.KindPong, Timestamp: time.Now().UnixMilli()}); err != nil {
				conn.logger.Debug("pong write failed", zap.Error(err))
			}
		case core.KindResponse:
			if !conn.resolve(msg) {
				conn.logger.Warn("dropping response with no pending call", zap.String("id", msg.ID))
			}
		case core.KindEvent:
			if !limiter.Allow() {
				s.dropped.Add(1)
				continue
			}
			s.events.Append(toEvent(conn.sessionID, msg))
		default:
			conn.logger.Debug("ignoring peer message", zap.String("type", msg.Type))
		}
	}
}

func toEvent(sessionID string, msg core.PeerMessage) core.Event {
	at := time.Now()
	if msg.Timestamp > 0 {
		at = time.UnixMilli(msg.Timestamp)
	}
	return core.Event{
		ID:        core.IDAt(at),
		Kind:      msg.Event,
		Data:      msg.Data,
		TabID:     msg.TabID,
		SessionID: sessionID,
		Timestamp: at.UnixMilli(),
	}
}

// Shutdown stops accepting peers, closes every connection (rejecting its
// pending calls) and waits for connection goroutines to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	srv := s.http
	sockets := make([]*websocket.Conn, 0, len(s.sockets))
	for ws := range s.sockets {
		sockets = append(sockets, ws)
	}
	s.mu.Unlock()

	var err error
	if srv != nil {
		err = srv.Shutdown(ctx)
	}
	for _, c := range s.registry.List() {
		c.Close()
	}
	for _, ws := range sockets {
		ws.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}
