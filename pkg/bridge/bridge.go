package bridge

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/core"
	"github.com/rexliu/bctl/pkg/logging"
	"github.com/rexliu/bctl/pkg/peer"
)

// Bridge routes validated local requests to a peer connection and maps the
// outcome back into a LocalResponse.
type Bridge struct {
	peers   *peer.Registry
	timeout time.Duration
	logger  *zap.Logger
}

// New builds a Bridge over peers. Every peer call is bounded by timeout.
func New(peers *peer.Registry, timeout time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{peers: peers, timeout: timeout, logger: logging.OrNop(logger)}
}

// Handle never fails: every outcome becomes a LocalResponse carrying req.ID.
func (b *Bridge) Handle(ctx context.Context, req core.LocalRequest) core.LocalResponse {
	if perr := validate(req.Command); perr != nil {
		return core.Fail(req.ID, perr)
	}
	conn, perr := b.resolve(req.SessionID)
	if perr != nil {
		return core.Fail(req.ID, perr)
	}

	start := time.Now()
	msg, err := conn.SendRequest(ctx, core.PeerRequest(req), b.timeout)
	if err != nil {
		perr := classify(err)
		b.logger.Info("request failed",
			zap.String("id", req.ID),
			zap.String("action", req.Command.Action),
			zap.String("sessionId", conn.SessionID()),
			zap.String("code", string(perr.Code)),
			zap.Error(err))
		return core.Fail(req.ID, perr)
	}
	b.logger.Debug("request settled",
		zap.String("id", req.ID),
		zap.String("action", req.Command.Action),
		zap.Duration("elapsed", time.Since(start)))
	return core.LocalFromPeer(req.ID, msg)
}

func validate(env core.CommandEnvelope) *core.ProtocolError {
	_, err := core.ParseCommand(env)
	if err == nil {
		return nil
	}
	var paramErr *core.ParamError
	switch {
	case errors.Is(err, core.ErrUnknownAction):
		return core.Errorf(core.CodeUnknownAction, "unknown action %q", env.Action)
	case errors.As(err, &paramErr):
		return core.Errorf(core.CodeInvalidParams, "%v", paramErr).
			WithDetails(map[string]string{"field": paramErr.Field})
	default:
		return core.Errorf(core.CodeInvalidParams, "%v", err)
	}
}

// resolve picks the target connection. Without a session id exactly one live
// connection must exist.
func (b *Bridge) resolve(sessionID string) (*peer.Conn, *core.ProtocolError) {
	if sessionID != "" {
		if conn, ok := b.peers.Get(sessionID); ok {
			return conn, nil
		}
		available := b.peers.SessionIDs()
		perr := core.Errorf(core.CodeSessionNotFound, "session %q not found", sessionID).
			WithDetails(map[string]any{"availableSessions": available})
		if len(available) > 0 {
			perr.WithHint("available sessions: " + strings.Join(available, ", "))
		} else {
			perr.WithHint("no browser is connected; open the extension to connect one")
		}
		return nil, perr
	}

	conns := b.peers.List()
	switch len(conns) {
	case 0:
		return nil, core.Errorf(core.CodeExtensionNotConnected, "no browser extension connected").
			WithHint("open the browser with the bctl extension enabled")
	case 1:
		return conns[0], nil
	default:
		ids := b.peers.SessionIDs()
		return nil, core.Errorf(core.CodeSessionAmbiguous, "%d browsers connected; pass a session id", len(ids)).
			WithHint("available sessions: " + strings.Join(ids, ", ")).
			WithDetails(map[string]any{"availableSessions": ids})
	}
}

func classify(err error) *core.ProtocolError {
	var terr *peer.TimeoutError
	switch {
	case errors.As(err, &terr):
		return core.Errorf(core.CodeTimeout, "%s", terr.Error())
	case errors.Is(err, peer.ErrDisconnected), errors.Is(err, peer.ErrNotOpen):
		return core.Errorf(core.CodeExtensionNotConnected, "browser extension disconnected: %v", err)
	case errors.Is(err, peer.ErrDuplicateID):
		return core.Errorf(core.CodeInvalidParams, "%v", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return core.Errorf(core.CodeConnectionLost, "daemon shutting down: %v", err)
	default:
		return core.Errorf(core.CodeInternal, "%v", err)
	}
}
