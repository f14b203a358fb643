package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/rexliu/bctl/pkg/logging"
)

const saveTimeout = 5 * time.Second

// Map is the in-memory session map with write-through persistence.
type Map struct {
	mu     sync.Mutex
	store  Store
	m      map[string]string
	logger *zap.Logger
}

// LoadMap reads store into memory. Unreadable or malformed state degrades to
// an empty map and is logged.
func LoadMap(ctx context.Context, store Store, logger *zap.Logger) *Map {
	logger = logging.OrNop(logger)
	m, err := store.Load(ctx)
	if err != nil {
		logger.Warn("session map unreadable, starting empty", zap.Error(err))
		m = map[string]string{}
	}
	if m == nil {
		m = map[string]string{}
	}
	return &Map{store: store, m: m, logger: logger}
}

// Lookup returns the session id last assigned to peerID.
func (s *Map) Lookup(peerID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.m[peerID]
	return id, ok
}

// Assign records sessionID for peerID and saves the whole map.
func (s *Map) Assign(peerID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.m[peerID] == sessionID {
		return nil
	}
	s.m[peerID] = sessionID
	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	return s.store.Save(ctx, s.m)
}

// Snapshot copies the current map.
func (s *Map) Snapshot() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.m))
	for k, v := range s.m {
		out[k] = v
	}
	return out
}
