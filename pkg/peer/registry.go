package peer

import (
	"sort"
	"sync"

	"github.com/rexliu/bctl/pkg/core"
)

// Registry maps session ids to live connections.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Add registers c under its session id.
func (r *Registry) Add(c *Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.conns[c.sessionID]; ok {
		return ErrSessionInUse
	}
	r.conns[c.sessionID] = c
	return nil
}

// Remove unregisters c. A newer connection holding the same id is left alone.
func (r *Registry) Remove(c *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[c.sessionID] == c {
		delete(r.conns, c.sessionID)
	}
}

// Get looks a connection up by exact session id.
func (r *Registry) Get(sessionID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[sessionID]
	return c, ok
}

// Len reports the number of live connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// List returns live connections, oldest first.
func (r *Registry) List() []*Conn {
	r.mu.RLock()
	out := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		out = append(out, c)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].connectedAt.Equal(out[j].connectedAt) {
			return out[i].sessionID < out[j].sessionID
		}
		return out[i].connectedAt.Before(out[j].connectedAt)
	})
	return out
}

// SessionIDs lists live session ids, oldest connection first.
func (r *Registry) SessionIDs() []string {
	conns := r.List()
	ids := make([]string, len(conns))
	for i, c := range conns {
		ids[i] = c.sessionID
	}
	return ids
}

// Infos snapshots every live connection.
func (r *Registry) Infos() []core.SessionInfo {
	conns := r.List()
	infos := make([]core.SessionInfo, len(conns))
	for i, c := range conns {
		infos[i] = c.Info()
	}
	return infos
}
