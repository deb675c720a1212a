package relay

import (
	"sort"
	"sync"

	"wakegate/internal/api"
)

// Registry tracks every session between accept and teardown. Its count is the
// number of registered sessions, so it can never go negative.
type Registry struct {
	mu       sync.Mutex
	nextID   uint64
	sessions map[uint64]*Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uint64]*Session)}
}

func (r *Registry) add(s *Session) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	s.id = r.nextID
	r.sessions[s.id] = s
	return len(r.sessions)
}

// remove reports the remaining count and whether the session was registered.
func (r *Registry) remove(id uint64) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return len(r.sessions), false
	}
	delete(r.sessions, id)
	return len(r.sessions), true
}

// ActiveCount returns the number of sessions currently in flight.
func (r *Registry) ActiveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns observer views of live sessions ordered by id.
func (r *Registry) Snapshot() []api.SessionInfo {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	out := make([]api.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// CloseAll closes the sockets of every live session. Sessions deregister
// themselves once their goroutine observes the close.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()
	for _, s := range sessions {
		s.Close()
	}
}
