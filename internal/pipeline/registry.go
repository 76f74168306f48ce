package pipeline

import (
	"sort"
	"sync"

	"github.com/yourorg/fitment-ingest/internal/tenant"
)

// Registry keeps the open sessions of a console process.
// Sessions of a superseded tenant are closed and dropped on every tenant switch.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(tenants *tenant.Context) *Registry {
	r := &Registry{sessions: map[string]*Session{}}
	if tenants != nil {
		tenants.OnSwitch(func(tenant.Tag) { r.prune(tenants) })
	}
	return r
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	r.sessions[s.ID()] = s
	r.mu.Unlock()
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// Remove closes and forgets a session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.Close()
	}
	return ok
}

// List returns snapshots of every session, newest first.
func (r *Registry) List() []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Snapshot())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func (r *Registry) prune(tenants *tenant.Context) {
	r.mu.Lock()
	var stale []*Session
	for id, s := range r.sessions {
		if !tenants.Valid(s.Tag()) {
			stale = append(stale, s)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()
	for _, s := range stale {
		s.Close()
	}
}
