package protocol

import "sync"

// Registry is the engine's synchronized map of live sessions. It is the
// only sanctioned path for cross-session access — broadcast and admin
// operations read the registry and use the session's locked methods, never
// session internals.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewRegistry constructs an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// addIfBelow registers the session only while fewer than max sessions are
// live, under one critical section. The check and the insert must not be
// separable: concurrent handshakes would otherwise all pass the limit
// check before any of them registers.
func (r *Registry) addIfBelow(s *Session, max int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.sessions) >= max {
		return false
	}
	r.sessions[s.ID] = s
	return true
}

// remove drops the session with the given id, if present.
func (r *Registry) remove(id string) {
	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()
}

// Get returns the live session with the given id, or nil.
func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

// ByUser returns all live sessions belonging to userID.
func (r *Registry) ByUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Session
	for _, s := range r.sessions {
		if s.UserID == userID {
			out = append(out, s)
		}
	}
	return out
}

// All returns a snapshot of every live session. Iterating the snapshot
// does not hold the registry lock, so a slow send to one session never
// blocks connection setup on others.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
