package session

import (
	"errors"
	"sync"
)

// ErrSessionExists means a session is already live for the call.
var ErrSessionExists = errors.New("session: call already has a live session")

// Registry holds the live sessions, keyed by provider call id. Insertion is
// atomic insert-if-absent, which is what guarantees at most one session per
// call even when webhook retries race each other.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*CallSession
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*CallSession)}
}

// Insert claims the call id for this session. Returns ErrSessionExists if
// another session already holds it.
func (r *Registry) Insert(s *CallSession) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.CallSID]; ok {
		return ErrSessionExists
	}
	r.sessions[s.CallSID] = s
	return nil
}

func (r *Registry) Get(callSID string) (*CallSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[callSID]
	return s, ok
}

// Remove releases the call id. Safe to call for an already-removed session.
func (r *Registry) Remove(callSID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, callSID)
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
