// Package registry tracks the registered control sessions, keyed by
// device ID. It is the server-wide lookup table the proxy handlers use
// to find a peer's session.
package registry

import (
	"sync"

	"github.com/waypost-dev/waypost/pkg/session"
)

// Registry is a concurrent device-ID → session map. Point operations
// only; callers never iterate under the lock. Insert is last-writer-
// wins, remove is idempotent, and a handle returned by Get stays valid
// (though possibly shut down) after removal.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{sessions: make(map[string]*session.Session)}
}

// Insert publishes s under deviceID, replacing any previous entry.
func (r *Registry) Insert(deviceID string, s *session.Session) {
	r.mu.Lock()
	r.sessions[deviceID] = s
	r.mu.Unlock()
}

// Get returns the session registered under deviceID, or nil.
func (r *Registry) Get(deviceID string) *session.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[deviceID]
}

// Remove drops the entry for deviceID, but only if it still maps to s.
// A session that was replaced by a newer registration for the same ID
// must not evict its successor on shutdown.
func (r *Registry) Remove(deviceID string, s *session.Session) {
	r.mu.Lock()
	if current, ok := r.sessions[deviceID]; ok && current == s {
		delete(r.sessions, deviceID)
	}
	r.mu.Unlock()
}

// Len reports the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
