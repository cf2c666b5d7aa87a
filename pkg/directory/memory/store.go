// Package memory provides an in-memory device directory used by tests
// and by deployments that accept losing registrations on restart.
package memory

import (
	"context"
	"sync"
	"time"
)

// DirectoryStore implements directory.Store with a mutex-guarded map.
// Expiry is checked lazily on access.
type DirectoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // device ID → expiry
	ttl     time.Duration
	now     func() time.Time
}

// Option customizes a memory store.
type Option func(*DirectoryStore)

// WithTTL overrides the entry lifetime. Tests use short TTLs.
func WithTTL(ttl time.Duration) Option {
	return func(s *DirectoryStore) { s.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *DirectoryStore) { s.now = now }
}

// New creates an empty in-memory directory with the standard 90-day
// TTL unless overridden.
func New(opts ...Option) *DirectoryStore {
	s := &DirectoryStore{
		entries: make(map[string]time.Time),
		ttl:     90 * 24 * time.Hour,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Renew implements update-only TTL extension.
func (s *DirectoryStore) Renew(ctx context.Context, deviceID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.entries[deviceID]
	if !ok || s.now().After(expiry) {
		delete(s.entries, deviceID)
		return time.Time{}, false, nil
	}
	newExpiry := s.now().Add(s.ttl)
	s.entries[deviceID] = newExpiry
	return newExpiry, true, nil
}

// Allocate implements create-only insertion.
func (s *DirectoryStore) Allocate(ctx context.Context, deviceID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if expiry, ok := s.entries[deviceID]; ok && !s.now().After(expiry) {
		return time.Time{}, false, nil
	}
	newExpiry := s.now().Add(s.ttl)
	s.entries[deviceID] = newExpiry
	return newExpiry, true, nil
}

// Close is a no-op for the memory backend.
func (s *DirectoryStore) Close() error { return nil }

// Len reports live (unexpired) entries. Test helper.
func (s *DirectoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, expiry := range s.entries {
		if !s.now().After(expiry) {
			n++
		}
	}
	return n
}
