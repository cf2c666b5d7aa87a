// Package badger provides the BadgerDB-backed device directory. Device
// IDs are stored as TTL'd keys with empty values; Badger expires them
// server-side, which gives the directory its "live iff key exists with
// unexpired TTL" semantics without a sweeper.
package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/waypost-dev/waypost/internal/logger"
	"github.com/waypost-dev/waypost/pkg/directory"
)

// DirectoryStore implements directory.Store on an embedded Badger
// database.
type DirectoryStore struct {
	db  *badger.DB
	ttl time.Duration
}

// Option customizes the store.
type Option func(*DirectoryStore)

// WithTTL overrides the device ID lifetime. Tests use short TTLs.
func WithTTL(d time.Duration) Option {
	return func(s *DirectoryStore) { s.ttl = d }
}

// New opens (or creates) the directory database at path.
func New(path string, opts ...Option) (*DirectoryStore, error) {
	badgerOpts := badger.DefaultOptions(path)
	badgerOpts.Logger = nil // badger's own logger is too chatty for a sidecar store
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open directory store at %s: %w", path, err)
	}
	logger.Info("directory store opened", "backend", "badger", "path", path)

	s := &DirectoryStore{db: db, ttl: directory.TTL}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Renew extends the TTL of an existing device ID. Update-only: if the
// key is absent (or already expired) nothing is written.
func (s *DirectoryStore) Renew(ctx context.Context, deviceID string) (time.Time, bool, error) {
	var renewed bool
	err := s.run(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			key := directory.Key(deviceID)
			if _, err := txn.Get(key); err != nil {
				if errors.Is(err, badger.ErrKeyNotFound) {
					renewed = false
					return nil
				}
				return err
			}
			renewed = true
			return txn.SetEntry(badger.NewEntry(key, nil).WithTTL(s.ttl))
		})
	})
	if err != nil || !renewed {
		return time.Time{}, false, err
	}
	return time.Now().Add(s.ttl), true, nil
}

// Allocate claims a device ID. Create-only: an existing unexpired key
// wins and the allocation reports ok=false.
func (s *DirectoryStore) Allocate(ctx context.Context, deviceID string) (time.Time, bool, error) {
	var allocated bool
	err := s.run(ctx, func() error {
		return s.db.Update(func(txn *badger.Txn) error {
			key := directory.Key(deviceID)
			if _, err := txn.Get(key); err == nil {
				allocated = false
				return nil
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			allocated = true
			return txn.SetEntry(badger.NewEntry(key, nil).WithTTL(s.ttl))
		})
	})
	if err != nil || !allocated {
		return time.Time{}, false, err
	}
	return time.Now().Add(s.ttl), true, nil
}

// run executes op honoring the caller's deadline. Badger transactions
// are synchronous, so the deadline is enforced by abandoning the wait;
// an abandoned write may still commit, which is acceptable for TTL'd
// idempotent entries.
func (s *DirectoryStore) run(ctx context.Context, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- op() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes and closes the database.
func (s *DirectoryStore) Close() error {
	return s.db.Close()
}
