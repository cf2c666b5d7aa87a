// Package directory implements the device directory: short
// human-friendly device IDs, their generation, and the TTL'd key-value
// store that makes an ID "live". Uniqueness is established solely by
// the store's create-only write; the generator does no collision
// tracking.
package directory

import (
	"context"
	"time"
)

const (
	// TTL is the directory lifetime of a device ID. Allocation and
	// renewal both fix the expiry to now + TTL.
	TTL = 90 * 24 * time.Hour

	// OpTimeout is the per-call deadline on store operations.
	OpTimeout = time.Second

	// KeyPrefix namespaces device-ID keys in the store.
	KeyPrefix = "device_id:"
)

// Store is the device-directory contract. Both operations enforce the
// caller's context deadline and surface transport errors without
// mutating state.
type Store interface {
	// Renew extends the TTL of an existing device ID (update-only
	// semantics). ok is false if the ID is not present; expiry is the
	// new expiry on success.
	Renew(ctx context.Context, deviceID string) (expiry time.Time, ok bool, err error)

	// Allocate claims a device ID (create-only semantics). ok is false
	// if the ID is already taken.
	Allocate(ctx context.Context, deviceID string) (expiry time.Time, ok bool, err error)

	// Close releases the store.
	Close() error
}

// Key returns the store key for a device ID.
func Key(deviceID string) []byte {
	return append([]byte(KeyPrefix), deviceID...)
}
