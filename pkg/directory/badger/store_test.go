package badger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	badgerstore "github.com/waypost-dev/waypost/pkg/directory/badger"
)

func newTestStore(t *testing.T, opts ...badgerstore.Option) *badgerstore.DirectoryStore {
	t.Helper()
	s, err := badgerstore.New(t.TempDir(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAllocateCreateOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	expiry, ok, err := s.Allocate(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, expiry.After(time.Now()))

	// A second allocation of the same ID must fail.
	_, ok, err = s.Allocate(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	assert.False(t, ok)

	// A different ID is untouched by the collision.
	_, ok, err = s.Allocate(ctx, "X2Y4Z6W8")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRenewUpdateOnly(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Renewing an unknown ID misses.
	_, ok, err := s.Renew(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	assert.False(t, ok)

	first, ok, err := s.Allocate(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	require.True(t, ok)

	renewed, ok, err := s.Renew(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, renewed.Before(first))
}

func TestExpiredKeyBehavesAbsent(t *testing.T) {
	// Badger expiry has one-second granularity, so the TTL and the wait
	// are both in whole seconds.
	s := newTestStore(t, badgerstore.WithTTL(time.Second))
	ctx := context.Background()

	_, ok, err := s.Allocate(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(2 * time.Second)

	// Expired: renewal misses, reallocation succeeds.
	_, ok, err = s.Renew(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.Allocate(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEntriesSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s, err := badgerstore.New(dir)
	require.NoError(t, err)
	_, ok, err := s.Allocate(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, s.Close())

	reopened, err := badgerstore.New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	_, ok, err = reopened.Renew(ctx, "QK3MV8ZP")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := s.Allocate(ctx, "QK3MV8ZP")
	assert.Error(t, err)

	_, _, err = s.Renew(ctx, "QK3MV8ZP")
	assert.Error(t, err)
}
