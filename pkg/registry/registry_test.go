package registry_test

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/waypost-dev/waypost/pkg/registry"
	"github.com/waypost-dev/waypost/pkg/session"
)

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return session.New(server, nil, nil)
}

func TestInsertAndGet(t *testing.T) {
	r := registry.New()
	s := newTestSession(t)

	r.Insert("QK3MV8ZP", s)
	assert.Same(t, s, r.Get("QK3MV8ZP"))
	assert.Equal(t, 1, r.Len())

	assert.Nil(t, r.Get("WX4TB7NM"))
}

func TestInsertLastWriterWins(t *testing.T) {
	r := registry.New()
	old := newTestSession(t)
	fresh := newTestSession(t)

	r.Insert("QK3MV8ZP", old)
	r.Insert("QK3MV8ZP", fresh)

	assert.Same(t, fresh, r.Get("QK3MV8ZP"))
	assert.Equal(t, 1, r.Len())
}

func TestRemove(t *testing.T) {
	r := registry.New()
	s := newTestSession(t)

	r.Insert("QK3MV8ZP", s)
	r.Remove("QK3MV8ZP", s)
	assert.Nil(t, r.Get("QK3MV8ZP"))

	// Removing again is a no-op.
	r.Remove("QK3MV8ZP", s)
	assert.Equal(t, 0, r.Len())
}

func TestRemoveDoesNotEvictSuccessor(t *testing.T) {
	r := registry.New()
	old := newTestSession(t)
	fresh := newTestSession(t)

	r.Insert("QK3MV8ZP", old)
	r.Insert("QK3MV8ZP", fresh)

	// The replaced session shutting down must not evict the newer one.
	r.Remove("QK3MV8ZP", old)
	assert.Same(t, fresh, r.Get("QK3MV8ZP"))
}
