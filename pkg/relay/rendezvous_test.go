package relay_test

import (
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/relay"
	"github.com/waypost-dev/waypost/pkg/wire"
)

// endpoint is one relay client half: the server-side conn wrapped in a
// stream plus the peer conn the test drives.
type endpoint struct {
	stream *relay.Stream
	peer   net.Conn
}

func newEndpoint(t *testing.T, deviceID int64) endpoint {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return endpoint{stream: relay.NewStream(server, deviceID), peer: client}
}

func readHandshakeResponse(t *testing.T, conn net.Conn) *proto.EndpointHandshakeResponse {
	t.Helper()
	fr := wire.NewFrameReader(conn, wire.MaxRelayFrame)
	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	resp, err := proto.DecodeHandshakeResponse(frame)
	require.NoError(t, err)
	return resp
}

func waitDone(t *testing.T, s *relay.Stream) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream not finished")
	}
}

func TestPairingAndByteRelay(t *testing.T) {
	pairs := relay.NewPairTable()
	samples := make(chan uint64, 16)
	rv := relay.NewRendezvous(time.Minute, pairs, samples, nil)

	first := newEndpoint(t, 111)
	second := newEndpoint(t, 222)

	rv.Offer(first.stream, []byte("token"))
	assert.Equal(t, 1, rv.WaitingSlots())

	rv.Offer(second.stream, []byte("token"))

	// The second arrival hears about the first and vice versa.
	resp := readHandshakeResponse(t, second.peer)
	assert.Equal(t, int64(111), resp.RemoteDeviceID)
	resp = readHandshakeResponse(t, first.peer)
	assert.Equal(t, int64(222), resp.RemoteDeviceID)

	assert.Equal(t, 0, rv.WaitingSlots())
	require.Eventually(t, func() bool { return pairs.Len() == 1 }, time.Second, 5*time.Millisecond)

	// Payload bytes flow in both directions.
	go func() { _, _ = second.peer.Write([]byte("ping")) }()
	buf := make([]byte, 4)
	_, err := io.ReadFull(first.peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	go func() { _, _ = first.peer.Write([]byte("pong!")) }()
	buf = make([]byte, 5)
	_, err = io.ReadFull(second.peer, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong!", string(buf))

	// The accountant heard about the copied chunks.
	assert.Equal(t, uint64(4), <-samples)
	assert.Equal(t, uint64(5), <-samples)

	// Either side hanging up tears the pair down.
	_ = second.peer.Close()
	waitDone(t, first.stream)
	waitDone(t, second.stream)
	require.Eventually(t, func() bool { return pairs.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDifferentCredentialsDoNotPair(t *testing.T) {
	rv := relay.NewRendezvous(time.Minute, relay.NewPairTable(), nil, nil)

	first := newEndpoint(t, 1)
	second := newEndpoint(t, 2)

	rv.Offer(first.stream, []byte("alpha"))
	rv.Offer(second.stream, []byte("beta"))

	assert.Equal(t, 2, rv.WaitingSlots())
}

func TestWaitSlotExpires(t *testing.T) {
	rv := relay.NewRendezvous(30*time.Millisecond, relay.NewPairTable(), nil, nil)

	ep := newEndpoint(t, 1)
	rv.Offer(ep.stream, []byte("token"))
	require.Equal(t, 1, rv.WaitingSlots())

	waitDone(t, ep.stream)
	assert.Equal(t, 0, rv.WaitingSlots())

	// The parked connection was dropped.
	_ = ep.peer.SetReadDeadline(time.Now().Add(time.Second))
	_, err := ep.peer.Read(make([]byte, 1))
	assert.Error(t, err)
}

func TestThirdArrivalPairsWithParkedSlot(t *testing.T) {
	pairs := relay.NewPairTable()
	rv := relay.NewRendezvous(time.Minute, pairs, nil, nil)

	first := newEndpoint(t, 1)
	second := newEndpoint(t, 2)
	third := newEndpoint(t, 3)

	rv.Offer(first.stream, []byte("token"))
	// A same-credential arrival while one is parked takes the slot.
	rv.Offer(second.stream, []byte("token"))

	resp := readHandshakeResponse(t, second.peer)
	assert.Equal(t, int64(1), resp.RemoteDeviceID)
	readHandshakeResponse(t, first.peer)

	// The third endpoint parks anew.
	rv.Offer(third.stream, []byte("token"))
	assert.Equal(t, 1, rv.WaitingSlots())
}

func TestConcurrentSameCredentialOffers(t *testing.T) {
	pairs := relay.NewPairTable()
	rv := relay.NewRendezvous(time.Minute, pairs, nil, nil)

	// An even number of simultaneous arrivals on one credential must
	// produce exactly n/2 pairs and leave no slot behind.
	const n = 16
	start := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		ep := newEndpoint(t, int64(i))
		go func() { _, _ = io.Copy(io.Discard, ep.peer) }()

		wg.Add(1)
		go func(ep endpoint) {
			defer wg.Done()
			<-start
			rv.Offer(ep.stream, []byte("token"))
		}(ep)
	}
	close(start)
	wg.Wait()

	require.Eventually(t, func() bool { return pairs.Len() == n/2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, rv.WaitingSlots())
}

func TestShutdownDrainsWaitSlots(t *testing.T) {
	rv := relay.NewRendezvous(time.Minute, relay.NewPairTable(), nil, nil)

	ep := newEndpoint(t, 1)
	rv.Offer(ep.stream, []byte("token"))
	require.Equal(t, 1, rv.WaitingSlots())

	rv.Shutdown()

	assert.Equal(t, 0, rv.WaitingSlots())
	waitDone(t, ep.stream)
}

func TestSnapshotTruncates(t *testing.T) {
	table := relay.NewPairTable()
	rv := relay.NewRendezvous(time.Minute, table, nil, nil)

	const pairCount = 4
	for i := 0; i < pairCount; i++ {
		a := newEndpoint(t, int64(i*2))
		b := newEndpoint(t, int64(i*2+1))
		rv.Offer(a.stream, []byte{byte(i)})
		rv.Offer(b.stream, []byte{byte(i)})
		readHandshakeResponse(t, b.peer)
		readHandshakeResponse(t, a.peer)
	}

	require.Eventually(t, func() bool { return table.Len() == pairCount }, time.Second, 5*time.Millisecond)

	assert.Len(t, table.Snapshot(2), 2)
	assert.Len(t, table.Snapshot(10), pairCount)

	snap := table.Snapshot(10)
	assert.NotEmpty(t, snap[0].ID)
	assert.False(t, snap[0].OpenedAt.IsZero())
}
