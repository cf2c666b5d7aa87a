package relay

import (
	"bytes"
	"sync"
	"time"

	"github.com/waypost-dev/waypost/internal/logger"
	wprom "github.com/waypost-dev/waypost/pkg/metrics/prometheus"
	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/wire"
)

// DefaultWaitTTL is how long a lone endpoint may wait for its partner
// before its slot is evicted and its connection dropped.
const DefaultWaitTTL = 120 * time.Second

type waitSlot struct {
	credentials []byte
	stream      *Stream
	timer       *time.Timer
}

// Rendezvous matches relay endpoints by visit credentials. The first
// endpoint with a given credential parks in a wait slot; the second
// takes the slot and the two are paired. Slot operations are individual
// insert/remove under one lock, pairing itself runs on its own
// goroutine so the accept path never blocks.
type Rendezvous struct {
	mu    sync.Mutex
	slots map[string]*waitSlot

	ttl     time.Duration
	pairs   *PairTable
	samples chan<- uint64
	metrics *wprom.RelayMetrics
}

// NewRendezvous creates the matcher. samples may be nil (no traffic
// accounting), metrics may be nil.
func NewRendezvous(ttl time.Duration, pairs *PairTable, samples chan<- uint64, metrics *wprom.RelayMetrics) *Rendezvous {
	if ttl <= 0 {
		ttl = DefaultWaitTTL
	}
	return &Rendezvous{
		slots:   make(map[string]*waitSlot),
		ttl:     ttl,
		pairs:   pairs,
		samples: samples,
		metrics: metrics,
	}
}

// Pairs exposes the live pair table.
func (r *Rendezvous) Pairs() *PairTable { return r.pairs }

// WaitingSlots reports the number of parked endpoints.
func (r *Rendezvous) WaitingSlots() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.slots)
}

// Offer presents an endpoint that completed its handshake. If a
// partner is already waiting on the same credentials the two are
// paired; otherwise the endpoint parks with a TTL. Lookup and park are
// a single critical section so two same-credential arrivals can never
// both park and silently displace one another.
func (r *Rendezvous) Offer(stream *Stream, credentials []byte) {
	key := string(credentials)

	r.mu.Lock()
	slot, ok := r.slots[key]
	if ok {
		delete(r.slots, key)
		slot.timer.Stop()
	} else {
		parked := &waitSlot{credentials: credentials, stream: stream}
		parked.timer = time.AfterFunc(r.ttl, func() { r.evict(key, parked) })
		r.slots[key] = parked
	}
	r.mu.Unlock()

	if !ok {
		r.metrics.SlotAdded()
		logger.Debug("relay endpoint waiting", "device_id", stream.DeviceID)
		return
	}

	r.metrics.SlotRemoved()

	// The key equality makes this tautological; kept as a guard against
	// slot-table corruption.
	if !bytes.Equal(slot.credentials, credentials) {
		logger.Error("rendezvous slot credential mismatch, dropping both endpoints")
		_ = slot.stream.Conn.Close()
		_ = stream.Conn.Close()
		slot.stream.finish()
		stream.finish()
		return
	}

	// Second arrival is labeled active; the label carries no semantics.
	go r.pairUp(stream, slot.stream)
}

// evict removes a still-parked slot whose TTL elapsed and drops its
// connection.
func (r *Rendezvous) evict(key string, slot *waitSlot) {
	r.mu.Lock()
	current, ok := r.slots[key]
	if ok && current == slot {
		delete(r.slots, key)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	r.metrics.SlotRemoved()
	r.metrics.SlotExpired()
	logger.Debug("relay wait slot expired", "device_id", slot.stream.DeviceID)
	_ = slot.stream.Conn.Close()
	slot.stream.finish()
}

// Shutdown evicts every wait slot and closes the parked connections.
// Pairs already copying drain on their own EOFs.
func (r *Rendezvous) Shutdown() {
	r.mu.Lock()
	slots := r.slots
	r.slots = make(map[string]*waitSlot)
	r.mu.Unlock()

	for _, slot := range slots {
		slot.timer.Stop()
		r.metrics.SlotRemoved()
		_ = slot.stream.Conn.Close()
		slot.stream.finish()
	}
}

// pairUp sends both handshake responses and starts the byte relay. A
// response failure on either side aborts the pair before any payload
// bytes flow.
func (r *Rendezvous) pairUp(active, passive *Stream) {
	abort := func() {
		_ = active.Conn.Close()
		_ = passive.Conn.Close()
		active.finish()
		passive.finish()
	}
	if err := sendHandshakeResponse(active, passive.DeviceID); err != nil {
		logger.Warn("relay handshake response failed", "device_id", active.DeviceID, "error", err)
		abort()
		return
	}
	if err := sendHandshakeResponse(passive, active.DeviceID); err != nil {
		logger.Warn("relay handshake response failed", "device_id", passive.DeviceID, "error", err)
		abort()
		return
	}

	runPair(active, passive, r.pairs, r.samples, r.metrics)
}

func sendHandshakeResponse(s *Stream, remoteDeviceID int64) error {
	fw := wire.NewFrameWriter(s.Conn, wire.MaxRelayFrame)
	return fw.WriteFrame(proto.EncodeHandshakeResponse(&proto.EndpointHandshakeResponse{
		RemoteDeviceID: remoteDeviceID,
	}))
}
