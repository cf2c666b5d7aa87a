package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/waypost-dev/waypost/pkg/metrics"
)

// RelayMetrics tracks relay rendezvous and data-plane activity.
type RelayMetrics struct {
	activePairs   prometheus.Gauge
	waitingSlots  prometheus.Gauge
	relayedBytes  prometheus.Counter
	expiredSlots  prometheus.Counter
	pairedStreams prometheus.Counter
}

// NewRelayMetrics creates the relay collectors, nil when metrics are
// disabled.
func NewRelayMetrics() *RelayMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &RelayMetrics{
		activePairs: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "waypost_relay_active_pairs",
			Help: "Relay pairs currently copying bytes",
		}),
		waitingSlots: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "waypost_relay_waiting_slots",
			Help: "Endpoints waiting for a rendezvous partner",
		}),
		relayedBytes: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "waypost_relay_bytes_total",
			Help: "Bytes copied between paired endpoints",
		}),
		expiredSlots: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "waypost_relay_expired_slots_total",
			Help: "Wait slots evicted without finding a partner",
		}),
		pairedStreams: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "waypost_relay_pairs_total",
			Help: "Successful rendezvous pairings",
		}),
	}
}

// PairOpened records a successful pairing.
func (m *RelayMetrics) PairOpened() {
	if m == nil {
		return
	}
	m.activePairs.Inc()
	m.pairedStreams.Inc()
}

// PairClosed records a pair ending.
func (m *RelayMetrics) PairClosed() {
	if m == nil {
		return
	}
	m.activePairs.Dec()
}

// SlotAdded records an endpoint starting to wait.
func (m *RelayMetrics) SlotAdded() {
	if m == nil {
		return
	}
	m.waitingSlots.Inc()
}

// SlotRemoved records a wait slot leaving the table, matched or not.
func (m *RelayMetrics) SlotRemoved() {
	if m == nil {
		return
	}
	m.waitingSlots.Dec()
}

// SlotExpired records an eviction on TTL.
func (m *RelayMetrics) SlotExpired() {
	if m == nil {
		return
	}
	m.expiredSlots.Inc()
}

// AddBytes records relayed payload bytes.
func (m *RelayMetrics) AddBytes(n int64) {
	if m == nil {
		return
	}
	m.relayedBytes.Add(float64(n))
}
