// Package prometheus holds the Prometheus-backed collectors for the
// signal and relay adapters. All constructors return nil when metrics
// are disabled; recording methods on a nil receiver are no-ops.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/waypost-dev/waypost/pkg/metrics"
)

// SignalMetrics tracks control-plane activity.
type SignalMetrics struct {
	activeSessions prometheus.Gauge
	registrations  *prometheus.CounterVec
	proxiedCalls   *prometheus.CounterVec
}

// NewSignalMetrics creates the control-plane collectors, nil when
// metrics are disabled.
func NewSignalMetrics() *SignalMetrics {
	if !metrics.IsEnabled() {
		return nil
	}
	reg := metrics.GetRegistry()

	return &SignalMetrics{
		activeSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "waypost_signal_active_sessions",
			Help: "Registered control sessions currently connected",
		}),
		registrations: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "waypost_signal_registrations_total",
			Help: "Device registrations by outcome",
		}, []string{"outcome"}), // "renewed", "allocated", "failed"
		proxiedCalls: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "waypost_signal_proxied_calls_total",
			Help: "Offer/auth calls proxied between sessions, by outcome",
		}, []string{"outcome"}), // "ok", "offline", "timeout", "mismatched", "error"
	}
}

// SessionRegistered records a session entering the registry.
func (m *SignalMetrics) SessionRegistered() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

// SessionRemoved records a session leaving the registry.
func (m *SignalMetrics) SessionRemoved() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

// RecordRegistration records a registration attempt outcome.
func (m *SignalMetrics) RecordRegistration(outcome string) {
	if m == nil {
		return
	}
	m.registrations.WithLabelValues(outcome).Inc()
}

// RecordProxiedCall records a proxied offer/auth call outcome.
func (m *SignalMetrics) RecordProxiedCall(outcome string) {
	if m == nil {
		return
	}
	m.proxiedCalls.WithLabelValues(outcome).Inc()
}
