// Package stats aggregates relay traffic. A single goroutine owns the
// byte counter; producers publish samples through a bounded channel
// with non-blocking sends, so the counter is an approximate traffic
// indicator rather than an audit log.
package stats

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/waypost-dev/waypost/internal/logger"
)

const (
	// sampleQueueDepth bounds the sample channel. Samples dropped on a
	// full queue are not recovered.
	sampleQueueDepth = 1<<16 - 1 // 65535

	// snapshotInterval is how often the live counter is published to
	// the readable snapshot.
	snapshotInterval = 60 * time.Second

	// resetSchedule resets the counter at local midnight.
	resetSchedule = "0 0 * * *"
)

// Accountant owns the bytes-transferred counter.
type Accountant struct {
	samples chan uint64
	reset   chan struct{}

	mu       sync.RWMutex
	snapshot uint64

	tick time.Duration
	cron *cron.Cron
}

// Option customizes the accountant.
type Option func(*Accountant)

// WithSnapshotInterval overrides the publish interval. Tests use short
// intervals.
func WithSnapshotInterval(d time.Duration) Option {
	return func(a *Accountant) { a.tick = d }
}

// New creates an accountant. Run must be called to start it.
func New(opts ...Option) *Accountant {
	a := &Accountant{
		samples: make(chan uint64, sampleQueueDepth),
		reset:   make(chan struct{}, 1),
		tick:    snapshotInterval,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Samples is the producer side of the sample channel. Producers must
// send non-blocking.
func (a *Accountant) Samples() chan<- uint64 { return a.samples }

// TrySample publishes a byte count, dropping it if the queue is full.
func (a *Accountant) TrySample(n uint64) {
	select {
	case a.samples <- n:
	default:
	}
}

// TriggerReset schedules a counter reset at the next loop iteration.
// The cron job calls this daily; tests call it directly.
func (a *Accountant) TriggerReset() {
	select {
	case a.reset <- struct{}{}:
	default:
	}
}

// BytesTransferred returns the last published counter value.
func (a *Accountant) BytesTransferred() uint64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Run consumes samples until ctx is cancelled. It starts the daily
// reset cron and publishes the counter every snapshot interval.
func (a *Accountant) Run(ctx context.Context) {
	a.cron = cron.New()
	if _, err := a.cron.AddFunc(resetSchedule, a.TriggerReset); err != nil {
		// The schedule is a constant; this cannot fail at runtime.
		logger.Error("failed to schedule daily counter reset", "error", err)
	} else {
		a.cron.Start()
		defer a.cron.Stop()
	}

	ticker := time.NewTicker(a.tick)
	defer ticker.Stop()

	var counter uint64
	for {
		select {
		case n := <-a.samples:
			counter += n

		case <-ticker.C:
			a.mu.Lock()
			a.snapshot = counter
			a.mu.Unlock()

		case <-a.reset:
			logger.Info("daily traffic counter reset", "bytes_transferred", counter)
			counter = 0
			a.mu.Lock()
			a.snapshot = 0
			a.mu.Unlock()

		case <-ctx.Done():
			return
		}
	}
}
