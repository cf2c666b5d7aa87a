// Package relay pairs anonymous endpoints that present matching visit
// credentials and copies bytes between them, feeding the traffic
// accountant and a live snapshot table.
package relay

import (
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/waypost-dev/waypost/internal/logger"
	wprom "github.com/waypost-dev/waypost/pkg/metrics/prometheus"
)

// copyBufferSize is the per-direction relay copy buffer.
const copyBufferSize = 16 * 1024

// Stream is one relay endpoint after a successful handshake. The
// accept goroutine that produced it blocks on Done until the
// rendezvous is finished with the connection, keeping the adapter's
// connection accounting truthful.
type Stream struct {
	Conn     net.Conn
	DeviceID int64

	done chan struct{}
	once sync.Once
}

// NewStream wraps a handshaken relay connection.
func NewStream(conn net.Conn, deviceID int64) *Stream {
	return &Stream{Conn: conn, DeviceID: deviceID, done: make(chan struct{})}
}

// Done is closed once the rendezvous no longer uses the connection.
func (s *Stream) Done() <-chan struct{} { return s.done }

// finish releases the accept goroutine. Idempotent.
func (s *Stream) finish() {
	s.once.Do(func() { close(s.done) })
}

// Pair describes a live relay pairing. The active/passive labels are
// bookkeeping only: whoever arrived second is "active", there is no
// semantic asymmetry.
type Pair struct {
	ID              string
	ActiveDeviceID  int64
	ActiveAddr      string
	PassiveDeviceID int64
	PassiveAddr     string
	OpenedAt        time.Time
}

// PairTable tracks live pairs for the stats snapshot. Point operations
// plus a truncated snapshot read.
type PairTable struct {
	mu    sync.RWMutex
	pairs map[string]*Pair
}

// NewPairTable creates an empty table.
func NewPairTable() *PairTable {
	return &PairTable{pairs: make(map[string]*Pair)}
}

func (t *PairTable) add(p *Pair) {
	t.mu.Lock()
	t.pairs[p.ID] = p
	t.mu.Unlock()
}

func (t *PairTable) remove(id string) {
	t.mu.Lock()
	delete(t.pairs, id)
	t.mu.Unlock()
}

// Len reports the number of live pairs.
func (t *PairTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.pairs)
}

// Snapshot returns up to max live pair descriptors. Iteration stops
// early once max entries are collected.
func (t *PairTable) Snapshot(max int) []Pair {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Pair, 0, min(max, len(t.pairs)))
	for _, p := range t.pairs {
		if len(out) >= max {
			break
		}
		out = append(out, *p)
	}
	return out
}

// halfCloser is the write-side shutdown relay copying relies on:
// *net.TCPConn implements it, test pipes may not.
type halfCloser interface {
	CloseWrite() error
}

// runPair relays bytes between the two endpoints until both directions
// have drained. active is the endpoint that arrived second. The
// handshake responses have already been sent by the caller.
func runPair(active, passive *Stream, table *PairTable, samples chan<- uint64, metrics *wprom.RelayMetrics) {
	pair := &Pair{
		ID:              uuid.NewString(),
		ActiveDeviceID:  active.DeviceID,
		ActiveAddr:      active.Conn.RemoteAddr().String(),
		PassiveDeviceID: passive.DeviceID,
		PassiveAddr:     passive.Conn.RemoteAddr().String(),
		OpenedAt:        time.Now(),
	}
	table.add(pair)
	metrics.PairOpened()
	logger.Info("relay pair opened",
		"active_device_id", active.DeviceID, "passive_device_id", passive.DeviceID,
		"active_addr", pair.ActiveAddr, "passive_addr", pair.PassiveAddr)

	// The pair leaves the snapshot as soon as either direction ends,
	// even though the other direction may still be draining.
	var removeOnce sync.Once
	removePair := func() {
		removeOnce.Do(func() { table.remove(pair.ID) })
	}

	var g errgroup.Group
	g.Go(func() error {
		defer removePair()
		copyDirection(active.Conn, passive.Conn, samples, metrics)
		return nil
	})
	g.Go(func() error {
		defer removePair()
		copyDirection(passive.Conn, active.Conn, samples, metrics)
		return nil
	})
	_ = g.Wait()

	_ = active.Conn.Close()
	_ = passive.Conn.Close()
	active.finish()
	passive.finish()
	metrics.PairClosed()
	logger.Info("relay pair closed",
		"active_device_id", active.DeviceID, "passive_device_id", passive.DeviceID)
}

// copyDirection copies src → dst until EOF or error, publishing byte
// counts to the accountant without ever blocking: a dropped sample is
// cheaper than a stalled relay.
func copyDirection(src, dst net.Conn, samples chan<- uint64, metrics *wprom.RelayMetrics) {
	buf := make([]byte, copyBufferSize)
	for {
		n, rerr := src.Read(buf)
		if n > 0 {
			if _, werr := writeFull(dst, buf[:n]); werr != nil {
				break
			}
			metrics.AddBytes(int64(n))
			if samples != nil {
				select {
				case samples <- uint64(n):
				default:
				}
			}
		}
		if rerr != nil {
			break
		}
	}

	// Signal EOF downstream but leave the reverse direction alone.
	if hc, ok := dst.(halfCloser); ok {
		_ = hc.CloseWrite()
	} else {
		_ = dst.Close()
	}
}

func writeFull(dst net.Conn, p []byte) (int, error) {
	total := 0
	for total < len(p) {
		n, err := dst.Write(p[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
