// Package signal implements the control-plane adapter: the TLS
// listener endpoints connect to, the dispatcher that routes decoded
// requests to handlers, and the handlers themselves (heartbeat, device
// registration, offer/auth proxying, client-to-client forwarding).
package signal

import (
	"context"
	"time"

	"github.com/waypost-dev/waypost/internal/logger"
	"github.com/waypost-dev/waypost/pkg/directory"
	wprom "github.com/waypost-dev/waypost/pkg/metrics/prometheus"
	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/registry"
	"github.com/waypost-dev/waypost/pkg/session"
)

// allocateFailureLimit is how many consecutive store errors the
// allocation loop tolerates before failing the registration.
const allocateFailureLimit = 10

// Dispatcher routes inbound control requests to their handlers. It
// implements session.Handler; the session source loop invokes it on a
// fresh goroutine per request, so handlers may block on store calls and
// proxied peer calls.
type Dispatcher struct {
	registry    *registry.Registry
	store       directory.Store
	callTimeout time.Duration
	now         func() time.Time
	metrics     *wprom.SignalMetrics
}

// NewDispatcher wires the handler set to its collaborators. metrics
// may be nil.
func NewDispatcher(reg *registry.Registry, store directory.Store, callTimeout time.Duration, metrics *wprom.SignalMetrics) *Dispatcher {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Dispatcher{
		registry:    reg,
		store:       store,
		callTimeout: callTimeout,
		now:         time.Now,
		metrics:     metrics,
	}
}

// HandleRequest resolves msg to a handler. Messages that require a
// registered session fail with Internal while the session is
// anonymous; unknown request variants get InvalidArguments.
func (d *Dispatcher) HandleRequest(ctx context.Context, s *session.Session, msg proto.Message) (proto.Message, *proto.Error) {
	switch req := msg.(type) {
	case *proto.HeartBeatRequest:
		return d.handleHeartBeat(req)

	case *proto.RegisterDeviceIDRequest:
		return d.handleRegister(ctx, s, req)

	case *proto.DesktopConnectOfferRequest:
		if s.DeviceID() == "" {
			return nil, proto.NewError(proto.ErrInternal)
		}
		return d.handleConnectOffer(s, req)

	case *proto.DesktopConnectOfferAuthRequest:
		if s.DeviceID() == "" {
			return nil, proto.NewError(proto.ErrInternal)
		}
		return d.handleConnectOfferAuth(s, req)

	default:
		logger.Warn("unhandled request message", "tag", msg.Tag(), "device_id", s.DeviceID())
		return nil, proto.NewError(proto.ErrInvalidArguments)
	}
}

// HandleClientToClient forwards the packet verbatim to the target
// session. A missing target drops the packet with a warning; the
// is_secure flag is carried through untouched.
func (d *Dispatcher) HandleClientToClient(_ context.Context, s *session.Session, pkt *proto.ClientToClientPacket) {
	target := d.registry.Get(pkt.ToDeviceID)
	if target == nil {
		logger.Warn("dropping client-to-client packet for unknown device",
			"from", pkt.FromDeviceID, "to", pkt.ToDeviceID)
		return
	}
	if err := target.SendPacket(pkt); err != nil {
		logger.Warn("client-to-client forward failed",
			"from", pkt.FromDeviceID, "to", pkt.ToDeviceID, "error", err)
	}
}

// OnSessionClose removes a registered session from the registry. The
// session layer calls this exactly once per session lifecycle.
func (d *Dispatcher) OnSessionClose(s *session.Session) {
	if id := s.DeviceID(); id != "" {
		d.registry.Remove(id, s)
		d.metrics.SessionRemoved()
		logger.Debug("session removed from registry", "device_id", id)
	}
}
