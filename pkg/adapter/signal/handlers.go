package signal

import (
	"context"

	"github.com/waypost-dev/waypost/internal/logger"
	"github.com/waypost-dev/waypost/pkg/directory"
	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/session"
)

func (d *Dispatcher) handleHeartBeat(req *proto.HeartBeatRequest) (proto.Message, *proto.Error) {
	logger.Debug("heartbeat", "client_ts", req.Timestamp)
	return &proto.HeartBeatReply{Timestamp: d.now().Unix()}, nil
}

// handleRegister implements the registration algorithm: renew the
// presented ID if it is still live in the directory, otherwise allocate
// a fresh one. Collisions with existing IDs retry for free; only store
// errors count toward the failure limit. The NX store write is the sole
// serialization point for uniqueness.
func (d *Dispatcher) handleRegister(ctx context.Context, s *session.Session, req *proto.RegisterDeviceIDRequest) (proto.Message, *proto.Error) {
	if s.DeviceID() != "" {
		return nil, proto.NewError(proto.ErrRepeatedRequest)
	}

	if req.DeviceID != nil && *req.DeviceID != "" {
		opCtx, cancel := context.WithTimeout(ctx, directory.OpTimeout)
		expiry, ok, err := d.store.Renew(opCtx, *req.DeviceID)
		cancel()
		if err != nil {
			logger.Error("device id renewal failed", "device_id", *req.DeviceID, "error", err)
			d.metrics.RecordRegistration("failed")
			return nil, proto.NewError(proto.ErrInternal)
		}
		if ok {
			return d.publish(s, *req.DeviceID, expiry.Unix(), "renewed")
		}
		// Not found in the directory: fall through to allocation.
	}

	failures := 0
	for {
		candidate := directory.GenerateDeviceID()

		opCtx, cancel := context.WithTimeout(ctx, directory.OpTimeout)
		expiry, ok, err := d.store.Allocate(opCtx, candidate)
		cancel()

		switch {
		case err != nil:
			failures++
			if failures >= allocateFailureLimit {
				logger.Error("device id allocation failed too many times", "error", err)
				d.metrics.RecordRegistration("failed")
				return nil, proto.NewError(proto.ErrInternal)
			}
		case !ok:
			// Already taken. The store being reachable resets the
			// consecutive-error count.
			failures = 0
		default:
			return d.publish(s, candidate, expiry.Unix(), "allocated")
		}
	}
}

// publish assigns the device ID to the session and makes it visible in
// the registry.
func (d *Dispatcher) publish(s *session.Session, deviceID string, expiresAt int64, outcome string) (proto.Message, *proto.Error) {
	if err := s.SetDeviceID(deviceID); err != nil {
		return nil, proto.NewError(proto.ErrRepeatedRequest)
	}
	d.registry.Insert(deviceID, s)
	d.metrics.SessionRegistered()
	d.metrics.RecordRegistration(outcome)
	logger.Info("device registered", "device_id", deviceID, "outcome", outcome,
		"address", s.RemoteAddr().String())

	return &proto.RegisterDeviceIDReply{DeviceID: deviceID, ExpiresAt: expiresAt}, nil
}

// handleConnectOffer proxies an offer to the asked device's session and
// maps its reply back to the offerer.
func (d *Dispatcher) handleConnectOffer(s *session.Session, req *proto.DesktopConnectOfferRequest) (proto.Message, *proto.Error) {
	logger.Info("connect offer", "offer", req.OfferDeviceID, "ask", req.AskDeviceID)

	askSession := d.registry.Get(req.AskDeviceID)
	if askSession == nil {
		d.metrics.RecordProxiedCall("offline")
		return nil, proto.NewError(proto.ErrRemoteClientOfflineOrNotExist)
	}

	reply, err := askSession.Call(&proto.DesktopConnectAskRequest{
		OfferDeviceID: req.OfferDeviceID,
	}, d.callTimeout)
	if err != nil {
		return nil, d.proxyError(err)
	}

	askReply, ok := reply.(*proto.DesktopConnectAskReply)
	if !ok {
		d.metrics.RecordProxiedCall("mismatched")
		return nil, proto.NewError(proto.ErrMismatchedResponseMessage)
	}

	d.metrics.RecordProxiedCall("ok")
	return &proto.DesktopConnectOfferReply{
		Agree: askReply.Agree,
		N:     askReply.N,
		E:     askReply.E,
	}, nil
}

// handleConnectOfferAuth proxies an authentication secret to the asked
// device and maps its verdict back.
func (d *Dispatcher) handleConnectOfferAuth(s *session.Session, req *proto.DesktopConnectOfferAuthRequest) (proto.Message, *proto.Error) {
	logger.Info("connect offer auth", "offer", req.OfferDeviceID, "ask", req.AskDeviceID)

	askSession := d.registry.Get(req.AskDeviceID)
	if askSession == nil {
		d.metrics.RecordProxiedCall("offline")
		return nil, proto.NewError(proto.ErrRemoteClientOfflineOrNotExist)
	}

	reply, err := askSession.Call(&proto.DesktopConnectAskAuthRequest{
		OfferDeviceID: req.OfferDeviceID,
		SecretMessage: req.SecretMessage,
	}, d.callTimeout)
	if err != nil {
		return nil, d.proxyError(err)
	}

	askReply, ok := reply.(*proto.DesktopConnectAskAuthReply)
	if !ok {
		d.metrics.RecordProxiedCall("mismatched")
		return nil, proto.NewError(proto.ErrMismatchedResponseMessage)
	}

	d.metrics.RecordProxiedCall("ok")
	return &proto.DesktopConnectOfferAuthReply{PasswordCorrect: askReply.PasswordCorrect}, nil
}

// proxyError surfaces the asked side's typed error verbatim; transport
// failures become Internal.
func (d *Dispatcher) proxyError(err error) *proto.Error {
	if perr, ok := err.(*proto.Error); ok {
		if perr.Code == proto.ErrCallTimeout {
			d.metrics.RecordProxiedCall("timeout")
		} else {
			d.metrics.RecordProxiedCall("error")
		}
		return perr
	}
	d.metrics.RecordProxiedCall("error")
	return proto.NewError(proto.ErrInternal)
}
