// Package session implements the per-connection state machine of the
// control protocol: a sink loop draining an outbound frame queue, a
// source loop decoding and routing inbound packets, a pending-call
// table correlating replies by call ID, and an idempotent shutdown that
// fans out to both loops and every in-flight caller.
package session

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/waypost-dev/waypost/internal/logger"
	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/wire"
)

const (
	// outboundDepth bounds the per-session write queue. A slow reader
	// eventually pushes back on senders through the enqueue deadline.
	outboundDepth = 32

	// enqueueTimeout is how long a sender may wait on a full outbound
	// queue before the send fails with Internal.
	enqueueTimeout = time.Second
)

// ErrShutdown is returned by sends and calls after the session has shut
// down.
var ErrShutdown = errors.New("session: shut down")

// Handler consumes the packets the source loop does not route itself.
// Implementations run on fresh goroutines; they may block and may call
// back into the session.
type Handler interface {
	// HandleRequest processes an inbound request and returns the reply
	// message or a typed error. A nil, nil return produces no reply.
	HandleRequest(ctx context.Context, s *Session, msg proto.Message) (proto.Message, *proto.Error)

	// HandleClientToClient processes an inbound client-to-client packet.
	HandleClientToClient(ctx context.Context, s *Session, pkt *proto.ClientToClientPacket)
}

type callResult struct {
	msg proto.Message
	err *proto.Error
}

// Session is one control connection. Created on accept, registered in
// the client registry once the registration handler assigns a device
// ID, and removed again on any loop exit.
type Session struct {
	conn    net.Conn
	fr      *wire.FrameReader
	fw      *wire.FrameWriter
	handler Handler

	outbound chan []byte

	pendingMu sync.Mutex
	pending   map[uint16]chan callResult
	nextCall  uint16

	deviceMu sync.Mutex
	deviceID string

	shutdownOnce sync.Once
	done         chan struct{}

	// onClose runs exactly once when the session shuts down, after the
	// pending calls have been failed. The registry hooks in here.
	onClose func(*Session)
}

// New wraps an accepted (and TLS-terminated) connection. The session is
// inert until Serve runs.
func New(conn net.Conn, handler Handler, onClose func(*Session)) *Session {
	return &Session{
		conn:     conn,
		fr:       wire.NewFrameReader(conn, wire.MaxControlFrame),
		fw:       wire.NewFrameWriter(conn, wire.MaxControlFrame),
		handler:  handler,
		outbound: make(chan []byte, outboundDepth),
		pending:  make(map[uint16]chan callResult),
		done:     make(chan struct{}),
		onClose:  onClose,
	}
}

// RemoteAddr returns the peer address.
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// DeviceID returns the registered device ID, empty while anonymous.
func (s *Session) DeviceID() string {
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()
	return s.deviceID
}

// SetDeviceID assigns the device ID at most once. Re-assignment returns
// a RepeatedRequest error, matching the registration contract.
func (s *Session) SetDeviceID(id string) error {
	s.deviceMu.Lock()
	defer s.deviceMu.Unlock()
	if s.deviceID != "" {
		return proto.NewError(proto.ErrRepeatedRequest)
	}
	s.deviceID = id
	return nil
}

// Done is closed when the session has shut down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Serve runs the session loops and blocks until the connection ends or
// ctx is cancelled. It satisfies the adapter's ConnectionHandler.
func (s *Session) Serve(ctx context.Context) {
	go s.sinkLoop()
	go func() {
		select {
		case <-ctx.Done():
			s.Shutdown()
		case <-s.done:
		}
	}()

	s.sourceLoop(ctx)
	s.Shutdown()
}

// Shutdown tears the session down: both loops stop, the connection is
// closed, every pending call fails with Internal and the close hook
// runs. Safe to call concurrently and repeatedly.
func (s *Session) Shutdown() {
	s.shutdownOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()

		s.pendingMu.Lock()
		for id, ch := range s.pending {
			delete(s.pending, id)
			select {
			case ch <- callResult{err: proto.NewError(proto.ErrInternal)}:
			default:
			}
		}
		s.pendingMu.Unlock()

		if s.onClose != nil {
			s.onClose(s)
		}
	})
}

// Send transmits msg as a fire-and-forget request (call ID 0).
func (s *Session) Send(msg proto.Message) error {
	return s.enqueue(proto.EncodePacket(&proto.RequestPacket{CallID: proto.NoCallID, Msg: msg}))
}

// SendPacket transmits an already-built packet. Used by the dispatcher
// to forward client-to-client traffic verbatim.
func (s *Session) SendPacket(p proto.Packet) error {
	return s.enqueue(proto.EncodePacket(p))
}

// Reply answers the peer's in-flight request identified by callID.
func (s *Session) Reply(callID uint16, msg proto.Message) error {
	return s.enqueue(proto.EncodePacket(&proto.ReplyPacket{CallID: callID, Msg: msg}))
}

// ReplyError answers the peer's in-flight request with a typed error.
func (s *Session) ReplyError(callID uint16, perr *proto.Error) error {
	return s.enqueue(proto.EncodePacket(&proto.ReplyPacket{CallID: callID, Err: perr}))
}

// Call sends msg as a correlated request and waits for the matching
// reply. It returns the peer's typed error verbatim, CallTimeout after
// the deadline, or Internal if the session shuts down first. The caller
// always owns slot removal: on timeout the slot is deleted here and a
// late reply is dropped silently by the source loop.
func (s *Session) Call(msg proto.Message, timeout time.Duration) (proto.Message, error) {
	callID, ch, err := s.reserveCall()
	if err != nil {
		return nil, err
	}

	if err := s.enqueue(proto.EncodePacket(&proto.RequestPacket{CallID: callID, Msg: msg})); err != nil {
		s.releaseCall(callID)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.msg, nil
	case <-timer.C:
		s.releaseCall(callID)
		return nil, proto.NewError(proto.ErrCallTimeout)
	case <-s.done:
		s.releaseCall(callID)
		return nil, proto.NewError(proto.ErrInternal)
	}
}

// reserveCall allocates the next free call ID, skipping 0 and any ID
// still in flight, and installs its reply slot.
func (s *Session) reserveCall() (uint16, chan callResult, error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()

	if len(s.pending) >= 0xFFFF {
		return 0, nil, proto.NewError(proto.ErrInternal)
	}

	for {
		s.nextCall++
		if s.nextCall == proto.NoCallID {
			s.nextCall++
		}
		if _, inFlight := s.pending[s.nextCall]; !inFlight {
			break
		}
	}

	ch := make(chan callResult, 1)
	s.pending[s.nextCall] = ch
	return s.nextCall, ch, nil
}

func (s *Session) releaseCall(callID uint16) {
	s.pendingMu.Lock()
	delete(s.pending, callID)
	s.pendingMu.Unlock()
}

// resolveCall removes the slot for callID and delivers the result.
// Returns false if no such call is pending (late or stray reply).
func (s *Session) resolveCall(callID uint16, res callResult) bool {
	s.pendingMu.Lock()
	ch, ok := s.pending[callID]
	if ok {
		delete(s.pending, callID)
	}
	s.pendingMu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}

// enqueue places an encoded frame on the outbound queue, waiting at
// most enqueueTimeout for space.
func (s *Session) enqueue(frame []byte) error {
	select {
	case <-s.done:
		return ErrShutdown
	default:
	}

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()

	select {
	case s.outbound <- frame:
		return nil
	case <-timer.C:
		return proto.NewError(proto.ErrInternal)
	case <-s.done:
		return ErrShutdown
	}
}

// sinkLoop is the sole writer on the connection: it drains the outbound
// queue in enqueue order until shutdown or a write failure.
func (s *Session) sinkLoop() {
	for {
		select {
		case frame := <-s.outbound:
			if err := s.fw.WriteFrame(frame); err != nil {
				logger.Debug("session write failed", "device_id", s.DeviceID(), "error", err)
				s.Shutdown()
				return
			}
		case <-s.done:
			return
		}
	}
}

// sourceLoop reads frames, decodes packets and routes them: replies to
// the pending-call table, everything else to the handler on a fresh
// goroutine so the loop never blocks on business logic.
func (s *Session) sourceLoop(ctx context.Context) {
	for {
		frame, err := s.fr.ReadFrame()
		if err != nil {
			var tooLarge *wire.ErrFrameTooLarge
			switch {
			case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
				errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe),
				isTransportFatal(err):
				return
			case errors.As(err, &tooLarge):
				// The stream cannot be resynchronized past an oversized frame.
				logger.Warn("oversized frame, closing session",
					"device_id", s.DeviceID(), "size", tooLarge.Size)
				return
			default:
				logger.Warn("session read failed", "device_id", s.DeviceID(), "error", err)
				continue
			}
		}

		pkt, err := proto.DecodePacket(frame)
		if err != nil {
			// One bad frame does not poison the connection.
			logger.Warn("dropping undecodable frame", "device_id", s.DeviceID(), "error", err)
			continue
		}

		switch p := pkt.(type) {
		case *proto.ReplyPacket:
			if p.CallID != proto.NoCallID {
				if !s.resolveCall(p.CallID, callResult{msg: p.Msg, err: p.Err}) {
					logger.Debug("dropping late reply", "device_id", s.DeviceID(), "call_id", p.CallID)
				}
			}
		case *proto.RequestPacket:
			go s.dispatchRequest(ctx, p)
		case *proto.ClientToClientPacket:
			go s.handler.HandleClientToClient(ctx, s, p)
		}
	}
}

func (s *Session) dispatchRequest(ctx context.Context, p *proto.RequestPacket) {
	reply, perr := s.handler.HandleRequest(ctx, s, p.Msg)

	if p.CallID == proto.NoCallID {
		return
	}
	if perr != nil {
		if err := s.ReplyError(p.CallID, perr); err != nil {
			logger.Debug("reply enqueue failed", "device_id", s.DeviceID(), "error", err)
		}
		return
	}
	if reply == nil {
		return
	}
	if err := s.Reply(p.CallID, reply); err != nil {
		logger.Debug("reply enqueue failed", "device_id", s.DeviceID(), "error", err)
	}
}

// isTransportFatal reports whether a read error means the connection
// itself is gone (reset, closed socket) rather than a bad frame. A
// partial header read cannot be resynchronized, so socket-level errors
// end the session.
func isTransportFatal(err error) bool {
	var ne *net.OpError
	return errors.As(err, &ne)
}
