package signal_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost-dev/waypost/pkg/adapter/signal"
	"github.com/waypost-dev/waypost/pkg/directory"
	"github.com/waypost-dev/waypost/pkg/directory/memory"
	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/registry"
	"github.com/waypost-dev/waypost/pkg/session"
	"github.com/waypost-dev/waypost/pkg/wire"
)

// newDispatcher builds a dispatcher over a fresh registry and memory
// directory.
func newDispatcher(t *testing.T) (*signal.Dispatcher, *registry.Registry, *memory.DirectoryStore) {
	t.Helper()
	reg := registry.New()
	store := memory.New()
	d := signal.NewDispatcher(reg, store, time.Second, nil)
	return d, reg, store
}

// newIdleSession returns a session that is never served. Good enough
// for handlers that only touch session state.
func newIdleSession(t *testing.T, d *signal.Dispatcher) *session.Session {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() {
		_ = server.Close()
		_ = client.Close()
	})
	return session.New(server, d, d.OnSessionClose)
}

// newServedSession returns a session with running loops plus the peer
// conn driving it.
func newServedSession(t *testing.T, d *signal.Dispatcher) (*session.Session, net.Conn) {
	t.Helper()
	server, client := net.Pipe()

	s := session.New(server, d, d.OnSessionClose)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Serve(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		_ = client.Close()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Error("session did not stop")
		}
	})
	return s, client
}

func TestHeartBeat(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)

	before := time.Now().Unix()
	reply, perr := d.HandleRequest(context.Background(), s, &proto.HeartBeatRequest{Timestamp: 123})
	require.Nil(t, perr)

	hb, ok := reply.(*proto.HeartBeatReply)
	require.True(t, ok)
	assert.GreaterOrEqual(t, hb.Timestamp, before)
	assert.LessOrEqual(t, hb.Timestamp, time.Now().Unix())
}

func TestHeartBeatAllowedWhileAnonymous(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)
	require.Empty(t, s.DeviceID())

	_, perr := d.HandleRequest(context.Background(), s, &proto.HeartBeatRequest{})
	assert.Nil(t, perr)
}

func TestRegisterAllocates(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	s := newIdleSession(t, d)

	reply, perr := d.HandleRequest(context.Background(), s, &proto.RegisterDeviceIDRequest{})
	require.Nil(t, perr)

	r, ok := reply.(*proto.RegisterDeviceIDReply)
	require.True(t, ok)
	assert.True(t, directory.ValidDeviceID(r.DeviceID))
	assert.Greater(t, r.ExpiresAt, time.Now().Unix())

	assert.Equal(t, r.DeviceID, s.DeviceID())
	assert.Same(t, s, reg.Get(r.DeviceID))
}

func TestRegisterRenewsLiveID(t *testing.T) {
	d, reg, store := newDispatcher(t)
	s := newIdleSession(t, d)

	_, ok, err := store.Allocate(context.Background(), "QK3MV8ZP")
	require.NoError(t, err)
	require.True(t, ok)

	id := "QK3MV8ZP"
	reply, perr := d.HandleRequest(context.Background(), s, &proto.RegisterDeviceIDRequest{DeviceID: &id})
	require.Nil(t, perr)

	r := reply.(*proto.RegisterDeviceIDReply)
	assert.Equal(t, "QK3MV8ZP", r.DeviceID)
	assert.Same(t, s, reg.Get("QK3MV8ZP"))
}

func TestRegisterUnknownIDFallsBackToAllocation(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)

	id := "QK3MV8ZP"
	reply, perr := d.HandleRequest(context.Background(), s, &proto.RegisterDeviceIDRequest{DeviceID: &id})
	require.Nil(t, perr)

	r := reply.(*proto.RegisterDeviceIDReply)
	assert.True(t, directory.ValidDeviceID(r.DeviceID))
}

func TestRegisterTwiceSameSession(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)

	_, perr := d.HandleRequest(context.Background(), s, &proto.RegisterDeviceIDRequest{})
	require.Nil(t, perr)

	_, perr = d.HandleRequest(context.Background(), s, &proto.RegisterDeviceIDRequest{})
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrRepeatedRequest, perr.Code)
}

// flakyStore fails every store operation.
type flakyStore struct {
	allocateCalls int
}

func (f *flakyStore) Renew(ctx context.Context, id string) (time.Time, bool, error) {
	return time.Time{}, false, errors.New("store down")
}

func (f *flakyStore) Allocate(ctx context.Context, id string) (time.Time, bool, error) {
	f.allocateCalls++
	return time.Time{}, false, errors.New("store down")
}

func (f *flakyStore) Close() error { return nil }

func TestRegisterFailsAfterConsecutiveStoreErrors(t *testing.T) {
	store := &flakyStore{}
	d := signal.NewDispatcher(registry.New(), store, time.Second, nil)
	s := newIdleSession(t, d)

	_, perr := d.HandleRequest(context.Background(), s, &proto.RegisterDeviceIDRequest{})
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrInternal, perr.Code)
	assert.Equal(t, 10, store.allocateCalls)
	assert.Empty(t, s.DeviceID())
}

func TestOfferRequiresRegistration(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)

	_, perr := d.HandleRequest(context.Background(), s, &proto.DesktopConnectOfferRequest{
		OfferDeviceID: "QK3MV8ZP",
		AskDeviceID:   "WX4TB7NM",
	})
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrInternal, perr.Code)
}

func TestOfferToOfflinePeer(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)
	require.NoError(t, s.SetDeviceID("QK3MV8ZP"))

	_, perr := d.HandleRequest(context.Background(), s, &proto.DesktopConnectOfferRequest{
		OfferDeviceID: "QK3MV8ZP",
		AskDeviceID:   "WX4TB7NM",
	})
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrRemoteClientOfflineOrNotExist, perr.Code)
}

// answerCall reads one request frame from conn and answers it with
// reply.
func answerCall(t *testing.T, conn net.Conn, reply func(req *proto.RequestPacket) proto.Packet) {
	t.Helper()
	fr := wire.NewFrameReader(conn, wire.MaxControlFrame)
	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	pkt, err := proto.DecodePacket(frame)
	require.NoError(t, err)
	req, ok := pkt.(*proto.RequestPacket)
	require.True(t, ok)

	fw := wire.NewFrameWriter(conn, wire.MaxControlFrame)
	require.NoError(t, fw.WriteFrame(proto.EncodePacket(reply(req))))
}

func TestOfferProxiedToAskSession(t *testing.T) {
	d, reg, _ := newDispatcher(t)

	offerSession := newIdleSession(t, d)
	require.NoError(t, offerSession.SetDeviceID("QK3MV8ZP"))

	askSession, askPeer := newServedSession(t, d)
	require.NoError(t, askSession.SetDeviceID("WX4TB7NM"))
	reg.Insert("WX4TB7NM", askSession)

	go answerCall(t, askPeer, func(req *proto.RequestPacket) proto.Packet {
		ask, ok := req.Msg.(*proto.DesktopConnectAskRequest)
		require.True(t, ok)
		assert.Equal(t, "QK3MV8ZP", ask.OfferDeviceID)
		return &proto.ReplyPacket{
			CallID: req.CallID,
			Msg:    &proto.DesktopConnectAskReply{Agree: true, N: []byte{1}, E: []byte{2}},
		}
	})

	reply, perr := d.HandleRequest(context.Background(), offerSession, &proto.DesktopConnectOfferRequest{
		OfferDeviceID: "QK3MV8ZP",
		AskDeviceID:   "WX4TB7NM",
	})
	require.Nil(t, perr)

	offer, ok := reply.(*proto.DesktopConnectOfferReply)
	require.True(t, ok)
	assert.True(t, offer.Agree)
	assert.Equal(t, []byte{1}, offer.N)
	assert.Equal(t, []byte{2}, offer.E)
}

func TestOfferAuthProxiedToAskSession(t *testing.T) {
	d, reg, _ := newDispatcher(t)

	offerSession := newIdleSession(t, d)
	require.NoError(t, offerSession.SetDeviceID("QK3MV8ZP"))

	askSession, askPeer := newServedSession(t, d)
	require.NoError(t, askSession.SetDeviceID("WX4TB7NM"))
	reg.Insert("WX4TB7NM", askSession)

	go answerCall(t, askPeer, func(req *proto.RequestPacket) proto.Packet {
		auth, ok := req.Msg.(*proto.DesktopConnectAskAuthRequest)
		require.True(t, ok)
		assert.Equal(t, []byte("secret"), auth.SecretMessage)
		return &proto.ReplyPacket{
			CallID: req.CallID,
			Msg:    &proto.DesktopConnectAskAuthReply{PasswordCorrect: true},
		}
	})

	reply, perr := d.HandleRequest(context.Background(), offerSession, &proto.DesktopConnectOfferAuthRequest{
		OfferDeviceID: "QK3MV8ZP",
		AskDeviceID:   "WX4TB7NM",
		SecretMessage: []byte("secret"),
	})
	require.Nil(t, perr)

	auth := reply.(*proto.DesktopConnectOfferAuthReply)
	assert.True(t, auth.PasswordCorrect)
}

func TestOfferPeerErrorPassedThrough(t *testing.T) {
	d, reg, _ := newDispatcher(t)

	offerSession := newIdleSession(t, d)
	require.NoError(t, offerSession.SetDeviceID("QK3MV8ZP"))

	askSession, askPeer := newServedSession(t, d)
	require.NoError(t, askSession.SetDeviceID("WX4TB7NM"))
	reg.Insert("WX4TB7NM", askSession)

	go answerCall(t, askPeer, func(req *proto.RequestPacket) proto.Packet {
		return &proto.ReplyPacket{CallID: req.CallID, Err: proto.NewError(proto.ErrInvalidArguments)}
	})

	_, perr := d.HandleRequest(context.Background(), offerSession, &proto.DesktopConnectOfferRequest{
		OfferDeviceID: "QK3MV8ZP",
		AskDeviceID:   "WX4TB7NM",
	})
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrInvalidArguments, perr.Code)
}

func TestOfferMismatchedReply(t *testing.T) {
	d, reg, _ := newDispatcher(t)

	offerSession := newIdleSession(t, d)
	require.NoError(t, offerSession.SetDeviceID("QK3MV8ZP"))

	askSession, askPeer := newServedSession(t, d)
	require.NoError(t, askSession.SetDeviceID("WX4TB7NM"))
	reg.Insert("WX4TB7NM", askSession)

	go answerCall(t, askPeer, func(req *proto.RequestPacket) proto.Packet {
		// Wrong variant for an ask call.
		return &proto.ReplyPacket{CallID: req.CallID, Msg: &proto.HeartBeatReply{Timestamp: 1}}
	})

	_, perr := d.HandleRequest(context.Background(), offerSession, &proto.DesktopConnectOfferRequest{
		OfferDeviceID: "QK3MV8ZP",
		AskDeviceID:   "WX4TB7NM",
	})
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrMismatchedResponseMessage, perr.Code)
}

func TestUnhandledMessageRejected(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)

	_, perr := d.HandleRequest(context.Background(), s, &proto.DesktopConnectAskRequest{OfferDeviceID: "QK3MV8ZP"})
	require.NotNil(t, perr)
	assert.Equal(t, proto.ErrInvalidArguments, perr.Code)
}

func TestClientToClientForwarded(t *testing.T) {
	d, reg, _ := newDispatcher(t)

	fromSession := newIdleSession(t, d)
	require.NoError(t, fromSession.SetDeviceID("QK3MV8ZP"))

	toSession, toPeer := newServedSession(t, d)
	require.NoError(t, toSession.SetDeviceID("WX4TB7NM"))
	reg.Insert("WX4TB7NM", toSession)

	pkt := &proto.ClientToClientPacket{
		CallID:       5,
		FromDeviceID: "QK3MV8ZP",
		ToDeviceID:   "WX4TB7NM",
		IsSecure:     true,
		Payload:      []byte("opaque"),
	}
	go d.HandleClientToClient(context.Background(), fromSession, pkt)

	fr := wire.NewFrameReader(toPeer, wire.MaxControlFrame)
	frame, err := fr.ReadFrame()
	require.NoError(t, err)
	decoded, err := proto.DecodePacket(frame)
	require.NoError(t, err)

	forwarded, ok := decoded.(*proto.ClientToClientPacket)
	require.True(t, ok)
	assert.Equal(t, pkt.FromDeviceID, forwarded.FromDeviceID)
	assert.True(t, forwarded.IsSecure)
	assert.Equal(t, pkt.Payload, forwarded.Payload)
}

func TestClientToClientUnknownTargetDropped(t *testing.T) {
	d, _, _ := newDispatcher(t)
	s := newIdleSession(t, d)

	// Must not panic or block.
	d.HandleClientToClient(context.Background(), s, &proto.ClientToClientPacket{
		FromDeviceID: "QK3MV8ZP",
		ToDeviceID:   "WX4TB7NM",
	})
}

func TestOnSessionCloseRemovesRegistration(t *testing.T) {
	d, reg, _ := newDispatcher(t)
	s := newIdleSession(t, d)
	require.NoError(t, s.SetDeviceID("QK3MV8ZP"))
	reg.Insert("QK3MV8ZP", s)

	d.OnSessionClose(s)
	assert.Nil(t, reg.Get("QK3MV8ZP"))

	// Anonymous sessions close without touching the registry.
	anon := newIdleSession(t, d)
	d.OnSessionClose(anon)
}
