package proto_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/wire"
)

func TestRequestPacketRoundTrip(t *testing.T) {
	id := "QK3MV8ZP"
	in := &proto.RequestPacket{
		CallID: 300,
		Msg:    &proto.RegisterDeviceIDRequest{DeviceID: &id},
	}

	out, err := proto.DecodePacket(proto.EncodePacket(in))
	require.NoError(t, err)

	req, ok := out.(*proto.RequestPacket)
	require.True(t, ok)
	assert.Equal(t, uint16(300), req.CallID)

	msg, ok := req.Msg.(*proto.RegisterDeviceIDRequest)
	require.True(t, ok)
	require.NotNil(t, msg.DeviceID)
	assert.Equal(t, id, *msg.DeviceID)
}

func TestRequestPacketAllocation(t *testing.T) {
	in := &proto.RequestPacket{
		CallID: 1,
		Msg:    &proto.RegisterDeviceIDRequest{},
	}

	out, err := proto.DecodePacket(proto.EncodePacket(in))
	require.NoError(t, err)

	msg := out.(*proto.RequestPacket).Msg.(*proto.RegisterDeviceIDRequest)
	assert.Nil(t, msg.DeviceID)
}

func TestReplyPacketOk(t *testing.T) {
	in := &proto.ReplyPacket{
		CallID: 7,
		Msg: &proto.DesktopConnectOfferReply{
			Agree: true,
			N:     []byte{0x01, 0x02},
			E:     []byte{0x01, 0x00, 0x01},
		},
	}

	out, err := proto.DecodePacket(proto.EncodePacket(in))
	require.NoError(t, err)

	reply, ok := out.(*proto.ReplyPacket)
	require.True(t, ok)
	require.Nil(t, reply.Err)
	assert.Equal(t, uint16(7), reply.CallID)

	msg := reply.Msg.(*proto.DesktopConnectOfferReply)
	assert.True(t, msg.Agree)
	assert.Equal(t, []byte{0x01, 0x02}, msg.N)
	assert.Equal(t, []byte{0x01, 0x00, 0x01}, msg.E)
}

func TestReplyPacketErr(t *testing.T) {
	in := &proto.ReplyPacket{
		CallID: 9,
		Err:    proto.NewError(proto.ErrRemoteClientOfflineOrNotExist),
	}

	out, err := proto.DecodePacket(proto.EncodePacket(in))
	require.NoError(t, err)

	reply := out.(*proto.ReplyPacket)
	require.NotNil(t, reply.Err)
	assert.Nil(t, reply.Msg)
	assert.Equal(t, proto.ErrRemoteClientOfflineOrNotExist, reply.Err.Code)
}

func TestClientToClientRoundTrip(t *testing.T) {
	in := &proto.ClientToClientPacket{
		CallID:       42,
		FromDeviceID: "QK3MV8ZP",
		ToDeviceID:   "WX4TB7NM",
		IsSecure:     true,
		Payload:      []byte("opaque payload"),
	}

	out, err := proto.DecodePacket(proto.EncodePacket(in))
	require.NoError(t, err)

	c2c, ok := out.(*proto.ClientToClientPacket)
	require.True(t, ok)
	assert.Equal(t, in.CallID, c2c.CallID)
	assert.Equal(t, in.FromDeviceID, c2c.FromDeviceID)
	assert.Equal(t, in.ToDeviceID, c2c.ToDeviceID)
	assert.True(t, c2c.IsSecure)
	assert.Equal(t, in.Payload, c2c.Payload)
}

func TestDecodeUnknownPacketTag(t *testing.T) {
	e := wire.NewEncoder()
	e.Tag(99)
	e.Uint(1)

	_, err := proto.DecodePacket(e.Bytes())
	assert.Error(t, err)
}

func TestDecodeUnknownMessageTag(t *testing.T) {
	e := wire.NewEncoder()
	e.Tag(0) // request packet
	e.Uint(1)
	e.Tag(200) // no such message variant

	_, err := proto.DecodePacket(e.Bytes())
	assert.Error(t, err)
}

func TestDecodeUnknownErrorTag(t *testing.T) {
	e := wire.NewEncoder()
	e.Tag(1) // reply packet
	e.Uint(1)
	e.Tag(1)   // err result
	e.Tag(200) // no such error code

	_, err := proto.DecodePacket(e.Bytes())
	assert.Error(t, err)
}

func TestDecodeCallIDOutOfRange(t *testing.T) {
	e := wire.NewEncoder()
	e.Tag(0)
	e.Uint(0x10000) // beyond 16 bits

	_, err := proto.DecodePacket(e.Bytes())
	assert.Error(t, err)
}

func TestDecodeTruncatedPacket(t *testing.T) {
	in := &proto.RequestPacket{
		CallID: 5,
		Msg:    &proto.DesktopConnectOfferRequest{OfferDeviceID: "QK3MV8ZP", AskDeviceID: "WX4TB7NM"},
	}
	payload := proto.EncodePacket(in)

	_, err := proto.DecodePacket(payload[:len(payload)-3])
	assert.Error(t, err)
}

func TestErrorHelpers(t *testing.T) {
	err := proto.NewError(proto.ErrCallTimeout)
	assert.Equal(t, "CallTimeout", err.Error())
	assert.True(t, proto.IsError(err, proto.ErrCallTimeout))
	assert.False(t, proto.IsError(err, proto.ErrInternal))
	assert.False(t, proto.IsError(nil, proto.ErrInternal))
}
