package proto

import (
	"fmt"
	"math"

	"github.com/waypost-dev/waypost/pkg/wire"
)

// Packet variants. Call IDs are 16-bit; call ID 0 means fire-and-forget
// (no reply is expected or routed).
const (
	packetTagRequest uint32 = iota
	packetTagReply
	packetTagClientToClient
)

// Reply result discriminant: Ok carries a Message, Err an ErrorCode.
const (
	replyTagOk uint32 = iota
	replyTagErr
)

// NoCallID is the reserved correlation ID for fire-and-forget sends.
const NoCallID uint16 = 0

// Packet is the closed union of control-connection envelopes.
type Packet interface {
	encode(e *wire.Encoder)
}

// RequestPacket carries a request message with a correlation ID.
type RequestPacket struct {
	CallID uint16
	Msg    Message
}

// ReplyPacket answers a request. Exactly one of Msg and Err is set.
type ReplyPacket struct {
	CallID uint16
	Msg    Message
	Err    *Error
}

// ClientToClientPacket is an opaque blob routed between two registered
// sessions. The server forwards it verbatim; IsSecure is carried but
// never interpreted here.
type ClientToClientPacket struct {
	CallID       uint16
	FromDeviceID string
	ToDeviceID   string
	IsSecure     bool
	Payload      []byte
}

func (p *RequestPacket) encode(e *wire.Encoder) {
	e.Tag(packetTagRequest)
	e.Uint(uint64(p.CallID))
	encodeMessage(e, p.Msg)
}

func (p *ReplyPacket) encode(e *wire.Encoder) {
	e.Tag(packetTagReply)
	e.Uint(uint64(p.CallID))
	if p.Err != nil {
		e.Tag(replyTagErr)
		e.Tag(uint32(p.Err.Code))
		return
	}
	e.Tag(replyTagOk)
	encodeMessage(e, p.Msg)
}

func (p *ClientToClientPacket) encode(e *wire.Encoder) {
	e.Tag(packetTagClientToClient)
	e.Uint(uint64(p.CallID))
	e.String(p.FromDeviceID)
	e.String(p.ToDeviceID)
	e.Bool(p.IsSecure)
	e.Blob(p.Payload)
}

// EncodePacket serializes p into a frame payload.
func EncodePacket(p Packet) []byte {
	e := wire.NewEncoder()
	p.encode(e)
	return e.Bytes()
}

// DecodePacket parses a frame payload into a packet.
func DecodePacket(payload []byte) (Packet, error) {
	d := wire.NewDecoder(payload)
	tag, err := d.Tag()
	if err != nil {
		return nil, err
	}

	callID, err := d.Uint()
	if err != nil {
		return nil, err
	}
	if callID > math.MaxUint16 {
		return nil, fmt.Errorf("proto: call id %d out of range", callID)
	}

	switch tag {
	case packetTagRequest:
		msg, err := decodeMessage(d)
		if err != nil {
			return nil, err
		}
		return &RequestPacket{CallID: uint16(callID), Msg: msg}, nil

	case packetTagReply:
		result, err := d.Tag()
		if err != nil {
			return nil, err
		}
		switch result {
		case replyTagOk:
			msg, err := decodeMessage(d)
			if err != nil {
				return nil, err
			}
			return &ReplyPacket{CallID: uint16(callID), Msg: msg}, nil
		case replyTagErr:
			code, err := d.Tag()
			if err != nil {
				return nil, err
			}
			if code >= uint32(errorCodeCount) {
				return nil, fmt.Errorf("proto: unknown error tag %d", code)
			}
			return &ReplyPacket{CallID: uint16(callID), Err: NewError(ErrorCode(code))}, nil
		default:
			return nil, fmt.Errorf("proto: unknown reply result tag %d", result)
		}

	case packetTagClientToClient:
		p := &ClientToClientPacket{CallID: uint16(callID)}
		if p.FromDeviceID, err = d.String(); err != nil {
			return nil, err
		}
		if p.ToDeviceID, err = d.String(); err != nil {
			return nil, err
		}
		if p.IsSecure, err = d.Bool(); err != nil {
			return nil, err
		}
		if p.Payload, err = d.Blob(); err != nil {
			return nil, err
		}
		return p, nil

	default:
		return nil, fmt.Errorf("proto: unknown packet tag %d", tag)
	}
}
