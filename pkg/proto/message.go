// Package proto defines the control-protocol packets and the closed
// message union exchanged between endpoints and the server, plus the
// relay handshake. Every type encodes itself with the pkg/wire compact
// codec; layouts are field-order sensitive and wire-stable.
package proto

import (
	"fmt"

	"github.com/waypost-dev/waypost/pkg/wire"
)

// MessageTag discriminates Message variants on the wire. The ordinals
// are fixed; request and reply types pair up adjacently.
type MessageTag uint32

const (
	TagHeartBeatRequest MessageTag = iota
	TagHeartBeatReply
	TagRegisterDeviceIDRequest
	TagRegisterDeviceIDReply
	TagDesktopConnectOfferRequest
	TagDesktopConnectOfferReply
	TagDesktopConnectAskRequest
	TagDesktopConnectAskReply
	TagDesktopConnectOfferAuthRequest
	TagDesktopConnectOfferAuthReply
	TagDesktopConnectAskAuthRequest
	TagDesktopConnectAskAuthReply
)

// Message is the closed union of control messages. Only the types in
// this package implement it.
type Message interface {
	Tag() MessageTag
	encode(e *wire.Encoder)
	decode(d *wire.Decoder) error
}

// HeartBeatRequest keeps a registered session alive.
type HeartBeatRequest struct {
	Timestamp int64
}

// HeartBeatReply echoes the server's current time.
type HeartBeatReply struct {
	Timestamp int64
}

// RegisterDeviceIDRequest registers the session in the device
// directory. A nil DeviceID asks the server to allocate a fresh one;
// a non-nil DeviceID asks for renewal of an existing registration.
type RegisterDeviceIDRequest struct {
	DeviceID *string
}

// RegisterDeviceIDReply confirms registration with the (possibly newly
// allocated) device ID and its directory expiry, unix seconds.
type RegisterDeviceIDReply struct {
	DeviceID  string
	ExpiresAt int64
}

// DesktopConnectOfferRequest asks the server to forward a connection
// offer from the offer device to the ask device.
type DesktopConnectOfferRequest struct {
	OfferDeviceID string
	AskDeviceID   string
}

// DesktopConnectOfferReply carries the asked endpoint's decision back
// to the offerer. N and E are the asked endpoint's RSA public key
// components, opaque to the server.
type DesktopConnectOfferReply struct {
	Agree bool
	N     []byte
	E     []byte
}

// DesktopConnectAskRequest is the server-to-endpoint form of an offer,
// delivered to the asked device.
type DesktopConnectAskRequest struct {
	OfferDeviceID string
}

// DesktopConnectAskReply is the asked endpoint's decision.
type DesktopConnectAskReply struct {
	Agree bool
	N     []byte
	E     []byte
}

// DesktopConnectOfferAuthRequest forwards an authentication secret to
// the ask device. SecretMessage is opaque to the server.
type DesktopConnectOfferAuthRequest struct {
	OfferDeviceID string
	AskDeviceID   string
	SecretMessage []byte
}

// DesktopConnectOfferAuthReply reports whether the secret was accepted.
type DesktopConnectOfferAuthReply struct {
	PasswordCorrect bool
}

// DesktopConnectAskAuthRequest is the server-to-endpoint form of an
// auth attempt, delivered to the asked device.
type DesktopConnectAskAuthRequest struct {
	OfferDeviceID string
	SecretMessage []byte
}

// DesktopConnectAskAuthReply is the asked endpoint's verdict on the
// secret.
type DesktopConnectAskAuthReply struct {
	PasswordCorrect bool
}

func (*HeartBeatRequest) Tag() MessageTag                { return TagHeartBeatRequest }
func (*HeartBeatReply) Tag() MessageTag                  { return TagHeartBeatReply }
func (*RegisterDeviceIDRequest) Tag() MessageTag         { return TagRegisterDeviceIDRequest }
func (*RegisterDeviceIDReply) Tag() MessageTag           { return TagRegisterDeviceIDReply }
func (*DesktopConnectOfferRequest) Tag() MessageTag      { return TagDesktopConnectOfferRequest }
func (*DesktopConnectOfferReply) Tag() MessageTag        { return TagDesktopConnectOfferReply }
func (*DesktopConnectAskRequest) Tag() MessageTag        { return TagDesktopConnectAskRequest }
func (*DesktopConnectAskReply) Tag() MessageTag          { return TagDesktopConnectAskReply }
func (*DesktopConnectOfferAuthRequest) Tag() MessageTag  { return TagDesktopConnectOfferAuthRequest }
func (*DesktopConnectOfferAuthReply) Tag() MessageTag    { return TagDesktopConnectOfferAuthReply }
func (*DesktopConnectAskAuthRequest) Tag() MessageTag    { return TagDesktopConnectAskAuthRequest }
func (*DesktopConnectAskAuthReply) Tag() MessageTag      { return TagDesktopConnectAskAuthReply }

func (m *HeartBeatRequest) encode(e *wire.Encoder) { e.Int(m.Timestamp) }
func (m *HeartBeatRequest) decode(d *wire.Decoder) error {
	var err error
	m.Timestamp, err = d.Int()
	return err
}

func (m *HeartBeatReply) encode(e *wire.Encoder) { e.Int(m.Timestamp) }
func (m *HeartBeatReply) decode(d *wire.Decoder) error {
	var err error
	m.Timestamp, err = d.Int()
	return err
}

func (m *RegisterDeviceIDRequest) encode(e *wire.Encoder) {
	e.Option(m.DeviceID != nil)
	if m.DeviceID != nil {
		e.String(*m.DeviceID)
	}
}

func (m *RegisterDeviceIDRequest) decode(d *wire.Decoder) error {
	present, err := d.Option()
	if err != nil {
		return err
	}
	if !present {
		m.DeviceID = nil
		return nil
	}
	id, err := d.String()
	if err != nil {
		return err
	}
	m.DeviceID = &id
	return nil
}

func (m *RegisterDeviceIDReply) encode(e *wire.Encoder) {
	e.String(m.DeviceID)
	e.Int(m.ExpiresAt)
}

func (m *RegisterDeviceIDReply) decode(d *wire.Decoder) error {
	var err error
	if m.DeviceID, err = d.String(); err != nil {
		return err
	}
	m.ExpiresAt, err = d.Int()
	return err
}

func (m *DesktopConnectOfferRequest) encode(e *wire.Encoder) {
	e.String(m.OfferDeviceID)
	e.String(m.AskDeviceID)
}

func (m *DesktopConnectOfferRequest) decode(d *wire.Decoder) error {
	var err error
	if m.OfferDeviceID, err = d.String(); err != nil {
		return err
	}
	m.AskDeviceID, err = d.String()
	return err
}

func (m *DesktopConnectOfferReply) encode(e *wire.Encoder) {
	e.Bool(m.Agree)
	e.Blob(m.N)
	e.Blob(m.E)
}

func (m *DesktopConnectOfferReply) decode(d *wire.Decoder) error {
	var err error
	if m.Agree, err = d.Bool(); err != nil {
		return err
	}
	if m.N, err = d.Blob(); err != nil {
		return err
	}
	m.E, err = d.Blob()
	return err
}

func (m *DesktopConnectAskRequest) encode(e *wire.Encoder) {
	e.String(m.OfferDeviceID)
}

func (m *DesktopConnectAskRequest) decode(d *wire.Decoder) error {
	var err error
	m.OfferDeviceID, err = d.String()
	return err
}

func (m *DesktopConnectAskReply) encode(e *wire.Encoder) {
	e.Bool(m.Agree)
	e.Blob(m.N)
	e.Blob(m.E)
}

func (m *DesktopConnectAskReply) decode(d *wire.Decoder) error {
	var err error
	if m.Agree, err = d.Bool(); err != nil {
		return err
	}
	if m.N, err = d.Blob(); err != nil {
		return err
	}
	m.E, err = d.Blob()
	return err
}

func (m *DesktopConnectOfferAuthRequest) encode(e *wire.Encoder) {
	e.String(m.OfferDeviceID)
	e.String(m.AskDeviceID)
	e.Blob(m.SecretMessage)
}

func (m *DesktopConnectOfferAuthRequest) decode(d *wire.Decoder) error {
	var err error
	if m.OfferDeviceID, err = d.String(); err != nil {
		return err
	}
	if m.AskDeviceID, err = d.String(); err != nil {
		return err
	}
	m.SecretMessage, err = d.Blob()
	return err
}

func (m *DesktopConnectOfferAuthReply) encode(e *wire.Encoder) {
	e.Bool(m.PasswordCorrect)
}

func (m *DesktopConnectOfferAuthReply) decode(d *wire.Decoder) error {
	var err error
	m.PasswordCorrect, err = d.Bool()
	return err
}

func (m *DesktopConnectAskAuthRequest) encode(e *wire.Encoder) {
	e.String(m.OfferDeviceID)
	e.Blob(m.SecretMessage)
}

func (m *DesktopConnectAskAuthRequest) decode(d *wire.Decoder) error {
	var err error
	if m.OfferDeviceID, err = d.String(); err != nil {
		return err
	}
	m.SecretMessage, err = d.Blob()
	return err
}

func (m *DesktopConnectAskAuthReply) encode(e *wire.Encoder) {
	e.Bool(m.PasswordCorrect)
}

func (m *DesktopConnectAskAuthReply) decode(d *wire.Decoder) error {
	var err error
	m.PasswordCorrect, err = d.Bool()
	return err
}

// newMessage returns a zero value for the variant identified by tag.
func newMessage(tag MessageTag) (Message, error) {
	switch tag {
	case TagHeartBeatRequest:
		return &HeartBeatRequest{}, nil
	case TagHeartBeatReply:
		return &HeartBeatReply{}, nil
	case TagRegisterDeviceIDRequest:
		return &RegisterDeviceIDRequest{}, nil
	case TagRegisterDeviceIDReply:
		return &RegisterDeviceIDReply{}, nil
	case TagDesktopConnectOfferRequest:
		return &DesktopConnectOfferRequest{}, nil
	case TagDesktopConnectOfferReply:
		return &DesktopConnectOfferReply{}, nil
	case TagDesktopConnectAskRequest:
		return &DesktopConnectAskRequest{}, nil
	case TagDesktopConnectAskReply:
		return &DesktopConnectAskReply{}, nil
	case TagDesktopConnectOfferAuthRequest:
		return &DesktopConnectOfferAuthRequest{}, nil
	case TagDesktopConnectOfferAuthReply:
		return &DesktopConnectOfferAuthReply{}, nil
	case TagDesktopConnectAskAuthRequest:
		return &DesktopConnectAskAuthRequest{}, nil
	case TagDesktopConnectAskAuthReply:
		return &DesktopConnectAskAuthReply{}, nil
	default:
		return nil, fmt.Errorf("proto: unknown message tag %d", tag)
	}
}

func encodeMessage(e *wire.Encoder, m Message) {
	e.Tag(uint32(m.Tag()))
	m.encode(e)
}

func decodeMessage(d *wire.Decoder) (Message, error) {
	tag, err := d.Tag()
	if err != nil {
		return nil, err
	}
	m, err := newMessage(MessageTag(tag))
	if err != nil {
		return nil, err
	}
	if err := m.decode(d); err != nil {
		return nil, err
	}
	return m, nil
}
