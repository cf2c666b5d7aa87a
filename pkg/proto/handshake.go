package proto

import "github.com/waypost-dev/waypost/pkg/wire"

// EndpointHandshakeRequest is the single frame an endpoint sends on the
// relay port. VisitCredentials is the opaque rendezvous token produced
// out-of-band by the signaling exchange; two endpoints presenting the
// same token are paired.
type EndpointHandshakeRequest struct {
	VisitCredentials []byte
	DeviceID         int64
}

// EndpointHandshakeResponse identifies the peer the endpoint was paired
// with. After this frame the connection degrades to a raw bytestream.
type EndpointHandshakeResponse struct {
	RemoteDeviceID int64
}

// EncodeHandshakeRequest serializes the relay handshake request.
func EncodeHandshakeRequest(req *EndpointHandshakeRequest) []byte {
	e := wire.NewEncoder()
	e.Blob(req.VisitCredentials)
	e.Int(req.DeviceID)
	return e.Bytes()
}

// DecodeHandshakeRequest parses the relay handshake request.
func DecodeHandshakeRequest(payload []byte) (*EndpointHandshakeRequest, error) {
	d := wire.NewDecoder(payload)
	req := &EndpointHandshakeRequest{}
	var err error
	if req.VisitCredentials, err = d.Blob(); err != nil {
		return nil, err
	}
	if req.DeviceID, err = d.Int(); err != nil {
		return nil, err
	}
	return req, nil
}

// EncodeHandshakeResponse serializes the relay handshake response.
func EncodeHandshakeResponse(resp *EndpointHandshakeResponse) []byte {
	e := wire.NewEncoder()
	e.Int(resp.RemoteDeviceID)
	return e.Bytes()
}

// DecodeHandshakeResponse parses the relay handshake response.
func DecodeHandshakeResponse(payload []byte) (*EndpointHandshakeResponse, error) {
	d := wire.NewDecoder(payload)
	resp := &EndpointHandshakeResponse{}
	var err error
	if resp.RemoteDeviceID, err = d.Int(); err != nil {
		return nil, err
	}
	return resp, nil
}
