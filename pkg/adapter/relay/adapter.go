// Package relay implements the relay-port adapter: it accepts plain
// TCP connections, reads a single framed endpoint handshake and hands
// the connection to the rendezvous matcher.
package relay

import (
	"context"
	"net"
	"time"

	"github.com/waypost-dev/waypost/internal/logger"
	"github.com/waypost-dev/waypost/pkg/adapter"
	"github.com/waypost-dev/waypost/pkg/proto"
	"github.com/waypost-dev/waypost/pkg/relay"
	"github.com/waypost-dev/waypost/pkg/wire"
)

// Config holds relay-adapter settings.
type Config struct {
	adapter.BaseConfig

	// HandshakeTimeout bounds the wait for the endpoint's handshake
	// frame.
	HandshakeTimeout time.Duration
}

// Adapter is the relay TCP adapter.
type Adapter struct {
	*adapter.BaseAdapter

	rendezvous *relay.Rendezvous
	config     Config
}

// New creates the relay adapter around an existing rendezvous matcher.
func New(cfg Config, rv *relay.Rendezvous) *Adapter {
	return &Adapter{
		BaseAdapter: adapter.NewBaseAdapter(cfg.BaseConfig, "relay"),
		rendezvous:  rv,
		config:      cfg,
	}
}

// Serve runs the accept loop until ctx is cancelled.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a)
}

// NewConnection implements adapter.ConnectionFactory.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	return &relayConn{conn: conn, adapter: a}
}

type relayConn struct {
	conn    net.Conn
	adapter *Adapter
}

// Serve reads the handshake and offers the connection to the
// rendezvous, then blocks until the rendezvous is done with it so the
// adapter's connection tracking stays accurate.
func (c *relayConn) Serve(ctx context.Context) {
	timeout := c.adapter.config.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		logger.Debug("failed to set relay handshake deadline", "error", err)
		return
	}

	fr := wire.NewFrameReader(c.conn, wire.MaxRelayFrame)
	frame, err := fr.ReadFrame()
	if err != nil {
		logger.Debug("relay handshake read failed",
			"address", c.conn.RemoteAddr().String(), "error", err)
		return
	}
	if err := c.conn.SetReadDeadline(time.Time{}); err != nil {
		logger.Debug("failed to clear relay handshake deadline", "error", err)
		return
	}

	req, err := proto.DecodeHandshakeRequest(frame)
	if err != nil {
		logger.Warn("malformed relay handshake",
			"address", c.conn.RemoteAddr().String(), "error", err)
		return
	}

	stream := relay.NewStream(c.conn, req.DeviceID)
	c.adapter.rendezvous.Offer(stream, req.VisitCredentials)

	select {
	case <-stream.Done():
	case <-ctx.Done():
		_ = c.conn.Close()
		<-stream.Done()
	}
}
