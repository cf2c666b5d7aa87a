package signal

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/waypost-dev/waypost/internal/logger"
	"github.com/waypost-dev/waypost/pkg/adapter"
	"github.com/waypost-dev/waypost/pkg/directory"
	wprom "github.com/waypost-dev/waypost/pkg/metrics/prometheus"
	"github.com/waypost-dev/waypost/pkg/registry"
	"github.com/waypost-dev/waypost/pkg/session"
)

// Config holds signal-adapter settings.
type Config struct {
	adapter.BaseConfig

	// CertFile and KeyFile are the PEM server certificate chain and
	// PKCS#8 private key for the control port.
	CertFile string
	KeyFile  string

	// HandshakeTimeout bounds the TLS handshake with a new endpoint.
	HandshakeTimeout time.Duration

	// CallTimeout is the deadline applied to proxied peer calls.
	CallTimeout time.Duration
}

// Adapter is the control-plane TCP adapter: it terminates TLS, wraps
// each connection in a control session and serves it through the
// dispatcher.
type Adapter struct {
	*adapter.BaseAdapter

	tlsConfig  *tls.Config
	dispatcher *Dispatcher
	config     Config
}

// New creates the signal adapter. The TLS keypair is loaded eagerly so
// a bad certificate fails startup, not the first connection.
func New(cfg Config, reg *registry.Registry, store directory.Store, metrics *wprom.SignalMetrics) (*Adapter, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load signal TLS keypair: %w", err)
	}

	return &Adapter{
		BaseAdapter: adapter.NewBaseAdapter(cfg.BaseConfig, "signal"),
		tlsConfig: &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		},
		dispatcher: NewDispatcher(reg, store, cfg.CallTimeout, metrics),
		config:     cfg,
	}, nil
}

// Serve runs the accept loop until ctx is cancelled.
func (a *Adapter) Serve(ctx context.Context) error {
	return a.ServeWithFactory(ctx, a)
}

// NewConnection implements adapter.ConnectionFactory: wrap the socket
// in TLS and hand it to a fresh control session.
func (a *Adapter) NewConnection(conn net.Conn) adapter.ConnectionHandler {
	tlsConn := tls.Server(conn, a.tlsConfig)

	timeout := a.config.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := tlsConn.SetDeadline(time.Now().Add(timeout)); err != nil {
		logger.Debug("failed to set handshake deadline", "error", err)
	}
	if err := tlsConn.Handshake(); err != nil {
		logger.Debug("TLS handshake failed", "address", conn.RemoteAddr().String(), "error", err)
		return nil
	}
	if err := tlsConn.SetDeadline(time.Time{}); err != nil {
		logger.Debug("failed to clear handshake deadline", "error", err)
	}

	return session.New(tlsConn, a.dispatcher, a.dispatcher.OnSessionClose)
}
