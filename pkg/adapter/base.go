// Package adapter provides shared TCP listener lifecycle management
// for waypost's protocol adapters (signal and relay). Each adapter
// embeds BaseAdapter and injects its per-connection behavior through a
// ConnectionFactory.
package adapter

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/waypost-dev/waypost/internal/logger"
)

// ConnectionHandler serves one accepted connection. Serve blocks until
// the connection is done or ctx is cancelled.
type ConnectionHandler interface {
	Serve(ctx context.Context)
}

// ConnectionFactory creates protocol-specific handlers for accepted
// connections. A nil return rejects the connection (e.g. TLS failure).
type ConnectionFactory interface {
	NewConnection(conn net.Conn) ConnectionHandler
}

// BaseConfig holds configuration common to both adapters.
type BaseConfig struct {
	// BindAddress is the IP to bind; empty binds all interfaces.
	BindAddress string

	// Port is the TCP port to listen on.
	Port int

	// MaxConnections limits concurrent connections. 0 means unlimited.
	MaxConnections int

	// ShutdownTimeout bounds the wait for active connections during
	// graceful shutdown.
	ShutdownTimeout time.Duration
}

// BaseAdapter owns the accept loop, connection tracking and graceful
// shutdown shared by the signal and relay adapters. All exported
// methods are safe for concurrent use; Stop is idempotent via
// sync.Once.
type BaseAdapter struct {
	Config   BaseConfig
	protocol string

	listener   net.Listener
	listenerMu sync.RWMutex

	activeConns  sync.WaitGroup
	connCount    atomic.Int32
	connSema     chan struct{}
	shutdownOnce sync.Once
	shutdown     chan struct{}

	// ListenerReady is closed when the listener accepts connections.
	// Tests synchronize on it.
	ListenerReady chan struct{}
}

// NewBaseAdapter creates a stopped adapter; ServeWithFactory starts it.
func NewBaseAdapter(config BaseConfig, protocol string) *BaseAdapter {
	var sema chan struct{}
	if config.MaxConnections > 0 {
		sema = make(chan struct{}, config.MaxConnections)
	}
	return &BaseAdapter{
		Config:        config,
		protocol:      protocol,
		connSema:      sema,
		shutdown:      make(chan struct{}),
		ListenerReady: make(chan struct{}),
	}
}

// Addr returns the bound listener address, nil before ListenerReady.
func (b *BaseAdapter) Addr() net.Addr {
	b.listenerMu.RLock()
	defer b.listenerMu.RUnlock()
	if b.listener == nil {
		return nil
	}
	return b.listener.Addr()
}

// ServeWithFactory runs the accept loop until ctx is cancelled or the
// listener fails. Every accepted socket gets TCP_NODELAY and its own
// serve goroutine; all sockets are released on every exit path.
func (b *BaseAdapter) ServeWithFactory(ctx context.Context, factory ConnectionFactory) error {
	listenAddr := fmt.Sprintf("%s:%d", b.Config.BindAddress, b.Config.Port)
	listener, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("failed to create %s listener on %s: %w", b.protocol, listenAddr, err)
	}

	b.listenerMu.Lock()
	b.listener = listener
	b.listenerMu.Unlock()
	close(b.ListenerReady)

	logger.Info(b.protocol+" server listening", "address", listener.Addr().String())

	go func() {
		<-ctx.Done()
		b.initiateShutdown()
	}()

	for {
		if b.connSema != nil {
			select {
			case b.connSema <- struct{}{}:
			case <-b.shutdown:
				return b.gracefulShutdown()
			}
		}

		tcpConn, err := listener.Accept()
		if err != nil {
			if b.connSema != nil {
				<-b.connSema
			}
			select {
			case <-b.shutdown:
				return b.gracefulShutdown()
			default:
				logger.Debug("error accepting "+b.protocol+" connection", "error", err)
				continue
			}
		}

		if tcp, ok := tcpConn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				logger.Debug("failed to set TCP_NODELAY", "error", err)
			}
		}

		handler := factory.NewConnection(tcpConn)
		if handler == nil {
			_ = tcpConn.Close()
			if b.connSema != nil {
				<-b.connSema
			}
			continue
		}

		b.activeConns.Add(1)
		count := b.connCount.Add(1)
		logger.Debug(b.protocol+" connection accepted",
			"address", tcpConn.RemoteAddr().String(), "active", count)

		go func(conn net.Conn) {
			defer func() {
				_ = conn.Close()
				b.activeConns.Done()
				active := b.connCount.Add(-1)
				if b.connSema != nil {
					<-b.connSema
				}
				logger.Debug(b.protocol+" connection closed",
					"address", conn.RemoteAddr().String(), "active", active)
			}()
			handler.Serve(ctx)
		}(tcpConn)
	}
}

// Stop initiates graceful shutdown from outside the serve loop.
func (b *BaseAdapter) Stop() {
	b.initiateShutdown()
}

func (b *BaseAdapter) initiateShutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdown)
		b.listenerMu.Lock()
		if b.listener != nil {
			if err := b.listener.Close(); err != nil {
				logger.Debug("error closing "+b.protocol+" listener", "error", err)
			}
		}
		b.listenerMu.Unlock()
	})
}

// gracefulShutdown waits for active connections up to ShutdownTimeout.
func (b *BaseAdapter) gracefulShutdown() error {
	remaining := b.connCount.Load()
	if remaining > 0 {
		logger.Info(b.protocol+" waiting for active connections", "count", remaining)
	}

	done := make(chan struct{})
	go func() {
		b.activeConns.Wait()
		close(done)
	}()

	timeout := b.Config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	select {
	case <-done:
		logger.Info(b.protocol + " server stopped")
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("%s shutdown timed out with %d connections active",
			b.protocol, b.connCount.Load())
	}
}
