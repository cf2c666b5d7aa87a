// Package server assembles the waypost components: the device ID
// directory, the TLS control adapter, the relay adapter, the traffic
// accountant and the statistics API server. It owns their lifecycle
// from startup through graceful shutdown.
package server

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/waypost-dev/waypost/internal/logger"
	"github.com/waypost-dev/waypost/pkg/adapter"
	relayadapter "github.com/waypost-dev/waypost/pkg/adapter/relay"
	"github.com/waypost-dev/waypost/pkg/adapter/signal"
	"github.com/waypost-dev/waypost/pkg/api"
	"github.com/waypost-dev/waypost/pkg/config"
	"github.com/waypost-dev/waypost/pkg/directory"
	badgerstore "github.com/waypost-dev/waypost/pkg/directory/badger"
	memorystore "github.com/waypost-dev/waypost/pkg/directory/memory"
	"github.com/waypost-dev/waypost/pkg/metrics"
	wprom "github.com/waypost-dev/waypost/pkg/metrics/prometheus"
	"github.com/waypost-dev/waypost/pkg/registry"
	"github.com/waypost-dev/waypost/pkg/relay"
	"github.com/waypost-dev/waypost/pkg/stats"
)

// Server is the assembled waypost process.
type Server struct {
	cfg *config.Config

	store      directory.Store
	registry   *registry.Registry
	rendezvous *relay.Rendezvous
	pairs      *relay.PairTable
	accountant *stats.Accountant

	signalAdapter *signal.Adapter
	relayAdapter  *relayadapter.Adapter
	apiServer     *api.Server
}

// New wires all components from the configuration. The directory store
// is opened here so a bad backend fails startup.
func New(cfg *config.Config) (*Server, error) {
	if cfg.Metrics.Enabled {
		metrics.InitRegistry()
		logger.Info("Metrics collection enabled")
	} else {
		logger.Info("Metrics collection disabled")
	}

	store, err := openDirectoryStore(cfg)
	if err != nil {
		return nil, err
	}

	reg := registry.New()
	accountant := stats.New()
	pairs := relay.NewPairTable()
	rendezvous := relay.NewRendezvous(cfg.Relay.WaitTTL, pairs, accountant.Samples(), wprom.NewRelayMetrics())

	signalAdapter, err := signal.New(signal.Config{
		BaseConfig: adapter.BaseConfig{
			BindAddress:     cfg.Signal.BindAddress,
			Port:            cfg.Signal.Port,
			MaxConnections:  cfg.Signal.MaxConnections,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		CertFile:         cfg.Signal.CertFile,
		KeyFile:          cfg.Signal.KeyFile,
		HandshakeTimeout: cfg.Signal.HandshakeTimeout,
		CallTimeout:      cfg.Signal.CallTimeout,
	}, reg, store, wprom.NewSignalMetrics())
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	relayAdapter := relayadapter.New(relayadapter.Config{
		BaseConfig: adapter.BaseConfig{
			BindAddress:     cfg.Relay.BindAddress,
			Port:            cfg.Relay.Port,
			MaxConnections:  cfg.Relay.MaxConnections,
			ShutdownTimeout: cfg.ShutdownTimeout,
		},
		HandshakeTimeout: cfg.Relay.HandshakeTimeout,
	}, rendezvous)

	srv := &Server{
		cfg:           cfg,
		store:         store,
		registry:      reg,
		rendezvous:    rendezvous,
		pairs:         pairs,
		accountant:    accountant,
		signalAdapter: signalAdapter,
		relayAdapter:  relayAdapter,
	}

	if cfg.API.IsEnabled() {
		srv.apiServer = api.NewServer(cfg.API, accountant, pairs)
		logger.Info("API server enabled", "port", srv.apiServer.Port())
	} else {
		logger.Info("API server disabled")
	}

	return srv, nil
}

// openDirectoryStore constructs the configured device ID store backend.
func openDirectoryStore(cfg *config.Config) (directory.Store, error) {
	switch cfg.Directory.Backend {
	case "badger":
		store, err := badgerstore.New(cfg.Directory.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open directory store at %s: %w", cfg.Directory.Path, err)
		}
		logger.Info("Directory store opened", "backend", "badger", "path", cfg.Directory.Path)
		return store, nil
	case "memory":
		logger.Info("Directory store opened", "backend", "memory")
		logger.Warn("Memory directory backend does not survive restarts")
		return memorystore.New(), nil
	default:
		return nil, fmt.Errorf("unknown directory backend: %s", cfg.Directory.Backend)
	}
}

// Serve runs all components and blocks until ctx is cancelled or a
// component fails. On return every component has been shut down and the
// directory store closed.
func (s *Server) Serve(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		return s.signalAdapter.Serve(gctx)
	})
	g.Go(func() error {
		return s.relayAdapter.Serve(gctx)
	})
	g.Go(func() error {
		s.accountant.Run(gctx)
		return nil
	})
	if s.apiServer != nil {
		g.Go(func() error {
			return s.apiServer.Start(gctx)
		})
	}

	// A parked relay endpoint pins its accept goroutine until the
	// rendezvous releases it. Evict wait slots as soon as shutdown
	// starts, or the relay adapter spends its whole drain timeout
	// waiting on them.
	go func() {
		<-gctx.Done()
		s.rendezvous.Shutdown()
	}()

	logger.Info("Server started",
		"signal_port", s.cfg.Signal.Port,
		"relay_port", s.cfg.Relay.Port)

	err := g.Wait()

	if closeErr := s.store.Close(); closeErr != nil {
		logger.Error("Directory store close error", "error", closeErr)
		if err == nil {
			err = closeErr
		}
	}

	if err != nil && ctx.Err() != nil {
		// Cancellation-driven exits are a clean shutdown.
		err = nil
	}
	return err
}

// ShutdownTimeout exposes the configured graceful shutdown bound.
func (s *Server) ShutdownTimeout() time.Duration {
	return s.cfg.ShutdownTimeout
}
