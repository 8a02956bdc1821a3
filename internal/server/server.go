// Package server hosts the HTTP API and owns the scheduler lifecycle.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/storyglass/storyglass/internal/api"
	"github.com/storyglass/storyglass/internal/config"
	"github.com/storyglass/storyglass/internal/ingest"
	"github.com/storyglass/storyglass/internal/metrics"
	"github.com/storyglass/storyglass/internal/providers"
	"github.com/storyglass/storyglass/internal/scheduler"
	"github.com/storyglass/storyglass/internal/server/endpoints"
	"github.com/storyglass/storyglass/internal/store"
)

// Deps carries the wired services the server exposes.
type Deps struct {
	Store     store.Store
	Ingest    *ingest.Service
	Scheduler *scheduler.Scheduler
	Metrics   *metrics.Recorder
	Providers *providers.Registry
}

// Config holds server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1)
	Host string
	// Port is the port to listen on (default: 8475)
	Port int
	// Workers bounds the scheduler worker pool (default: 4)
	Workers int
	// ConfigManager provides configuration with hot-reload support
	ConfigManager *config.Manager
	// Logger is the structured logger to use
	Logger *slog.Logger
}

// Server is the storyglass HTTP server. Starting it also starts the chapter
// scheduler; shutting it down drains the workers.
type Server struct {
	httpServer *http.Server
	deps       Deps
	workers    int
	configMgr  *config.Manager
	logger     *slog.Logger

	endpointRegistry *api.Registry

	mu      sync.RWMutex
	running bool
}

// New creates a new Server with the given configuration.
func New(cfg Config, deps Deps) (*Server, error) {
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8475
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if deps.Scheduler == nil {
		return nil, errors.New("server requires a scheduler")
	}
	if deps.Ingest == nil {
		return nil, errors.New("server requires an ingest service")
	}

	// Rebuild providers when the config file changes.
	if cfg.ConfigManager != nil && deps.Providers != nil {
		cfg.ConfigManager.OnChange(func(c *config.Config) {
			deps.Providers.Reload(c.ToProviderRegistryConfig())
			cfg.Logger.Info("provider registry reloaded from config")
		})
	}

	s := &Server{
		deps:      deps,
		workers:   cfg.Workers,
		configMgr: cfg.ConfigManager,
		logger:    cfg.Logger,
	}

	s.endpointRegistry = api.NewRegistry()
	for _, ep := range endpoints.All(endpoints.Config{
		Store:     deps.Store,
		Ingest:    deps.Ingest,
		Scheduler: deps.Scheduler,
		Metrics:   deps.Metrics,
		Providers: deps.Providers,
		Logger:    cfg.Logger,
	}) {
		s.endpointRegistry.Register(ep)
	}

	mux := http.NewServeMux()
	s.endpointRegistry.RegisterRoutes(mux)

	s.httpServer = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// Start starts the scheduler workers and the HTTP server.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if s.configMgr != nil {
		s.configMgr.WatchConfig()
	}

	s.deps.Scheduler.Start(ctx, s.workers)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			_ = s.shutdown()
			return fmt.Errorf("HTTP server error: %w", err)
		}
	}

	return s.shutdown()
}

// shutdown drains the HTTP server, then the scheduler workers.
func (s *Server) shutdown() error {
	s.logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
	}

	s.deps.Scheduler.Stop()

	s.setNotRunning()
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) setNotRunning() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Endpoints returns the endpoint registry, for CLI command construction.
func (s *Server) Endpoints() *api.Registry {
	return s.endpointRegistry
}
