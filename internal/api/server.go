// Package api provides the HTTP REST API and WebSocket relay server for
// Column Relay.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spiritcontrol/column-relay/internal/infrastructure/config"
	"github.com/spiritcontrol/column-relay/internal/infrastructure/logging"
	"github.com/spiritcontrol/column-relay/internal/queue"
	"github.com/spiritcontrol/column-relay/internal/relay"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Deps holds the dependencies required by the relay server.
type Deps struct {
	Config   config.RelayConfig
	WS       config.WebSocketConfig
	Auth     config.AuthConfig
	Queue    config.QueueConfig
	Logger   *logging.Logger
	Registry *relay.Registry
	Store    *queue.Store
	Observer relay.Observer // optional: MQTT/time-series mirrors
	Version  string
}

// Server is the HTTP and WebSocket server for Column Relay.
//
// It manages the HTTP listener, routes, middleware, and the two relay
// endpoints. The server is created with New() and started with Start().
type Server struct {
	cfg      config.RelayConfig
	wsCfg    config.WebSocketConfig
	authCfg  config.AuthConfig
	queueCfg config.QueueConfig
	logger   *logging.Logger
	registry *relay.Registry
	store    *queue.Store
	observer relay.Observer
	version  string
	server   *http.Server
}

// New creates a new relay server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (config, logger, registry, queue store)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Registry == nil {
		return nil, fmt.Errorf("connection registry is required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("command queue store is required")
	}
	if deps.Observer == nil {
		deps.Observer = relay.NopObserver{}
	}

	return &Server{
		cfg:      deps.Config,
		wsCfg:    deps.WS,
		authCfg:  deps.Auth,
		queueCfg: deps.Queue,
		logger:   deps.Logger,
		registry: deps.Registry,
		store:    deps.Store,
		observer: deps.Observer,
		version:  deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It sets up the router and launches the HTTP listener in a background
// goroutine. The server can be stopped with Close().
//
// Parameters:
//   - ctx: Context for cancellation (not used for listener lifetime)
//
// Returns:
//   - error: If the server fails to start (port in use, etc.)
func (s *Server) Start(_ context.Context) error {
	router := s.buildRouter()

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           router,
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		var err error
		if s.cfg.TLS.Enabled {
			s.logger.Info("relay server starting with TLS",
				"address", s.server.Addr,
				"cert", s.cfg.TLS.CertFile,
			)
			err = s.server.ListenAndServeTLS(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("relay server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the relay server.
//
// It stops accepting new connections, waits up to 10 seconds for in-flight
// requests to complete, then tears down every live relay connection. Queue
// state is already durable at this point; nothing further needs flushing.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("relay server shutting down")
	err := s.server.Shutdown(ctx)

	// Upgraded connections are hijacked and outlive Shutdown; close them
	// explicitly so device and client pumps exit.
	s.registry.CloseAll()

	if err != nil {
		return fmt.Errorf("shutting down relay server: %w", err)
	}
	return nil
}

// HealthCheck verifies the relay server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("relay health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("relay server not started")
	}

	return nil
}
