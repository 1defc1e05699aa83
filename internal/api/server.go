// Package api provides the read-model HTTP surface and WebSocket event
// bridge for Fleet Core.
//
// The REST routes expose device, topic and history read models plus the
// request-issuing and operator-reconnect entry points. Provisioning and
// connection state are never mutated here; all state transitions flow
// through the engine.
//
// The server follows the same lifecycle pattern as the other
// infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/amin2ace/fleet-core/internal/device"
	"github.com/amin2ace/fleet-core/internal/engine"
	"github.com/amin2ace/fleet-core/internal/infrastructure/config"
	"github.com/amin2ace/fleet-core/internal/infrastructure/logging"
	"github.com/amin2ace/fleet-core/internal/pending"
	"github.com/amin2ace/fleet-core/internal/publisher"
	"github.com/amin2ace/fleet-core/internal/topics"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Broker is the transport status surface the API needs: health reporting
// and the operator-triggered reconnect.
type Broker interface {
	IsConnected() bool
	ReconnectExhausted() bool
	Reconnect() error
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Logger    *logging.Logger
	Devices   *device.Repository
	Topics    *topics.Registry
	Telemetry *device.TelemetryRepository
	Hardware  *device.HardwareStatusRepository
	Publisher *publisher.Publisher
	Pending   *pending.Store
	Broker    Broker

	// Events is the engine's domain event stream, relayed to WebSocket
	// clients.
	Events <-chan engine.Event

	Version string
}

// Server is the HTTP API server for Fleet Core.
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	logger    *logging.Logger
	devices   *device.Repository
	topics    *topics.Registry
	telemetry *device.TelemetryRepository
	hardware  *device.HardwareStatusRepository
	publisher *publisher.Publisher
	pending   *pending.Store
	broker    Broker
	events    <-chan engine.Event
	version   string

	server *http.Server
	hub    *Hub
	cancel context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Devices == nil {
		return nil, fmt.Errorf("device repository is required")
	}

	return &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		logger:    deps.Logger,
		devices:   deps.Devices,
		topics:    deps.Topics,
		telemetry: deps.Telemetry,
		hardware:  deps.Hardware,
		publisher: deps.Publisher,
		pending:   deps.Pending,
		broker:    deps.Broker,
		events:    deps.Events,
		version:   deps.Version,
	}, nil
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub, the engine-event relay, and the HTTP
// listener in background goroutines. The server is stopped with Close().
//
// Parameters:
//   - ctx: Context for background goroutine cancellation
//
// Returns:
//   - error: If the server fails to start
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	s.hub = NewHub(s.wsCfg, s.logger)
	go s.hub.Run(srvCtx)

	if s.events != nil {
		go s.relayEvents(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// relayEvents forwards engine domain events to the WebSocket hub.
// Each event is broadcast on its own type channel and on "all".
func (s *Server) relayEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			s.hub.Broadcast(string(ev.Type), ev)
			s.hub.Broadcast(ChannelAll, ev)
		}
	}
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}
	return nil
}
