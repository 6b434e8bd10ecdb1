package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/tempmon-core/internal/audit"
	"github.com/nerrad567/tempmon-core/internal/device"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/config"
	"github.com/nerrad567/tempmon-core/internal/infrastructure/logging"
	"github.com/nerrad567/tempmon-core/internal/reading"
)

// shutdownGrace bounds how long Close waits for in-flight requests.
const shutdownGrace = 10 * time.Second

// Sentinel errors.
var (
	ErrMissingDependency = errors.New("api: missing dependency")
	ErrNotStarted        = errors.New("api: server not started")
)

// DeviceSource is the read side of the device registry.
// *device.Registry satisfies it.
type DeviceSource interface {
	Devices() []device.Device
	Device(address string) (device.Device, error)
	Sensors() []device.Sensor
	Count() int
}

// ReadingSource lists stored readings. *reading.SQLRepository satisfies it.
type ReadingSource interface {
	ListRecent(ctx context.Context, sensorID int, limit int) ([]reading.Record, error)
	ListSensors(ctx context.Context) ([]reading.SensorSummary, error)
}

// ReachabilityProbe reports whether the reference host answers.
// *netcheck.Checker satisfies it.
type ReachabilityProbe interface {
	IsReachable(ctx context.Context) bool
}

// ConnectionStatus reports a client connection state. *mqtt.Client satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// PoolStats exposes connection pool statistics. *database.DB satisfies it.
type PoolStats interface {
	Stats() sql.DBStats
}

// Deps wires the server to the rest of the process. Logger, Registry and
// Readings are required.
type Deps struct {
	Config       config.APIConfig
	WS           config.WebSocketConfig
	Logger       *logging.Logger
	Registry     DeviceSource
	Readings     ReadingSource
	Events       audit.Repository  // nil: /events answers 503
	Reachability ReachabilityProbe // nil: health omits reachable
	MQTT         ConnectionStatus  // nil: metrics omit mqtt
	DB           PoolStats         // nil: database metrics stay zero
	Hub          *Hub              // nil: Start creates and runs one
	Version      string
}

// Server serves the status API and the live stream.
type Server struct {
	cfg          config.APIConfig
	wsCfg        config.WebSocketConfig
	logger       *logging.Logger
	registry     DeviceSource
	readings     ReadingSource
	events       audit.Repository
	reachability ReachabilityProbe
	mqtt         ConnectionStatus
	db           PoolStats
	version      string
	startTime    time.Time

	hub    *Hub
	http   *http.Server
	addr   net.Addr
	cancel context.CancelFunc
}

// New checks deps and builds a server. Nothing listens until Start.
func New(deps Deps) (*Server, error) {
	switch {
	case deps.Logger == nil:
		return nil, fmt.Errorf("%w: logger", ErrMissingDependency)
	case deps.Registry == nil:
		return nil, fmt.Errorf("%w: device registry", ErrMissingDependency)
	case deps.Readings == nil:
		return nil, fmt.Errorf("%w: reading repository", ErrMissingDependency)
	}

	return &Server{
		cfg:          deps.Config,
		wsCfg:        deps.WS,
		logger:       deps.Logger,
		registry:     deps.Registry,
		readings:     deps.Readings,
		events:       deps.Events,
		reachability: deps.Reachability,
		mqtt:         deps.MQTT,
		db:           deps.DB,
		version:      deps.Version,
		startTime:    time.Now(),
		hub:          deps.Hub,
	}, nil
}

// Hub returns the stream hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Start binds the listener and serves in the background. A bind failure is
// returned here rather than logged later. ctx bounds the hub Start creates.
//
// Parameters:
//   - ctx: Parent of the hub lifetime (not of the listener)
//
// Returns:
//   - error: The address could not be bound
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port)))
	if err != nil {
		return fmt.Errorf("binding API listener: %w", err)
	}

	var hubCtx context.Context
	hubCtx, s.cancel = context.WithCancel(ctx)
	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		go s.hub.Run(hubCtx)
	}

	s.addr = ln.Addr()
	s.http = &http.Server{
		Handler:           s.buildRouter(),
		ReadTimeout:       s.cfg.Timeouts.ReadTimeout(),
		ReadHeaderTimeout: s.cfg.Timeouts.ReadTimeout(),
		WriteTimeout:      s.cfg.Timeouts.WriteTimeout(),
		IdleTimeout:       s.cfg.Timeouts.IdleTimeout(),
	}

	s.logger.Info("API server listening", "address", s.addr.String())
	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server stopped", "error", err)
		}
	}(s.http)

	return nil
}

// Close stops the hub it owns and drains in-flight requests for up to
// shutdownGrace before dropping them.
func (s *Server) Close() error {
	if s.http == nil {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck fails until Start has succeeded.
func (s *Server) HealthCheck(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("api health check: %w", err)
	}
	if s.http == nil {
		return ErrNotStarted
	}
	return nil
}
