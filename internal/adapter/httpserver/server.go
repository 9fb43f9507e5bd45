package httpserver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/connpulse/internal/adapter/metrics"
	"github.com/pscheid92/connpulse/internal/adapter/websocket"
	"github.com/pscheid92/connpulse/internal/domain"
	"github.com/pscheid92/connpulse/internal/platform/config"
)

type connectionService interface {
	Accept(ctx context.Context, transport domain.Transport) (domain.ConnID, error)
	Serve(ctx context.Context, id domain.ConnID) error
	Broadcast(ctx context.Context, payload any) (domain.BroadcastResult, error)
}

type connectionCounter interface {
	Len() int
}

// Deps are the collaborators the HTTP surface drives.
type Deps struct {
	Dispatcher   connectionService
	Connections  connectionCounter
	Transports   websocket.Factory
	Limits       *ConnectionLimits
	Metrics      *prometheus.Registry
	HTTPMetrics  *metrics.HTTPMetrics
	ConnMetrics  *metrics.ConnectionMetrics
	HealthChecks []HealthCheck
	Clock        clockwork.Clock
}

type Server struct {
	echo   *echo.Echo
	config *config.Config

	// baseCtx outlives requests: hijacked WebSocket connections are not cancelled by
	// echo's shutdown, so their receive loops hang off this context instead.
	baseCtx context.Context

	dispatcher   connectionService
	connections  connectionCounter
	transports   websocket.Factory
	limits       *ConnectionLimits
	promRegistry *prometheus.Registry
	httpMetrics  *metrics.HTTPMetrics
	connMetrics  *metrics.ConnectionMetrics
	healthChecks []HealthCheck
	clock        clockwork.Clock
	startTime    time.Time
}

func NewServer(baseCtx context.Context, cfg *config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	srv := &Server{
		echo:         e,
		config:       cfg,
		baseCtx:      baseCtx,
		dispatcher:   deps.Dispatcher,
		connections:  deps.Connections,
		transports:   deps.Transports,
		limits:       deps.Limits,
		promRegistry: deps.Metrics,
		httpMetrics:  deps.HTTPMetrics,
		connMetrics:  deps.ConnMetrics,
		healthChecks: deps.HealthChecks,
		clock:        clock,
		startTime:    clock.Now(),
	}

	if deps.Metrics != nil && deps.Limits != nil {
		registerLimiterGauges(deps.Metrics, deps.Limits)
	}

	srv.registerRoutes()

	return srv
}

func (s *Server) Start() error {
	slog.Info("Starting server", "port", s.config.Port)
	if err := s.echo.Start(":" + s.config.Port); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones. WebSocket
// connections are closed separately by cancelling the base context.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echo.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	return nil
}

func registerLimiterGauges(reg prometheus.Registerer, limits *ConnectionLimits) {
	metrics.RegisterLimiterGauges(reg, metrics.LimiterSources{
		SlotsInUse:   func() float64 { return float64(limits.Global().Current()) },
		UniqueIPs:    func() float64 { return float64(limits.PerIP().UniqueIPs()) },
		RateLimiters: func() float64 { return float64(limits.Rate().ActiveLimiters()) },
	})
}
