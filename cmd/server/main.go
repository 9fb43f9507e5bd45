package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/connpulse/internal/adapter/httpserver"
	"github.com/pscheid92/connpulse/internal/adapter/metrics"
	"github.com/pscheid92/connpulse/internal/adapter/websocket"
	"github.com/pscheid92/connpulse/internal/dispatch"
	"github.com/pscheid92/connpulse/internal/domain"
	"github.com/pscheid92/connpulse/internal/liveness"
	"github.com/pscheid92/connpulse/internal/platform/config"
	"github.com/pscheid92/connpulse/internal/platform/logging"
	"github.com/pscheid92/connpulse/internal/platform/version"
	"github.com/pscheid92/connpulse/internal/registry"
)

func setupConfig() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}
	return cfg
}

func healthChecks(reg *registry.Registry, monitor *liveness.Monitor) []httpserver.HealthCheck {
	return []httpserver.HealthCheck{
		{
			Name: "registry",
			Check: func(context.Context) error {
				if reg.Closed() {
					return domain.ErrRegistryClosed
				}
				return nil
			},
		},
		{
			Name: "liveness_monitor",
			Check: func(context.Context) error {
				if !monitor.Running() {
					return errors.New("liveness monitor not running")
				}
				return nil
			},
		},
	}
}

func runGracefulShutdown(cfg *config.Config, srv *httpserver.Server, stop context.CancelFunc, reg *registry.Registry) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		// Stops the liveness monitor and every receive loop.
		stop()

		closed := make(chan int, 1)
		go func() { closed <- reg.CloseAll(domain.EvictShutdown) }()
		select {
		case n := <-closed:
			slog.Info("Connections closed", "count", n)
		case <-time.After(cfg.ShutdownTimeout):
			slog.Warn("Timed out closing connections", "timeout", cfg.ShutdownTimeout)
		}

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg := setupConfig()

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port, "version", version.Get().String())

	rootCtx, stop := context.WithCancel(context.Background())
	defer stop()

	promReg := metrics.NewRegistry()
	connMetrics := metrics.NewConnectionMetrics(promReg)
	httpMetrics := metrics.NewHTTPMetrics(promReg)

	reg := registry.New(clock, connMetrics)

	monitor := liveness.NewMonitor(reg, clock, liveness.Config{
		Interval:     cfg.HeartbeatInterval,
		Timeout:      cfg.HeartbeatTimeout,
		WriteTimeout: cfg.WriteTimeout,
		Concurrency:  cfg.BroadcastConcurrency,
	}, metrics.NewLivenessMetrics(promReg))

	dispatcher := dispatch.New(reg, dispatch.Config{
		WriteTimeout: cfg.WriteTimeout,
		Concurrency:  cfg.BroadcastConcurrency,
	}, dispatch.EchoHandler, metrics.NewDispatchMetrics(promReg))

	transports, err := websocket.NewFactory(cfg.WSTransport, websocket.Options{
		CheckOrigin: websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
	})
	if err != nil {
		slog.Error("Failed to create transport factory", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := monitor.Run(rootCtx); err != nil {
			slog.Error("Liveness monitor error", "error", err)
		}
	}()

	srv := httpserver.NewServer(rootCtx, cfg, httpserver.Deps{
		Dispatcher:   dispatcher,
		Connections:  reg,
		Transports:   transports,
		Limits:       httpserver.NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		Metrics:      promReg,
		HTTPMetrics:  httpMetrics,
		ConnMetrics:  connMetrics,
		HealthChecks: healthChecks(reg, monitor),
		Clock:        clock,
	})

	done := runGracefulShutdown(cfg, srv, stop, reg)

	slog.Info("Server starting", "port", cfg.Port, "transport", cfg.WSTransport)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
