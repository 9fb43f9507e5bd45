package httpserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/connpulse/internal/adapter/metrics"
	"github.com/pscheid92/connpulse/internal/adapter/websocket"
	"github.com/pscheid92/connpulse/internal/dispatch"
	"github.com/pscheid92/connpulse/internal/domain"
	"github.com/pscheid92/connpulse/internal/domain/domaintest"
	"github.com/pscheid92/connpulse/internal/platform/config"
	"github.com/pscheid92/connpulse/internal/registry"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	srv        *Server
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	promReg    *prometheus.Registry
	connM      *metrics.ConnectionMetrics
}

func testConfig() *config.Config {
	return &config.Config{
		AppEnv:                  "development",
		Port:                    "0",
		WSTransport:             websocket.KindGorilla,
		MaxWebSocketConnections: 100,
		MaxConnectionsPerIP:     100,
		ConnectionRate:          1000,
		ConnectionBurst:         1000,
	}
}

func newTestEnv(t *testing.T, opts ...func(*config.Config, *Deps)) *testEnv {
	t.Helper()

	cfg := testConfig()
	clock := clockwork.NewFakeClock()
	promReg := prometheus.NewRegistry()
	connM := metrics.NewConnectionMetrics(promReg)
	reg := registry.New(clock, connM)
	d := dispatch.New(reg, dispatch.Config{}, nil, metrics.NewDispatchMetrics(promReg))

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		cancel()
		reg.CloseAll(domain.EvictShutdown)
	})

	deps := Deps{
		Dispatcher:  d,
		Connections: reg,
		Limits:      NewConnectionLimits(clock, int64(cfg.MaxWebSocketConnections), cfg.MaxConnectionsPerIP, cfg.ConnectionRate, cfg.ConnectionBurst),
		Metrics:     promReg,
		HTTPMetrics: metrics.NewHTTPMetrics(promReg),
		ConnMetrics: connM,
		Clock:       clock,
	}
	for _, opt := range opts {
		opt(cfg, &deps)
	}
	if deps.Transports == nil {
		factory, err := websocket.NewFactory(cfg.WSTransport, websocket.Options{
			CheckOrigin: websocket.NewCheckOrigin(cfg.AppURL, cfg.IsDevelopment()),
		})
		require.NoError(t, err)
		deps.Transports = factory
	}

	return &testEnv{
		srv:        NewServer(ctx, cfg, deps),
		registry:   reg,
		dispatcher: d,
		promReg:    promReg,
		connM:      connM,
	}
}

func withHealthChecks(checks ...HealthCheck) func(*config.Config, *Deps) {
	return func(_ *config.Config, d *Deps) {
		d.HealthChecks = checks
	}
}

// attach registers an in-memory connection, bypassing the HTTP upgrade.
func (e *testEnv) attach(t *testing.T) *domaintest.Transport {
	t.Helper()
	transport := domaintest.NewTransport()
	_, err := e.dispatcher.Accept(context.Background(), transport)
	require.NoError(t, err)
	return transport
}

func (e *testEnv) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	e.srv.echo.ServeHTTP(rec, req)
	return rec
}
