package httpserver

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func healthOK(_ context.Context) error { return nil }

func healthErr(msg string) func(context.Context) error {
	return func(_ context.Context) error { return errors.New(msg) }
}

func TestHandleStartup(t *testing.T) {
	env := newTestEnv(t, withHealthChecks(
		HealthCheck{Name: "registry", Check: healthOK},
		HealthCheck{Name: "liveness_monitor", Check: healthOK},
	))

	rec := env.do(http.MethodGet, "/health/startup", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleLiveness(t *testing.T) {
	env := newTestEnv(t)
	env.attach(t)

	rec := env.do(http.MethodGet, "/health/live", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"status":"ok"`)
	assert.Contains(t, body, `"uptime"`)
	assert.Contains(t, body, `"connections":1`)
}

func TestHandleReadiness_AllHealthy(t *testing.T) {
	env := newTestEnv(t, withHealthChecks(
		HealthCheck{Name: "registry", Check: healthOK},
		HealthCheck{Name: "liveness_monitor", Check: healthOK},
	))

	rec := env.do(http.MethodGet, "/health/ready", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
}

func TestHandleReadiness_NoChecks(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/health/ready", "")

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleReadiness_FirstFailureReported(t *testing.T) {
	tests := []struct {
		name       string
		checks     []HealthCheck
		wantFailed string
		wantError  string
	}{
		{
			name: "registry closed",
			checks: []HealthCheck{
				{Name: "registry", Check: healthErr("registry closed")},
				{Name: "liveness_monitor", Check: healthOK},
			},
			wantFailed: "registry",
			wantError:  "registry closed",
		},
		{
			name: "monitor stopped",
			checks: []HealthCheck{
				{Name: "registry", Check: healthOK},
				{Name: "liveness_monitor", Check: healthErr("liveness monitor not running")},
			},
			wantFailed: "liveness_monitor",
			wantError:  "liveness monitor not running",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, withHealthChecks(tt.checks...))

			rec := env.do(http.MethodGet, "/health/ready", "")

			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			assert.Contains(t, rec.Body.String(), `"status":"unhealthy"`)
			assert.Contains(t, rec.Body.String(), `"failed_check":"`+tt.wantFailed+`"`)
			assert.Contains(t, rec.Body.String(), `"error":"`+tt.wantError+`"`)
		})
	}
}

func TestHandleVersion(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(http.MethodGet, "/version", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `"version"`)
	assert.Contains(t, body, `"commit"`)
	assert.Contains(t, body, `"build_time"`)
	assert.Contains(t, body, `"go_version"`)
}
