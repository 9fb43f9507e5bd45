package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.AppEnv)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, "gorilla", cfg.WSTransport)
	assert.Equal(t, 30*time.Second, cfg.HeartbeatInterval)
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout)
	assert.Equal(t, 5*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 64, cfg.BroadcastConcurrency)
	assert.Equal(t, 10000, cfg.MaxWebSocketConnections)
	assert.Equal(t, 100, cfg.MaxConnectionsPerIP)
	assert.InDelta(t, 10.0, cfg.ConnectionRate, 0.0001)
	assert.Equal(t, 20, cfg.ConnectionBurst)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoad_CustomValues(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "production")
	t.Setenv("APP_URL", "https://connpulse.example.com")
	t.Setenv("WS_TRANSPORT", "coder")
	t.Setenv("HEARTBEAT_INTERVAL", "1m")
	t.Setenv("HEARTBEAT_TIMEOUT", "15s")
	t.Setenv("CONNECTION_RATE", "2.5")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.AppEnv)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "coder", cfg.WSTransport)
	assert.Equal(t, time.Minute, cfg.HeartbeatInterval)
	assert.Equal(t, 15*time.Second, cfg.HeartbeatTimeout)
	assert.InDelta(t, 2.5, cfg.ConnectionRate, 0.0001)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"unknown transport", "WS_TRANSPORT", "nats", `WS_TRANSPORT must be gorilla or coder, got "nats"`},
		{"zero interval", "HEARTBEAT_INTERVAL", "0s", "HEARTBEAT_INTERVAL must be positive"},
		{"negative timeout", "HEARTBEAT_TIMEOUT", "-1s", "HEARTBEAT_TIMEOUT must be positive"},
		{"zero write timeout", "WRITE_TIMEOUT", "0s", "WRITE_TIMEOUT must be positive"},
		{"zero shutdown timeout", "SHUTDOWN_TIMEOUT", "0s", "SHUTDOWN_TIMEOUT must be positive"},
		{"zero concurrency", "BROADCAST_CONCURRENCY", "0", "BROADCAST_CONCURRENCY must be positive"},
		{"zero max connections", "MAX_WEBSOCKET_CONNECTIONS", "0", "MAX_WEBSOCKET_CONNECTIONS must be positive"},
		{"zero per-ip limit", "MAX_CONNECTIONS_PER_IP", "0", "MAX_CONNECTIONS_PER_IP must be positive"},
		{"zero burst", "CONNECTION_BURST", "0", "CONNECTION_BURST must be positive"},
		{"zero rate", "CONNECTION_RATE", "0", "CONNECTION_RATE must be positive"},
		{"relative app url", "APP_URL", "/just/a/path", `APP_URL must be an absolute URL, got "/just/a/path"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := Load()
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, err.Error())
		})
	}
}

func TestLoad_MalformedDuration(t *testing.T) {
	t.Setenv("HEARTBEAT_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load environment variables")
}

func TestLoad_ProductionRequiresAppURL(t *testing.T) {
	t.Setenv("APP_ENV", "production")

	_, err := Load()
	require.Error(t, err)
	assert.Equal(t, "APP_URL is required outside development", err.Error())
}

func TestLoad_DevelopmentAllowsMissingAppURL(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("APP_URL", "")

	_, err := Load()
	require.NoError(t, err)
}
