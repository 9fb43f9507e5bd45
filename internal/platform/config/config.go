package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/joho/godotenv"
	"go-simpler.org/env"
)

type Config struct {
	AppEnv    string `env:"APP_ENV" default:"development"`
	Port      string `env:"PORT" default:"8080"`
	AppURL    string `env:"APP_URL"`
	LogLevel  string `env:"LOG_LEVEL" default:"info"`
	LogFormat string `env:"LOG_FORMAT" default:"text"`

	WSTransport string `env:"WS_TRANSPORT" default:"gorilla"`

	HeartbeatInterval    time.Duration `env:"HEARTBEAT_INTERVAL" default:"30s"`
	HeartbeatTimeout     time.Duration `env:"HEARTBEAT_TIMEOUT" default:"10s"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT" default:"5s"`
	BroadcastConcurrency int           `env:"BROADCAST_CONCURRENCY" default:"64"`

	MaxWebSocketConnections int     `env:"MAX_WEBSOCKET_CONNECTIONS" default:"10000"`
	MaxConnectionsPerIP     int     `env:"MAX_CONNECTIONS_PER_IP" default:"100"`
	ConnectionRate          float64 `env:"CONNECTION_RATE" default:"10"`
	ConnectionBurst         int     `env:"CONNECTION_BURST" default:"20"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"10s"`
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	var cfg Config
	if err := env.Load(&cfg, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	switch cfg.WSTransport {
	case "gorilla", "coder":
	default:
		return fmt.Errorf("WS_TRANSPORT must be gorilla or coder, got %q", cfg.WSTransport)
	}

	durations := []struct {
		name  string
		value time.Duration
	}{
		{"HEARTBEAT_INTERVAL", cfg.HeartbeatInterval},
		{"HEARTBEAT_TIMEOUT", cfg.HeartbeatTimeout},
		{"WRITE_TIMEOUT", cfg.WriteTimeout},
		{"SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout},
	}
	for _, d := range durations {
		if d.value <= 0 {
			return fmt.Errorf("%s must be positive", d.name)
		}
	}

	limits := []struct {
		name  string
		value int
	}{
		{"BROADCAST_CONCURRENCY", cfg.BroadcastConcurrency},
		{"MAX_WEBSOCKET_CONNECTIONS", cfg.MaxWebSocketConnections},
		{"MAX_CONNECTIONS_PER_IP", cfg.MaxConnectionsPerIP},
		{"CONNECTION_BURST", cfg.ConnectionBurst},
	}
	for _, l := range limits {
		if l.value <= 0 {
			return fmt.Errorf("%s must be positive", l.name)
		}
	}

	if cfg.ConnectionRate <= 0 {
		return errors.New("CONNECTION_RATE must be positive")
	}

	if cfg.AppURL != "" {
		u, err := url.Parse(cfg.AppURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("APP_URL must be an absolute URL, got %q", cfg.AppURL)
		}
	}

	// Browsers connecting from the app's own origin are only accepted when APP_URL is known.
	if !cfg.IsDevelopment() && cfg.AppURL == "" {
		return errors.New("APP_URL is required outside development")
	}

	return nil
}
