package main

import (
	"errors"
	"net/http"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/connpulse/internal/platform/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBroadcastURL(t *testing.T) {
	tests := []struct {
		name  string
		wsURL string
		want  string
	}{
		{"plain", "ws://localhost:8080/ws/", "http://localhost:8080/broadcast/"},
		{"tls", "wss://connpulse.example.com/ws/?debug=1", "https://connpulse.example.com/broadcast/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := broadcastURL(tt.wsURL, "/broadcast/")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBroadcastURL_UnsupportedScheme(t *testing.T) {
	_, err := broadcastURL("ftp://localhost/ws/", "/broadcast/")
	assert.ErrorContains(t, err, "unsupported scheme")
}

func TestClassifyDial(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want retry.Action
	}{
		{"connection refused", &dialError{err: errors.New("connection refused")}, retry.Retry},
		{"limit reached", &dialError{status: http.StatusServiceUnavailable, err: websocket.ErrBadHandshake}, retry.Retry},
		{"rate limited", &dialError{status: http.StatusTooManyRequests, err: websocket.ErrBadHandshake}, retry.Backoff},
		{"origin rejected", &dialError{status: http.StatusForbidden, err: websocket.ErrBadHandshake}, retry.Stop},
		{"other", errors.New("boom"), retry.Retry},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyDial(tt.err))
		})
	}
}
