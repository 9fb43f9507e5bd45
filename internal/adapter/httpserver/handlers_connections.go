package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/connpulse/internal/domain"
	"github.com/pscheid92/connpulse/internal/platform/correlation"
	apperrors "github.com/pscheid92/connpulse/internal/platform/errors"
)

const (
	defaultBroadcastMessage = "This is a broadcast message"
	maxBroadcastBodyBytes   = 64 * 1024
)

type broadcastResponse struct {
	Detail string `json:"detail"`
	domain.BroadcastResult
}

func (s *Server) handleRoot(c echo.Context) error {
	if err := c.JSON(http.StatusOK, map[string]string{"hello": "world"}); err != nil {
		return fmt.Errorf("failed to write root response: %w", err)
	}
	return nil
}

// handleWebSocket upgrades the request and runs the connection's receive loop until it ends.
func (s *Server) handleWebSocket(c echo.Context) error {
	ip := c.RealIP()
	if ok, reason := s.limits.Acquire(ip); !ok {
		if s.connMetrics != nil {
			s.connMetrics.Rejected.WithLabelValues(string(reason)).Inc()
		}
		slog.WarnContext(c.Request().Context(), "WebSocket connection rejected",
			"ip", ip,
			"reason", reason,
			"ip_connections", s.limits.PerIP().Count(ip),
		)
		if reason == LimitReasonRate {
			return echo.NewHTTPError(http.StatusTooManyRequests, "too many connection attempts")
		}
		return echo.NewHTTPError(http.StatusServiceUnavailable, "connection limit reached")
	}
	defer s.limits.Release(ip)

	ctx := s.baseCtx
	if id, ok := correlation.ID(c.Request().Context()); ok {
		ctx = correlation.WithID(ctx, id)
	}

	transport := s.transports(c.Response(), c.Request())
	id, err := s.dispatcher.Accept(ctx, transport)
	if err != nil {
		// The upgrade either answered the request itself or hijacked the connection,
		// so there is nothing left to write.
		slog.InfoContext(ctx, "WebSocket connection not accepted", "ip", ip, "error", err)
		return nil
	}

	err = s.dispatcher.Serve(ctx, id)
	switch {
	case errors.Is(err, domain.ErrConnectionNotFound):
		// Evicted between Accept and Serve, e.g. by a failed send or a shutdown.
		slog.DebugContext(ctx, "Connection gone before receive loop started", "conn_id", id.String())
	case err != nil:
		slog.WarnContext(ctx, "Receive loop failed", "conn_id", id.String(), "error", err)
	}
	return nil
}

func (s *Server) handleConnectionCount(c echo.Context) error {
	if err := c.JSON(http.StatusOK, map[string]int{"count": s.connections.Len()}); err != nil {
		return fmt.Errorf("failed to write connection count: %w", err)
	}
	return nil
}

func (s *Server) handleBroadcastDefault(c echo.Context) error {
	return s.broadcast(c, defaultBroadcastMessage)
}

// handleBroadcast sends the JSON request body to every connection.
func (s *Server) handleBroadcast(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBroadcastBodyBytes+1))
	if err != nil {
		return apperrors.ValidationError("failed to read request body")
	}
	if len(body) > maxBroadcastBodyBytes {
		return apperrors.ValidationError("request body too large").WithContext("max_bytes", maxBroadcastBodyBytes)
	}
	if len(body) == 0 || !json.Valid(body) {
		return apperrors.ValidationError("request body must be valid JSON")
	}

	return s.broadcast(c, json.RawMessage(body))
}

func (s *Server) broadcast(c echo.Context, payload any) error {
	// A client hanging up must not abort writes to every other connection.
	ctx := context.WithoutCancel(c.Request().Context())

	result, err := s.dispatcher.Broadcast(ctx, payload)
	if err != nil {
		return apperrors.InternalError("failed to broadcast message", err)
	}

	resp := broadcastResponse{Detail: "Message broadcasted", BroadcastResult: result}
	if err := c.JSON(http.StatusOK, resp); err != nil {
		return fmt.Errorf("failed to write broadcast response: %w", err)
	}
	return nil
}
