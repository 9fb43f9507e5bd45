// Package dispatch frames messages for registered connections: it runs the per-connection
// receive loop, sends structured frames and fans broadcasts out to every connection.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pscheid92/connpulse/internal/adapter/metrics"
	"github.com/pscheid92/connpulse/internal/domain"
	"github.com/pscheid92/connpulse/internal/platform/correlation"
	"github.com/pscheid92/connpulse/internal/registry"
	"golang.org/x/sync/errgroup"
)

const (
	defaultWriteTimeout = 5 * time.Second
	defaultConcurrency  = 64
)

// Sender writes a structured frame to one connection.
type Sender interface {
	Send(ctx context.Context, id domain.ConnID, msg any) error
}

// Handler receives every application frame of a connection. A returned error is
// answered with an error frame; the connection stays open.
type Handler func(ctx context.Context, s Sender, id domain.ConnID, payload []byte) error

// EchoHandler acknowledges every application frame.
func EchoHandler(ctx context.Context, s Sender, id domain.ConnID, _ []byte) error {
	return s.Send(ctx, id, domain.ReceivedMessage())
}

// Config tunes outbound writes. Zero values fall back to the defaults.
type Config struct {
	WriteTimeout time.Duration
	Concurrency  int
}

type Dispatcher struct {
	registry *registry.Registry
	cfg      Config
	handler  Handler
	metrics  *metrics.DispatchMetrics
}

// New creates a dispatcher. A nil handler means EchoHandler; m may be nil.
func New(reg *registry.Registry, cfg Config, handler Handler, m *metrics.DispatchMetrics) *Dispatcher {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if handler == nil {
		handler = EchoHandler
	}
	return &Dispatcher{registry: reg, cfg: cfg, handler: handler, metrics: m}
}

// Accept registers transport and greets the peer with its connection id.
func (d *Dispatcher) Accept(ctx context.Context, transport domain.Transport) (domain.ConnID, error) {
	id, err := d.registry.Register(ctx, transport)
	if err != nil {
		return "", err
	}

	if err := d.Send(ctx, id, domain.NewConnectionIDMessage(id)); err != nil {
		return "", err
	}
	return id, nil
}

// Serve runs the receive loop of id until the peer disconnects or ctx is cancelled.
// Pong frames refresh liveness, all other frames go to the handler. The connection is
// unregistered when Serve returns.
func (d *Dispatcher) Serve(ctx context.Context, id domain.ConnID) error {
	conn, ok := d.registry.Lookup(id)
	if !ok {
		return domain.ErrConnectionNotFound
	}
	ctx = correlation.Ensure(ctx)

	// Closing the transport is what unblocks a pending read.
	stop := context.AfterFunc(ctx, func() {
		d.registry.Unregister(id, domain.EvictShutdown)
	})
	defer stop()

	for {
		payload, err := conn.Read(ctx)
		if err != nil {
			reason := domain.EvictClosed
			if ctx.Err() != nil {
				reason = domain.EvictShutdown
			}
			slog.DebugContext(ctx, "Receive loop ended", "conn_id", id.String(), "error", err)
			d.registry.Unregister(id, reason)
			return nil
		}

		kind := Classify(payload)
		if d.metrics != nil {
			d.metrics.FramesReceived.WithLabelValues(kind.String()).Inc()
		}

		switch kind {
		case FramePong:
			d.registry.MarkPongReceived(id)
		case FrameApplication:
			d.handle(ctx, id, payload)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, id domain.ConnID, payload []byte) {
	if err := d.invoke(ctx, id, payload); err != nil {
		var sendErr *domain.SendError
		if errors.As(err, &sendErr) && sendErr.ConnID == id {
			// The connection is gone, there is nobody to report to.
			return
		}
		slog.WarnContext(ctx, "Message handler failed", "conn_id", id.String(), "error", err)
		if err := d.Send(ctx, id, domain.ErrorMessage()); err != nil {
			slog.DebugContext(ctx, "Failed to send error frame", "conn_id", id.String(), "error", err)
		}
	}
}

func (d *Dispatcher) invoke(ctx context.Context, id domain.ConnID, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Message handler panic recovered", "conn_id", id.String(), "panic", r)
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return d.handler(ctx, d, id, payload)
}

// Send encodes msg as JSON and writes it to id. A failed write unregisters the
// connection and returns a *domain.SendError.
func (d *Dispatcher) Send(ctx context.Context, id domain.ConnID, msg any) error {
	conn, ok := d.registry.Lookup(id)
	if !ok {
		return domain.ErrConnectionNotFound
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	if err := d.write(ctx, conn, data); err != nil {
		d.registry.Unregister(id, domain.EvictSendFailed)
		return &domain.SendError{ConnID: id, Err: err}
	}
	return nil
}

// Broadcast wraps payload in a broadcast frame and writes it to every connection of the
// current snapshot concurrently. Recipients whose write fails are unregistered; the
// others are left untouched. Only an unencodable payload is reported as an error.
func (d *Dispatcher) Broadcast(ctx context.Context, payload any) (domain.BroadcastResult, error) {
	data, err := json.Marshal(domain.NewBroadcastMessage(payload))
	if err != nil {
		return domain.BroadcastResult{}, fmt.Errorf("encode broadcast: %w", err)
	}

	start := time.Now()
	entries := d.registry.Snapshot()

	var (
		mu        sync.Mutex
		failed    []domain.ConnID
		delivered atomic.Int64
	)

	g := new(errgroup.Group)
	g.SetLimit(d.cfg.Concurrency)

	for _, entry := range entries {
		g.Go(func() error {
			if err := d.write(ctx, entry.Conn, data); err != nil {
				slog.DebugContext(ctx, "Broadcast recipient failed", "conn_id", entry.ID.String(), "error", err)
				mu.Lock()
				failed = append(failed, entry.ID)
				mu.Unlock()
				return nil
			}
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	d.unregisterAll(failed)

	result := domain.BroadcastResult{Delivered: int(delivered.Load()), Failed: len(failed)}

	if d.metrics != nil {
		d.metrics.Broadcasts.Inc()
		d.metrics.BroadcastRecipients.WithLabelValues("delivered").Add(float64(result.Delivered))
		d.metrics.BroadcastRecipients.WithLabelValues("failed").Add(float64(result.Failed))
		d.metrics.BroadcastDuration.Observe(time.Since(start).Seconds())
	}

	slog.InfoContext(ctx, "Broadcast complete",
		"recipients", len(entries),
		"delivered_count", result.Delivered,
		"failed_count", result.Failed,
	)
	return result, nil
}

// write sends one frame with the write timeout. Panics from the transport are turned
// into errors so one connection cannot take down a fan-out.
func (d *Dispatcher) write(ctx context.Context, conn *registry.Conn, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Write panic recovered", "conn_id", conn.ID().String(), "panic", r)
			err = fmt.Errorf("write panicked: %v", r)
		}
	}()

	writeCtx, cancel := context.WithTimeout(ctx, d.cfg.WriteTimeout)
	defer cancel()

	if err := conn.Write(writeCtx, data); err != nil {
		if d.metrics != nil {
			d.metrics.SendFailures.Inc()
		}
		return err
	}
	return nil
}

func (d *Dispatcher) unregisterAll(ids []domain.ConnID) {
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.registry.Unregister(id, domain.EvictSendFailed)
		}()
	}
	wg.Wait()
}

var _ Sender = (*Dispatcher)(nil)
