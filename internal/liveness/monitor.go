// Package liveness runs the heartbeat that detects and evicts dead connections.
package liveness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/connpulse/internal/adapter/metrics"
	"github.com/pscheid92/connpulse/internal/domain"
	"github.com/pscheid92/connpulse/internal/platform/correlation"
	"github.com/pscheid92/connpulse/internal/registry"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultTimeout      = 10 * time.Second
	defaultWriteTimeout = 5 * time.Second
	defaultConcurrency  = 64
)

var ErrAlreadyRunning = errors.New("liveness monitor already running")

var pingFrame = []byte(domain.PingToken)

// Config tunes the heartbeat. Zero values fall back to the defaults.
type Config struct {
	Interval     time.Duration
	Timeout      time.Duration
	WriteTimeout time.Duration
	Concurrency  int
}

// Monitor pings every tracked connection once per interval and evicts the ones that
// stop answering. Two independent triggers evict a connection: a ping that is still
// unanswered when the next cycle starts, and a last pong older than the timeout when
// the reply window of the current cycle closes.
type Monitor struct {
	registry *registry.Registry
	clock    clockwork.Clock
	cfg      Config
	metrics  *metrics.LivenessMetrics
	running  atomic.Bool
}

// CycleReport summarizes the ping phase of one heartbeat cycle.
type CycleReport struct {
	Pinged  int
	Evicted int
}

type eviction struct {
	id     domain.ConnID
	reason domain.EvictReason
}

// NewMonitor creates a monitor over reg. m may be nil.
func NewMonitor(reg *registry.Registry, clock clockwork.Clock, cfg Config, m *metrics.LivenessMetrics) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Monitor{registry: reg, clock: clock, cfg: cfg, metrics: m}
}

// Run drives the heartbeat until ctx is cancelled. Only one Run may be active per
// monitor; a second call returns ErrAlreadyRunning.
func (m *Monitor) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer m.running.Store(false)

	if m.cfg.Timeout >= m.cfg.Interval {
		slog.Warn("Heartbeat timeout is not shorter than the interval, cycles will overlap the reply window",
			"interval", m.cfg.Interval,
			"timeout", m.cfg.Timeout,
		)
	}

	ticker := m.clock.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	slog.Info("Liveness monitor started", "interval", m.cfg.Interval, "timeout", m.cfg.Timeout)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Liveness monitor stopped")
			return nil
		case <-ticker.Chan():
			cycleCtx := correlation.WithID(ctx, correlation.NewID())
			m.Cycle(cycleCtx)

			if !m.waitReplyWindow(ctx) {
				slog.Info("Liveness monitor stopped")
				return nil
			}
			m.Sweep(cycleCtx)
		}
	}
}

// Running reports whether Run is active.
func (m *Monitor) Running() bool {
	return m.running.Load()
}

func (m *Monitor) waitReplyWindow(ctx context.Context) bool {
	timer := m.clock.NewTimer(m.cfg.Timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.Chan():
		return true
	}
}

// Cycle runs the ping phase: connections whose previous ping is unanswered are evicted,
// every other connection gets a ping frame. Connections whose ping write fails are evicted too.
func (m *Monitor) Cycle(ctx context.Context) CycleReport {
	start := m.clock.Now()
	entries := m.registry.Snapshot()

	var (
		mu         sync.Mutex
		failed     []eviction
		unanswered []eviction
		pinged     atomic.Int64
	)

	g := new(errgroup.Group)
	g.SetLimit(m.cfg.Concurrency)

	for _, entry := range entries {
		if !m.registry.MarkPingSent(entry.ID) {
			unanswered = append(unanswered, eviction{entry.ID, domain.EvictPingUnanswered})
			continue
		}

		g.Go(func() error {
			if err := m.ping(ctx, entry); err != nil {
				slog.DebugContext(ctx, "Ping failed", "conn_id", entry.ID.String(), "error", err)
				if m.metrics != nil {
					m.metrics.PingFailures.Inc()
				}
				mu.Lock()
				failed = append(failed, eviction{entry.ID, domain.EvictPingFailed})
				mu.Unlock()
				return nil
			}
			pinged.Add(1)
			if m.metrics != nil {
				m.metrics.PingsSent.Inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	// Ping goroutines only touch failed; unanswered is owned by this loop.
	evictions := append(unanswered, failed...)
	report := CycleReport{Pinged: int(pinged.Load()), Evicted: m.evict(ctx, evictions)}

	if m.metrics != nil {
		m.metrics.Cycles.Inc()
		m.metrics.CycleDuration.Observe(m.clock.Since(start).Seconds())
	}

	slog.DebugContext(ctx, "Heartbeat cycle complete",
		"connections", len(entries),
		"pinged", report.Pinged,
		"evicted", report.Evicted,
	)
	return report
}

// Sweep evicts every connection whose last pong is older than the timeout, regardless
// of whether a ping is outstanding. Returns the number of connections evicted.
func (m *Monitor) Sweep(ctx context.Context) int {
	now := m.clock.Now()

	var evictions []eviction
	for _, entry := range m.registry.Snapshot() {
		idle := now.Sub(entry.LastPongAt)
		if idle <= m.cfg.Timeout {
			continue
		}
		slog.InfoContext(ctx, "Connection timed out", "conn_id", entry.ID.String(), "idle", idle)
		evictions = append(evictions, eviction{entry.ID, domain.EvictTimeout})
	}

	return m.evict(ctx, evictions)
}

func (m *Monitor) ping(ctx context.Context, entry registry.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "Ping panic recovered", "conn_id", entry.ID.String(), "panic", r)
			err = fmt.Errorf("ping panicked: %v", r)
		}
	}()

	writeCtx, cancel := context.WithTimeout(ctx, m.cfg.WriteTimeout)
	defer cancel()

	if err := entry.Conn.Write(writeCtx, pingFrame); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

// evict unregisters every listed connection concurrently and returns how many were
// actually removed by this call.
func (m *Monitor) evict(ctx context.Context, evictions []eviction) int {
	if len(evictions) == 0 {
		return 0
	}

	var removed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(m.cfg.Concurrency)

	for _, e := range evictions {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					slog.ErrorContext(ctx, "Eviction panic recovered", "conn_id", e.id.String(), "panic", r)
				}
			}()

			if m.registry.Unregister(e.id, e.reason) {
				removed.Add(1)
				if m.metrics != nil {
					m.metrics.Evictions.WithLabelValues(string(e.reason)).Inc()
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return int(removed.Load())
}
