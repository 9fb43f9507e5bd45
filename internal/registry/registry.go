package registry

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/connpulse/internal/adapter/metrics"
	"github.com/pscheid92/connpulse/internal/domain"
	"golang.org/x/sync/errgroup"
)

// closeConcurrency bounds parallel closes in CloseAll. A single close may block for
// the transport's close-frame deadline.
const closeConcurrency = 256

type record struct {
	conn         *Conn
	connectedAt  time.Time
	lastPongAt   time.Time
	awaitingPong bool
}

// Entry is a point-in-time copy of one tracked connection.
type Entry struct {
	ID           domain.ConnID
	ConnectedAt  time.Time
	LastPongAt   time.Time
	AwaitingPong bool
	Conn         *Conn
}

// Registry maps connection identifiers to live connections.
type Registry struct {
	mu         sync.RWMutex
	entries    map[domain.ConnID]*record
	transports map[domain.Transport]domain.ConnID
	pending    map[domain.Transport]struct{}
	closed     bool

	clock   clockwork.Clock
	metrics *metrics.ConnectionMetrics
}

// New creates an empty registry. m may be nil.
func New(clock clockwork.Clock, m *metrics.ConnectionMetrics) *Registry {
	return &Registry{
		entries:    make(map[domain.ConnID]*record),
		transports: make(map[domain.Transport]domain.ConnID),
		pending:    make(map[domain.Transport]struct{}),
		clock:      clock,
		metrics:    m,
	}
}

// Register performs the transport handshake and starts tracking the connection.
// On handshake failure the transport is closed, nothing is inserted and a
// *domain.AcceptError is returned.
func (r *Registry) Register(ctx context.Context, transport domain.Transport) (domain.ConnID, error) {
	// Reserve the transport before the handshake so a concurrent Register of the
	// same transport is rejected without running Accept twice.
	r.mu.Lock()
	_, tracked := r.transports[transport]
	_, pending := r.pending[transport]
	if tracked || pending {
		r.mu.Unlock()
		// The duplicate belongs to a live or in-flight registration, so it must not be closed here.
		return "", domain.ErrDuplicateTransport
	}
	if r.closed {
		r.mu.Unlock()
		r.closeUntracked(transport)
		return "", domain.ErrRegistryClosed
	}
	r.pending[transport] = struct{}{}
	r.mu.Unlock()

	if err := transport.Accept(ctx); err != nil {
		r.mu.Lock()
		delete(r.pending, transport)
		r.mu.Unlock()

		r.closeUntracked(transport)
		if r.metrics != nil {
			r.metrics.AcceptFailures.Inc()
		}
		slog.WarnContext(ctx, "Connection handshake failed", "error", err)
		return "", &domain.AcceptError{Err: err}
	}

	now := r.clock.Now()
	id := domain.ConnID(uuid.NewString())
	rec := &record{
		conn:        newConn(id, transport),
		connectedAt: now,
		lastPongAt:  now,
	}

	r.mu.Lock()
	delete(r.pending, transport)
	if r.closed {
		r.mu.Unlock()
		r.closeUntracked(transport)
		return "", domain.ErrRegistryClosed
	}
	r.entries[id] = rec
	r.transports[transport] = id
	total := len(r.entries)
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.Registered.Inc()
		r.metrics.ActiveConnections.Inc()
	}

	slog.InfoContext(ctx, "Connection registered", "conn_id", id.String(), "total_connections", total)
	return id, nil
}

// Unregister stops tracking id and closes its transport. It is idempotent: only the
// caller that actually removed the entry closes the transport and gets true back.
// Close errors are logged and swallowed.
func (r *Registry) Unregister(id domain.ConnID, reason domain.EvictReason) bool {
	r.mu.Lock()
	rec, exists := r.entries[id]
	if !exists {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	delete(r.transports, rec.conn.transport)
	remaining := len(r.entries)
	r.mu.Unlock()

	r.release(rec, reason)

	attrs := []any{"conn_id", id.String(), "reason", reason, "remaining_connections", remaining}
	switch reason {
	case domain.EvictSendFailed, domain.EvictPingFailed:
		slog.Warn("Connection unregistered", attrs...)
	case domain.EvictTimeout, domain.EvictPingUnanswered:
		slog.Info("Connection evicted", attrs...)
	default:
		slog.Info("Connection unregistered", attrs...)
	}
	return true
}

// CloseAll force-closes every tracked connection and rejects further registrations.
// Transports are closed concurrently, at most closeConcurrency at a time. Returns the
// number of connections closed.
func (r *Registry) CloseAll(reason domain.EvictReason) int {
	r.mu.Lock()
	records := make([]*record, 0, len(r.entries))
	for _, rec := range r.entries {
		records = append(records, rec)
	}
	clear(r.entries)
	clear(r.transports)
	r.closed = true
	r.mu.Unlock()

	g := new(errgroup.Group)
	g.SetLimit(closeConcurrency)
	for _, rec := range records {
		g.Go(func() error {
			r.release(rec, reason)
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("Registry closed", "disconnected_connections", len(records), "reason", reason)
	return len(records)
}

// Snapshot returns a copy of every tracked connection, oldest first.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for id, rec := range r.entries {
		entries = append(entries, Entry{
			ID:           id,
			ConnectedAt:  rec.connectedAt,
			LastPongAt:   rec.lastPongAt,
			AwaitingPong: rec.awaitingPong,
			Conn:         rec.conn,
		})
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b Entry) int {
		if c := a.ConnectedAt.Compare(b.ConnectedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return entries
}

// Lookup returns the handle of a tracked connection.
func (r *Registry) Lookup(id domain.ConnID) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, exists := r.entries[id]
	if !exists {
		return nil, false
	}
	return rec.conn, true
}

// MarkPongReceived records a liveness response. No-op when id is not tracked.
func (r *Registry) MarkPongReceived(id domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.entries[id]
	if !exists {
		return false
	}
	rec.awaitingPong = false
	rec.lastPongAt = r.clock.Now()
	return true
}

// MarkPingSent flags id as waiting for a pong. It returns false when the previous
// ping is still unanswered (the caller must evict) or when id is not tracked.
func (r *Registry) MarkPingSent(id domain.ConnID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, exists := r.entries[id]
	if !exists || rec.awaitingPong {
		return false
	}
	rec.awaitingPong = true
	return true
}

// Closed reports whether CloseAll has been called.
func (r *Registry) Closed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.closed
}

// Len returns the number of tracked connections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *Registry) release(rec *record, reason domain.EvictReason) {
	if err := rec.conn.close(); err != nil {
		closeErr := &domain.CloseError{ConnID: rec.conn.id, Err: err}
		slog.Warn("Failed to close connection", "conn_id", rec.conn.id.String(), "error", closeErr)
		if r.metrics != nil {
			r.metrics.CloseErrors.Inc()
		}
	}

	if r.metrics != nil {
		r.metrics.ActiveConnections.Dec()
		r.metrics.Unregistered.WithLabelValues(string(reason)).Inc()
	}
}

func (r *Registry) closeUntracked(transport domain.Transport) {
	if err := transport.Close(); err != nil {
		slog.Debug("Failed to close rejected transport", "error", err)
	}
}
