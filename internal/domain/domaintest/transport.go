// Package domaintest provides in-memory fakes of the domain contracts for tests.
package domaintest

import (
	"context"
	"errors"
	"sync"

	"github.com/pscheid92/connpulse/internal/domain"
)

// ErrClosed is returned by reads and writes on a closed Transport.
var ErrClosed = errors.New("fake transport closed")

const inboundBufferSize = 64

// Transport is an in-memory domain.Transport. Inbound frames are queued with Push,
// outbound frames are recorded and can be read back with Written.
type Transport struct {
	mu         sync.Mutex
	acceptErr  error
	writeErr   error
	closeErr   error
	accepted   bool
	written    []string
	closeCount int

	inbound   chan []byte
	outbound  chan string
	closed    chan struct{}
	closeOnce sync.Once
}

func NewTransport() *Transport {
	return &Transport{
		inbound:  make(chan []byte, inboundBufferSize),
		outbound: make(chan string, inboundBufferSize),
		closed:   make(chan struct{}),
	}
}

// FailAccept makes the handshake fail with err.
func (t *Transport) FailAccept(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.acceptErr = err
}

// FailWrites makes every following write fail with err. A nil err restores writes.
func (t *Transport) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writeErr = err
}

// FailClose makes Close report err (the transport is still closed).
func (t *Transport) FailClose(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeErr = err
}

// Push queues an inbound text frame for ReadText.
func (t *Transport) Push(frame string) {
	select {
	case t.inbound <- []byte(frame):
	case <-t.closed:
	}
}

func (t *Transport) Accept(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.acceptErr != nil {
		return t.acceptErr
	}
	t.accepted = true
	return nil
}

func (t *Transport) ReadText(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-t.inbound:
		return frame, nil
	case <-t.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (t *Transport) WriteText(_ context.Context, data []byte) error {
	if t.IsClosed() {
		return ErrClosed
	}

	t.mu.Lock()
	if t.writeErr != nil {
		err := t.writeErr
		t.mu.Unlock()
		return err
	}
	t.written = append(t.written, string(data))
	t.mu.Unlock()

	select {
	case t.outbound <- string(data):
	default:
	}
	return nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	t.closeCount++
	err := t.closeErr
	t.mu.Unlock()

	t.closeOnce.Do(func() { close(t.closed) })
	return err
}

// Accepted reports whether the handshake succeeded.
func (t *Transport) Accepted() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.accepted
}

// Written returns every frame written so far, in order.
func (t *Transport) Written() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	result := make([]string, len(t.written))
	copy(result, t.written)
	return result
}

// Outbound delivers written frames as they happen. Frames are dropped when nobody reads.
func (t *Transport) Outbound() <-chan string {
	return t.outbound
}

// CloseCount returns how many times Close was called.
func (t *Transport) CloseCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeCount
}

func (t *Transport) IsClosed() bool {
	select {
	case <-t.closed:
		return true
	default:
		return false
	}
}

// Done is closed once the transport has been closed.
func (t *Transport) Done() <-chan struct{} {
	return t.closed
}

var _ domain.Transport = (*Transport)(nil)
