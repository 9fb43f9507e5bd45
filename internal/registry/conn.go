package registry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/connpulse/internal/domain"
)

// Conn is the handle the registry hands out for a tracked connection. It can read and
// write frames but cannot close the transport; closing goes through Registry.Unregister.
type Conn struct {
	id        domain.ConnID
	transport domain.Transport
	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
}

func newConn(id domain.ConnID, transport domain.Transport) *Conn {
	return &Conn{id: id, transport: transport}
}

func (c *Conn) ID() domain.ConnID {
	return c.id
}

// Write sends one text frame. Writes to the same connection are serialized.
// Returns domain.ErrConnectionClosed once the registry has closed the transport.
func (c *Conn) Write(ctx context.Context, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.closed.Load() {
		return domain.ErrConnectionClosed
	}
	return c.transport.WriteText(ctx, data)
}

// Read blocks until the next inbound text frame. Only the connection's receive loop reads.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	if c.closed.Load() {
		return nil, domain.ErrConnectionClosed
	}
	return c.transport.ReadText(ctx)
}

// close does not take writeMu: closing the transport is what aborts a stalled write.
func (c *Conn) close() (err error) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		err = c.transport.Close()
	})
	return err
}
