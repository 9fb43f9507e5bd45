package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/pscheid92/connpulse/internal/domain"
)

// CoderTransport is a domain.Transport backed by coder/websocket.
type CoderTransport struct {
	w           http.ResponseWriter
	r           *http.Request
	checkOrigin func(r *http.Request) bool
	readLimit   int64

	mu   sync.Mutex
	conn *websocket.Conn
}

// Accept applies the origin policy and upgrades the HTTP request.
func (t *CoderTransport) Accept(_ context.Context) error {
	if !t.checkOrigin(t.r) {
		http.Error(t.w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
		return ErrOriginRejected
	}

	// The origin has been checked above.
	conn, err := websocket.Accept(t.w, t.r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	conn.SetReadLimit(t.readLimit)

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// ReadText returns the next text message. Binary messages are dropped. Cancelling ctx
// closes the connection.
func (t *CoderTransport) ReadText(ctx context.Context) ([]byte, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}

	for {
		messageType, data, err := conn.Read(ctx)
		if err != nil {
			return nil, err
		}
		if messageType == websocket.MessageText {
			return data, nil
		}
		slog.DebugContext(ctx, "Dropping non-text websocket message", "message_type", messageType.String())
	}
}

// WriteText writes one text message. An expired ctx closes the connection.
func (t *CoderTransport) WriteText(ctx context.Context, data []byte) error {
	conn, err := t.connection()
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// Close tears the connection down without waiting for the peer's close frame.
func (t *CoderTransport) Close() error {
	conn, err := t.connection()
	if err != nil {
		return nil
	}
	return conn.CloseNow()
}

func (t *CoderTransport) connection() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotAccepted
	}
	return t.conn, nil
}

var _ domain.Transport = (*CoderTransport)(nil)
