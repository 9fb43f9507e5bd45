package websocket

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/connpulse/internal/domain"
)

const closeFrameDeadline = time.Second

func newUpgrader(opts Options) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     opts.CheckOrigin,
	}
}

// GorillaTransport is a domain.Transport backed by gorilla/websocket.
type GorillaTransport struct {
	w         http.ResponseWriter
	r         *http.Request
	upgrader  *websocket.Upgrader
	readLimit int64

	mu   sync.Mutex
	conn *websocket.Conn
}

// Accept upgrades the HTTP request. The upgrader answers rejected requests itself.
func (t *GorillaTransport) Accept(_ context.Context) error {
	conn, err := t.upgrader.Upgrade(t.w, t.r, nil)
	if err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	conn.SetReadLimit(t.readLimit)

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// ReadText returns the next text message. Binary messages are dropped. gorilla has no
// context support, so a pending read is aborted by Close.
func (t *GorillaTransport) ReadText(ctx context.Context) ([]byte, error) {
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage {
			return data, nil
		}
		slog.DebugContext(ctx, "Dropping non-text websocket message", "message_type", messageType)
	}
}

// WriteText writes one text message, bounded by the deadline of ctx.
func (t *GorillaTransport) WriteText(ctx context.Context, data []byte) error {
	conn, err := t.connection()
	if err != nil {
		return err
	}

	var deadline time.Time
	if d, ok := ctx.Deadline(); ok {
		deadline = d
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a normal closure frame on a best-effort basis and closes the connection.
func (t *GorillaTransport) Close() error {
	conn, err := t.connection()
	if err != nil {
		// Never upgraded: nothing to release.
		return nil
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = conn.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(closeFrameDeadline))
	return conn.Close()
}

func (t *GorillaTransport) connection() (*websocket.Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil, ErrNotAccepted
	}
	return t.conn, nil
}

var _ domain.Transport = (*GorillaTransport)(nil)
