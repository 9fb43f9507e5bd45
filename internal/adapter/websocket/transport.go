// Package websocket adapts WebSocket libraries to the domain.Transport contract.
//
// Two implementations are available: gorilla/websocket (the default) and
// coder/websocket. Both perform the HTTP upgrade lazily in Accept so the registry
// decides when the handshake happens.
package websocket

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pscheid92/connpulse/internal/domain"
)

const (
	KindGorilla = "gorilla"
	KindCoder   = "coder"

	defaultReadLimit = 64 * 1024
)

var (
	ErrNotAccepted    = errors.New("websocket not accepted")
	ErrOriginRejected = errors.New("websocket origin rejected")
)

// Options configures the upgrade of every transport a Factory creates.
type Options struct {
	// CheckOrigin decides whether an upgrade request is allowed. Nil allows everything.
	CheckOrigin func(r *http.Request) bool
	// ReadLimit caps the size of one inbound message in bytes.
	ReadLimit int64
}

// Factory wraps an HTTP upgrade request into a transport that is not yet accepted.
type Factory func(w http.ResponseWriter, r *http.Request) domain.Transport

// NewFactory returns the factory for the named library.
func NewFactory(kind string, opts Options) (Factory, error) {
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	if opts.CheckOrigin == nil {
		opts.CheckOrigin = func(*http.Request) bool { return true }
	}

	switch kind {
	case KindGorilla, "":
		upgrader := newUpgrader(opts)
		return func(w http.ResponseWriter, r *http.Request) domain.Transport {
			return &GorillaTransport{w: w, r: r, upgrader: upgrader, readLimit: opts.ReadLimit}
		}, nil
	case KindCoder:
		return func(w http.ResponseWriter, r *http.Request) domain.Transport {
			return &CoderTransport{w: w, r: r, checkOrigin: opts.CheckOrigin, readLimit: opts.ReadLimit}
		}, nil
	default:
		return nil, fmt.Errorf("unknown websocket transport %q", kind)
	}
}
