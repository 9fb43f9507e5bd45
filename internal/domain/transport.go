package domain

import "context"

// Transport is the network capability for one client connection.
//
// Accept performs the protocol handshake and must be called exactly once, before
// any read or write. ReadText blocks until the next text frame arrives. WriteText
// must not be called concurrently; the registry serializes writes per connection.
// Close may be called concurrently with a blocked ReadText or WriteText and aborts them.
//
// Implementations must be comparable (pointer types), the registry keys on them
// to reject a transport that is already tracked.
type Transport interface {
	Accept(ctx context.Context) error
	ReadText(ctx context.Context) ([]byte, error)
	WriteText(ctx context.Context, data []byte) error
	Close() error
}
