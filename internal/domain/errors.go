package domain

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionNotFound = errors.New("connection not found")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrDuplicateTransport = errors.New("transport already registered")
	ErrRegistryClosed     = errors.New("registry closed")
)

// AcceptError means the transport handshake failed. The connection never entered the registry.
type AcceptError struct {
	Err error
}

func (e *AcceptError) Error() string { return fmt.Sprintf("accept connection: %v", e.Err) }
func (e *AcceptError) Unwrap() error { return e.Err }

// SendError means a write to one connection failed. The connection has been unregistered.
type SendError struct {
	ConnID ConnID
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to connection %s: %v", e.ConnID, e.Err)
}
func (e *SendError) Unwrap() error { return e.Err }

// CloseError means closing a transport failed. The entry is removed regardless.
type CloseError struct {
	ConnID ConnID
	Err    error
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("close connection %s: %v", e.ConnID, e.Err)
}
func (e *CloseError) Unwrap() error { return e.Err }
