// Package domain defines the core types and contracts of the connection registry.
//
// This package contains concept-oriented files (transport.go, connection.go, frames.go, errors.go)
// with shared types and cross-cutting interfaces. No implementation code - just contracts.
// Prevents circular imports between the registry, the liveness monitor and the dispatcher.
package domain
