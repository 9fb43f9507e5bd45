package domain

// ConnID identifies one live connection. It is assigned at register time and never reused.
type ConnID string

func (id ConnID) String() string { return string(id) }

// EvictReason records why a connection left the registry.
type EvictReason string

const (
	// EvictClosed means the peer went away or the receive loop ended.
	EvictClosed EvictReason = "closed"
	// EvictSendFailed means a write to the connection failed.
	EvictSendFailed EvictReason = "send_failed"
	// EvictPingUnanswered means the previous ping never got a pong.
	EvictPingUnanswered EvictReason = "ping_unanswered"
	// EvictPingFailed means writing the ping frame failed.
	EvictPingFailed EvictReason = "ping_failed"
	// EvictTimeout means no pong was observed within the heartbeat timeout.
	EvictTimeout EvictReason = "timeout"
	// EvictShutdown means the process is shutting down.
	EvictShutdown EvictReason = "shutdown"
)
