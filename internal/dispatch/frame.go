package dispatch

import "github.com/pscheid92/connpulse/internal/domain"

// FrameKind is the closed set of inbound frame classes.
type FrameKind int

const (
	// FramePong is a liveness reply. It is consumed by the dispatcher.
	FramePong FrameKind = iota
	// FrameApplication is everything else. It is forwarded to the handler verbatim.
	FrameApplication
)

func (k FrameKind) String() string {
	switch k {
	case FramePong:
		return "pong"
	case FrameApplication:
		return "application"
	default:
		return "unknown"
	}
}

// Classify sorts an inbound payload. Only the exact bare token "pong" is a liveness reply.
func Classify(payload []byte) FrameKind {
	if string(payload) == domain.PongToken {
		return FramePong
	}
	return FrameApplication
}
