package domain

// Bare text tokens of the heartbeat protocol.
const (
	PingToken = "ping"
	PongToken = "pong"
)

// Values of the "type" field of structured frames.
const (
	MessageTypeConnectionID = "connection_id"
	MessageTypeResponse     = "response"
	MessageTypeBroadcast    = "broadcast"
	MessageTypeError        = "error"
)

// ConnectionIDMessage is sent once, right after a connection is registered.
type ConnectionIDMessage struct {
	Type string `json:"type"`
	ID   ConnID `json:"id"`
}

// TextMessage is a structured frame with a human readable message.
type TextMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// BroadcastMessage wraps an application payload sent to every connection.
type BroadcastMessage struct {
	Type    string `json:"type"`
	Message any    `json:"message"`
}

func NewConnectionIDMessage(id ConnID) ConnectionIDMessage {
	return ConnectionIDMessage{Type: MessageTypeConnectionID, ID: id}
}

// ReceivedMessage acknowledges an application frame.
func ReceivedMessage() TextMessage {
	return TextMessage{Type: MessageTypeResponse, Message: "Message received"}
}

// ErrorMessage tells the peer that handling its frame failed.
func ErrorMessage() TextMessage {
	return TextMessage{Type: MessageTypeError, Message: "An error occurred."}
}

func NewBroadcastMessage(payload any) BroadcastMessage {
	return BroadcastMessage{Type: MessageTypeBroadcast, Message: payload}
}

// BroadcastResult reports the outcome of one fan-out.
type BroadcastResult struct {
	Delivered int `json:"delivered_count"`
	Failed    int `json:"failed_count"`
}
