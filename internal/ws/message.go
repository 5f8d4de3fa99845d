package ws

import "time"

// MessageType discriminates stream messages.
type MessageType string

const (
	MessageCircuitChanged MessageType = "circuit.changed"
	MessageCallFailed     MessageType = "call.failed"
	MessageCallSucceeded  MessageType = "call.succeeded"
)

// Message is the envelope for all stream messages.
type Message struct {
	Type      MessageType `json:"type"`
	Provider  string      `json:"provider"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// CircuitChangedData is the payload for circuit.changed messages.
type CircuitChangedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// CallFailedData is the payload for call.failed messages.
type CallFailedData struct {
	Error string `json:"error"`
}
