package websocket

import (
	"encoding/json"
	"time"
)

// MessageType defines the type of a WebSocket control message
type MessageType string

const (
	// Inbound
	MessageTypeHeartbeat MessageType = "heartbeat"

	// Outbound
	MessageTypePong  MessageType = "pong"
	MessageTypeError MessageType = "error"
)

// Message is a control message. Events from the bus use the same envelope.
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      any         `json:"data,omitempty"`
}

// InboundMessage is what clients send. Data stays raw until a handler decodes it.
type InboundMessage struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

// NewMessage creates a new message with current timestamp
func NewMessage(msgType MessageType, data any) Message {
	return Message{
		Type:      msgType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

func NewErrorMessage(text string) Message {
	return NewMessage(MessageTypeError, ErrorData{Message: text})
}
