package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// MessageType identifies what an uplink envelope carries
type MessageType string

const (
	MessageTypeReading MessageType = "reading"
	MessageTypeSummary MessageType = "summary"
	MessageTypeAck     MessageType = "ack"
	MessageTypeError   MessageType = "error"
)

// Message is the envelope for everything forwarded to the telemetry endpoint
type Message struct {
	ID        string          `json:"id"`
	Type      MessageType     `json:"type"`
	DeviceID  string          `json:"device_id,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a new message with a fresh ID for the given type and payload
func NewMessage(msgType MessageType, deviceID string, payload interface{}) (*Message, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		DeviceID:  deviceID,
		Payload:   payloadJSON,
		Timestamp: time.Now().UTC(),
	}, nil
}

// AckMessage is the payload for MessageTypeAck
type AckMessage struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	EntryID   int64  `json:"entry_id,omitempty"`
}

// ErrorMessage is the payload for MessageTypeError
type ErrorMessage struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// UnmarshalPayload unmarshals the message payload into the provided struct
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}
