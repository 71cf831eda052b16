package network

import (
	"encoding/json"
	"fmt"
)

// Message is the envelope for every frame in both directions.
// Type routes the frame, Payload stays raw until the receiver knows what to decode.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// MaxMessageSize caps a single inbound frame.
const MaxMessageSize = 64 * 1024

// NewMessage marshals payload into a Message of the given type.
// A nil payload produces a frame without payload.
func NewMessage(msgType string, payload any) (Message, error) {
	if payload == nil {
		return Message{Type: msgType}, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Message{}, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	return Message{Type: msgType, Payload: raw}, nil
}

// Decode unmarshals the payload into v.
func (m Message) Decode(v any) error {
	if len(m.Payload) == 0 {
		return fmt.Errorf("%s: empty payload", m.Type)
	}
	if err := json.Unmarshal(m.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", m.Type, err)
	}
	return nil
}
