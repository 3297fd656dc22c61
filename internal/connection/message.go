package connection

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Message is a parsed inbound frame delivered to the consumer callback.
type Message struct {
	Topic      Topic
	ChannelID  uuid.UUID
	ReceivedAt time.Time                  // Local timestamp when the transport read the frame
	Raw        json.RawMessage            // Original frame bytes
	Fields     map[string]json.RawMessage // Top-level object members
}

// ParseMessage decodes a frame into a Message. Frames that are not a JSON
// object fail with ErrParse.
func ParseMessage(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if fields == nil {
		return Message{}, fmt.Errorf("%w: not an object", ErrParse)
	}
	return Message{
		Raw:    json.RawMessage(data),
		Fields: fields,
	}, nil
}

// Decode unmarshals the whole frame into v.
func (m Message) Decode(v any) error {
	return json.Unmarshal(m.Raw, v)
}

// Field unmarshals a single top-level member into v.
// It returns false if the member is absent.
func (m Message) Field(key string, v any) (bool, error) {
	raw, ok := m.Fields[key]
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return true, fmt.Errorf("decode field %q: %w", key, err)
	}
	return true, nil
}
