package connection

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Topic identifies a feed stream a caller can subscribe to.
type Topic string

const (
	TopicOrderBook Topic = "orderBook"
	TopicLastPrice Topic = "lastPrice"
)

// Request is an outbound command frame.
type Request struct {
	Op   string   `json:"op"`
	Args []string `json:"args,omitempty"`
}

// pingFrame is sent on every heartbeat tick.
var pingFrame = mustMarshal(Request{Op: "ping"})

// defaultChannels maps each built-in topic to its feed channel name.
var defaultChannels = map[Topic]string{
	TopicOrderBook: "update:BTCPFC",
	TopicLastPrice: "tradeHistoryApi:BTCPFC",
}

// Topics is an immutable registry of subscription payloads, built once.
// It is safe for concurrent use.
type Topics struct {
	channels map[Topic]string
	payloads map[Topic][]byte
}

// NewTopics serializes one subscribe frame per topic.
func NewTopics(channels map[Topic]string) (*Topics, error) {
	t := &Topics{
		channels: make(map[Topic]string, len(channels)),
		payloads: make(map[Topic][]byte, len(channels)),
	}
	for topic, name := range channels {
		if topic == "" {
			return nil, fmt.Errorf("register topic: empty topic id")
		}
		if name == "" {
			return nil, fmt.Errorf("register topic %q: empty channel name", topic)
		}
		data, err := json.Marshal(Request{Op: "subscribe", Args: []string{name}})
		if err != nil {
			return nil, fmt.Errorf("marshal subscribe %q: %w", topic, err)
		}
		t.channels[topic] = name
		t.payloads[topic] = data
	}
	return t, nil
}

// DefaultTopics returns the built-in BTCPFC registry.
func DefaultTopics() *Topics {
	t, err := NewTopics(defaultChannels)
	if err != nil {
		panic(err)
	}
	return t
}

// Payload returns the subscribe frame for topic. Callers must not modify it.
func (t *Topics) Payload(topic Topic) ([]byte, bool) {
	p, ok := t.payloads[topic]
	return p, ok
}

// Channel returns the feed channel name registered for topic.
func (t *Topics) Channel(topic Topic) (string, bool) {
	name, ok := t.channels[topic]
	return name, ok
}

// Has reports whether topic is registered.
func (t *Topics) Has(topic Topic) bool {
	_, ok := t.payloads[topic]
	return ok
}

// List returns registered topics in sorted order.
func (t *Topics) List() []Topic {
	out := make([]Topic, 0, len(t.payloads))
	for topic := range t.payloads {
		out = append(out, topic)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseTopic validates s against the registry.
func (t *Topics) ParseTopic(s string) (Topic, error) {
	topic := Topic(s)
	if !t.Has(topic) {
		return "", fmt.Errorf("%w: %s", ErrUnknownTopic, s)
	}
	return topic, nil
}

func mustMarshal(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}
