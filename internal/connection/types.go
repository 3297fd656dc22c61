package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrUnknownTopic  = errors.New("unknown topic")
	ErrEmptyURL      = errors.New("empty url")
	ErrParse         = errors.New("parse message")
	ErrNotConnected  = errors.New("not connected")
	ErrAlreadyClosed = errors.New("already closed")
)

// EventKind identifies a transport notification.
type EventKind int

const (
	EventReady EventKind = iota
	EventMessage
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return "unknown"
	}
}

// Terminal reports whether the event ends the connection.
func (k EventKind) Terminal() bool {
	return k == EventError || k == EventClose
}

// Event is a notification emitted by a Conn.
type Event struct {
	Kind       EventKind
	Data       []byte    // Frame payload (EventMessage only)
	Err        error     // Cause (EventError / EventClose)
	ReceivedAt time.Time // Local timestamp when the transport produced the event
}

// State is the lifecycle state of a Channel.
type State int32

const (
	StateConnecting State = iota
	StateReady
	StateReconnectPending
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateReconnectPending:
		return "reconnect_pending"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ClientConfig configures the WebSocket transport.
type ClientConfig struct {
	HandshakeTimeout time.Duration // Dial handshake timeout
	WriteTimeout     time.Duration // Write deadline for sends
	ReadTimeout      time.Duration // Max silence before the connection is considered stale (0 = disabled)
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// ManagerConfig configures the Channel Manager.
type ManagerConfig struct {
	ReconnectDelay    time.Duration // Fixed wait between a terminal event and the next connect
	HeartbeatInterval time.Duration // Interval between ping frames while ready
	EventBufferSize   int           // Per-channel transport event queue
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		ReconnectDelay:    5 * time.Second,
		HeartbeatInterval: 30 * time.Second,
		EventBufferSize:   256,
	}
}

// ChannelStats holds per-channel counters.
type ChannelStats struct {
	Connects          int64
	ReconnectsPending int64
	HeartbeatsSent    int64
	HeartbeatsSkipped int64
	MessagesDelivered int64
	ParseErrors       int64
	StaleEvents       int64
}

// ManagerStats provides statistics about the channel manager.
type ManagerStats struct {
	OpenChannels      int
	ReadyChannels     int
	MessagesDelivered int64
	ParseErrors       int64
	Reconnects        int64
}
