package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// Option configures a Manager.
type Option func(*Manager)

// WithTopics replaces the built-in topic registry.
func WithTopics(topics *Topics) Option {
	return func(m *Manager) {
		m.topics = topics
	}
}

// WithClock sets the clock that drives heartbeat and reconnect timers.
func WithClock(clk clock.Clock) Option {
	return func(m *Manager) {
		m.clock = clk
	}
}

// WithContext sets the parent context for every channel's connections.
func WithContext(ctx context.Context) Option {
	return func(m *Manager) {
		m.ctx = ctx
	}
}

// Manager opens and tracks feed channels.
type Manager struct {
	cfg       ManagerConfig
	transport Transport
	topics    *Topics
	clock     clock.Clock
	logger    *slog.Logger
	ctx       context.Context

	mu       sync.RWMutex
	channels map[uuid.UUID]*Channel
}

// NewManager creates a new Channel Manager.
func NewManager(cfg ManagerConfig, transport Transport, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultManagerConfig()
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = defaults.ReconnectDelay
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if cfg.EventBufferSize <= 0 {
		cfg.EventBufferSize = defaults.EventBufferSize
	}

	m := &Manager{
		cfg:       cfg,
		transport: transport,
		topics:    DefaultTopics(),
		clock:     clock.New(),
		logger:    logger,
		ctx:       context.Background(),
		channels:  make(map[uuid.UUID]*Channel),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Topics returns the registry used to validate Open requests.
func (m *Manager) Topics() *Topics {
	return m.topics
}

// Open starts a channel for topic on url and returns its handle immediately;
// the connection comes up asynchronously. An unregistered topic fails with
// ErrUnknownTopic before any connection attempt.
func (m *Manager) Open(url string, topic Topic, onMessage func(Message)) (*Channel, error) {
	if url == "" {
		return nil, ErrEmptyURL
	}

	payload, ok := m.topics.Payload(topic)
	if !ok {
		m.logger.Error("unknown topic", "topic", topic)
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	if onMessage == nil {
		onMessage = func(Message) {}
	}

	ch := newChannel(m.ctx, m, url, topic, payload, onMessage)

	m.mu.Lock()
	m.channels[ch.id] = ch
	m.mu.Unlock()

	go ch.run(m.forget)

	m.logger.Info("channel opened",
		"channel_id", ch.id.String(),
		"topic", topic,
		"url", url,
	)

	return ch, nil
}

// Close stops ch. A nil or already closed handle is a no-op.
func (m *Manager) Close(ch *Channel) {
	if ch == nil {
		return
	}
	ch.Close()
}

// Channels returns the channels that have not yet closed, ordered by id.
func (m *Manager) Channels() []*Channel {
	m.mu.RLock()
	out := make([]*Channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].id.String() < out[j].id.String()
	})
	return out
}

// Shutdown closes every channel and waits for them to finish.
func (m *Manager) Shutdown(ctx context.Context) error {
	channels := m.Channels()
	m.logger.Info("stopping channel manager", "channels", len(channels))

	for _, ch := range channels {
		ch.Close()
	}

	for _, ch := range channels {
		select {
		case <-ch.Done():
		case <-ctx.Done():
			m.logger.Warn("shutdown timeout, channels still closing")
			return fmt.Errorf("shutdown channels: %w", ctx.Err())
		}
	}

	m.logger.Info("channel manager stopped")
	return nil
}

// Stats returns current statistics.
func (m *Manager) Stats() ManagerStats {
	var stats ManagerStats
	for _, ch := range m.Channels() {
		stats.OpenChannels++
		if ch.State() == StateReady {
			stats.ReadyChannels++
		}
		cs := ch.Stats()
		stats.MessagesDelivered += cs.MessagesDelivered
		stats.ParseErrors += cs.ParseErrors
		stats.Reconnects += cs.ReconnectsPending
	}
	return stats
}

// forget drops a closed channel from the registry.
func (m *Manager) forget(ch *Channel) {
	m.mu.Lock()
	delete(m.channels, ch.id)
	m.mu.Unlock()
}
