package connection

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

// maxLoggedFrame caps raw frame bytes included in parse failure logs.
const maxLoggedFrame = 512

// Channel is a live subscription to one topic on one endpoint. It keeps
// reconnecting after transport failures until Close is called.
//
// All connection events, heartbeat ticks and reconnect ticks are handled on
// a single goroutine, so the fields below marked as loop-owned need no locking.
type Channel struct {
	id        uuid.UUID
	url       string
	topic     Topic
	payload   []byte
	onMessage func(Message)

	cfg       ManagerConfig
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	events    chan connEvent
	closeReq  chan struct{}
	closeOnce sync.Once
	done      chan struct{}

	state atomic.Int32

	// Loop-owned
	conn      Conn
	gen       uint64 // Generation of conn; events carrying any other value are stale
	heartbeat *clock.Ticker
	reconnect *clock.Timer

	stats channelCounters
}

// connEvent tags a transport event with the connection generation that produced it.
type connEvent struct {
	gen uint64
	Event
}

type channelCounters struct {
	connects          atomic.Int64
	reconnectsPending atomic.Int64
	heartbeatsSent    atomic.Int64
	heartbeatsSkipped atomic.Int64
	messagesDelivered atomic.Int64
	parseErrors       atomic.Int64
	staleEvents       atomic.Int64
}

func newChannel(ctx context.Context, m *Manager, url string, topic Topic, payload []byte, onMessage func(Message)) *Channel {
	id := uuid.New()
	ctx, cancel := context.WithCancel(ctx)

	c := &Channel{
		id:        id,
		url:       url,
		topic:     topic,
		payload:   payload,
		onMessage: onMessage,
		cfg:       m.cfg,
		transport: m.transport,
		clock:     m.clock,
		logger:    m.logger.With("channel_id", id.String(), "topic", string(topic)),
		ctx:       ctx,
		cancel:    cancel,
		events:    make(chan connEvent, m.cfg.EventBufferSize),
		closeReq:  make(chan struct{}),
		done:      make(chan struct{}),
	}
	c.state.Store(int32(StateConnecting))
	return c
}

// ID returns the channel's unique handle id.
func (c *Channel) ID() uuid.UUID { return c.id }

// Topic returns the subscribed topic.
func (c *Channel) Topic() Topic { return c.topic }

// URL returns the endpoint address.
func (c *Channel) URL() string { return c.url }

// State returns the current lifecycle state.
func (c *Channel) State() State {
	return State(c.state.Load())
}

// Done is closed once the channel has reached StateClosed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Stats returns a snapshot of the channel counters.
func (c *Channel) Stats() ChannelStats {
	return ChannelStats{
		Connects:          c.stats.connects.Load(),
		ReconnectsPending: c.stats.reconnectsPending.Load(),
		HeartbeatsSent:    c.stats.heartbeatsSent.Load(),
		HeartbeatsSkipped: c.stats.heartbeatsSkipped.Load(),
		MessagesDelivered: c.stats.messagesDelivered.Load(),
		ParseErrors:       c.stats.parseErrors.Load(),
		StaleEvents:       c.stats.staleEvents.Load(),
	}
}

// Close stops the channel. The heartbeat and any pending reconnect are
// cancelled and the connection is closed if it is up. Close does not wait;
// use Done for that. Calling Close more than once is a no-op.
func (c *Channel) Close() {
	c.closeOnce.Do(func() { close(c.closeReq) })
}

// run is the channel's event loop.
func (c *Channel) run(onExit func(*Channel)) {
	defer close(c.done)
	defer onExit(c)

	c.connect()

	for {
		select {
		case <-c.closeReq:
		case ev := <-c.events:
			if !c.closing() {
				c.handle(ev)
			}
		case <-c.heartbeatC():
			if !c.closing() {
				c.sendHeartbeat()
			}
		case <-c.reconnectC():
			if !c.closing() {
				c.reconnect = nil
				c.connect()
			}
		}

		if c.closing() {
			c.shutdown()
			return
		}
	}
}

// closing reports whether Close has been requested.
func (c *Channel) closing() bool {
	select {
	case <-c.closeReq:
		return true
	default:
		return false
	}
}

func (c *Channel) heartbeatC() <-chan time.Time {
	if c.heartbeat == nil {
		return nil
	}
	return c.heartbeat.C
}

func (c *Channel) reconnectC() <-chan time.Time {
	if c.reconnect == nil {
		return nil
	}
	return c.reconnect.C
}

// connect discards the previous connection and opens a new one.
func (c *Channel) connect() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	c.gen++
	gen := c.gen

	c.setState(StateConnecting)
	c.stats.connects.Add(1)

	c.logger.Debug("connecting", "url", c.url, "attempt", gen)
	c.conn = c.transport.Open(c.ctx, c.url, func(ev Event) {
		c.post(gen, ev)
	})
}

// post queues a transport event for the loop. It gives up once the loop has exited.
func (c *Channel) post(gen uint64, ev Event) {
	select {
	case c.events <- connEvent{gen: gen, Event: ev}:
	case <-c.done:
	}
}

// handle applies one transport event to the state machine.
func (c *Channel) handle(ev connEvent) {
	if ev.gen != c.gen {
		c.stats.staleEvents.Add(1)
		c.logger.Debug("dropping event from discarded connection",
			"event", ev.Kind,
			"gen", ev.gen,
			"current_gen", c.gen,
		)
		return
	}

	switch {
	case ev.Kind == EventReady:
		c.onReady()
	case ev.Kind == EventMessage:
		c.deliver(ev.Event)
	case ev.Kind.Terminal():
		c.onTerminal(ev.Event)
	}
}

// onReady subscribes and arms the heartbeat.
func (c *Channel) onReady() {
	if c.State() != StateConnecting {
		return
	}

	if err := c.conn.Send(c.payload); err != nil {
		c.logger.Warn("failed to send subscription", "error", err)
	}

	c.stopHeartbeat()
	c.heartbeat = c.clock.Ticker(c.cfg.HeartbeatInterval)

	c.setState(StateReady)
	c.logger.Info("channel ready", "url", c.url)
}

// deliver parses a frame and hands it to the consumer.
func (c *Channel) deliver(ev Event) {
	msg, err := ParseMessage(ev.Data)
	if err != nil {
		c.stats.parseErrors.Add(1)
		// Bare text such as a "pong" reply logs at Warn; broken JSON at Error.
		level := slog.LevelError
		if !looksLikeJSON(ev.Data) {
			level = slog.LevelWarn
		}
		c.logger.Log(c.ctx, level, "failed to parse message",
			"error", err,
			"raw", truncate(ev.Data, maxLoggedFrame),
		)
		return
	}

	msg.Topic = c.topic
	msg.ChannelID = c.id
	msg.ReceivedAt = ev.ReceivedAt

	c.stats.messagesDelivered.Add(1)
	c.onMessage(msg)
}

// onTerminal handles transport error and close alike: stop the heartbeat,
// then schedule exactly one reconnect.
func (c *Channel) onTerminal(ev Event) {
	if c.State() == StateReconnectPending {
		return
	}

	c.stopHeartbeat()

	if ev.Kind == EventError {
		c.logger.Warn("connection error", "error", ev.Err)
	} else {
		c.logger.Info("connection closed", "reason", ev.Err)
	}

	if c.reconnect != nil {
		c.reconnect.Stop()
	}
	c.reconnect = c.clock.Timer(c.cfg.ReconnectDelay)
	c.stats.reconnectsPending.Add(1)

	c.setState(StateReconnectPending)
	c.logger.Info("reconnect scheduled", "delay", c.cfg.ReconnectDelay)
}

// sendHeartbeat pings if the connection is still ready; otherwise the tick is skipped.
func (c *Channel) sendHeartbeat() {
	if c.State() != StateReady || c.conn == nil || !c.conn.Ready() {
		c.stats.heartbeatsSkipped.Add(1)
		c.logger.Debug("heartbeat skipped, connection not ready")
		return
	}

	if err := c.conn.Send(pingFrame); err != nil {
		c.logger.Warn("failed to send heartbeat", "error", err)
		return
	}
	c.stats.heartbeatsSent.Add(1)
}

func (c *Channel) stopHeartbeat() {
	if c.heartbeat != nil {
		c.heartbeat.Stop()
		c.heartbeat = nil
	}
}

// shutdown clears both timers and the connection in one loop turn.
func (c *Channel) shutdown() {
	c.stopHeartbeat()

	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}

	if c.conn != nil {
		if c.conn.Ready() {
			c.logger.Info("closing connection")
		}
		if err := c.conn.Close(); err != nil {
			c.logger.Debug("close connection", "error", err)
		}
		c.conn = nil
	}

	c.cancel()
	c.setState(StateClosed)
	c.logger.Info("channel closed")
}

func (c *Channel) setState(s State) {
	c.state.Store(int32(s))
}

// looksLikeJSON reports whether data starts like a JSON object or array.
func looksLikeJSON(data []byte) bool {
	data = bytes.TrimSpace(data)
	return len(data) > 0 && (data[0] == '{' || data[0] == '[')
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
