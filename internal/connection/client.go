package connection

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Transport opens duplex message-stream connections.
type Transport interface {
	// Open starts connecting to url and returns immediately. Every
	// notification for the returned Conn is passed to emit, in order,
	// from a single goroutine. A Conn emits at most one terminal event.
	Open(ctx context.Context, url string, emit func(Event)) Conn
}

// Conn is a single connection produced by a Transport.
type Conn interface {
	// Send writes one text frame.
	Send(data []byte) error

	// Close shuts the connection down. An in-flight dial is aborted.
	// The read failure caused by Close is not reported as a terminal event.
	Close() error

	// Ready reports whether the connection is established and not closed.
	Ready() bool
}

// WebSocketTransport is a Transport backed by gorilla/websocket.
type WebSocketTransport struct {
	cfg    ClientConfig
	logger *slog.Logger
}

// NewWebSocketTransport creates a new WebSocket transport. Zero timeouts fall
// back to DefaultClientConfig; a zero ReadTimeout stays disabled.
func NewWebSocketTransport(cfg ClientConfig, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultClientConfig()
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	return &WebSocketTransport{cfg: cfg, logger: logger}
}

// Open dials url in the background.
func (t *WebSocketTransport) Open(ctx context.Context, url string, emit func(Event)) Conn {
	ctx, cancel := context.WithCancel(ctx)
	c := &wsConn{
		cfg:    t.cfg,
		logger: t.logger.With("url", url),
		url:    url,
		emit:   emit,
		cancel: cancel,
	}
	go c.run(ctx)
	return c
}

// wsConn implements Conn.
type wsConn struct {
	cfg    ClientConfig
	logger *slog.Logger
	url    string
	emit   func(Event)
	cancel context.CancelFunc

	// Write serialization
	writeMu sync.Mutex

	// State
	mu     sync.RWMutex
	conn   *websocket.Conn
	ready  bool
	closed bool
}

// run dials, reports readiness, then reads until the connection ends.
func (c *wsConn) run(ctx context.Context) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if !c.isClosed() {
			c.emit(Event{Kind: EventError, Err: err, ReceivedAt: time.Now()})
		}
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.ready = true
	c.mu.Unlock()

	if c.cfg.ReadTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		})
	}

	c.logger.Debug("websocket connected")
	c.emit(Event{Kind: EventReady, ReceivedAt: time.Now()})

	c.readLoop(conn)
}

// readLoop forwards frames until a read fails.
func (c *wsConn) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			c.mu.Lock()
			c.ready = false
			closed := c.closed
			c.mu.Unlock()

			// Errors after Close() are expected
			if closed {
				return
			}

			kind := EventError
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) {
				kind = EventClose
			}
			c.emit(Event{Kind: kind, Err: err, ReceivedAt: receivedAt})
			return
		}

		if c.cfg.ReadTimeout > 0 {
			conn.SetReadDeadline(receivedAt.Add(c.cfg.ReadTimeout))
		}

		c.emit(Event{Kind: EventMessage, Data: data, ReceivedAt: receivedAt})
	}
}

// Send writes raw bytes to the connection.
func (c *wsConn) Send(data []byte) error {
	c.mu.RLock()
	conn := c.conn
	ready := c.ready
	closed := c.closed
	c.mu.RUnlock()

	if closed {
		return ErrAlreadyClosed
	}
	if !ready {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close gracefully closes the connection.
func (c *wsConn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.ready = false
	conn := c.conn
	c.mu.Unlock()

	c.cancel()

	if conn == nil {
		return nil
	}

	// Send close message
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)

	return conn.Close()
}

// Ready returns the current connection state.
func (c *wsConn) Ready() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *wsConn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}
