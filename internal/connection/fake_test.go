package connection

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// fakeTransport records every Open call and hands back a scriptable fakeConn.
type fakeTransport struct {
	mu    sync.Mutex
	conns []*fakeConn
}

func (t *fakeTransport) Open(ctx context.Context, url string, emit func(Event)) Conn {
	c := &fakeConn{url: url, emit: emit}
	t.mu.Lock()
	t.conns = append(t.conns, c)
	t.mu.Unlock()
	return c
}

func (t *fakeTransport) opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *fakeTransport) conn(i int) *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conns[i]
}

type fakeConn struct {
	url  string
	emit func(Event)

	mu     sync.Mutex
	ready  bool
	closed bool
	sent   [][]byte
}

func (c *fakeConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrNotConnected
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.ready = false
	return nil
}

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConn) setReady(ready bool) {
	c.mu.Lock()
	c.ready = ready
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) frames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.sent))
	for i, f := range c.sent {
		out[i] = string(f)
	}
	return out
}

func (c *fakeConn) fireReady() {
	c.setReady(true)
	c.emit(Event{Kind: EventReady, ReceivedAt: time.Now()})
}

func (c *fakeConn) fireMessage(data string) {
	c.emit(Event{Kind: EventMessage, Data: []byte(data), ReceivedAt: time.Now()})
}

func (c *fakeConn) fireError() {
	c.setReady(false)
	c.emit(Event{Kind: EventError, Err: errors.New("connection reset by peer"), ReceivedAt: time.Now()})
}

func (c *fakeConn) fireClose() {
	c.setReady(false)
	c.emit(Event{Kind: EventClose, Err: errors.New("websocket: close 1000 (normal)"), ReceivedAt: time.Now()})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestManager(t *testing.T, cfg ManagerConfig) (*Manager, *fakeTransport, *clock.Mock) {
	t.Helper()
	return newTestManagerWithLogger(t, cfg, discardLogger())
}

func newTestManagerWithLogger(t *testing.T, cfg ManagerConfig, logger *slog.Logger) (*Manager, *fakeTransport, *clock.Mock) {
	t.Helper()

	tr := &fakeTransport{}
	clk := clock.NewMock()
	m := NewManager(cfg, tr, logger, WithClock(clk))

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m, tr, clk
}

// waitConn waits for the n-th transport Open (1-based) and returns its conn.
func waitConn(t *testing.T, tr *fakeTransport, n int) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return tr.opens() >= n }, time.Second, time.Millisecond,
		"expected %d transport opens, got %d", n, tr.opens())
	return tr.conn(n - 1)
}

func waitState(t *testing.T, ch *Channel, want State) {
	t.Helper()
	require.Eventually(t, func() bool { return ch.State() == want }, time.Second, time.Millisecond,
		"channel state = %s, want %s", ch.State(), want)
}

func waitFrames(t *testing.T, c *fakeConn, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.frames()) >= n }, time.Second, time.Millisecond,
		"expected %d frames, got %v", n, c.frames())
	return c.frames()
}
