package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rickgao/btse-feed/internal/config"
	"github.com/rickgao/btse-feed/internal/connection"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultFeedURL, cfg.Feed.URL)
	assert.Equal(t, []string{"orderBook", "lastPrice"}, cfg.Feed.Topics)
}

func TestLoadConfig_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedtail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
feed:
  url: ws://localhost:9000/ws
subscriptions:
  ethOrderBook: update:ETHPFC
`), 0o600))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "ws://localhost:9000/ws", cfg.Feed.URL)
	assert.Equal(t, map[string]string{"ethOrderBook": "update:ETHPFC"}, cfg.Subscriptions)
	assert.Equal(t, []string{"ethOrderBook"}, cfg.Feed.Topics)
}

func TestLoadConfig_Missing(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestBuildTopics(t *testing.T) {
	topics, err := buildTopics(config.DefaultSubscriptions())
	require.NoError(t, err)
	assert.Equal(t, []connection.Topic{connection.TopicLastPrice, connection.TopicOrderBook}, topics.List())

	_, err = buildTopics(map[string]string{"orderBook": ""})
	require.Error(t, err)
}

func TestTopicsCommand(t *testing.T) {
	var out bytes.Buffer
	topicsCmd.SetOut(&out)
	topicsConfigPath = ""
	t.Cleanup(func() { topicsCmd.SetOut(nil) })

	require.NoError(t, runTopics(topicsCmd, nil))

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TOPIC"))
	assert.Contains(t, lines[1], "lastPrice")
	assert.Contains(t, lines[1], "tradeHistoryApi:BTCPFC")
	assert.Contains(t, lines[2], "orderBook")
	assert.Contains(t, lines[2], "update:BTCPFC")
}

func TestPrinter(t *testing.T) {
	msg, err := connection.ParseMessage([]byte(`{"topic":"update:BTCPFC","data":{}}`))
	require.NoError(t, err)
	msg.Topic = connection.TopicOrderBook
	msg.ChannelID = uuid.New()
	msg.ReceivedAt = time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)

	var short bytes.Buffer
	newPrinter(&short, false).print(msg)
	assert.Contains(t, short.String(), "2024-01-15T12:00:00Z")
	assert.Contains(t, short.String(), "update:BTCPFC")
	assert.Contains(t, short.String(), "35 bytes")

	var full bytes.Buffer
	newPrinter(&full, true).print(msg)
	assert.Equal(t, `2024-01-15T12:00:00Z orderBook {"topic":"update:BTCPFC","data":{}}`+"\n", full.String())
}

func TestPrinter_NoTopicField(t *testing.T) {
	msg, err := connection.ParseMessage([]byte(`{"op":"pong"}`))
	require.NoError(t, err)
	msg.Topic = connection.TopicLastPrice

	var out bytes.Buffer
	newPrinter(&out, false).print(msg)
	assert.Contains(t, out.String(), " - ")
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	newLogger(config.LogConfig{Level: "info", Format: "json"}, &buf).Info("hello", "k", 1)
	assert.True(t, strings.HasPrefix(buf.String(), "{"), "json handler output: %s", buf.String())

	buf.Reset()
	logger := newLogger(config.LogConfig{Level: "warn", Format: "text"}, &buf)
	logger.Info("suppressed")
	assert.Empty(t, buf.String())
	logger.Warn("shown")
	assert.Contains(t, buf.String(), "msg=shown")
}

func TestTopicsCommand_FromConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feedtail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
subscriptions:
  ethOrderBook: update:ETHPFC
`), 0o600))

	var out bytes.Buffer
	topicsCmd.SetOut(&out)
	topicsConfigPath = path
	t.Cleanup(func() {
		topicsCmd.SetOut(nil)
		topicsConfigPath = ""
	})

	require.NoError(t, runTopics(topicsCmd, nil))
	assert.Contains(t, out.String(), "ethOrderBook")
	assert.Contains(t, out.String(), "update:ETHPFC")
	assert.NotContains(t, out.String(), "orderBook ")
}

// lockedBuffer collects command output written from channel goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// feedServer answers each subscribe frame with one message for that channel.
func feedServer(t *testing.T, subscribed chan<- string) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()

		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		subscribed <- string(data)

		var req struct {
			Args []string `json:"args"`
		}
		if err := json.Unmarshal(data, &req); err != nil || len(req.Args) == 0 {
			return
		}
		reply := fmt.Sprintf(`{"topic":%q,"data":[]}`, req.Args[0])
		if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
			return
		}

		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
}

// setRunFlags sets the run command flags for one test.
func setRunFlags(t *testing.T, configPath string, topics []string) {
	t.Helper()
	runConfigPath, runTopicFlags, runVerbose, runRecord = configPath, topics, false, false

	oldLogger := slog.Default()
	t.Cleanup(func() {
		runConfigPath, runTopicFlags = "", nil
		slog.SetDefault(oldLogger)
	})
}

func TestRunCommand_StreamsUntilCancelled(t *testing.T) {
	subscribed := make(chan string, 8)
	server := feedServer(t, subscribed)
	defer server.Close()

	path := filepath.Join(t.TempDir(), "feedtail.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fmt.Sprintf(`
feed:
  url: ws%s
  heartbeat_interval: 1h
log:
  level: error
`, strings.TrimPrefix(server.URL, "http"))), 0o600))
	setRunFlags(t, path, []string{"orderBook", "lastPrice"})

	var out lockedBuffer
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runCmd.SetOut(&out)
	runCmd.SetContext(ctx)
	t.Cleanup(func() {
		runCmd.SetOut(nil)
		runCmd.SetContext(context.Background())
	})

	errCh := make(chan error, 1)
	go func() { errCh <- runFeed(runCmd, nil) }()

	var frames []string
	for len(frames) < 2 {
		select {
		case f := <-subscribed:
			frames = append(frames, f)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for subscriptions, got %v", frames)
		}
	}
	assert.ElementsMatch(t, []string{
		`{"op":"subscribe","args":["update:BTCPFC"]}`,
		`{"op":"subscribe","args":["tradeHistoryApi:BTCPFC"]}`,
	}, frames)

	require.Eventually(t, func() bool {
		s := out.String()
		return strings.Contains(s, "update:BTCPFC") && strings.Contains(s, "tradeHistoryApi:BTCPFC")
	}, 5*time.Second, 10*time.Millisecond, "output: %s", out.String())

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after the context was cancelled")
	}
}

func TestRunCommand_UnknownTopic(t *testing.T) {
	setRunFlags(t, "", []string{"fundingRate"})

	err := runFeed(runCmd, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown topic "fundingRate"`)
}
