package config

import (
	"log/slog"
	"strings"
	"time"
)

// Config is the root configuration for a feed client.
type Config struct {
	Feed          FeedConfig        `yaml:"feed"`
	Subscriptions map[string]string `yaml:"subscriptions"` // topic id → feed channel name
	Recorder      RecorderConfig    `yaml:"recorder"`
	Database      DBConfig          `yaml:"database"`
	Log           LogConfig         `yaml:"log"`
}

// FeedConfig holds the WebSocket endpoint and channel manager settings.
type FeedConfig struct {
	URL               string        `yaml:"url"`
	Topics            []string      `yaml:"topics"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"` // 0 disables stale detection
}

// RecorderConfig holds the message recorder settings.
type RecorderConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Table         string        `yaml:"table"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// SlogLevel maps Level to a slog.Level, defaulting to info.
func (l LogConfig) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
