package config

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Feed.URL == "" {
		return errors.New("feed.url is required")
	}
	if !strings.HasPrefix(c.Feed.URL, "ws://") && !strings.HasPrefix(c.Feed.URL, "wss://") {
		return fmt.Errorf("feed.url must use ws:// or wss://, got %q", c.Feed.URL)
	}
	if c.Feed.ReconnectDelay <= 0 {
		return errors.New("feed.reconnect_delay must be > 0")
	}
	if c.Feed.HeartbeatInterval <= 0 {
		return errors.New("feed.heartbeat_interval must be > 0")
	}
	if c.Feed.ReadTimeout < 0 {
		return errors.New("feed.read_timeout must be >= 0")
	}

	if len(c.Subscriptions) == 0 {
		return errors.New("subscriptions must not be empty")
	}
	for _, topic := range sortedKeys(c.Subscriptions) {
		if c.Subscriptions[topic] == "" {
			return fmt.Errorf("subscriptions.%s channel name is required", topic)
		}
	}

	if len(c.Feed.Topics) == 0 {
		return errors.New("feed.topics must not be empty")
	}
	for i, topic := range c.Feed.Topics {
		if _, ok := c.Subscriptions[topic]; !ok {
			return fmt.Errorf("feed.topics[%d]: unknown topic %q", i, topic)
		}
	}

	if c.Recorder.Enabled {
		if err := c.Recorder.validate("recorder"); err != nil {
			return err
		}
		if err := c.Database.validate("database"); err != nil {
			return err
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error, got %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}

	return nil
}

func (r *RecorderConfig) validate(prefix string) error {
	if !tableNameRe.MatchString(r.Table) {
		return fmt.Errorf("%s.table %q is not a valid identifier", prefix, r.Table)
	}
	if r.BatchSize < 1 {
		return fmt.Errorf("%s.batch_size must be >= 1", prefix)
	}
	if r.BufferSize < 1 {
		return fmt.Errorf("%s.buffer_size must be >= 1", prefix)
	}
	if r.FlushInterval <= 0 {
		return fmt.Errorf("%s.flush_interval must be > 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.Password == "" {
		return fmt.Errorf("%s.password is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
