package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/btse-feed/internal/connection"
	"github.com/rickgao/btse-feed/internal/database"
	"github.com/rickgao/btse-feed/internal/recorder"
	"github.com/rickgao/btse-feed/internal/version"
)

const (
	statsInterval   = time.Minute
	shutdownTimeout = 10 * time.Second
)

var (
	runConfigPath string
	runTopicFlags []string
	runVerbose    bool
	runRecord     bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open one channel per topic and print every message",
	Args:  cobra.NoArgs,
	RunE:  runFeed,
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "path to config file (built-in defaults if empty)")
	runCmd.Flags().StringArrayVarP(&runTopicFlags, "topic", "t", nil, "topic to subscribe to (repeatable, overrides feed.topics)")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "print full frames and debug logs")
	runCmd.Flags().BoolVar(&runRecord, "record", false, "record messages to the database")
}

func runFeed(cmd *cobra.Command, _ []string) error {
	// A missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	cfg, err := loadConfig(runConfigPath)
	if err != nil {
		return err
	}
	if len(runTopicFlags) > 0 {
		cfg.Feed.Topics = runTopicFlags
	}
	if runRecord {
		cfg.Recorder.Enabled = true
	}
	if runVerbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	logger := newLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)

	logger.Info("starting feedtail",
		"version", version.Version,
		"commit", version.Commit,
		"url", cfg.Feed.URL,
		"topics", cfg.Feed.Topics,
	)

	topics, err := buildTopics(cfg.Subscriptions)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var rec *recorder.Recorder
	if cfg.Recorder.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Host,
			"port", cfg.Database.Port,
			"database", cfg.Database.Name,
		)
		pool, err := database.Connect(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()

		rec = recorder.New(recorder.Config{
			Table:         cfg.Recorder.Table,
			BatchSize:     cfg.Recorder.BatchSize,
			FlushInterval: cfg.Recorder.FlushInterval,
			BufferSize:    cfg.Recorder.BufferSize,
		}, pool, logger)
		if err := rec.EnsureSchema(ctx); err != nil {
			return err
		}
		if err := rec.Start(ctx); err != nil {
			return err
		}
	}

	transport := connection.NewWebSocketTransport(connection.ClientConfig{
		HandshakeTimeout: cfg.Feed.HandshakeTimeout,
		WriteTimeout:     cfg.Feed.WriteTimeout,
		ReadTimeout:      cfg.Feed.ReadTimeout,
	}, logger)
	mgr := connection.NewManager(connection.ManagerConfig{
		ReconnectDelay:    cfg.Feed.ReconnectDelay,
		HeartbeatInterval: cfg.Feed.HeartbeatInterval,
	}, transport, logger, connection.WithTopics(topics), connection.WithContext(ctx))

	out := newPrinter(cmd.OutOrStdout(), runVerbose)
	onMessage := func(msg connection.Message) {
		out.print(msg)
		if rec != nil {
			rec.Record(msg)
		}
	}

	if err := openChannels(mgr, topics, cfg.Feed.URL, cfg.Feed.Topics, onMessage); err != nil {
		_ = shutdown(mgr, rec, logger)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reportStats(gctx, mgr, rec, logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")
		return shutdown(mgr, rec, logger)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("feedtail stopped")
	return nil
}

// openChannels opens one channel per named topic.
func openChannels(mgr *connection.Manager, topics *connection.Topics, url string, names []string, onMessage func(connection.Message)) error {
	for _, name := range names {
		topic, err := topics.ParseTopic(name)
		if err != nil {
			return err
		}
		if _, err := mgr.Open(url, topic, onMessage); err != nil {
			return fmt.Errorf("open %s: %w", name, err)
		}
	}
	return nil
}

// shutdown closes every channel, then drains the recorder.
func shutdown(mgr *connection.Manager, rec *recorder.Recorder, logger *slog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := mgr.Shutdown(ctx); err != nil {
		logger.Warn("channel shutdown incomplete", "error", err)
		errs = append(errs, err)
	}
	if rec != nil {
		if err := rec.Stop(ctx); err != nil {
			logger.Warn("recorder stop failed", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// reportStats logs channel and recorder counters until ctx is done.
func reportStats(ctx context.Context, mgr *connection.Manager, rec *recorder.Recorder, logger *slog.Logger) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := mgr.Stats()
			attrs := []any{
				"open_channels", s.OpenChannels,
				"ready_channels", s.ReadyChannels,
				"messages", s.MessagesDelivered,
				"parse_errors", s.ParseErrors,
				"reconnects", s.Reconnects,
			}
			if rec != nil {
				rs := rec.Stats()
				attrs = append(attrs,
					"recorded", rs.Inserts,
					"record_dropped", rs.Dropped,
					"record_errors", rs.Errors,
				)
			}
			logger.Info("feed stats", attrs...)
		}
	}
}

// printer writes delivered messages to stdout. Channels deliver on their own
// goroutines, so writes are serialized.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func newPrinter(w io.Writer, verbose bool) *printer {
	return &printer{w: w, verbose: verbose}
}

func (p *printer) print(msg connection.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ts := msg.ReceivedAt.Format(time.RFC3339Nano)
	if p.verbose {
		fmt.Fprintf(p.w, "%s %s %s\n", ts, msg.Topic, msg.Raw)
		return
	}

	var feedTopic string
	if ok, err := msg.Field("topic", &feedTopic); !ok || err != nil {
		feedTopic = "-"
	}
	fmt.Fprintf(p.w, "%s %-10s %-24s %d bytes\n", ts, msg.Topic, feedTopic, len(msg.Raw))
}
