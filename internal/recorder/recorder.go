package recorder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/rickgao/btse-feed/internal/connection"
)

// DB is the subset of *pgxpool.Pool the recorder uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Config controls batching.
type Config struct {
	Table         string
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int // queue bound; messages beyond it are dropped
}

// DefaultConfig returns the default recorder settings.
func DefaultConfig() Config {
	return Config{
		Table:         "feed_messages",
		BatchSize:     500,
		FlushInterval: time.Second,
		BufferSize:    1000,
	}
}

// Stats contains recorder counters.
type Stats struct {
	Enqueued  int64
	Dropped   int64
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Errors    int64
}

type messageRow struct {
	ID         uuid.UUID
	ChannelID  uuid.UUID
	Topic      string
	ReceivedAt int64 // Unix microseconds
	Payload    []byte
}

// Recorder batches delivered messages into an append-only table.
type Recorder struct {
	cfg    Config
	db     DB
	logger *slog.Logger
	clock  clock.Clock
	table  string // sanitized

	queue *Queue[messageRow]
	kick  chan struct{}

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	flushMu sync.Mutex

	statsMu sync.Mutex
	stats   Stats
}

// New creates a Recorder. Zero config fields fall back to DefaultConfig.
func New(cfg Config, db DB, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.Table == "" {
		cfg.Table = def.Table
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	initial := cfg.BatchSize
	if initial > cfg.BufferSize {
		initial = cfg.BufferSize
	}

	return &Recorder{
		cfg:    cfg,
		db:     db,
		logger: logger.With("component", "recorder", "table", cfg.Table),
		clock:  clock.New(),
		table:  pgx.Identifier(strings.Split(cfg.Table, ".")).Sanitize(),
		queue:  NewQueue[messageRow](initial, cfg.BufferSize),
		kick:   make(chan struct{}, 1),
	}
}

// EnsureSchema creates the message table and its index if missing.
func (r *Recorder) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          UUID PRIMARY KEY,
			channel_id  UUID NOT NULL,
			topic       TEXT NOT NULL,
			received_at BIGINT NOT NULL,
			payload     JSONB NOT NULL
		)`, r.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (topic, received_at)`,
			pgx.Identifier{indexName(r.cfg.Table)}.Sanitize(), r.table),
	}
	for _, stmt := range stmts {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// Record enqueues a message without blocking. When the queue is at its
// bound the message is dropped and counted.
func (r *Recorder) Record(msg connection.Message) {
	row := messageRow{
		ID:         uuid.New(),
		ChannelID:  msg.ChannelID,
		Topic:      string(msg.Topic),
		ReceivedAt: msg.ReceivedAt.UnixMicro(),
		Payload:    msg.Raw,
	}

	if !r.queue.Push(row) {
		r.statsMu.Lock()
		r.stats.Dropped++
		dropped := r.stats.Dropped
		r.statsMu.Unlock()
		r.logger.Warn("recorder queue full, message dropped",
			"topic", row.Topic,
			"dropped_total", dropped,
		)
		return
	}

	r.statsMu.Lock()
	r.stats.Enqueued++
	r.statsMu.Unlock()

	if r.queue.Len() >= r.cfg.BatchSize {
		select {
		case r.kick <- struct{}{}:
		default:
		}
	}
}

// Start begins periodic and size-triggered flushing.
func (r *Recorder) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.flushLoop()

	r.logger.Info("recorder started",
		"batch_size", r.cfg.BatchSize,
		"flush_interval", r.cfg.FlushInterval,
		"buffer_size", r.cfg.BufferSize,
	)
	return nil
}

// Stop halts the flush loop, rejects further messages and writes what is
// still queued.
func (r *Recorder) Stop(ctx context.Context) error {
	r.logger.Info("stopping recorder")

	if r.cancel != nil {
		r.cancel()
	}
	r.queue.Close()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("recorder stop timed out")
		return fmt.Errorf("stop recorder: %w", ctx.Err())
	}

	if err := r.Flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}
	r.logger.Info("recorder stopped")
	return nil
}

// Stats returns current counters.
func (r *Recorder) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return r.stats
}

// Flush writes every queued message, one batch at a time.
func (r *Recorder) Flush(ctx context.Context) error {
	r.flushMu.Lock()
	defer r.flushMu.Unlock()

	for {
		rows := r.queue.Drain(r.cfg.BatchSize)
		if len(rows) == 0 {
			return nil
		}

		start := time.Now()
		conflicts, err := r.batchInsert(ctx, rows)
		if err != nil {
			r.statsMu.Lock()
			r.stats.Errors++
			r.statsMu.Unlock()
			r.logger.Error("batch insert failed", "error", err, "count", len(rows))
			return err
		}

		r.statsMu.Lock()
		r.stats.Inserts += int64(len(rows) - conflicts)
		r.stats.Conflicts += int64(conflicts)
		r.stats.Flushes++
		r.statsMu.Unlock()

		r.logger.Debug("flushed messages",
			"count", len(rows),
			"conflicts", conflicts,
			"duration", time.Since(start),
		)
	}
}

func (r *Recorder) flushLoop() {
	defer r.wg.Done()

	ticker := r.clock.Ticker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
		case <-r.kick:
		}
		// Failed batches are logged and counted in Flush.
		_ = r.Flush(r.ctx)
	}
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (r *Recorder) batchInsert(ctx context.Context, rows []messageRow) (conflicts int, err error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, channel_id, topic, received_at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, r.table)

	batch := &pgx.Batch{}
	for _, row := range rows {
		batch.Queue(query, row.ID, row.ChannelID, row.Topic, row.ReceivedAt, string(row.Payload))
	}

	results := r.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

func indexName(table string) string {
	return strings.ReplaceAll(table, ".", "_") + "_topic_received_at_idx"
}
