// Package recorder persists delivered feed messages to PostgreSQL/TimescaleDB.
//
// The recorder sits behind a channel's message callback: Record never blocks,
// messages queue in memory and are flushed in batches by size or interval.
// Rows are append-only; the raw frame is stored as jsonb.
package recorder
