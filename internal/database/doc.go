// Package database opens the PostgreSQL/TimescaleDB pool used by the message recorder.
package database
