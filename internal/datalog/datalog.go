// Package datalog implements the data-log variable and live view (spec
// component E): batched persistence with single-writer flush coalescing, a
// type-directed column mapping onto a three-column value schema, aggregation
// into fixed-width time buckets, and a push/poll live view that keeps
// concurrent subscribers on the same cut-off. Grounded on
// shc/log/generic.py's DataLogVariable/WritableDataLogVariable/
// LiveDataLogView from the original implementation, and on
// internal/memory/sqlite.go and internal/scheduler/store.go from the teacher
// repo for the database/sql/go-sqlite3 idiom.
package datalog

import (
	"context"
	"database/sql"
	"time"
)

// Row is one persisted log row: a timestamp and exactly one populated value
// column, chosen by the variable's Codec at write time.
type Row struct {
	Timestamp  time.Time
	IntValue   sql.NullInt64
	FloatValue sql.NullFloat64
	StrValue   sql.NullString
}

// Store is the persistence backend for data-log variables, implementing the
// schema from spec §6: a single table keyed by name and ts, with value_int,
// value_float and value_str columns.
type Store interface {
	// Insert appends rows for the named log, in order. It must be safe to
	// call concurrently for different names; concurrent calls for the same
	// name are serialised by the caller (WritableDataLogVariable's flush
	// mutex), not by the Store.
	Insert(ctx context.Context, name string, rows []Row) error

	// Query returns all rows for name with start <= ts < end, ordered by
	// ts ascending. If includePrevious is true and no row exists exactly at
	// start, the latest row with ts < start is prepended.
	Query(ctx context.Context, name string, start, end time.Time, includePrevious bool) ([]Row, error)

	Close() error
}

// Entry is one decoded log sample.
type Entry[T any] struct {
	Timestamp time.Time
	Value     T
}

// TimestampedValue is a type-erased log sample, used where a live view mixes
// raw values (push mode, poll mode without aggregation) and aggregated
// float64 buckets (poll mode with aggregation) in the same delivery.
type TimestampedValue struct {
	Timestamp time.Time
	Value     any
}
