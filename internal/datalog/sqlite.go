package datalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore implements Store against a single table (default name "log",
// spec §6), with ts stored as Unix nanoseconds so ordering and range
// comparisons are exact regardless of sub-second precision — unlike a
// formatted-string timestamp, an integer column never needs lexical-order
// care. Grounded on internal/memory/sqlite.go and
// internal/scheduler/store.go's schema-migration/database-sql idiom from the
// teacher repo; the driver import itself is chosen by build tag (see
// sqlite_cgo.go / sqlite_purego.go).
type SQLiteStore struct {
	db    *sql.DB
	table string
}

// NewSQLiteStore opens (creating if necessary) a SQLite database at dbPath
// and ensures the log table exists. table defaults to "log" when empty.
// dbPath is a trusted deployment-configured path, same as table —
// both come from internal/config, never from request input.
func NewSQLiteStore(dbPath, table string) (*SQLiteStore, error) {
	if table == "" {
		table = "log"
	}
	db, err := openDB(dbPath + "?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open data log database: %w", err)
	}

	s := &SQLiteStore{db: db, table: table}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate data log database: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS %s (
		name TEXT NOT NULL,
		ts INTEGER NOT NULL,
		value_int INTEGER,
		value_float REAL,
		value_str TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_%s_name_ts ON %s(name, ts);
	`, s.table, s.table, s.table)
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, name string, rows []Row) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		`INSERT INTO %s (name, ts, value_int, value_float, value_str) VALUES (?, ?, ?, ?, ?)`, s.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range rows {
		if _, err := stmt.ExecContext(ctx, name, r.Timestamp.UTC().UnixNano(), r.IntValue, r.FloatValue, r.StrValue); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Query implements Store.
func (s *SQLiteStore) Query(ctx context.Context, name string, start, end time.Time, includePrevious bool) ([]Row, error) {
	var rows []Row

	if includePrevious {
		prev, err := s.queryPrevious(ctx, name, start)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			rows = append(rows, *prev)
		}
	}

	res, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT ts, value_int, value_float, value_str FROM %s WHERE name = ? AND ts >= ? AND ts < ? ORDER BY ts ASC`, s.table),
		name, start.UTC().UnixNano(), end.UTC().UnixNano())
	if err != nil {
		return nil, err
	}
	defer res.Close()

	for res.Next() {
		r, err := scanRow(res)
		if err != nil {
			return nil, err
		}
		rows = append(rows, r)
	}
	return rows, res.Err()
}

// queryPrevious returns the latest row strictly before start, but only if no
// row exists exactly at start (matching retrieve_log's include_previous
// contract: the previous row is prepended only when it would not duplicate
// an exact-start row).
func (s *SQLiteStore) queryPrevious(ctx context.Context, name string, start time.Time) (*Row, error) {
	startNanos := start.UTC().UnixNano()

	var exactCount int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE name = ? AND ts = ?`, s.table), name, startNanos,
	).Scan(&exactCount); err != nil {
		return nil, err
	}
	if exactCount > 0 {
		return nil, nil
	}

	row := s.db.QueryRowContext(ctx, fmt.Sprintf(
		`SELECT ts, value_int, value_float, value_str FROM %s WHERE name = ? AND ts < ? ORDER BY ts DESC LIMIT 1`, s.table),
		name, startNanos)
	r, err := scanRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRow(scanner rowScanner) (Row, error) {
	var r Row
	var ts int64
	if err := scanner.Scan(&ts, &r.IntValue, &r.FloatValue, &r.StrValue); err != nil {
		return Row{}, err
	}
	r.Timestamp = time.Unix(0, ts).UTC()
	return r, nil
}
