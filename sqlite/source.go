// Package sqlite provides a jobloop.Source that reads job identifiers
// from a SQLite table. It uses the pure Go driver from modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/olivere/jobloop/internal/sqlsource"
)

const (
	sqliteSchema = `CREATE TABLE IF NOT EXISTS %[1]s (
seq INTEGER PRIMARY KEY AUTOINCREMENT,
id TEXT NOT NULL,
created INTEGER NOT NULL,
claimed INTEGER NOT NULL DEFAULT 0)`

	sqliteIndex = `CREATE INDEX IF NOT EXISTS ix_%[1]s_claimed ON %[1]s (claimed, seq)`
)

// Source is a SQLite-backed job source. Producers add identifiers with
// Add; Next returns them in insertion order.
type Source struct {
	*sqlsource.Source
	db    *sql.DB
	table string
	batch int
}

// SourceOption is an options provider for Source.
type SourceOption func(*Source)

// SetTable overrides the default table name "jobloop_jobs".
func SetTable(table string) SourceOption {
	return func(s *Source) {
		s.table = table
	}
}

// SetBatchSize sets the number of rows fetched per query.
func SetBatchSize(n int) SourceOption {
	return func(s *Source) {
		s.batch = n
	}
}

// NewSource opens the SQLite database at dsn, e.g. a file name or
// ":memory:". The table is created when the loop calls Start.
func NewSource(dsn string, options ...SourceOption) (*Source, error) {
	st := &Source{
		table: sqlsource.DefaultTable,
		batch: sqlsource.DefaultBatchSize,
	}
	for _, opt := range options {
		opt(st)
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows a single writer; :memory: databases are per connection.
	db.SetMaxOpenConns(1)
	st.db = db
	st.Source = sqlsource.New(db, st.table)
	st.Source.BatchSize = st.batch
	st.Source.Retryable = isBusy
	return st, nil
}

// Start connects to the database and creates the table if necessary.
func (s *Source) Start(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(sqliteSchema, s.table)); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(sqliteIndex, s.table))
	return err
}

// Close closes the database.
func (s *Source) Close() error {
	return s.db.Close()
}

// isBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}
