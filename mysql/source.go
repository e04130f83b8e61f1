// Package mysql provides a jobloop.Source that reads job identifiers
// from a MySQL table.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	mysqldriver "github.com/go-sql-driver/mysql"

	"github.com/olivere/jobloop"
	"github.com/olivere/jobloop/internal/sqlsource"
	"github.com/olivere/jobloop/mysql/internal"
)

const (
	mysqlSchema = `CREATE TABLE IF NOT EXISTS %[1]s (
seq bigint not null auto_increment primary key,
id varchar(255) not null,
created bigint not null,
claimed bigint not null default 0,
index ix_%[1]s_id (id),
index ix_%[1]s_claimed (claimed, seq));`
)

var errNotStarted = errors.New("mysql: source not started")

// Source represents a MySQL-based job source.
// It implements the jobloop.Source and jobloop.Starter interfaces.
type Source struct {
	url   string
	table string
	batch int
	debug bool

	mu  sync.Mutex // guards src
	src *sqlsource.Source
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

// SetDebug indicates whether to log connection and schema setup.
func SetDebug(enabled bool) SourceOption {
	return func(s *Source) {
		s.debug = enabled
	}
}

// NewSource initializes a new MySQL-based source. The url must name a
// database, e.g. "root@tcp(127.0.0.1:3306)/jobloop?loc=UTC&parseTime=true".
// Nothing is opened until the loop calls Start.
func NewSource(url string, options ...SourceOption) (*Source, error) {
	st := &Source{
		url:   url,
		table: sqlsource.DefaultTable,
		batch: sqlsource.DefaultBatchSize,
	}
	for _, opt := range options {
		opt(st)
	}
	cfg, err := mysqldriver.ParseDSN(url)
	if err != nil {
		return nil, err
	}
	if cfg.DBName == "" {
		return nil, errors.New("mysql: no database specified")
	}
	return st, nil
}

// Start creates the database and table if necessary and opens the
// connection pool used by Next and Add.
func (s *Source) Start(ctx context.Context) error {
	cfg, err := mysqldriver.ParseDSN(s.url)
	if err != nil {
		return err
	}
	dbname := cfg.DBName

	// First connect without DB name
	cfg.DBName = ""
	setupdb, err := sql.Open("mysql", cfg.FormatDSN())
	if err != nil {
		return err
	}
	defer setupdb.Close()
	_, err = setupdb.ExecContext(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbname))
	if err != nil {
		return err
	}
	if s.debug {
		fmt.Printf("mysql: database %s ready\n", dbname)
	}

	// Now connect again, this time with the db name
	db, err := sql.Open("mysql", s.url)
	if err != nil {
		return err
	}
	db.SetConnMaxLifetime(3 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return err
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf(mysqlSchema, s.table)); err != nil {
		db.Close()
		return err
	}
	if s.debug {
		fmt.Printf("mysql: table %s ready\n", s.table)
	}

	s.mu.Lock()
	if s.src == nil {
		s.src = sqlsource.New(db, s.table)
		s.src.BatchSize = s.batch
		s.src.Retryable = internal.IsRetryable
		s.mu.Unlock()
		return nil
	}
	src := s.src
	s.mu.Unlock()

	// Close waits for queries still running on the old pool.
	if old := src.SetDB(db); old != nil {
		old.Close()
	}
	return nil
}

func (s *Source) source() (*sqlsource.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.src == nil {
		return nil, errNotStarted
	}
	return s.src, nil
}

// Next returns the next job identifier, or jobloop.ErrExhausted.
func (s *Source) Next(ctx context.Context) (jobloop.JobID, error) {
	src, err := s.source()
	if err != nil {
		return "", err
	}
	return src.Next(ctx)
}

// Add inserts job identifiers for the loop to pick up.
func (s *Source) Add(ctx context.Context, ids ...jobloop.JobID) error {
	src, err := s.source()
	if err != nil {
		return err
	}
	return src.Add(ctx, ids...)
}

// Pending returns the number of identifiers not yet returned by Next.
func (s *Source) Pending(ctx context.Context) (int64, error) {
	src, err := s.source()
	if err != nil {
		return 0, err
	}
	return src.Pending(ctx)
}

// Close closes the connection pool.
func (s *Source) Close() error {
	src, err := s.source()
	if err != nil {
		return nil
	}
	if old := src.SetDB(nil); old != nil {
		return old.Close()
	}
	return nil
}
