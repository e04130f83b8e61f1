// Package sqlsource implements a jobloop.Source on top of a SQL table.
// It is shared by the mysql and sqlite packages, which provide the
// driver and the schema.
package sqlsource

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/cenkalti/backoff"

	"github.com/olivere/jobloop"
)

const (
	// DefaultTable is the name of the table holding job identifiers.
	DefaultTable = "jobloop_jobs"

	// DefaultBatchSize is the number of rows fetched per query.
	DefaultBatchSize = 100
)

// ErrNoDB is returned when the source has no connection pool, e.g.
// after its owner closed it.
var ErrNoDB = errors.New("sqlsource: no database")

type row struct {
	seq int64
	id  jobloop.JobID
}

// Source reads job identifiers from a table with the columns seq (an
// auto-incrementing key), id, created and claimed. Next claims a row by
// setting claimed, so every row is returned once, even a row with a lower
// seq that becomes visible after rows with a higher seq were returned.
type Source struct {
	DB        *sql.DB
	Table     string
	BatchSize int
	Retryable func(error) bool       // nil retries every error
	Backoff   func() backoff.BackOff // nil uses a default exponential backoff

	mu  sync.Mutex // guards DB and buf
	buf []row      // unclaimed candidates in seq order
}

// New creates a source reading from table in db.
func New(db *sql.DB, table string) *Source {
	if table == "" {
		table = DefaultTable
	}
	return &Source{
		DB:        db,
		Table:     table,
		BatchSize: DefaultBatchSize,
	}
}

// SetDB replaces the connection pool and returns the previous one. It is
// safe to call while Next, Add or Pending are running.
func (s *Source) SetDB(db *sql.DB) *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.DB
	s.DB = db
	return old
}

func (s *Source) db() *sql.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.DB
}

func (s *Source) newBackoff() backoff.BackOff {
	if s.Backoff != nil {
		return s.Backoff()
	}
	b := backoff.NewExponentialBackOff()
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = 15 * time.Second
	return b
}

// Next claims and returns the unclaimed identifier with the lowest seq,
// or jobloop.ErrExhausted if there is none. Rows claimed by another
// consumer in the meantime are skipped.
func (s *Source) Next(ctx context.Context) (jobloop.JobID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DB == nil {
		return "", ErrNoDB
	}
	for {
		if len(s.buf) == 0 {
			if err := s.fill(ctx); err != nil {
				return "", err
			}
			if len(s.buf) == 0 {
				return "", jobloop.ErrExhausted
			}
		}
		r := s.buf[0]
		s.buf = s.buf[1:]
		ok, err := s.claim(ctx, r.seq)
		if err != nil {
			return "", err
		}
		if ok {
			return r.id, nil
		}
	}
}

// fill loads the next batch of unclaimed rows.
func (s *Source) fill(ctx context.Context) error {
	limit := s.BatchSize
	if limit <= 0 {
		limit = DefaultBatchSize
	}
	query, args, err := sq.Select("seq", "id").
		From(s.Table).
		Where(sq.Eq{"claimed": 0}).
		OrderBy("seq").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return err
	}

	var batch []row
	err = RunWithRetry(ctx, func(ctx context.Context) error {
		batch = batch[:0]
		rows, err := s.DB.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var (
				seq int64
				id  string
			)
			if err := rows.Scan(&seq, &id); err != nil {
				return err
			}
			batch = append(batch, row{seq: seq, id: jobloop.JobID(id)})
		}
		return rows.Err()
	}, s.Retryable, s.newBackoff())
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	s.buf = append(s.buf, batch...)
	return nil
}

// claim marks the row as consumed. It returns false if the row was
// claimed by someone else.
func (s *Source) claim(ctx context.Context, seq int64) (bool, error) {
	query, args, err := sq.Update(s.Table).
		Set("claimed", time.Now().UnixNano()).
		Where(sq.Eq{"seq": seq, "claimed": 0}).
		ToSql()
	if err != nil {
		return false, err
	}
	var n int64
	err = RunInTxWithRetry(ctx, s.DB, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	}, s.Retryable, s.newBackoff())
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Add inserts identifiers in a single transaction. Identifiers already
// in the table are added again; the loop's gate filters duplicates.
func (s *Source) Add(ctx context.Context, ids ...jobloop.JobID) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UnixNano()
	ins := sq.Insert(s.Table).Columns("id", "created", "claimed")
	for _, id := range ids {
		ins = ins.Values(string(id), now, 0)
	}
	query, args, err := ins.ToSql()
	if err != nil {
		return err
	}
	db := s.db()
	if db == nil {
		return ErrNoDB
	}
	return RunInTxWithRetry(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	}, s.Retryable, s.newBackoff())
}

// Pending returns the number of rows that have not been claimed yet.
func (s *Source) Pending(ctx context.Context) (int64, error) {
	query, args, err := sq.Select("COUNT(*)").
		From(s.Table).
		Where(sq.Eq{"claimed": 0}).
		ToSql()
	if err != nil {
		return 0, err
	}
	db := s.db()
	if db == nil {
		return 0, ErrNoDB
	}
	var n int64
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
