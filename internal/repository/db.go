package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/josh-kwaku/program-ledger/internal/logging"
)

type scanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var RepeatableRead = &sql.TxOptions{Isolation: sql.LevelRepeatableRead}

const defaultMaxRetries = 5

type DB struct {
	pool       *sql.DB
	maxRetries int
}

func NewDB(pool *sql.DB, maxRetries int) *DB {
	if maxRetries < 0 {
		maxRetries = defaultMaxRetries
	}
	return &DB{pool: pool, maxRetries: maxRetries}
}

func (d *DB) Conn() *sql.DB {
	return d.pool
}

func (d *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := d.pool.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	return tx, nil
}

// WithTx runs fn in a transaction and commits if it returns nil. Serialization
// failures and deadlocks roll back and rerun fn from the start, so fn must not
// have side effects outside tx.
func (d *DB) WithTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	log := logging.FromContext(ctx)

	var err error
	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			if werr := backoff(ctx, attempt); werr != nil {
				return fmt.Errorf("WithTx: %w", werr)
			}
			log.Debug("retrying transaction", "attempt", attempt, "error", err)
		}

		err = d.runTx(ctx, opts, fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("WithTx: gave up after %d attempts: %w", d.maxRetries+1, err)
}

func (d *DB) runTx(ctx context.Context, opts *sql.TxOptions, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func backoff(ctx context.Context, attempt int) error {
	base := time.Duration(attempt*attempt) * 5 * time.Millisecond
	jitter := time.Duration(rand.Int64N(int64(5 * time.Millisecond)))
	t := time.NewTimer(base + jitter)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func noRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
