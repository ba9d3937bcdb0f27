// Package postgres implements ledger.Store on PostgreSQL through database/sql
// and lib/pq. Each transaction runs at READ COMMITTED with a bounded lock wait
// and an overall deadline.
package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/retailcore/internal/ledger"
)

type Options struct {
	// TxTimeout bounds the whole transaction. Zero disables the deadline.
	TxTimeout time.Duration
	// LockTimeout bounds each wait for a row lock. Zero keeps the server default.
	LockTimeout time.Duration
}

type Store struct {
	db   *sql.DB
	opts Options
}

func NewStore(db *sql.DB, opts Options) *Store {
	return &Store{db: db, opts: opts}
}

func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	parent := ctx
	if s.opts.TxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.TxTimeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return classify(parent, err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if s.opts.LockTimeout > 0 {
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.opts.LockTimeout.Milliseconds())
		if _, err := sqlTx.ExecContext(ctx, stmt); err != nil {
			return classify(parent, err)
		}
	}

	if err := fn(ctx, &tx{tx: sqlTx}); err != nil {
		return classify(parent, err)
	}

	if err := sqlTx.Commit(); err != nil {
		return classify(parent, err)
	}
	return nil
}

// Postgres error codes that are safe to retry in a new transaction.
var transientCodes = map[pq.ErrorCode]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"55P03": true, // lock_not_available
	"57014": true, // query_canceled
}

// classify maps driver failures onto the ledger sentinels. Errors already
// carrying a ledger sentinel or produced by the callback pass through.
func classify(parent context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ledger.ErrNotFound) || errors.Is(err, ledger.ErrConflict) || errors.Is(err, ledger.ErrTransient) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch {
		case pqErr.Code == "23505":
			return fmt.Errorf("%w: %w", ledger.ErrConflict, err)
		case transientCodes[pqErr.Code], pqErr.Code.Class() == "08":
			return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
		}
		return err
	}

	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
	}
	// The transaction deadline expired while the caller still waits.
	if errors.Is(err, context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
	}
	return err
}
