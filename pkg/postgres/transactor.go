package postgres

import (
	"context"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// RowMapper is a function that takes an sqlx.Rows instance and is responsible
// for iterating over all rows and scanning the results into some record.
type RowMapper func(*sqlx.Rows) error

// Transactor wraps an sqlx.Tx, converting named queries into the form Postgres
// wants and rolling back on the first error.
type Transactor interface {
	// CommitOrRollback finalizes the transaction. If an earlier call failed the
	// transaction has already been rolled back and this returns that error,
	// otherwise it commits.
	CommitOrRollback() error

	// Get executes the given sql statement and args, scanning the result into
	// dest.
	Get(dest interface{}, sql string, args interface{}) error

	// Map executes a query and pushes the results row by row to the given
	// RowMapper function.
	Map(sql string, args interface{}, rm RowMapper) error
}

// transactor is the private type that implements the Transactor interface
type transactor struct {
	ctx context.Context
	tx  *sqlx.Tx

	sync.Mutex
	finalised    bool
	finalisedErr error
}

// BeginTX starts a transaction bound to ctx. If ctx is cancelled before the
// transaction is committed it is rolled back by the driver.
func BeginTX(ctx context.Context, db *sqlx.DB) (Transactor, error) {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to start transaction for Transactor")
	}

	return &transactor{
		ctx: ctx,
		tx:  tx,
	}, nil
}

// CommitOrRollback commits unless the transaction was already rolled back.
func (t *transactor) CommitOrRollback() error {
	t.Lock()
	defer t.Unlock()

	if t.finalised {
		return t.finalisedErr
	}

	t.finalised = true
	t.finalisedErr = t.tx.Commit()
	return t.finalisedErr
}

// Get takes a destination into which the result is scanned, an sql string and
// args. If args is a map or struct the sql may use :named parameters.
func (t *transactor) Get(dest interface{}, sql string, args interface{}) error {
	nsql, nargs, err := t.normalizeSQL(sql, args)
	if err != nil {
		return t.rollback(err)
	}

	err = t.tx.GetContext(t.ctx, dest, nsql, nargs...)
	if err != nil {
		return t.rollback(err)
	}

	return nil
}

// Map runs a query, handing the result set to rm, which should iterate
// through it.
func (t *transactor) Map(sql string, args interface{}, rm RowMapper) (err error) {
	nsql, nargs, err := t.normalizeSQL(sql, args)
	if err != nil {
		return t.rollback(err)
	}

	rows, err := t.tx.QueryxContext(t.ctx, nsql, nargs...)
	if err != nil {
		return t.rollback(err)
	}

	defer func() {
		if cerr := rows.Close(); err == nil && cerr != nil {
			err = cerr
		}
	}()

	err = rm(rows)
	if err != nil {
		return t.rollback(err)
	}

	return rows.Err()
}

// normalizeSQL converts named args into positional bindvars. A []interface{}
// is treated as positional args already.
func (t *transactor) normalizeSQL(sql string, args interface{}) (string, []interface{}, error) {
	switch v := args.(type) {
	case []interface{}:
		return t.tx.Rebind(sql), v, nil
	case nil:
		return t.tx.Rebind(sql), nil, nil
	default:
		nsql, nargs, err := t.tx.BindNamed(sql, v)
		if err != nil {
			return "", nil, errors.Wrap(err, "error converting named sql to bindvar version")
		}
		return nsql, nargs, nil
	}
}

// rollback rolls back the transaction and returns the original error.
func (t *transactor) rollback(origErr error) error {
	t.Lock()
	defer t.Unlock()

	if t.finalised {
		return origErr
	}

	t.finalised = true
	t.finalisedErr = origErr

	if rollbackErr := t.tx.Rollback(); rollbackErr != nil {
		return errors.Wrapf(origErr, "rollback failed: %v", rollbackErr)
	}

	return origErr
}
