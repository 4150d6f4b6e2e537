// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
)

// session provides the transaction context that executions run in.
type session interface {
	// obtain returns the executor for one execution of s.
	obtain(ctx context.Context, s *Script) (*executor, error)
	// release ends an execution. err is the error the execution ended with.
	release(ex *executor, err error) error
}

// dbSession runs every execution in its own implicit transaction. Scripts
// hinted readOnly get a read-only transaction.
type dbSession struct {
	db *DB
}

func (ds dbSession) obtain(ctx context.Context, s *Script) (*executor, error) {
	ex := &executor{db: ds.db, s: s}
	if s.s.Hints().ReadOnly {
		tx, err := ds.db.sqldb.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
		if err != nil {
			return nil, errors.Wrap(err, "cannot begin read-only transaction")
		}
		ex.tx, ex.owned = tx, true
	}
	return ex, nil
}

func (ds dbSession) release(ex *executor, err error) error {
	if !ex.owned {
		return nil
	}
	if err != nil {
		if rerr := ex.tx.Rollback(); rerr != nil {
			ds.db.cfg.logger.Warn().Err(rerr).Str("script", ex.s.Name()).Msg("cannot roll back read-only transaction")
		}
		return nil
	}
	return ex.tx.Commit()
}

// txSession runs executions in an explicit transaction. A failed execution
// rolls the transaction back.
type txSession struct {
	tx *TX
}

func (ts txSession) obtain(ctx context.Context, s *Script) (*executor, error) {
	if ts.tx.isDone() {
		return nil, ErrTXDone
	}
	return &executor{db: ts.tx.db, s: s, tx: ts.tx.sqltx}, nil
}

func (ts txSession) release(ex *executor, err error) error {
	if err != nil && !errors.Is(err, ErrNoRows) {
		ts.tx.abort(ex.s, err)
	}
	return nil
}
