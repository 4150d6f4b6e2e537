// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/canonical/sqlscript/internal/exec"
	"github.com/canonical/sqlscript/internal/script"
)

type DB struct {
	// cacheID is used to look up the cached driver prepared statements
	// prepared on this database.
	cacheID int64
	// sqldb is the underlying database/sql DB object.
	sqldb *sql.DB
	cfg   config
}

// NewDB creates a new [DB] from a [sql.DB]. The sql.DB is closed once the
// returned DB is garbage collected.
func NewDB(sqldb *sql.DB, opts ...Option) *DB {
	if sqldb == nil {
		return nil
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return stmtCache.newDB(sqldb, cfg)
}

// PlainDB returns the underlying database object.
func (db *DB) PlainDB() *sql.DB {
	return db.sqldb
}

// Query represents an execution of a script on a database. It is designed
// to be run once.
type Query struct {
	ctx  context.Context
	s    *Script
	args []any
	db   *DB
	sess session
	err  error
}

// Query builds a new query from a context, a [Script] and the input
// arguments. The arguments bind to the IN parameters of the script in
// declaration order. The script is run on the database when one of
// [Query.Run], [Query.Get], [Query.GetAll], [Query.GetMap] or
// [Query.GetRows] is executed.
func (db *DB) Query(ctx context.Context, s *Script, inputArgs ...any) *Query {
	return newQuery(ctx, db, dbSession{db: db}, s, inputArgs)
}

func newQuery(ctx context.Context, db *DB, sess session, s *Script, args []any) *Query {
	if ctx == nil {
		ctx = context.Background()
	}
	q := &Query{ctx: ctx, s: s, args: args, db: db, sess: sess}
	if s == nil {
		q.err = fmt.Errorf("cannot run query: nil script")
	}
	return q
}

// run executes the script once, handing the result rows to coll.
func (q *Query) run(coll exec.Collector) (exec.Outcome, error) {
	ctx := q.ctx
	if timeout := q.s.s.Hints().QueryTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ex, err := q.sess.obtain(ctx, q.s)
	if err != nil {
		return exec.Outcome{}, err
	}
	outcome, err := exec.Run(ctx, q.s.s, ex, coll, q.db.cfg.exec(), q.args)
	if rerr := q.sess.release(ex, err); err == nil {
		err = rerr
	}
	if errors.Is(err, ErrNoRows) {
		err = ErrNoRows
	}
	return outcome, err
}

// Outcome holds metadata about executed scripts, and can be provided as the
// first output argument to any of the Get methods to populate it with
// information about the execution.
type Outcome struct {
	updateCount int64
	keys        []any
	rows        int
}

// UpdateCount returns the number of rows affected by the execution, or -1
// if it is not known.
func (o *Outcome) UpdateCount() int64 {
	return o.updateCount
}

// Keys returns the generated key values, in the order of the key columns.
func (o *Outcome) Keys() []any {
	return o.keys
}

// Rows returns the number of rows handed to the output arguments.
func (o *Outcome) Rows() int {
	return o.rows
}

func (o *Outcome) set(oc exec.Outcome) {
	o.updateCount, o.keys, o.rows = oc.UpdateCount, oc.Keys, oc.Rows
}

// splitOutcome removes a leading *Outcome from the output arguments.
func splitOutcome(outputArgs []any) (*Outcome, []any) {
	if len(outputArgs) > 0 {
		if oc, ok := outputArgs[0].(*Outcome); ok {
			*oc = Outcome{updateCount: -1}
			return oc, outputArgs[1:]
		}
	}
	return nil, outputArgs
}

func (q *Query) checkOutputs(outputArgs []any) error {
	if len(outputArgs) > 0 && q.s.Outputs() == 0 {
		return fmt.Errorf("output variables provided but script %q has no outputs", q.s.Name())
	}
	return nil
}

// Run is used to run a script on a database and disregard any results.
// Run is an alias for [Query.Get] that takes no arguments. A script producing
// result rows fails with a void result error.
func (q *Query) Run() error {
	return q.Get()
}

// Get runs the script and decodes the first result row into the provided
// output arguments. A row with several values is decoded either into one
// output argument per value or into a single *[]any. It returns [ErrNoRows]
// if output arguments were provided but no row was found.
//
// A pointer to an empty [Outcome] struct may be provided as the first output
// variable to fill it with information about the execution.
func (q *Query) Get(outputArgs ...any) error {
	if q.err != nil {
		return q.err
	}
	outcome, outputArgs := splitOutcome(outputArgs)
	if err := q.checkOutputs(outputArgs); err != nil {
		return errors.Wrap(err, "cannot get result")
	}
	var coll exec.Collector = exec.VoidCollector{}
	if len(outputArgs) > 0 {
		sc, err := exec.NewSingleCollector(q.s.Outputs(), outputArgs...)
		if err != nil {
			return errors.Wrap(err, "cannot get result")
		}
		coll = sc
	}
	oc, err := q.run(coll)
	if outcome != nil {
		outcome.set(oc)
	}
	return err
}

// GetAll runs the script and appends every result row to the provided
// slices: one slice per row value, or a single slice of the row values.
// A pointer to an empty [Outcome] struct may be provided as the first output
// variable to get information about the execution.
//
// [ErrNoRows] will be returned if no rows are found.
func (q *Query) GetAll(sliceArgs ...any) error {
	if q.err != nil {
		return q.err
	}
	outcome, sliceArgs := splitOutcome(sliceArgs)
	if err := q.checkOutputs(sliceArgs); err != nil {
		return errors.Wrap(err, "cannot get all results")
	}
	lc, err := exec.NewListCollector(q.s.Outputs(), sliceArgs...)
	if err != nil {
		return errors.Wrap(err, "cannot get all results")
	}
	oc, err := q.run(lc)
	if outcome != nil {
		outcome.set(oc)
	}
	if err == nil && oc.Rows == 0 {
		return ErrNoRows
	}
	return err
}

// GetMap runs the script and stores every result row into the map mapArg
// points to. The first value of a row is the key, the remaining values are
// the map value. A nil map is allocated.
// A pointer to an empty [Outcome] struct may be provided as the first
// argument to get information about the execution.
func (q *Query) GetMap(args ...any) error {
	if q.err != nil {
		return q.err
	}
	outcome, args := splitOutcome(args)
	if len(args) != 1 {
		return fmt.Errorf("cannot get map: expected 1 map argument, got %d", len(args))
	}
	mc, err := exec.NewMapCollector(q.s.Outputs(), args[0])
	if err != nil {
		return errors.Wrap(err, "cannot get map")
	}
	oc, err := q.run(mc)
	if outcome != nil {
		outcome.set(oc)
	}
	return err
}

// GetRows runs the script and returns every result row as a slice of its
// values.
func (q *Query) GetRows() ([][]any, error) {
	if q.err != nil {
		return nil, q.err
	}
	ac := &exec.ArrayCollector{}
	if _, err := q.run(ac); err != nil {
		return nil, err
	}
	return ac.Rows, nil
}

// Execute runs the script and returns its result in the shape its
// declaration implies: nil for a script without outputs, the row values of
// a result set as a []any, and the value of the output variables otherwise.
// A row value is the value itself for a single output and a []any of the
// values for several.
func (db *DB) Execute(ctx context.Context, s *Script, inputArgs ...any) (any, error) {
	return db.Query(ctx, s, inputArgs...).execute()
}

// Execute is the same as [DB.Execute] in the transaction.
func (tx *TX) Execute(ctx context.Context, s *Script, inputArgs ...any) (any, error) {
	return tx.Query(ctx, s, inputArgs...).execute()
}

func (q *Query) execute() (any, error) {
	if q.err != nil {
		return nil, q.err
	}
	switch q.s.s.Mode() {
	case script.NoResult:
		return nil, q.Run()
	case script.ResultSet:
		ac := &exec.ArrayCollector{}
		if _, err := q.run(ac); err != nil {
			return nil, err
		}
		values := make([]any, 0, len(ac.Rows))
		for _, row := range ac.Rows {
			values = append(values, exec.RowValue(row))
		}
		return values, nil
	}
	ac := &exec.ArrayCollector{}
	if _, err := q.run(ac); err != nil {
		return nil, err
	}
	if len(ac.Rows) == 0 {
		return nil, ErrNoRows
	}
	return exec.RowValue(ac.Rows[0]), nil
}

// TX represents a transaction on the database.
type TX struct {
	sqltx *sql.Tx
	db    *DB
	done  int32
}

func (tx *TX) isDone() bool {
	return atomic.LoadInt32(&tx.done) == 1
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// abort rolls the transaction back after a failed execution of s.
func (tx *TX) abort(s *Script, cause error) {
	if tx.setDone() != nil {
		return
	}
	err := tx.sqltx.Rollback()
	tx.db.cfg.logger.Warn().
		Str("script", s.Name()).
		AnErr("cause", cause).
		Err(err).
		Msg("transaction rolled back")
}

// Begin starts a transaction. A transaction must be ended with a
// [TX.Commit] or [TX.Rollback]. A failed execution in the transaction rolls
// it back, after which both return [ErrTXDone].
func (db *DB) Begin(ctx context.Context, opts *TXOptions) (*TX, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	sqltx, err := db.sqldb.BeginTx(ctx, opts.plainTXOptions())
	if err != nil {
		return nil, err
	}
	return &TX{sqltx: sqltx, db: db}, nil
}

// Commit commits the transaction.
func (tx *TX) Commit() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Commit()
	}
	return err
}

// Rollback aborts the transaction.
func (tx *TX) Rollback() error {
	err := tx.setDone()
	if err == nil {
		err = tx.sqltx.Rollback()
	}
	return err
}

// TXOptions holds the transaction options to be used in [DB.Begin].
type TXOptions struct {
	// Isolation is the transaction isolation level.
	// If zero, the driver or database's default level is used.
	Isolation sql.IsolationLevel
	ReadOnly  bool
}

func (txopts *TXOptions) plainTXOptions() *sql.TxOptions {
	if txopts == nil {
		return nil
	}
	return &sql.TxOptions{Isolation: txopts.Isolation, ReadOnly: txopts.ReadOnly}
}

// Query builds a new query from a context, a [Script] and the input
// arguments to run in the transaction.
func (tx *TX) Query(ctx context.Context, s *Script, inputArgs ...any) *Query {
	return newQuery(ctx, tx.db, txSession{tx: tx}, s, inputArgs)
}
