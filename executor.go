// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/pkg/errors"

	"github.com/canonical/sqlscript/internal/exec"
	"github.com/canonical/sqlscript/internal/script"
)

// querier runs SQL text directly. It is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// executor runs the assembled statements of a script through database/sql.
type executor struct {
	db *DB
	s  *Script
	// tx is nil outside a transaction.
	tx *sql.Tx
	// owned is set when tx was started for this execution only.
	owned bool
}

var _ exec.Executor = (*executor)(nil)

func (e *executor) querier() querier {
	if e.tx != nil {
		return e.tx
	}
	return e.db.sqldb
}

// Execute implements exec.Executor.
func (e *executor) Execute(ctx context.Context, stmt *exec.Statement) (*exec.Result, error) {
	query := stmt.SQL
	if stmt.Kind == script.Callable {
		query = callSQL(query, stmt.Args, e.db.cfg.placeholder)
	}
	if len(stmt.KeyColumns) > 0 && e.db.cfg.keys == Returning {
		return e.returning(ctx, stmt, query+" RETURNING "+strings.Join(stmt.KeyColumns, ", "))
	}
	if stmt.Rows {
		rows, err := e.query(ctx, stmt, query)
		if err != nil {
			return nil, err
		}
		return &exec.Result{Rows: rows, UpdateCount: -1}, nil
	}
	if stmt.Void && stmt.Kind != script.Callable && len(stmt.KeyColumns) == 0 && readsRows(query) {
		return e.voidQuery(ctx, stmt, query)
	}

	res, err := e.exec(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	result := &exec.Result{UpdateCount: -1}
	if n, err := res.RowsAffected(); err == nil {
		result.UpdateCount = n
	}
	if len(stmt.KeyColumns) > 0 {
		if len(stmt.KeyColumns) != 1 {
			return nil, fmt.Errorf("cannot read %d generated keys from the last insert ID", len(stmt.KeyColumns))
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, errors.Wrap(err, "cannot read generated key")
		}
		result.Keys = []any{id}
	}
	return result, nil
}

// returning runs a statement with a RETURNING clause and reads the generated
// keys from the first row.
func (e *executor) returning(ctx context.Context, stmt *exec.Statement, query string) (res *exec.Result, err error) {
	rows, err := e.query(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := rows.Close(); err == nil && cerr != nil {
			res, err = nil, cerr
		}
	}()
	res = &exec.Result{}
	for rows.Next() {
		res.UpdateCount++
		if res.Keys != nil {
			continue
		}
		keys := make([]any, len(stmt.KeyColumns))
		ptrs := make([]any, len(keys))
		for i := range keys {
			ptrs[i] = &keys[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		res.Keys = keys
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

// voidQuery runs a statement of a script without outputs that may return
// rows. The rows are handed over so that they are rejected. A statement
// without columns is drained and reports an unknown update count.
func (e *executor) voidQuery(ctx context.Context, stmt *exec.Statement, query string) (*exec.Result, error) {
	rows, err := e.query(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, err
	}
	if len(cols) > 0 {
		return &exec.Result{Rows: rows, UpdateCount: -1}, nil
	}
	for rows.Next() {
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	return &exec.Result{UpdateCount: -1}, nil
}

// rowKeywords are the leading keywords of statements that return rows.
var rowKeywords = map[string]bool{
	"SELECT":   true,
	"WITH":     true,
	"VALUES":   true,
	"TABLE":    true,
	"SHOW":     true,
	"PRAGMA":   true,
	"EXPLAIN":  true,
	"DESCRIBE": true,
}

// readsRows reports whether the first keyword of query is one of
// rowKeywords.
func readsRows(query string) bool {
	query = strings.TrimLeftFunc(query, func(r rune) bool {
		return unicode.IsSpace(r) || r == '('
	})
	end := strings.IndexFunc(query, func(r rune) bool { return !unicode.IsLetter(r) })
	if end < 0 {
		end = len(query)
	}
	return rowKeywords[strings.ToUpper(query[:end])]
}

func (e *executor) query(ctx context.Context, stmt *exec.Statement, query string) (*sql.Rows, error) {
	ps, err := e.prepared(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	if ps != nil {
		return ps.QueryContext(ctx, stmt.Args...)
	}
	return e.querier().QueryContext(ctx, query, stmt.Args...)
}

func (e *executor) exec(ctx context.Context, stmt *exec.Statement, query string) (sql.Result, error) {
	ps, err := e.prepared(ctx, stmt, query)
	if err != nil {
		return nil, err
	}
	if ps != nil {
		return ps.ExecContext(ctx, stmt.Args...)
	}
	return e.querier().ExecContext(ctx, query, stmt.Args...)
}

// prepared returns the cached prepared statement to run stmt with, or nil if
// it must be run directly. Outside a transaction missing statements are
// prepared. In a transaction an existing statement is reused but none is
// created.
func (e *executor) prepared(ctx context.Context, stmt *exec.Statement, query string) (*sql.Stmt, error) {
	if stmt.Kind != script.Prepared || !stmt.Hints.Poolable || !e.db.cfg.cache {
		return nil, nil
	}
	if e.tx == nil {
		return stmtCache.prepareStmt(ctx, e.db, e.db.sqldb, e.s, query)
	}
	ps, ok := stmtCache.lookupStmt(e.db, e.s, query)
	if !ok {
		return nil, nil
	}
	// Register the prepared statement on the transaction. This does not
	// re-prepare the statement on the driver. The transaction statement is
	// closed by database/sql when the transaction ends.
	return e.tx.StmtContext(ctx, ps), nil
}

var callEscape = regexp.MustCompile(`(?is)^\{\s*(?:(\S+)\s*=\s*)?call\s+([^\s(]+)\s*(?:\((.*)\))?\s*\}$`)

// callSQL rewrites the call escape of a callable statement for the
// placeholder style. With "@p" (SQL Server) the call becomes an EXEC batch
// and output arguments are marked OUTPUT. Otherwise the braces are stripped
// and the call is passed through.
func callSQL(query string, args []any, style exec.Placeholder) string {
	query = strings.TrimSpace(query)
	m := callEscape.FindStringSubmatch(query)
	if m == nil || style != exec.AtP {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(query, "{"), "}"))
	}
	ret, proc, params := m[1], m[2], strings.TrimSpace(m[3])
	var b strings.Builder
	b.WriteString("EXEC ")
	if ret != "" {
		b.WriteString(ret + " = ")
	}
	b.WriteString(proc)
	if params != "" {
		list := strings.Split(params, ",")
		for i, p := range list {
			p = strings.TrimSpace(p)
			if isOutArg(p, args) {
				p += " OUTPUT"
			}
			list[i] = p
		}
		b.WriteString(" " + strings.Join(list, ", "))
	}
	return b.String()
}

// isOutArg reports whether marker is an "@pN" marker bound to sql.Out.
func isOutArg(marker string, args []any) bool {
	n, err := strconv.Atoi(strings.TrimPrefix(marker, "@p"))
	if err != nil || !strings.HasPrefix(marker, "@p") || n < 1 || n > len(args) {
		return false
	}
	_, ok := args[n-1].(sql.Out)
	return ok
}
