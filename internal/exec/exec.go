// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package exec runs compiled scripts. For every call an execution Context
// binds the arguments, assembles the SQL text and its positional parameters
// from the fragment tree, hands the statement to an Executor and collects
// the result rows, output parameters and generated keys.
package exec

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/canonical/sqlscript/internal/script"
)

// Placeholder is the style of the positional parameter markers written in
// assembled SQL.
type Placeholder int

const (
	// Question writes "?".
	Question Placeholder = iota
	// Dollar writes "$1", "$2", ...
	Dollar
	// AtP writes "@p1", "@p2", ...
	AtP
	// Colon writes ":1", ":2", ...
	Colon
)

// ParsePlaceholder returns the style written as "?", "$", "@p" or ":".
func ParsePlaceholder(s string) (Placeholder, error) {
	switch s {
	case "?", "":
		return Question, nil
	case "$":
		return Dollar, nil
	case "@p":
		return AtP, nil
	case ":":
		return Colon, nil
	}
	return Question, fmt.Errorf("unknown placeholder style %q", s)
}

func (p Placeholder) String() string {
	switch p {
	case Dollar:
		return "$"
	case AtP:
		return "@p"
	case Colon:
		return ":"
	}
	return "?"
}

// marker returns the marker of the n-th parameter, counting from 1.
func (p Placeholder) marker(n int) string {
	if p == Question {
		return "?"
	}
	return p.String() + strconv.Itoa(n)
}

// Statement is an assembled statement ready to be executed.
type Statement struct {
	Script string
	SQL    string
	Args   []any
	Kind   script.Kind
	// Rows is set when the script reads a result set.
	Rows bool
	// Void is set when the script declares no outputs. Result rows are then
	// an error.
	Void bool
	// KeyColumns are the generated key columns to return.
	KeyColumns []string
	Hints      script.Hints
}

// Rows is a result set. It is satisfied by *sql.Rows.
type Rows interface {
	Columns() ([]string, error)
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Result is what an Executor returns for a statement.
type Result struct {
	// Rows is nil when the statement produced no result set.
	Rows Rows
	// UpdateCount is the number of affected rows, -1 when not known.
	UpdateCount int64
	// Keys holds the generated key values in the order of the key columns.
	Keys []any
}

// Executor executes assembled statements. It is the statement execution
// collaborator of the engine and owns every driver interaction.
type Executor interface {
	Execute(ctx context.Context, stmt *Statement) (*Result, error)
}

// Config holds the settings threaded through every execution.
type Config struct {
	Placeholder Placeholder
	Logger      zerolog.Logger
}

// Outcome holds information about a completed execution.
type Outcome struct {
	// UpdateCount is the number of affected rows, -1 when not known.
	UpdateCount int64
	// Keys holds the generated key values.
	Keys []any
	// Rows is the number of rows handed to the collector.
	Rows int
}
