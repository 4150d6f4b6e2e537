// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package sqlerr holds the two error categories surfaced by sqlscript: setup
// errors, raised while compiling script definitions (or when a script
// declaration turns out not to match the schema), and execution errors,
// raised while running a compiled script.
package sqlerr

import (
	"fmt"
	"strings"
)

// SetupError reports a problem with a script definition. Line and Column are
// zero when the position is not known.
type SetupError struct {
	Script string
	Line   int
	Column int
	Err    error
}

func (e *SetupError) Error() string {
	var b strings.Builder
	b.WriteString("cannot compile script")
	if e.Script != "" {
		b.WriteString(" \"" + e.Script + "\"")
	}
	if e.Line > 0 {
		if e.Column > 0 {
			fmt.Fprintf(&b, " (line %d, column %d)", e.Line, e.Column)
		} else {
			fmt.Fprintf(&b, " (line %d)", e.Line)
		}
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *SetupError) Unwrap() error { return e.Err }

// Cause returns the underlying error.
func (e *SetupError) Cause() error { return e.Err }

// ExecutionError reports a failure while running a script. Params holds the
// positional query parameters when they had been assembled.
type ExecutionError struct {
	Script string
	Params []any
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Script == "" {
		return "cannot execute script: " + e.Err.Error()
	}
	return fmt.Sprintf("cannot execute script %q: %s", e.Script, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// Cause returns the underlying error.
func (e *ExecutionError) Cause() error { return e.Err }

// Setup returns a SetupError for the named script. If err is already a
// SetupError the missing fields are filled in and it is returned unchanged
// otherwise.
func Setup(script string, line, column int, err error) error {
	if err == nil {
		return nil
	}
	if se, ok := err.(*SetupError); ok {
		if se.Script == "" {
			se.Script = script
		}
		if se.Line == 0 {
			se.Line, se.Column = line, column
		}
		return se
	}
	return &SetupError{Script: script, Line: line, Column: column, Err: err}
}

// Execution wraps err as an ExecutionError. Setup errors detected at run time
// keep their category.
func Execution(script string, params []any, err error) error {
	switch e := err.(type) {
	case nil:
		return nil
	case *SetupError:
		if e.Script == "" {
			e.Script = script
		}
		return e
	case *ExecutionError:
		return e
	}
	return &ExecutionError{Script: script, Params: params, Err: err}
}
