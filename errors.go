// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"database/sql"

	"github.com/pkg/errors"

	"github.com/canonical/sqlscript/internal/sqlerr"
)

// SetupError reports a script that cannot be compiled, or that does not
// match the result set it is run against.
type SetupError = sqlerr.SetupError

// ExecutionError reports a failure while running a compiled script. It
// carries the positional parameters sent to the database.
type ExecutionError = sqlerr.ExecutionError

var ErrNoRows = sql.ErrNoRows
var ErrTXDone = sql.ErrTxDone

// ErrScriptNotFound is returned by [Registry.Script] for unknown names.
var ErrScriptNotFound = errors.New("script not found")
