// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"github.com/rs/zerolog"

	"github.com/canonical/sqlscript/internal/exec"
)

// Placeholder is the style of the positional parameter markers sent to the
// database.
type Placeholder = exec.Placeholder

const (
	// Question writes "?", as used by SQLite and MySQL.
	Question = exec.Question
	// Dollar writes "$1", "$2", ... as used by PostgreSQL.
	Dollar = exec.Dollar
	// AtP writes "@p1", "@p2", ... as used by SQL Server.
	AtP = exec.AtP
	// Colon writes ":1", ":2", ...
	Colon = exec.Colon
)

// ParsePlaceholder returns the placeholder style written as "?", "$", "@p"
// or ":".
func ParsePlaceholder(s string) (Placeholder, error) {
	return exec.ParsePlaceholder(s)
}

// GeneratedKeys is the way generated key values are obtained from the
// database.
type GeneratedKeys int

const (
	// LastInsertID reads the single generated key from
	// sql.Result.LastInsertId.
	LastInsertID GeneratedKeys = iota
	// Returning appends a RETURNING clause listing the key columns and reads
	// the keys from the first returned row.
	Returning
)

type config struct {
	logger      zerolog.Logger
	placeholder Placeholder
	keys        GeneratedKeys
	cache       bool
}

func defaultConfig() config {
	return config{
		logger:      zerolog.Nop(),
		placeholder: Question,
		keys:        LastInsertID,
		cache:       true,
	}
}

func (cfg config) exec() exec.Config {
	return exec.Config{Placeholder: cfg.placeholder, Logger: cfg.logger}
}

// Option configures a [DB].
type Option func(*config)

// WithLogger sets the logger that executions are reported to at debug level.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithPlaceholder sets the parameter marker style of the database driver.
func WithPlaceholder(p Placeholder) Option {
	return func(cfg *config) {
		cfg.placeholder = p
	}
}

// WithGeneratedKeys sets how generated keys are read.
func WithGeneratedKeys(keys GeneratedKeys) Option {
	return func(cfg *config) {
		cfg.keys = keys
	}
}

// WithStatementCache enables or disables the reuse of driver prepared
// statements. It is enabled by default.
func WithStatementCache(enabled bool) Option {
	return func(cfg *config) {
		cfg.cache = enabled
	}
}
