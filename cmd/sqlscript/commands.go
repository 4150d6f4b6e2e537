// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/pkg/errors"

	"github.com/canonical/sqlscript"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

// check compiles every file and lists its scripts.
func check(args []string, opts Options) error {
	if len(args) == 0 {
		return errors.New("check: need at least one file")
	}
	for _, path := range args {
		reg, err := sqlscript.Load(path)
		if err != nil {
			return err
		}
		for _, s := range reg.Scripts() {
			fmt.Fprintf(opts.Stdout, "%s:%d: %s\n", path, s.Line(), s)
		}
		opts.Logger.Debug().Str("file", path).Int("scripts", len(reg.Scripts())).Msg("checked scripts")
	}
	return nil
}

// driverDefaults holds the options matching the conventions of a driver.
var driverDefaults = map[string][]sqlscript.Option{
	"sqlite3":   nil,
	"sqlite":    nil,
	"mysql":     nil,
	"pgx":       {sqlscript.WithPlaceholder(sqlscript.Dollar), sqlscript.WithGeneratedKeys(sqlscript.Returning)},
	"postgres":  {sqlscript.WithPlaceholder(sqlscript.Dollar), sqlscript.WithGeneratedKeys(sqlscript.Returning)},
	"sqlserver": {sqlscript.WithPlaceholder(sqlscript.AtP)},
}

// run executes a single script and prints its result as JSON.
func run(args []string, opts Options) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(opts.Stderr)
	driverName := fs.String("driver", os.Getenv(driverEnv), "database driver name")
	dsn := fs.String("dsn", os.Getenv(dsnEnv), "data source name")
	placeholder := fs.String("placeholder", "", "placeholder style (?, $, @p, :)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 2 {
		return errors.New("run: need a file and a script name")
	}
	if *driverName == "" || *dsn == "" {
		return errors.Errorf("run: driver and DSN must be set with -driver/-dsn or %s/%s", driverEnv, dsnEnv)
	}
	dbOpts, ok := driverDefaults[*driverName]
	if !ok {
		return errors.Errorf("run: unsupported driver %q", *driverName)
	}
	dbOpts = append([]sqlscript.Option{sqlscript.WithLogger(opts.Logger)}, dbOpts...)
	if *placeholder != "" {
		style, err := sqlscript.ParsePlaceholder(*placeholder)
		if err != nil {
			return err
		}
		dbOpts = append(dbOpts, sqlscript.WithPlaceholder(style))
	}

	reg, err := sqlscript.Load(fs.Arg(0))
	if err != nil {
		return err
	}
	s, err := reg.Script(fs.Arg(1))
	if err != nil {
		return err
	}
	inputArgs, err := convertArgs(s, fs.Args()[2:])
	if err != nil {
		return err
	}

	sqldb, err := sql.Open(*driverName, *dsn)
	if err != nil {
		return errors.Wrapf(err, "cannot open %s database", *driverName)
	}
	defer sqldb.Close()
	db := sqlscript.NewDB(sqldb, dbOpts...)

	res, err := db.Execute(context.Background(), s, inputArgs...)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(opts.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

// convertArgs converts the command line arguments to the declared parameter
// types of s.
func convertArgs(s *sqlscript.Script, args []string) ([]any, error) {
	params := s.Params()
	if len(args) != len(params) {
		return nil, errors.Errorf("script %q takes %d arguments, got %d", s.Name(), len(params), len(args))
	}
	values := make([]any, len(args))
	for i, p := range params {
		if args[i] == "NULL" {
			continue
		}
		if p.Bean {
			return nil, errors.Errorf("argument %d (%s): bean arguments cannot be given on the command line", i+1, p.Name)
		}
		v, err := typeinfo.Decode(args[i], p.Type)
		if err != nil {
			return nil, errors.Wrapf(err, "argument %d (%s)", i+1, p.Name)
		}
		values[i] = v.Interface()
	}
	return values, nil
}
