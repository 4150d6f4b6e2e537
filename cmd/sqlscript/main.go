// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Command sqlscript checks script files and runs single scripts against a
// database.
//
//	sqlscript check FILE...
//	sqlscript run [-driver NAME] [-dsn DSN] [-placeholder STYLE] FILE SCRIPT [ARG...]
//
// The driver and DSN default to the SQLSCRIPT_DRIVER and SQLSCRIPT_DSN
// environment variables, which may be set in a .env file.
package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	_ "github.com/denisenkom/go-mssqldb"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	driverEnv = "SQLSCRIPT_DRIVER"
	dsnEnv    = "SQLSCRIPT_DSN"
)

// Options configures a command execution.
type Options struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger zerolog.Logger
}

func main() {
	// A missing .env file is fine, the environment is used as is.
	_ = godotenv.Load()
	os.Exit(Run(os.Args[1:], Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: initLogger(os.Stderr),
	}))
}

func initLogger(out io.Writer) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: "15:04:05",
		FormatLevel: func(i interface{}) string {
			return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
		},
	}
	level := zerolog.InfoLevel
	if os.Getenv("SQLSCRIPT_DEBUG") != "" {
		level = zerolog.DebugLevel
	}
	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}

// Run executes the command line args and returns the exit code.
func Run(args []string, opts Options) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if len(args) == 0 {
		printHelp(opts.Stderr)
		return 2
	}

	var err error
	switch args[0] {
	case "check":
		err = check(args[1:], opts)
	case "run":
		err = run(args[1:], opts)
	case "help", "-h", "-help", "--help":
		printHelp(opts.Stdout)
		return 0
	default:
		fmt.Fprintf(opts.Stderr, "Error: unknown command %q\n", args[0])
		printHelp(opts.Stderr)
		return 2
	}
	if err != nil {
		fmt.Fprintf(opts.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

func printHelp(w io.Writer) {
	fmt.Fprint(w, `Usage:
  sqlscript check FILE...
  sqlscript run [-driver NAME] [-dsn DSN] [-placeholder STYLE] FILE SCRIPT [ARG...]

Drivers: sqlite3, sqlite, pgx, postgres, mysql, sqlserver.
Placeholder styles: ?, $, @p, : (default depends on the driver).
Arguments are converted to the declared parameter types; NULL passes a nil.
`)
}
