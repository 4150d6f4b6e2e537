package sqlscript

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"sync"
	"unsafe"

	"github.com/mattn/go-sqlite3"
)

// This file contains a wrapper sql.Driver over the SQLite driver which
// monitors the creation and closing of prepared statements and counts the
// statements run directly on a connection or through a prepared statement.
// All records are indexed by the test name found in the DSN.

// openedStmts and closedStmts store the pointers to the created/closed
// statements. Unsafe pointers are stored instead of references so that the
// finalizers are still able to run.
var openedStmts = map[string]map[uintptr]string{}
var closedStmts = map[string]map[uintptr]bool{}
var stmtRegistryMutex sync.RWMutex

// dbQueriesRun and stmtQueriesRun count the statements run directly against
// the connection and through a prepared statement.
var dbQueriesRun = map[string]int{}
var stmtQueriesRun = map[string]int{}
var queriesRunMutex sync.RWMutex

func countRun(counts map[string]int, testName string, err error) {
	if err != nil {
		return
	}
	queriesRunMutex.Lock()
	defer queriesRunMutex.Unlock()
	counts[testName]++
}

type checkedDriver struct {
	driver.Driver
}

type checkedConn struct {
	testName string
	*sqlite3.SQLiteConn
}

type checkedStmt struct {
	testName string
	*sqlite3.SQLiteStmt
}

func (s *checkedStmt) Close() error {
	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := closedStmts[s.testName]; !ok {
		closedStmts[s.testName] = map[uintptr]bool{}
	}
	closedStmts[s.testName][uintptr(unsafe.Pointer(s))] = true
	return s.SQLiteStmt.Close()
}

func (s *checkedStmt) Query(args []driver.Value) (driver.Rows, error) {
	rows, err := s.SQLiteStmt.Query(args)
	countRun(stmtQueriesRun, s.testName, err)
	return rows, err
}

func (s *checkedStmt) QueryContext(ctx context.Context, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := s.SQLiteStmt.QueryContext(ctx, args)
	countRun(stmtQueriesRun, s.testName, err)
	return rows, err
}

func (s *checkedStmt) Exec(args []driver.Value) (driver.Result, error) {
	res, err := s.SQLiteStmt.Exec(args)
	countRun(stmtQueriesRun, s.testName, err)
	return res, err
}

func (s *checkedStmt) ExecContext(ctx context.Context, args []driver.NamedValue) (driver.Result, error) {
	res, err := s.SQLiteStmt.ExecContext(ctx, args)
	countRun(stmtQueriesRun, s.testName, err)
	return res, err
}

func (c *checkedConn) PrepareContext(ctx context.Context, query string) (driver.Stmt, error) {
	s, err := c.SQLiteConn.PrepareContext(ctx, query)
	if err != nil {
		return nil, err
	}
	sm, ok := s.(*sqlite3.SQLiteStmt)
	if !ok {
		panic(fmt.Sprintf("internal error: base driver is not SQLite, got %T", s))
	}
	checked := &checkedStmt{SQLiteStmt: sm, testName: c.testName}

	stmtRegistryMutex.Lock()
	defer stmtRegistryMutex.Unlock()
	if _, ok := openedStmts[c.testName]; !ok {
		openedStmts[c.testName] = map[uintptr]string{}
	}
	openedStmts[c.testName][uintptr(unsafe.Pointer(checked))] = query
	return checked, nil
}

func (c *checkedConn) Prepare(query string) (driver.Stmt, error) {
	return c.PrepareContext(context.Background(), query)
}

func (c *checkedConn) Query(query string, args []driver.Value) (driver.Rows, error) {
	rows, err := c.SQLiteConn.Query(query, args)
	countRun(dbQueriesRun, c.testName, err)
	return rows, err
}

func (c *checkedConn) QueryContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	rows, err := c.SQLiteConn.QueryContext(ctx, query, args)
	countRun(dbQueriesRun, c.testName, err)
	return rows, err
}

func (c *checkedConn) Exec(query string, args []driver.Value) (driver.Result, error) {
	res, err := c.SQLiteConn.Exec(query, args)
	countRun(dbQueriesRun, c.testName, err)
	return res, err
}

func (c *checkedConn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	res, err := c.SQLiteConn.ExecContext(ctx, query, args)
	countRun(dbQueriesRun, c.testName, err)
	return res, err
}

const testNameTag = "testName"

// Open expects the DSN to contain the test name in the testName attribute.
func (d *checkedDriver) Open(name string) (driver.Conn, error) {
	var testName string
	_, parameters, _ := strings.Cut(name, "?")
	for _, p := range strings.Split(parameters, "&") {
		if v, ok := strings.CutPrefix(p, testNameTag+"="); ok {
			testName = v
		}
	}
	if testName == "" {
		panic("internal error: testName is not found in the db DSN")
	}

	baseConn, err := d.Driver.Open(name)
	if err != nil {
		return nil, err
	}
	conn, ok := baseConn.(*sqlite3.SQLiteConn)
	if !ok {
		panic("internal error: base driver is not SQLite")
	}
	return &checkedConn{SQLiteConn: conn, testName: testName}, nil
}

func init() {
	sql.Register("sqlite3_stmtChecked", &checkedDriver{
		&sqlite3.SQLiteDriver{},
	})
}
