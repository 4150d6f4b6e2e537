package sqlscript_test

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	. "gopkg.in/check.v1"
	_ "modernc.org/sqlite"

	"github.com/canonical/sqlscript"
)

type PackageSuite struct{}

var _ = Suite(&PackageSuite{})

type Address struct {
	ID       int64  `db:"id"`
	District string `db:"district"`
	Street   string `db:"street"`
}

type Person struct {
	ID        int64  `db:"id"`
	Name      string `db:"name"`
	Active    string `db:"active"`
	AddressID int64  `db:"address_id"`
}

const personScripts = `
# Person queries.
findPersons IN(boolean onlyActive) OUT(Person[id,name])
====
SELECT id, name FROM person!(true(onlyActive)){ WHERE active = 'Y'} ORDER BY id
====

findPerson IN(long id) OUT(Person[id,name,active,address_id])
====
SELECT id, name, active, address_id FROM person WHERE id = ?{id}
====

findName IN(long id) OUT(String)
====
SELECT name FROM person WHERE id = ?{id}
====

countPersons OUT(long)
====
SELECT count(*) FROM person
====

namesByID OUT(long, String)
====
SELECT id, name FROM person ORDER BY id
====

personsWithAddress
  OUT(Person[id,name], Address[district,street])
====
SELECT p.id, p.name, a.district, a.street
  FROM person AS p
  JOIN address AS a ON a.id = p.address_id
 ORDER BY p.id
====

searchPersons IN(String name, Long minID) OUT(String)
====
SELECT name FROM person WHERE 1=1!(name){ AND name = ?{name}}!(!empty(minID)){ AND id >= ?{minID}} ORDER BY id
====

# Updates.
insertPerson IN(Person p) UPDATE(KEYS(id -> p.id))
====
INSERT INTO person (name, active, address_id) VALUES (?{p.name}, ?{p.active}, ?{p.address_id})
====

insertName IN(String name) OUT(long id) UPDATE(KEYS(id -> id))
====
INSERT INTO person (name, active) VALUES (?{name}, 'N')
====

renamePerson IN(Person[id, name])
====
UPDATE person SET name = ?{name} WHERE id = ?{id}
====

wrongColumns OUT(long, String)
====
SELECT id, name, active FROM person
====

firstTwo OUT(String) HINT(maxRows=2, maxFieldSize=2)
====
SELECT name FROM person ORDER BY id
====

readOnlyCount OUT(long) HINT(readOnly=true, queryTimeout=5)
====
SELECT count(*) FROM person
====

# No outputs declared.
voidSelect
====
SELECT 1 UNION ALL SELECT 2
====

voidLookup IN(long id)
====
SELECT id FROM person WHERE id = ?{id}
====
`

const createTables = `
CREATE TABLE person (
	id integer PRIMARY KEY,
	name text,
	active text,
	address_id integer
);
CREATE TABLE address (
	id integer,
	district text,
	street text
);
INSERT INTO person VALUES (30, 'Fred', 'Y', 1000);
INSERT INTO person VALUES (20, 'Mark', 'N', 1500);
INSERT INTO person VALUES (40, 'Mary', 'Y', 3500);
INSERT INTO person VALUES (35, 'James', 'N', 4500);
INSERT INTO address VALUES (1000, 'Happy Land', 'Main Street');
INSERT INTO address VALUES (1500, 'Sad World', 'Church Road');
INSERT INTO address VALUES (3500, 'Ambivalent Commons', 'Station Lane');
`

// personDB returns a database with the person and address tables, opened
// with the given driver.
func personDB(c *C, driverName string, opts ...sqlscript.Option) *sqlscript.DB {
	sqldb, err := sql.Open(driverName, ":memory:")
	c.Assert(err, IsNil)
	// Every connection to ":memory:" opens a distinct database.
	sqldb.SetMaxOpenConns(1)
	_, err = sqldb.Exec(createTables)
	c.Assert(err, IsNil)
	return sqlscript.NewDB(sqldb, opts...)
}

func personRegistry(c *C) *sqlscript.Registry {
	reg, err := sqlscript.Compile(personScripts, Person{}, Address{})
	c.Assert(err, IsNil)
	return reg
}

func (s *PackageSuite) TestGet(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var p Person
	err := db.Query(nil, reg.MustScript("findPerson"), 30).Get(&p)
	c.Assert(err, IsNil)
	c.Assert(p, Equals, Person{ID: 30, Name: "Fred", Active: "Y", AddressID: 1000})

	var name string
	err = db.Query(nil, reg.MustScript("findName"), int64(40)).Get(&name)
	c.Assert(err, IsNil)
	c.Assert(name, Equals, "Mary")

	var count int
	err = db.Query(nil, reg.MustScript("countPersons")).Get(&count)
	c.Assert(err, IsNil)
	c.Assert(count, Equals, 4)

	// Several values go to one output argument each, or to a single []any.
	var id int64
	err = db.Query(nil, reg.MustScript("namesByID")).Get(&id, &name)
	c.Assert(err, IsNil)
	c.Assert(id, Equals, int64(20))
	c.Assert(name, Equals, "Mark")
	var row []any
	err = db.Query(nil, reg.MustScript("namesByID")).Get(&row)
	c.Assert(err, IsNil)
	c.Assert(row, DeepEquals, []any{int64(20), "Mark"})
}

func (s *PackageSuite) TestGetErrors(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var tests = []struct {
		summary string
		script  string
		inputs  []any
		outputs []any
		err     string
	}{{
		summary: "no rows",
		script:  "findName",
		inputs:  []any{12312},
		outputs: []any{new(string)},
		err:     "sql: no rows in result set",
	}, {
		summary: "missing argument",
		script:  "findName",
		inputs:  []any{},
		outputs: []any{new(string)},
		err:     `cannot execute script "findName": wrong number of arguments: expected 1, got 0`,
	}, {
		summary: "wrong argument type",
		script:  "findName",
		inputs:  []any{"Fred"},
		outputs: []any{new(string)},
		err:     `cannot execute script "findName": argument 1 \(id\): cannot convert string to int64`,
	}, {
		summary: "no outputs",
		script:  "renamePerson",
		inputs:  []any{Person{ID: 30, Name: "Fred"}},
		outputs: []any{new(string)},
		err:     `cannot get result: output variables provided but script "renamePerson" has no outputs`,
	}, {
		summary: "too many outputs",
		script:  "namesByID",
		inputs:  []any{},
		outputs: []any{new(int64), new(string), new(string)},
		err:     "cannot get result: expected 1 or 2 output arguments, got 3",
	}, {
		summary: "output not a pointer",
		script:  "findName",
		inputs:  []any{30},
		outputs: []any{""},
		err:     "cannot get result: need pointer, got string",
	}, {
		summary: "undecodable column",
		script:  "findName",
		inputs:  []any{30},
		outputs: []any{new(int)},
		err:     `cannot execute script "findName": cannot convert "Fred" to int`,
	}, {
		summary: "result rows without outputs",
		script:  "findName",
		inputs:  []any{30},
		outputs: []any{},
		err:     `cannot execute script "findName": unexpected result row for void result`,
	}}

	for _, t := range tests {
		err := db.Query(nil, reg.MustScript(t.script), t.inputs...).Get(t.outputs...)
		c.Assert(err, ErrorMatches, t.err, Commentf("\ntest %q failed", t.summary))
	}
}

func (s *PackageSuite) TestErrNoRows(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var name string
	err := db.Query(nil, reg.MustScript("findName"), 12312).Get(&name)
	c.Assert(err, Equals, sqlscript.ErrNoRows)
	c.Assert(err, Equals, sql.ErrNoRows)

	var names []string
	err = db.Query(nil, reg.MustScript("searchPersons"), "Nobody", nil).GetAll(&names)
	c.Assert(err, Equals, sqlscript.ErrNoRows)
	c.Assert(names, HasLen, 0)
}

func (s *PackageSuite) TestGetAll(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var tests = []struct {
		summary  string
		script   string
		inputs   []any
		slices   []any
		expected []any
	}{{
		summary:  "guarded block included",
		script:   "findPersons",
		inputs:   []any{true},
		slices:   []any{&[]Person{}},
		expected: []any{&[]Person{{ID: 30, Name: "Fred"}, {ID: 40, Name: "Mary"}}},
	}, {
		summary:  "guarded block excluded",
		script:   "findPersons",
		inputs:   []any{false},
		slices:   []any{&[]Person{}},
		expected: []any{&[]Person{{ID: 20, Name: "Mark"}, {ID: 30, Name: "Fred"}, {ID: 35, Name: "James"}, {ID: 40, Name: "Mary"}}},
	}, {
		summary:  "one slice per output",
		script:   "namesByID",
		inputs:   []any{},
		slices:   []any{&[]int64{}, &[]string{}},
		expected: []any{&[]int64{20, 30, 35, 40}, &[]string{"Mark", "Fred", "James", "Mary"}},
	}, {
		summary:  "one slice of rows",
		script:   "namesByID",
		inputs:   []any{},
		slices:   []any{&[][]any{}},
		expected: []any{&[][]any{{int64(20), "Mark"}, {int64(30), "Fred"}, {int64(35), "James"}, {int64(40), "Mary"}}},
	}, {
		summary: "two beans per row",
		script:  "personsWithAddress",
		inputs:  []any{},
		slices:  []any{&[]Person{}, &[]Address{}},
		expected: []any{
			&[]Person{{ID: 20, Name: "Mark"}, {ID: 30, Name: "Fred"}, {ID: 40, Name: "Mary"}},
			&[]Address{{District: "Sad World", Street: "Church Road"}, {District: "Happy Land", Street: "Main Street"}, {District: "Ambivalent Commons", Street: "Station Lane"}},
		},
	}, {
		summary:  "conditions on two parameters",
		script:   "searchPersons",
		inputs:   []any{"", int64(35)},
		slices:   []any{&[]string{}},
		expected: []any{&[]string{"James", "Mary"}},
	}, {
		summary:  "empty condition skipped",
		script:   "searchPersons",
		inputs:   []any{"Fred", nil},
		slices:   []any{&[]string{}},
		expected: []any{&[]string{"Fred"}},
	}}

	for _, t := range tests {
		q := db.Query(nil, reg.MustScript(t.script), t.inputs...)
		c.Assert(q.GetAll(t.slices...), IsNil, Commentf("\ntest %q failed (GetAll)", t.summary))
		for i, column := range t.expected {
			c.Assert(t.slices[i], DeepEquals, column, Commentf("\ntest %q failed", t.summary))
		}
	}
}

func (s *PackageSuite) TestGetAllErrors(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var tests = []struct {
		summary string
		script  string
		slices  []any
		err     string
	}{{
		summary: "nil argument",
		script:  "namesByID",
		slices:  []any{nil},
		err:     "cannot get all results: need pointer, got invalid",
	}, {
		summary: "nil pointer argument",
		script:  "namesByID",
		slices:  []any{(*[]Person)(nil)},
		err:     "cannot get all results: need pointer, got nil",
	}, {
		summary: "non slice pointer argument",
		script:  "namesByID",
		slices:  []any{&Person{}},
		err:     "cannot get all results: need pointer to slice, got pointer to struct",
	}, {
		summary: "wrong slice type",
		script:  "findPersons",
		slices:  []any{&[]Address{}},
		err:     `cannot execute script "findPersons": cannot convert sqlscript_test.Person to sqlscript_test.Address`,
	}, {
		summary: "column count mismatch",
		script:  "wrongColumns",
		slices:  []any{&[]int64{}, &[]string{}},
		err:     `cannot compile script "wrongColumns" \(line \d+\): column count mismatch: expected 2, got 3`,
	}}

	for _, t := range tests {
		var inputs []any
		if t.script == "findPersons" {
			inputs = []any{false}
		}
		err := db.Query(nil, reg.MustScript(t.script), inputs...).GetAll(t.slices...)
		c.Assert(err, ErrorMatches, t.err, Commentf("\ntest %q failed", t.summary))
	}

	// A result set that does not match the declaration is a setup error.
	var ids []int64
	var names []string
	err := db.Query(nil, reg.MustScript("wrongColumns")).GetAll(&ids, &names)
	var setupErr *sqlscript.SetupError
	c.Assert(errors.As(err, &setupErr), Equals, true)
	c.Assert(setupErr.Script, Equals, "wrongColumns")
}

func (s *PackageSuite) TestGetMapAndRows(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var m map[int64]string
	err := db.Query(nil, reg.MustScript("namesByID")).GetMap(&m)
	c.Assert(err, IsNil)
	c.Assert(m, DeepEquals, map[int64]string{20: "Mark", 30: "Fred", 35: "James", 40: "Mary"})

	var byName map[string]any
	err = db.Query(nil, reg.MustScript("personsWithAddress")).GetMap(&byName)
	c.Assert(err, ErrorMatches, `cannot execute script "personsWithAddress": map key: cannot convert sqlscript_test.Person to string`)

	err = db.Query(nil, reg.MustScript("findName"), 30).GetMap(&m)
	c.Assert(err, ErrorMatches, "cannot get map: need at least 2 outputs to collect a map, got 1")

	rows, err := db.Query(nil, reg.MustScript("findPersons"), true).GetRows()
	c.Assert(err, IsNil)
	c.Assert(rows, DeepEquals, [][]any{{Person{ID: 30, Name: "Fred"}}, {Person{ID: 40, Name: "Mary"}}})
}

func (s *PackageSuite) TestVoidResult(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)
	ctx := context.Background()

	err := db.Query(nil, reg.MustScript("voidSelect")).Run()
	c.Assert(err, ErrorMatches, `cannot execute script "voidSelect": unexpected result row for void result`)
	var execErr *sqlscript.ExecutionError
	c.Assert(errors.As(err, &execErr), Equals, true)

	// The check does not depend on the collector.
	_, err = db.Query(nil, reg.MustScript("voidSelect")).GetRows()
	c.Assert(err, ErrorMatches, `cannot execute script "voidSelect": unexpected result row for void result`)
	_, err = db.Execute(ctx, reg.MustScript("voidSelect"))
	c.Assert(err, ErrorMatches, `cannot execute script "voidSelect": unexpected result row for void result`)

	// A query returning no rows is fine.
	var outcome sqlscript.Outcome
	c.Assert(db.Query(nil, reg.MustScript("voidLookup"), 99).Get(&outcome), IsNil)
	c.Assert(outcome.UpdateCount(), Equals, int64(-1))
	c.Assert(outcome.Rows(), Equals, 0)
	err = db.Query(nil, reg.MustScript("voidLookup"), 30).Run()
	c.Assert(err, ErrorMatches, `cannot execute script "voidLookup": unexpected result row for void result`)

	// Statements not returning rows keep their update count.
	err = db.Query(nil, reg.MustScript("renamePerson"), Person{ID: 30, Name: "Fred"}).Get(&outcome)
	c.Assert(err, IsNil)
	c.Assert(outcome.UpdateCount(), Equals, int64(1))

	// In a transaction the failure rolls back.
	tx, err := db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	c.Assert(tx.Query(ctx, reg.MustScript("renamePerson"), Person{ID: 30, Name: "Frederick"}).Run(), IsNil)
	err = tx.Query(ctx, reg.MustScript("voidSelect")).Run()
	c.Assert(err, ErrorMatches, `cannot execute script "voidSelect": unexpected result row for void result`)
	c.Assert(tx.Commit(), Equals, sqlscript.ErrTXDone)

	var name string
	c.Assert(db.Query(ctx, reg.MustScript("findName"), 30).Get(&name), IsNil)
	c.Assert(name, Equals, "Fred")
}

func (s *PackageSuite) TestExecute(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)
	ctx := context.Background()

	res, err := db.Execute(ctx, reg.MustScript("countPersons"))
	c.Assert(err, IsNil)
	c.Assert(res, DeepEquals, []any{int64(4)})

	res, err = db.Execute(ctx, reg.MustScript("searchPersons"), "", int64(36))
	c.Assert(err, IsNil)
	c.Assert(res, DeepEquals, []any{"Mary"})

	res, err = db.Execute(ctx, reg.MustScript("namesByID"))
	c.Assert(err, IsNil)
	c.Assert(res, DeepEquals, []any{
		[]any{int64(20), "Mark"},
		[]any{int64(30), "Fred"},
		[]any{int64(35), "James"},
		[]any{int64(40), "Mary"},
	})

	res, err = db.Execute(ctx, reg.MustScript("searchPersons"), "Nobody", nil)
	c.Assert(err, IsNil)
	c.Assert(res, DeepEquals, []any{})

	res, err = db.Execute(ctx, reg.MustScript("renamePerson"), Person{ID: 30, Name: "Frederick"})
	c.Assert(err, IsNil)
	c.Assert(res, IsNil)

	res, err = db.Execute(ctx, reg.MustScript("insertName"), "Jim")
	c.Assert(err, IsNil)
	c.Assert(res, Equals, int64(41))

	var name string
	c.Assert(db.Query(ctx, reg.MustScript("findName"), 30).Get(&name), IsNil)
	c.Assert(name, Equals, "Frederick")
}

func (s *PackageSuite) TestRun(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	jim := &Person{Name: "Jim", Active: "Y", AddressID: 500}
	c.Assert(db.Query(nil, reg.MustScript("insertPerson"), jim).Run(), IsNil)
	// The generated key is stored into the argument.
	c.Assert(jim.ID, Equals, int64(41))

	var jimCheck Person
	c.Assert(db.Query(nil, reg.MustScript("findPerson"), jim.ID).Get(&jimCheck), IsNil)
	c.Assert(jimCheck, Equals, *jim)

	// The key cannot be stored into a value.
	err := db.Query(nil, reg.MustScript("insertPerson"), Person{Name: "Joe"}).Run()
	c.Assert(err, ErrorMatches, `cannot execute script "insertPerson": cannot store generated key "id": cannot set property id: need non-nil pointer to sqlscript_test.Person, got sqlscript_test.Person`)
}

func (s *PackageSuite) TestOutcome(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var outcome = sqlscript.Outcome{}
	err := db.Query(nil, reg.MustScript("renamePerson"), Person{ID: 30, Name: "Fred"}).Get(&outcome)
	c.Assert(err, IsNil)
	c.Assert(outcome.UpdateCount(), Equals, int64(1))
	c.Assert(outcome.Keys(), HasLen, 0)

	var id int64
	err = db.Query(nil, reg.MustScript("insertName"), "Jim").Get(&outcome, &id)
	c.Assert(err, IsNil)
	c.Assert(id, Equals, int64(41))
	c.Assert(outcome.UpdateCount(), Equals, int64(1))
	c.Assert(outcome.Keys(), DeepEquals, []any{int64(41)})
	c.Assert(outcome.Rows(), Equals, 1)

	var people []Person
	err = db.Query(nil, reg.MustScript("findPersons"), true).GetAll(&outcome, &people)
	c.Assert(err, IsNil)
	c.Assert(outcome.UpdateCount(), Equals, int64(-1))
	c.Assert(outcome.Rows(), Equals, 2)

	var m map[int64]string
	err = db.Query(nil, reg.MustScript("namesByID")).GetMap(&outcome, &m)
	c.Assert(err, IsNil)
	c.Assert(outcome.Rows(), Equals, 5)
}

func (s *PackageSuite) TestHints(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)

	var names []string
	err := db.Query(nil, reg.MustScript("firstTwo")).GetAll(&names)
	c.Assert(err, IsNil)
	c.Assert(names, DeepEquals, []string{"Ma", "Fr"})

	var count int64
	err = db.Query(nil, reg.MustScript("readOnlyCount")).Get(&count)
	c.Assert(err, IsNil)
	c.Assert(count, Equals, int64(4))
}

func (s *PackageSuite) TestTransactions(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)
	insert := reg.MustScript("insertPerson")
	find := reg.MustScript("findPerson")
	ctx := context.Background()

	var derek = &Person{Name: "Derek", Active: "Y", AddressID: 8000}
	tx, err := db.Begin(ctx, nil)
	c.Assert(err, IsNil)

	// Insert derek then rollback.
	c.Assert(tx.Query(ctx, insert, derek).Run(), IsNil)
	c.Assert(derek.ID, Equals, int64(41))
	c.Assert(tx.Rollback(), IsNil)

	// Check derek isnt in db; insert derek; commit.
	tx, err = db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	var derekCheck = Person{}
	c.Assert(tx.Query(ctx, find, derek.ID).Get(&derekCheck), Equals, sqlscript.ErrNoRows)
	// No rows does not end the transaction.
	c.Assert(tx.Query(ctx, insert, derek).Run(), IsNil)
	c.Assert(tx.Commit(), IsNil)

	// Check derek is now in the db.
	tx, err = db.Begin(ctx, &sqlscript.TXOptions{ReadOnly: true})
	c.Assert(err, IsNil)
	c.Assert(tx.Query(ctx, find, derek.ID).Get(&derekCheck), IsNil)
	c.Assert(derekCheck, Equals, *derek)
	res, err := tx.Execute(ctx, reg.MustScript("countPersons"))
	c.Assert(err, IsNil)
	c.Assert(res, DeepEquals, []any{int64(5)})
	c.Assert(tx.Commit(), IsNil)
}

func (s *PackageSuite) TestTransactionErrors(c *C) {
	db := personDB(c, "sqlite3")
	reg := personRegistry(c)
	insert := reg.MustScript("insertName")
	ctx := context.Background()

	// Test running query after commit.
	tx, err := db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	q := tx.Query(ctx, insert, "Derek")
	c.Assert(tx.Commit(), IsNil)
	err = q.Run()
	c.Assert(err, ErrorMatches, "sql: transaction has already been committed or rolled back")

	// Test running query after rollback.
	tx, err = db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	q = tx.Query(ctx, insert, "Derek")
	c.Assert(tx.Rollback(), IsNil)
	err = q.Run()
	c.Assert(err, ErrorMatches, "sql: transaction has already been committed or rolled back")

	// A failed execution rolls the transaction back.
	tx, err = db.Begin(ctx, nil)
	c.Assert(err, IsNil)
	var id int64
	c.Assert(tx.Query(ctx, insert, "Derek").Get(&id), IsNil)
	var ids []int64
	var names []string
	err = tx.Query(ctx, reg.MustScript("wrongColumns")).GetAll(&ids, &names)
	c.Assert(err, ErrorMatches, `cannot compile script "wrongColumns" .*`)
	c.Assert(tx.Commit(), Equals, sqlscript.ErrTXDone)
	c.Assert(tx.Query(ctx, insert, "Derek").Get(&id), Equals, sqlscript.ErrTXDone)

	var count int64
	c.Assert(db.Query(ctx, reg.MustScript("countPersons")).Get(&count), IsNil)
	c.Assert(count, Equals, int64(4))
}

func (s *PackageSuite) TestModerncDriver(c *C) {
	db := personDB(c, "sqlite")
	reg := personRegistry(c)

	var people []Person
	err := db.Query(nil, reg.MustScript("findPersons"), true).GetAll(&people)
	c.Assert(err, IsNil)
	c.Assert(people, DeepEquals, []Person{{ID: 30, Name: "Fred"}, {ID: 40, Name: "Mary"}})

	jim := &Person{Name: "Jim", Active: "N"}
	c.Assert(db.Query(nil, reg.MustScript("insertPerson"), jim).Run(), IsNil)
	c.Assert(jim.ID, Equals, int64(41))
}

func (s *PackageSuite) TestReturningKeys(c *C) {
	db := personDB(c, "sqlite3", sqlscript.WithGeneratedKeys(sqlscript.Returning))
	reg := personRegistry(c)

	var id int64
	err := db.Query(nil, reg.MustScript("insertName"), "Jim").Get(&id)
	c.Assert(err, IsNil)
	c.Assert(id, Equals, int64(41))
}

func (s *PackageSuite) TestRegistry(c *C) {
	reg := personRegistry(c)

	var names []string
	for _, script := range reg.Scripts() {
		names = append(names, script.Name())
	}
	c.Assert(names, DeepEquals, []string{
		"findPersons", "findPerson", "findName", "countPersons", "namesByID",
		"personsWithAddress", "searchPersons", "insertPerson", "insertName",
		"renamePerson", "wrongColumns", "firstTwo", "readOnlyCount",
		"voidSelect", "voidLookup",
	})

	script := reg.MustScript("findPersons")
	c.Assert(script.Line(), Equals, 3)
	c.Assert(script.Kind(), Equals, "SIMPLE")
	c.Assert(script.Outputs(), Equals, 1)
	c.Assert(script.String(), Equals, "findPersons SIMPLE IN(bool onlyActive) rows(2 columns)")
	c.Assert(reg.MustScript("insertName").String(), Equals, "insertName PREPARED IN(string name) vars(1) keys(id)")

	_, err := reg.Script("nope")
	c.Assert(err, ErrorMatches, `cannot get "nope": script not found`)
	c.Assert(errors.Is(err, sqlscript.ErrScriptNotFound), Equals, true)
}

func (s *PackageSuite) TestCompileErrors(c *C) {
	var tests = []struct {
		summary string
		source  string
		err     string
	}{{
		summary: "duplicate script",
		source:  "a\n====\nSELECT 1\n====\na\n====\nSELECT 2\n====\n",
		err:     `cannot compile script "a" \(line 5, column 1\): duplicate script name, first defined at line 1`,
	}, {
		summary: "unknown type",
		source:  "a IN(Animal x)\n====\nSELECT ?{x}\n====\n",
		err:     `cannot compile script "a" \(line 1, column 6\): unknown type "Animal" \(have "Address", "Person"\)`,
	}, {
		summary: "unterminated body",
		source:  "a\n====\nSELECT 1\n",
		err:     `cannot compile script "a" .*`,
	}}

	for _, t := range tests {
		_, err := sqlscript.Compile(t.source, Person{}, Address{})
		c.Assert(err, ErrorMatches, t.err, Commentf("\ntest %q failed", t.summary))
		var setupErr *sqlscript.SetupError
		c.Assert(errors.As(err, &setupErr), Equals, true, Commentf("\ntest %q failed", t.summary))
	}

	_, err := sqlscript.Compile("a\n====\nSELECT 1\n====\n", nil)
	c.Assert(err, ErrorMatches, "cannot compile script: need valid value, got nil")
	c.Assert(func() { sqlscript.MustCompile("a IN(") }, PanicMatches, "cannot compile script .*")
}

func (s *PackageSuite) TestLoadDir(c *C) {
	dir := c.MkDir()
	writeFile := func(name, content string) string {
		path := filepath.Join(dir, name)
		c.Assert(os.WriteFile(path, []byte(content), 0644), IsNil)
		return path
	}
	writeFile("a.sqls", "countPersons OUT(long)\n====\nSELECT count(*) FROM person\n====\n")
	writeFile("b.sqls", "!P=Person\nfindName IN(long id) OUT(String)\n====\nSELECT name FROM person WHERE id = ?{id}\n====\n")
	writeFile("ignored.sql", "not a script file")

	reg, err := sqlscript.LoadDir(dir, Person{})
	c.Assert(err, IsNil)
	c.Assert(reg.Scripts(), HasLen, 2)
	script := reg.MustScript("findName")
	c.Assert(script.File(), Equals, filepath.Join(dir, "b.sqls"))

	db := personDB(c, "sqlite3")
	var count int
	c.Assert(db.Query(nil, reg.MustScript("countPersons")).Get(&count), IsNil)
	c.Assert(count, Equals, 4)

	reg, err = sqlscript.Load(filepath.Join(dir, "a.sqls"))
	c.Assert(err, IsNil)
	c.Assert(reg.Scripts(), HasLen, 1)

	path := writeFile("c.sqls", "countPersons\n====\nSELECT 1\n====\n")
	_, err = sqlscript.LoadDir(dir, Person{})
	c.Assert(err, ErrorMatches, `.*c\.sqls: cannot compile script "countPersons" \(line 1\): duplicate script name, first defined at .*a\.sqls:1`)
	c.Assert(os.Remove(path), IsNil)

	writeFile("d.sqls", "broken IN(int\n")
	_, err = sqlscript.LoadDir(dir, Person{})
	c.Assert(err, ErrorMatches, `.*d\.sqls: cannot compile script.*`)

	_, err = sqlscript.Load(filepath.Join(dir, "missing.sqls"))
	c.Assert(err, ErrorMatches, "cannot load scripts: open .*missing.sqls: no such file or directory")
}
