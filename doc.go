/*
Package sqlscript runs named SQL scripts written in script files next to the
Go code that uses them.

A script file holds any number of scripts. Each script has a header naming
it and declaring its parameters, followed by a SQL body between two
separator lines made of four or more equal signs:

	# Comments start with a hash at the beginning of a line.
	!Person=example.com/app/model.Person

	findPersons IN(boolean onlyActive) OUT(Person[id,name])
	====
	SELECT id, name FROM person !(true(onlyActive)){ WHERE active = 'Y'}
	====

The body is plain SQL with two additions:

  - ?{x} binds the value of parameter x as a query argument. The parameter may
    be followed by a property path (?{p.address.street}), a SQL type tag
    (?{id|VARCHAR}), or be wrapped in OUT(x) or INOUT(x) for the output
    parameters of a callable statement.
  - !(cond){...} includes the enclosed SQL only when the condition holds.
    Conditions are x (not empty), empty(x), true(x) and their negations with
    a leading !. Blocks nest.

The markers can be escaped with a backslash: \?{, \{ and \}.

# Declarations

	IN(Type name, Type|SQLTYPE name, Bean[prop1,prop2])
	OUT(Type, Type name, Bean[prop1,prop2])
	UPDATE(KEYS(column -> target))
	HINT(maxRows=100, queryTimeout=5, readOnly=true)

IN parameters bind to the input arguments of [DB.Query] in order. A bean
expansion consumes a single struct argument and declares one parameter per
listed property.

OUT declares the values of a result row. Without OUT(x) or INOUT(x)
expressions in the body, the entries map to the result set columns in order
and the number of columns returned must match. Otherwise every entry must be
named and set by an output parameter or a generated key, and the script
produces a single row made of them.

Properties are looked up by `db` tag, then by field name.

# Running scripts

	reg, err := sqlscript.Load("queries.sqls", Person{})
	db := sqlscript.NewDB(sqldb)
	var people []Person
	err = db.Query(ctx, reg.MustScript("findPersons"), true).GetAll(&people)

Scripts without outputs are run with [Query.Run]. A script producing result
rows fails when run that way.
*/
package sqlscript
