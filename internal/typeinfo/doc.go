// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package typeinfo contains code relating to Go types and their processing in
sqlscript. As much as possible, reflection code is limited to this package.

It resolves the type names written in script declarations to Go types, resolves
bean-property paths once, when a script is compiled, into accessors that read
and write values without further lookups by name, coerces argument values to
declared types and converts values for SQL type tags.
*/
package typeinfo
