// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/canonical/sqlscript/internal/parse"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

// Kind is the kind of statement a script executes.
type Kind int

const (
	// Simple statements have no parameters.
	Simple Kind = iota
	// Prepared statements bind parameters or return generated keys.
	Prepared
	// Callable statements use the "{call ...}" escape form.
	Callable
)

func (k Kind) String() string {
	switch k {
	case Prepared:
		return "PREPARED"
	case Callable:
		return "CALLABLE"
	}
	return "SIMPLE"
}

// Mode says where the rows of a script result come from.
type Mode int

const (
	// NoResult scripts declare no outputs.
	NoResult Mode = iota
	// ResultSet scripts read every row of the result set.
	ResultSet
	// OutputVars scripts produce a single row from their output parameters,
	// set by OUT and INOUT query parameters or by generated keys.
	OutputVars
)

func (m Mode) String() string {
	switch m {
	case ResultSet:
		return "result set"
	case OutputVars:
		return "output parameters"
	}
	return "no result"
}

// Direction is the direction of a query parameter.
type Direction = parse.Direction

const (
	In    = parse.DirIn
	Out   = parse.DirOut
	InOut = parse.DirInOut
)

// Var is a slot of the variable map of an execution.
type Var struct {
	Name    string
	Slot    int
	Type    reflect.Type
	SQLType typeinfo.SQLType
	In      bool
	Out     bool
	// Arg is the index of the argument an input value is taken from, -1 for
	// output only variables.
	Arg int
	// Prop reads the value of a bean-property parameter from its argument.
	Prop *typeinfo.Accessor
}

// Arg is a positional argument of a script.
type Arg struct {
	Name string
	Type reflect.Type
	// Bean is set when the argument is expanded into bean-property
	// parameters.
	Bean bool
	// Vars are the slots the argument feeds.
	Vars []int
}

// Ref is a resolved reference to a variable, optionally followed by a
// property path.
type Ref struct {
	Name string
	Slot int
	Path *typeinfo.Accessor
	Type reflect.Type
}

func (r Ref) String() string {
	if r.Path == nil {
		return r.Name
	}
	return r.Name + "." + r.Path.String()
}

// Param is a query parameter bound at a placeholder of a leaf.
type Param struct {
	Dir     Direction
	Ref     Ref
	SQLType typeinfo.SQLType
}

// CondKind is the kind of test guarding a fragment.
type CondKind = parse.CondKind

const (
	Always   = parse.CondAlways
	True     = parse.CondTrue
	Empty    = parse.CondEmpty
	NotEmpty = parse.CondNotEmpty
)

// Cond guards the inclusion of a fragment.
type Cond struct {
	Kind   CondKind
	Negate bool
	Ref    Ref
}

// Holds evaluates the condition against the value of its reference.
func (c Cond) Holds(v any) bool {
	var ok bool
	switch c.Kind {
	case Always:
		return true
	case True:
		ok = typeinfo.IsTrue(v)
	case Empty:
		ok = typeinfo.IsEmpty(v)
	case NotEmpty:
		ok = !typeinfo.IsEmpty(v)
	}
	return ok != c.Negate
}

func (c Cond) String() string {
	var s string
	switch c.Kind {
	case Always:
		return "always"
	case True:
		s = "true(" + c.Ref.String() + ")"
	case Empty:
		s = "empty(" + c.Ref.String() + ")"
	case NotEmpty:
		s = c.Ref.String()
	}
	if c.Negate {
		s = "!" + s
	}
	return s
}

type fragKind int

const (
	leaf fragKind = iota
	composite
)

// Fragment is a node of the fragment tree, held in the arena of a Script.
// A leaf holds SQL text chunks with one query parameter between each pair of
// consecutive chunks. A composite holds the arena indexes of its children.
type Fragment struct {
	kind     fragKind
	Cond     Cond
	Chunks   []string
	Params   []Param
	Children []int
}

// IsComposite reports whether the fragment has children.
func (f *Fragment) IsComposite() bool {
	return f.kind == composite
}

// Target is an entry of the OUT declaration. A bean target reads one column
// per property.
type Target struct {
	Name    string
	Type    reflect.Type
	SQLType typeinfo.SQLType
	// Slot is the variable of a named target, -1 otherwise.
	Slot  int
	Props []*typeinfo.Accessor
	// Columns are the result set column indexes of the target, one per
	// property for a bean target.
	Columns []int
}

// Key binds a generated key column to the place its value is written to:
// a variable when Arg is -1, otherwise the argument Arg, which must be a
// pointer, or the property Path of it.
type Key struct {
	Column string
	Slot   int
	Arg    int
	Path   *typeinfo.Accessor
	Type   reflect.Type
}

// Hints are the query hints of a script.
type Hints struct {
	MaxRows          int
	MaxFieldSize     int
	QueryTimeout     time.Duration
	FetchSize        int
	Poolable         bool
	EscapeProcessing bool
	ReadOnly         bool
}

// Script is a compiled script. It is immutable and safe for concurrent use.
type Script struct {
	name    string
	line    int
	vars    []Var
	args    []Arg
	targets []Target
	keys    []Key
	hints   Hints
	kind    Kind
	mode    Mode
	columns int

	frags []Fragment
	root  int
}

func (s *Script) Name() string { return s.name }

// Line is the line of the source the script starts at.
func (s *Script) Line() int { return s.line }

func (s *Script) Kind() Kind { return s.kind }

func (s *Script) Mode() Mode { return s.mode }

func (s *Script) Hints() Hints { return s.hints }

// Vars returns the variables of the script. The slice must not be modified.
func (s *Script) Vars() []Var { return s.vars }

// Args returns the positional arguments of the script. The slice must not be
// modified.
func (s *Script) Args() []Arg { return s.args }

// Targets returns the output targets of the script. The slice must not be
// modified.
func (s *Script) Targets() []Target { return s.targets }

// Keys returns the generated key bindings of the script. The slice must not be
// modified.
func (s *Script) Keys() []Key { return s.keys }

// KeyColumns returns the names of the generated key columns.
func (s *Script) KeyColumns() []string {
	var cols []string
	for _, k := range s.keys {
		cols = append(cols, k.Column)
	}
	return cols
}

// Columns is the number of result set columns the script reads.
func (s *Script) Columns() int { return s.columns }

// Root returns the arena index of the root fragment.
func (s *Script) Root() int { return s.root }

// Fragment returns the fragment at arena index i.
func (s *Script) Fragment(i int) *Fragment { return &s.frags[i] }

// String returns the fragment tree for debugging and testing purposes.
func (s *Script) String() string {
	var b strings.Builder
	s.write(&b, s.root)
	return b.String()
}

func (s *Script) write(b *strings.Builder, i int) {
	f := &s.frags[i]
	if f.IsComposite() {
		fmt.Fprintf(b, "Composite[%s", f.Cond)
		for _, c := range f.Children {
			b.WriteString(" ")
			s.write(b, c)
		}
		b.WriteString("]")
		return
	}
	fmt.Fprintf(b, "Leaf[%s %q", f.Cond, f.Chunks[0])
	for i, p := range f.Params {
		fmt.Fprintf(b, " %s(%s) %q", p.Dir, p.Ref, f.Chunks[i+1])
	}
	b.WriteString("]")
}
