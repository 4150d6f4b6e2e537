// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"fmt"
	"strings"
)

// File is a parsed script definition source.
type File struct {
	// Aliases maps a short type name to a qualified one.
	Aliases map[string]string
	Scripts []*Script
}

// Script is a parsed script block. Names in it are not yet resolved against
// the declarations or against Go types.
type Script struct {
	Name  string
	Pos   Position
	In    []Decl
	Out   []Decl
	Keys  []Key
	Hints []Hint
	// BodyPos is the position of the first character of the SQL body.
	BodyPos Position
	Body    *Fragment
}

// TypeRef names a host type, optionally with a SQL type tag.
type TypeRef struct {
	Name    string
	SQLType string
	Pos     Position
}

func (t TypeRef) String() string {
	if t.SQLType == "" {
		return t.Name
	}
	return t.Name + "|" + t.SQLType
}

// Decl is a single entry of an IN or OUT declaration. Exactly one of Name or
// Props may be set; both are empty for an anonymous OUT entry.
type Decl struct {
	Type  TypeRef
	Name  string
	Props []string
	Pos   Position
}

func (d Decl) String() string {
	switch {
	case len(d.Props) > 0:
		return d.Type.String() + "[" + strings.Join(d.Props, ",") + "]"
	case d.Name != "":
		return d.Type.String() + " " + d.Name
	}
	return d.Type.String()
}

// Key binds a generated key column to a parameter.
type Key struct {
	Column string
	Target Ref
	Pos    Position
}

// Hint is a key=value pair of a HINT declaration.
type Hint struct {
	Key   string
	Value string
	Pos   Position
}

// Ref is a reference to a parameter, optionally followed by a property path.
type Ref struct {
	Name string
	Path []string
	Pos  Position
}

func (r Ref) String() string {
	if len(r.Path) == 0 {
		return r.Name
	}
	return r.Name + "." + strings.Join(r.Path, ".")
}

// Direction is the direction of a query parameter.
type Direction int

const (
	DirIn Direction = iota
	DirOut
	DirInOut
)

func (d Direction) String() string {
	switch d {
	case DirOut:
		return "OUT"
	case DirInOut:
		return "INOUT"
	}
	return "IN"
}

// Expr is a parsed ?{...} expression.
type Expr struct {
	Dir Direction
	// Explicit is true when the direction was written out.
	Explicit bool
	Ref      Ref
	SQLType  string
	Pos      Position
}

func (e Expr) String() string {
	s := e.Ref.String()
	if e.Explicit {
		s = e.Dir.String() + "(" + s + ")"
	}
	if e.SQLType != "" {
		s += "|" + e.SQLType
	}
	return s
}

// CondKind is the kind of test guarding a fragment.
type CondKind int

const (
	CondAlways CondKind = iota
	CondTrue
	CondEmpty
	CondNotEmpty
)

// Cond guards the inclusion of a fragment.
type Cond struct {
	Kind   CondKind
	Negate bool
	Ref    Ref
	Pos    Position
}

func (c Cond) String() string {
	var s string
	switch c.Kind {
	case CondAlways:
		return "always"
	case CondTrue:
		s = "true(" + c.Ref.String() + ")"
	case CondEmpty:
		s = "empty(" + c.Ref.String() + ")"
	case CondNotEmpty:
		s = c.Ref.String()
	}
	if c.Negate {
		s = "!" + s
	}
	return s
}

// Fragment is a node of the conditional SQL tree. A leaf holds literal SQL in
// Chunks, with one expression between each pair of consecutive chunks. A
// composite holds at least two children.
type Fragment struct {
	Cond     Cond
	Pos      Position
	Chunks   []string
	Exprs    []Expr
	Children []*Fragment
}

// IsComposite reports whether the fragment has children.
func (f *Fragment) IsComposite() bool {
	return f.Children != nil
}

// String returns a representation of the fragment for debugging and testing
// purposes.
func (f *Fragment) String() string {
	var b strings.Builder
	f.write(&b)
	return b.String()
}

func (f *Fragment) write(b *strings.Builder) {
	if f.IsComposite() {
		fmt.Fprintf(b, "Composite[%s", f.Cond)
		for _, c := range f.Children {
			b.WriteString(" ")
			c.write(b)
		}
		b.WriteString("]")
		return
	}
	fmt.Fprintf(b, "Leaf[%s %q", f.Cond, f.Chunks[0])
	for i, e := range f.Exprs {
		fmt.Fprintf(b, " Expr[%s] %q", e, f.Chunks[i+1])
	}
	b.WriteString("]")
}
