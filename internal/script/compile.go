// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package script

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/canonical/sqlscript/internal/parse"
	"github.com/canonical/sqlscript/internal/sqlerr"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

// Compile resolves the scripts of a parsed file against the given types and
// returns them in source order. Failures are *sqlerr.SetupError values.
func Compile(f *parse.File, types *typeinfo.Types) ([]*Script, error) {
	types = types.WithAliases(f.Aliases)
	var scripts []*Script
	seen := map[string]int{}
	for _, ps := range f.Scripts {
		if line, ok := seen[ps.Name]; ok {
			return nil, &sqlerr.SetupError{
				Script: ps.Name,
				Line:   ps.Pos.Line,
				Column: ps.Pos.Column,
				Err:    fmt.Errorf("duplicate script name, first defined at line %d", line),
			}
		}
		seen[ps.Name] = ps.Pos.Line
		s, err := CompileScript(ps, types)
		if err != nil {
			return nil, err
		}
		scripts = append(scripts, s)
	}
	return scripts, nil
}

// compiler holds the state of the compilation of one script.
type compiler struct {
	ps    *parse.Script
	types *typeinfo.Types
	s     *Script
	names map[string]int

	// outRefs records the output variables set by OUT or INOUT parameters.
	outRefs map[int]bool
	// keyed records the output variables set by generated keys.
	keyed     map[int]bool
	hasParams bool
}

// CompileScript compiles a single parsed script.
func CompileScript(ps *parse.Script, types *typeinfo.Types) (*Script, error) {
	c := &compiler{
		ps:      ps,
		types:   types,
		s:       &Script{name: ps.Name, line: ps.Pos.Line},
		names:   map[string]int{},
		outRefs: map[int]bool{},
		keyed:   map[int]bool{},
	}
	if err := c.compileHints(); err != nil {
		return nil, err
	}
	if err := c.compileIn(); err != nil {
		return nil, err
	}
	if err := c.compileOut(); err != nil {
		return nil, err
	}
	if err := c.compileKeys(); err != nil {
		return nil, err
	}
	root, err := c.compileFragment(ps.Body)
	if err != nil {
		return nil, err
	}
	c.s.root = root
	if err := c.assignMode(); err != nil {
		return nil, err
	}
	c.assignKind()
	return c.s, nil
}

func (c *compiler) errorAt(pos parse.Position, format string, args ...any) error {
	return &sqlerr.SetupError{
		Script: c.ps.Name,
		Line:   pos.Line,
		Column: pos.Column,
		Err:    fmt.Errorf(format, args...),
	}
}

func (c *compiler) compileHints() error {
	h := Hints{Poolable: true, EscapeProcessing: true}
	for _, hint := range c.ps.Hints {
		switch hint.Key {
		case "maxRows", "maxFieldSize", "queryTimeout", "fetchSize":
			n, err := strconv.Atoi(hint.Value)
			if err != nil || n < 0 {
				return c.errorAt(hint.Pos, "invalid value %q for hint %s, need non-negative integer", hint.Value, hint.Key)
			}
			switch hint.Key {
			case "maxRows":
				h.MaxRows = n
			case "maxFieldSize":
				h.MaxFieldSize = n
			case "queryTimeout":
				h.QueryTimeout = time.Duration(n) * time.Second
			case "fetchSize":
				h.FetchSize = n
			}
		case "poolable", "escapeProcessing", "readOnly":
			b, err := strconv.ParseBool(hint.Value)
			if err != nil {
				return c.errorAt(hint.Pos, "invalid value %q for hint %s, need boolean", hint.Value, hint.Key)
			}
			switch hint.Key {
			case "poolable":
				h.Poolable = b
			case "escapeProcessing":
				h.EscapeProcessing = b
			case "readOnly":
				h.ReadOnly = b
			}
		default:
			return c.errorAt(hint.Pos, "unknown hint %q", hint.Key)
		}
	}
	c.s.hints = h
	return nil
}

// addVar allocates a slot for v.
func (c *compiler) addVar(v Var, pos parse.Position) (int, error) {
	if _, ok := c.names[v.Name]; ok {
		return 0, c.errorAt(pos, "duplicate parameter name %q", v.Name)
	}
	v.Slot = len(c.s.vars)
	c.s.vars = append(c.s.vars, v)
	c.names[v.Name] = v.Slot
	return v.Slot, nil
}

// lookupType resolves the host type and the SQL type of a declaration.
func (c *compiler) lookupType(tr parse.TypeRef) (Var, error) {
	t, err := c.types.Lookup(tr.Name)
	if err != nil {
		return Var{}, c.errorAt(tr.Pos, "%s", err)
	}
	st, err := typeinfo.ParseSQLType(tr.SQLType)
	if err != nil {
		return Var{}, c.errorAt(tr.Pos, "%s", err)
	}
	return Var{Type: t, SQLType: st}, nil
}

// compileIn declares one argument per IN entry. A bean expansion declares a
// bean-property variable for every listed property.
func (c *compiler) compileIn() error {
	for i, d := range c.ps.In {
		tv, err := c.lookupType(d.Type)
		if err != nil {
			return err
		}
		if len(d.Props) == 0 {
			slot, err := c.addVar(Var{Name: d.Name, Type: tv.Type, SQLType: tv.SQLType, In: true, Arg: i}, d.Pos)
			if err != nil {
				return err
			}
			c.s.args = append(c.s.args, Arg{Name: d.Name, Type: tv.Type, Vars: []int{slot}})
			continue
		}
		if !typeinfo.IsBean(tv.Type) {
			return c.errorAt(d.Pos, "cannot expand properties of non-struct type %s", d.Type.Name)
		}
		arg := Arg{Name: d.Type.Name, Type: tv.Type, Bean: true}
		for _, prop := range d.Props {
			acc, err := typeinfo.ResolvePath(tv.Type, []string{prop})
			if err != nil {
				return c.errorAt(d.Pos, "%s", err)
			}
			slot, err := c.addVar(Var{Name: prop, Type: acc.Type(), In: true, Arg: i, Prop: acc}, d.Pos)
			if err != nil {
				return err
			}
			arg.Vars = append(arg.Vars, slot)
		}
		c.s.args = append(c.s.args, arg)
	}
	return nil
}

// compileOut declares the output targets. A named target shares the variable
// of an IN parameter of the same name and type.
func (c *compiler) compileOut() error {
	seen := map[string]bool{}
	for _, d := range c.ps.Out {
		tv, err := c.lookupType(d.Type)
		if err != nil {
			return err
		}
		target := Target{Name: d.Name, Type: tv.Type, SQLType: tv.SQLType, Slot: -1}
		switch {
		case len(d.Props) > 0:
			if !typeinfo.IsBean(tv.Type) {
				return c.errorAt(d.Pos, "cannot expand properties of non-struct type %s", d.Type.Name)
			}
			for _, prop := range d.Props {
				acc, err := typeinfo.ResolvePath(tv.Type, []string{prop})
				if err != nil {
					return c.errorAt(d.Pos, "%s", err)
				}
				target.Props = append(target.Props, acc)
			}
		case d.Name != "":
			if seen[d.Name] {
				return c.errorAt(d.Pos, "duplicate output parameter %q", d.Name)
			}
			seen[d.Name] = true
			if slot, ok := c.names[d.Name]; ok {
				v := &c.s.vars[slot]
				if v.Type != tv.Type {
					return c.errorAt(d.Pos, "parameter %q declared as IN %s and OUT %s", d.Name, v.Type, tv.Type)
				}
				v.Out = true
				target.Slot = slot
			} else {
				slot, err := c.addVar(Var{Name: d.Name, Type: tv.Type, SQLType: tv.SQLType, Out: true, Arg: -1}, d.Pos)
				if err != nil {
					return err
				}
				target.Slot = slot
			}
		}
		c.s.targets = append(c.s.targets, target)
	}
	return nil
}

// compileKeys binds the generated key columns to output variables, to
// bean-property parameters or to pointer arguments.
func (c *compiler) compileKeys() error {
	seen := map[string]bool{}
	for _, k := range c.ps.Keys {
		if seen[k.Column] {
			return c.errorAt(k.Pos, "duplicate key column %q", k.Column)
		}
		seen[k.Column] = true
		slot, ok := c.names[k.Target.Name]
		if !ok {
			return c.errorAt(k.Target.Pos, "unknown key target %q", k.Target.Name)
		}
		v := c.s.vars[slot]
		key := Key{Column: k.Column, Slot: -1, Arg: v.Arg, Type: v.Type}
		switch {
		case len(k.Target.Path) > 0:
			if !v.In || v.Prop != nil {
				return c.errorAt(k.Target.Pos, "key target %s: property path needs an IN parameter", k.Target)
			}
			acc, err := typeinfo.ResolvePath(v.Type, k.Target.Path)
			if err != nil {
				return c.errorAt(k.Target.Pos, "key target %s: %s", k.Target, err)
			}
			key.Path, key.Type = acc, acc.Type()
		case v.Out:
			key.Slot, key.Arg = slot, -1
			c.keyed[slot] = true
		case v.Prop != nil:
			key.Path = v.Prop
		}
		c.s.keys = append(c.s.keys, key)
	}
	return nil
}

// resolveRef resolves a reference to a declared variable.
func (c *compiler) resolveRef(r parse.Ref) (Ref, *Var, error) {
	slot, ok := c.names[r.Name]
	if !ok {
		return Ref{}, nil, c.errorAt(r.Pos, "unknown parameter %q", r.Name)
	}
	v := &c.s.vars[slot]
	ref := Ref{Name: r.Name, Slot: slot, Type: v.Type}
	if len(r.Path) > 0 {
		acc, err := typeinfo.ResolvePath(v.Type, r.Path)
		if err != nil {
			return Ref{}, nil, c.errorAt(r.Pos, "%s", err)
		}
		ref.Path, ref.Type = acc, acc.Type()
	}
	return ref, v, nil
}

func (c *compiler) compileParam(e parse.Expr) (Param, error) {
	ref, v, err := c.resolveRef(e.Ref)
	if err != nil {
		return Param{}, err
	}
	dir := e.Dir
	if !e.Explicit && !v.In {
		return Param{}, c.errorAt(e.Pos, "parameter %q is an output parameter, use OUT(%s) or INOUT(%s)", v.Name, v.Name, v.Name)
	}
	switch dir {
	case In:
		if !v.In {
			return Param{}, c.errorAt(e.Pos, "parameter %q is not an input parameter", v.Name)
		}
	case Out:
		if !v.Out {
			return Param{}, c.errorAt(e.Pos, "parameter %q is not an output parameter", v.Name)
		}
	case InOut:
		if !v.In || !v.Out {
			return Param{}, c.errorAt(e.Pos, "parameter %q must be declared in both IN and OUT to be used as INOUT", v.Name)
		}
	}
	if dir != In {
		if ref.Path != nil {
			return Param{}, c.errorAt(e.Pos, "property path not allowed on %s parameter %q", dir, v.Name)
		}
		c.outRefs[ref.Slot] = true
	}
	st := v.SQLType
	if ref.Path != nil {
		st = typeinfo.NoSQLType
	}
	if e.SQLType != "" {
		if st, err = typeinfo.ParseSQLType(e.SQLType); err != nil {
			return Param{}, c.errorAt(e.Pos, "%s", err)
		}
	}
	c.hasParams = true
	return Param{Dir: dir, Ref: ref, SQLType: st}, nil
}

func (c *compiler) compileCond(pc parse.Cond) (Cond, error) {
	cond := Cond{Kind: pc.Kind, Negate: pc.Negate}
	if pc.Kind == Always {
		return cond, nil
	}
	ref, v, err := c.resolveRef(pc.Ref)
	if err != nil {
		return Cond{}, err
	}
	if !v.In {
		return Cond{}, c.errorAt(pc.Ref.Pos, "condition on output parameter %q", v.Name)
	}
	cond.Ref = ref
	return cond, nil
}

// compileFragment stores the fragment and its descendants in the arena and
// returns its index. Children are stored before their parent.
func (c *compiler) compileFragment(pf *parse.Fragment) (int, error) {
	cond, err := c.compileCond(pf.Cond)
	if err != nil {
		return 0, err
	}
	f := Fragment{Cond: cond}
	if pf.IsComposite() {
		if len(pf.Children) < 2 {
			return 0, c.errorAt(pf.Pos, "at least 2 inner parts expected in conditional block %s", pf.Cond)
		}
		f.kind = composite
		for _, child := range pf.Children {
			i, err := c.compileFragment(child)
			if err != nil {
				return 0, err
			}
			f.Children = append(f.Children, i)
		}
	} else {
		f.kind = leaf
		f.Chunks = pf.Chunks
		for _, e := range pf.Exprs {
			p, err := c.compileParam(e)
			if err != nil {
				return 0, err
			}
			f.Params = append(f.Params, p)
		}
	}
	c.s.frags = append(c.s.frags, f)
	return len(c.s.frags) - 1, nil
}

// assignMode decides where result rows come from and assigns column indexes
// to result set targets.
func (c *compiler) assignMode() error {
	s := c.s
	if len(s.targets) == 0 {
		s.mode = NoResult
		return nil
	}
	if len(c.outRefs) > 0 || len(s.keys) > 0 {
		s.mode = OutputVars
		for i, t := range s.targets {
			if t.Slot < 0 || !(c.outRefs[t.Slot] || c.keyed[t.Slot]) {
				return c.errorAt(c.ps.Out[i].Pos, "output %s is not set by an OUT or INOUT parameter or a generated key", c.ps.Out[i])
			}
		}
		return nil
	}
	s.mode = ResultSet
	col := 0
	for i := range s.targets {
		t := &s.targets[i]
		n := 1
		if len(t.Props) > 0 {
			n = len(t.Props)
		}
		for j := 0; j < n; j++ {
			t.Columns = append(t.Columns, col)
			col++
		}
	}
	s.columns = col
	return nil
}

var callEscapeRx = regexp.MustCompile(`(?is)^\{\s*(\?\s*=\s*)?call\s.*\}$`)

// assignKind derives the statement kind from the SQL body.
func (c *compiler) assignKind() {
	var b strings.Builder
	flatten(&b, c.ps.Body)
	switch {
	case callEscapeRx.MatchString(strings.TrimSpace(b.String())):
		c.s.kind = Callable
	case c.hasParams || len(c.s.keys) > 0:
		c.s.kind = Prepared
	default:
		c.s.kind = Simple
	}
}

// flatten writes the text of every fragment with a placeholder for each
// expression.
func flatten(b *strings.Builder, f *parse.Fragment) {
	if f.IsComposite() {
		for _, child := range f.Children {
			flatten(b, child)
		}
		return
	}
	b.WriteString(f.Chunks[0])
	for i := range f.Exprs {
		b.WriteString("?")
		b.WriteString(f.Chunks[i+1])
	}
}
