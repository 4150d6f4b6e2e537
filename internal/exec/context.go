// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package exec

import (
	"context"
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/sqlerr"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

// outParam is an OUT or INOUT query parameter waiting for its value.
type outParam struct {
	slot int
	dest reflect.Value
}

// Context is the state of a single execution of a script. It must not be
// shared or reused.
type Context struct {
	s    *script.Script
	cfg  Config
	args []any
	vars []any

	sql     strings.Builder
	params  []any
	outs    []outParam
	outcome Outcome
}

// NewContext returns an execution context for s.
func NewContext(s *script.Script, cfg Config) *Context {
	return &Context{s: s, cfg: cfg, outcome: Outcome{UpdateCount: -1}}
}

// Run executes s with the given arguments, handing the result rows to coll.
func Run(ctx context.Context, s *script.Script, ex Executor, coll Collector, cfg Config, args []any) (Outcome, error) {
	c := NewContext(s, cfg)
	if err := c.Bind(args); err != nil {
		return Outcome{}, sqlerr.Execution(s.Name(), nil, err)
	}
	if err := c.Assemble(); err != nil {
		return Outcome{}, sqlerr.Execution(s.Name(), nil, err)
	}
	stmt := c.Statement()
	start := time.Now()
	res, err := ex.Execute(ctx, stmt)
	cfg.Logger.Debug().
		Str("script", s.Name()).
		Str("sql", stmt.SQL).
		Int("params", len(stmt.Args)).
		Stringer("kind", stmt.Kind).
		Dur("elapsed", time.Since(start)).
		Err(err).
		Msg("executed script")
	if err != nil {
		return Outcome{}, sqlerr.Execution(s.Name(), stmt.Args, errors.Wrapf(err, "cannot run %s statement", stmt.Kind))
	}
	if err := c.Collect(res, coll); err != nil {
		return Outcome{}, sqlerr.Execution(s.Name(), stmt.Args, err)
	}
	return c.outcome, nil
}

// Bind assigns the arguments to the declared IN parameters in order.
func (c *Context) Bind(args []any) error {
	decl := c.s.Args()
	if len(args) != len(decl) {
		return fmt.Errorf("wrong number of arguments: expected %d, got %d", len(decl), len(args))
	}
	vars := c.s.Vars()
	c.args = args
	c.vars = make([]any, len(vars))
	for i, a := range decl {
		arg := args[i]
		if typeinfo.IsNil(arg) {
			continue
		}
		if a.Bean {
			if _, err := typeinfo.Coerce(arg, a.Type); err != nil {
				return fmt.Errorf("argument %d (%s): %s", i+1, a.Name, err)
			}
			for _, slot := range a.Vars {
				c.vars[slot] = vars[slot].Prop.Get(arg)
			}
			continue
		}
		v, err := typeinfo.Coerce(arg, a.Type)
		if err != nil {
			return fmt.Errorf("argument %d (%s): %s", i+1, a.Name, err)
		}
		c.vars[a.Vars[0]] = v.Interface()
	}
	return nil
}

// value returns the current value of a reference.
func (c *Context) value(ref script.Ref) any {
	v := c.vars[ref.Slot]
	if ref.Path != nil {
		v = ref.Path.Get(v)
	}
	return v
}

// Assemble walks the fragment tree, writing the text of every included
// fragment and collecting its query parameters in text order.
func (c *Context) Assemble() error {
	c.sql.Reset()
	c.params, c.outs = nil, nil
	return c.assemble(c.s.Root())
}

func (c *Context) assemble(i int) error {
	f := c.s.Fragment(i)
	if f.Cond.Kind != script.Always && !f.Cond.Holds(c.value(f.Cond.Ref)) {
		return nil
	}
	if f.IsComposite() {
		for _, child := range f.Children {
			if err := c.assemble(child); err != nil {
				return err
			}
		}
		return nil
	}
	c.sql.WriteString(f.Chunks[0])
	for i, p := range f.Params {
		arg, err := c.param(p)
		if err != nil {
			return err
		}
		c.params = append(c.params, arg)
		c.sql.WriteString(c.cfg.Placeholder.marker(len(c.params)))
		c.sql.WriteString(f.Chunks[i+1])
	}
	return nil
}

// param returns the driver argument of a query parameter.
func (c *Context) param(p script.Param) (any, error) {
	if p.Dir == script.In {
		v, err := p.SQLType.Convert(c.value(p.Ref))
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %s", p.Ref, err)
		}
		return v, nil
	}
	dest := reflect.New(p.Ref.Type)
	out := sql.Out{Dest: dest.Interface()}
	if p.Dir == script.InOut {
		v, err := typeinfo.Coerce(c.vars[p.Ref.Slot], p.Ref.Type)
		if err != nil {
			return nil, fmt.Errorf("parameter %s: %s", p.Ref, err)
		}
		dest.Elem().Set(v)
		out.In = true
	}
	c.outs = append(c.outs, outParam{slot: p.Ref.Slot, dest: dest})
	return out, nil
}

// SQL returns the assembled SQL text.
func (c *Context) SQL() string {
	return c.sql.String()
}

// Params returns the assembled positional parameters.
func (c *Context) Params() []any {
	return c.params
}

// Statement returns the assembled statement.
func (c *Context) Statement() *Statement {
	return &Statement{
		Script:     c.s.Name(),
		SQL:        c.sql.String(),
		Args:       c.params,
		Kind:       c.s.Kind(),
		Rows:       c.s.Mode() == script.ResultSet,
		Void:       c.s.Mode() == script.NoResult,
		KeyColumns: c.s.KeyColumns(),
		Hints:      c.s.Hints(),
	}
}

// Collect decodes the result of the statement and hands the rows to coll.
func (c *Context) Collect(res *Result, coll Collector) error {
	c.outcome.UpdateCount = res.UpdateCount
	c.outcome.Keys = res.Keys
	var rows int
	var err error
	switch c.s.Mode() {
	case script.ResultSet:
		rows, err = c.collectRows(res.Rows, coll)
	case script.OutputVars:
		rows, err = c.collectVars(res, coll)
	default:
		err = c.collectNothing(res)
	}
	if err != nil {
		return err
	}
	c.outcome.Rows = rows
	return coll.Finish(rows)
}

// collectRows reads the result set. The number of columns must be the number
// declared.
func (c *Context) collectRows(rs Rows, coll Collector) (n int, err error) {
	if rs == nil {
		return 0, nil
	}
	defer func() {
		if cerr := rs.Close(); err == nil {
			err = cerr
		}
	}()
	cols, err := rs.Columns()
	if err != nil {
		return 0, err
	}
	if len(cols) != c.s.Columns() {
		return 0, &sqlerr.SetupError{
			Script: c.s.Name(),
			Line:   c.s.Line(),
			Err:    fmt.Errorf("column count mismatch: expected %d, got %d", c.s.Columns(), len(cols)),
		}
	}
	hints := c.s.Hints()
	columns := make([]typeinfo.Column, len(cols))
	ptrs := make([]any, len(cols))
	for i := range columns {
		columns[i].MaxSize = hints.MaxFieldSize
		ptrs[i] = &columns[i]
	}
	for rs.Next() {
		if hints.MaxRows > 0 && n >= hints.MaxRows {
			break
		}
		if err := rs.Scan(ptrs...); err != nil {
			return n, err
		}
		targets, err := c.decodeRow(cols, columns)
		if err != nil {
			return n, err
		}
		if err := coll.Collect(targets); err != nil {
			return n, err
		}
		n++
	}
	return n, rs.Err()
}

// decodeRow builds the output targets of a row from its column values.
func (c *Context) decodeRow(names []string, columns []typeinfo.Column) ([]any, error) {
	decl := c.s.Targets()
	targets := make([]any, len(decl))
	for i, t := range decl {
		if len(t.Props) == 0 {
			col := t.Columns[0]
			v, err := typeinfo.Decode(columns[col].Value, t.Type)
			if err != nil {
				return nil, fmt.Errorf("cannot decode column %q: %s", names[col], err)
			}
			targets[i] = v.Interface()
			continue
		}
		bean := reflect.New(t.Type).Elem()
		for j, prop := range t.Props {
			col := t.Columns[j]
			if err := prop.SetValue(bean, columns[col].Value); err != nil {
				return nil, fmt.Errorf("cannot decode column %q: %s", names[col], err)
			}
		}
		targets[i] = bean.Interface()
	}
	return targets, nil
}

// collectVars reads the OUT and INOUT parameters and the generated keys and
// hands a single row made of the output variables to coll.
func (c *Context) collectVars(res *Result, coll Collector) (int, error) {
	if err := closeRows(res.Rows); err != nil {
		return 0, err
	}
	for _, o := range c.outs {
		c.vars[o.slot] = o.dest.Elem().Interface()
	}
	if err := c.storeKeys(res.Keys); err != nil {
		return 0, err
	}
	decl := c.s.Targets()
	targets := make([]any, len(decl))
	for i, t := range decl {
		v, err := typeinfo.Coerce(c.vars[t.Slot], t.Type)
		if err != nil {
			return 0, fmt.Errorf("output %s: %s", t.Name, err)
		}
		targets[i] = v.Interface()
	}
	if err := coll.Collect(targets); err != nil {
		return 0, err
	}
	return 1, nil
}

// collectNothing stores the generated keys of a script without outputs. A
// result row is an error whatever the collector.
func (c *Context) collectNothing(res *Result) (err error) {
	if res.Rows != nil {
		defer func() {
			if cerr := res.Rows.Close(); err == nil {
				err = cerr
			}
		}()
		if res.Rows.Next() {
			return errVoidResult
		}
		if err := res.Rows.Err(); err != nil {
			return err
		}
	}
	return c.storeKeys(res.Keys)
}

// storeKeys writes the generated keys to their targets.
func (c *Context) storeKeys(keys []any) error {
	decl := c.s.Keys()
	if len(decl) == 0 {
		return nil
	}
	if len(keys) != len(decl) {
		return fmt.Errorf("generated key count mismatch: expected %d, got %d", len(decl), len(keys))
	}
	for i, k := range decl {
		if err := c.storeKey(k, keys[i]); err != nil {
			return fmt.Errorf("cannot store generated key %q: %s", k.Column, err)
		}
	}
	return nil
}

func (c *Context) storeKey(k script.Key, value any) error {
	if k.Slot >= 0 {
		v, err := typeinfo.Decode(value, k.Type)
		if err != nil {
			return err
		}
		c.vars[k.Slot] = v.Interface()
		return nil
	}
	arg := c.args[k.Arg]
	if k.Path != nil {
		return k.Path.Set(arg, value)
	}
	ptr := reflect.ValueOf(arg)
	if ptr.Kind() != reflect.Pointer || ptr.IsNil() {
		return fmt.Errorf("argument %d must be a non-nil pointer, got %T", k.Arg+1, arg)
	}
	v, err := typeinfo.Decode(value, ptr.Elem().Type())
	if err != nil {
		return err
	}
	ptr.Elem().Set(v)
	return nil
}

func closeRows(rs Rows) error {
	if rs == nil {
		return nil
	}
	return rs.Close()
}
