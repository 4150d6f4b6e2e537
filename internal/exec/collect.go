// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package exec

import (
	"database/sql"
	"fmt"
	"reflect"

	"github.com/pkg/errors"

	"github.com/canonical/sqlscript/internal/typeinfo"
)

var errVoidResult = errors.New("unexpected result row for void result")

// Collector accumulates the rows of an execution. A row is handed over as the
// values of the output targets of the script.
type Collector interface {
	// Collect receives the targets of one row.
	Collect(targets []any) error
	// Finish is called once after the last row with the number of rows
	// collected.
	Finish(rows int) error
}

// RowValue returns the value of a row: the target itself when there is a
// single one, all the targets as a []any otherwise.
func RowValue(targets []any) any {
	if len(targets) == 1 {
		return targets[0]
	}
	row := make([]any, len(targets))
	copy(row, targets)
	return row
}

// VoidCollector rejects every row.
type VoidCollector struct{}

func (VoidCollector) Collect([]any) error {
	return errVoidResult
}

func (VoidCollector) Finish(int) error { return nil }

// destinations checks that every output argument is a non-nil pointer to a
// value of the given kinds, any kind when none is given. There must be either
// one output argument for the whole row or one per target.
func destinations(targets int, outputArgs []any, kinds ...reflect.Kind) ([]reflect.Value, error) {
	if len(outputArgs) != 1 && len(outputArgs) != targets {
		if targets == 1 {
			return nil, fmt.Errorf("expected 1 output argument, got %d", len(outputArgs))
		}
		return nil, fmt.Errorf("expected 1 or %d output arguments, got %d", targets, len(outputArgs))
	}
	var vals []reflect.Value
	for _, arg := range outputArgs {
		ptr := reflect.ValueOf(arg)
		if ptr.Kind() != reflect.Pointer {
			return nil, fmt.Errorf("need pointer, got %s", ptr.Kind())
		}
		if ptr.IsNil() {
			return nil, fmt.Errorf("need pointer, got nil")
		}
		elem := ptr.Elem()
		if len(kinds) > 0 {
			ok := false
			for _, k := range kinds {
				ok = ok || elem.Kind() == k
			}
			if !ok {
				return nil, fmt.Errorf("need pointer to %s, got pointer to %s", kinds[0], elem.Kind())
			}
		}
		vals = append(vals, elem)
	}
	return vals, nil
}

// assign decodes v into the settable value dest.
func assign(dest reflect.Value, v any) error {
	cv, err := typeinfo.Decode(v, dest.Type())
	if err != nil {
		return err
	}
	dest.Set(cv)
	return nil
}

// SingleCollector stores the first row into its output arguments and
// ignores the others.
type SingleCollector struct {
	dests []reflect.Value
	done  bool
}

// NewSingleCollector returns a collector writing a row of the given number of
// targets into one output argument, or into one per target.
func NewSingleCollector(targets int, outputArgs ...any) (*SingleCollector, error) {
	dests, err := destinations(targets, outputArgs)
	if err != nil {
		return nil, err
	}
	return &SingleCollector{dests: dests}, nil
}

func (sc *SingleCollector) Collect(targets []any) error {
	if sc.done {
		return nil
	}
	sc.done = true
	if len(sc.dests) == 1 {
		return assign(sc.dests[0], RowValue(targets))
	}
	for i, dest := range sc.dests {
		if err := assign(dest, targets[i]); err != nil {
			return err
		}
	}
	return nil
}

// Finish returns sql.ErrNoRows when no row was collected.
func (sc *SingleCollector) Finish(rows int) error {
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ListCollector appends every row to slices. The slices are only updated
// once all rows have been collected.
type ListCollector struct {
	ptrs   []reflect.Value
	slices []reflect.Value
}

// NewListCollector returns a collector appending the row value to a single
// slice, or every target to its own slice.
func NewListCollector(targets int, sliceArgs ...any) (*ListCollector, error) {
	dests, err := destinations(targets, sliceArgs, reflect.Slice)
	if err != nil {
		return nil, err
	}
	lc := &ListCollector{ptrs: dests}
	for _, d := range dests {
		lc.slices = append(lc.slices, d)
	}
	return lc, nil
}

func (lc *ListCollector) Collect(targets []any) error {
	values := targets
	if len(lc.slices) == 1 {
		values = []any{RowValue(targets)}
	}
	for i, s := range lc.slices {
		elem := reflect.New(s.Type().Elem()).Elem()
		if err := assign(elem, values[i]); err != nil {
			return err
		}
		lc.slices[i] = reflect.Append(s, elem)
	}
	return nil
}

func (lc *ListCollector) Finish(int) error {
	for i, ptr := range lc.ptrs {
		ptr.Set(lc.slices[i])
	}
	return nil
}

// MapCollector stores rows into a map. The first target of a row is the key,
// the value of the remaining targets is the value.
type MapCollector struct {
	m reflect.Value
}

// NewMapCollector returns a collector for rows of the given number of
// targets into the map mapArg points to. A nil map is allocated.
func NewMapCollector(targets int, mapArg any) (*MapCollector, error) {
	if targets < 2 {
		return nil, fmt.Errorf("need at least 2 outputs to collect a map, got %d", targets)
	}
	dests, err := destinations(1, []any{mapArg}, reflect.Map)
	if err != nil {
		return nil, err
	}
	m := dests[0]
	if m.IsNil() {
		m.Set(reflect.MakeMap(m.Type()))
	}
	return &MapCollector{m: m}, nil
}

func (mc *MapCollector) Collect(targets []any) error {
	k := reflect.New(mc.m.Type().Key()).Elem()
	if err := assign(k, targets[0]); err != nil {
		return fmt.Errorf("map key: %s", err)
	}
	v := reflect.New(mc.m.Type().Elem()).Elem()
	if err := assign(v, RowValue(targets[1:])); err != nil {
		return fmt.Errorf("map value: %s", err)
	}
	mc.m.SetMapIndex(k, v)
	return nil
}

func (mc *MapCollector) Finish(int) error { return nil }

// ArrayCollector keeps every row as a slice of its targets.
type ArrayCollector struct {
	Rows [][]any
}

func (ac *ArrayCollector) Collect(targets []any) error {
	row := make([]any, len(targets))
	copy(row, targets)
	ac.Rows = append(ac.Rows, row)
	return nil
}

func (ac *ArrayCollector) Finish(int) error { return nil }
