// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"path"
	"reflect"
	"sort"
	"strings"
	"time"
)

var (
	anyType   = reflect.TypeOf((*any)(nil)).Elem()
	timeType  = reflect.TypeOf(time.Time{})
	bytesType = reflect.TypeOf([]byte(nil))
)

// builtinTypes maps the type names accepted in declarations without a type
// sample to Go types.
var builtinTypes = map[string]reflect.Type{
	"String": reflect.TypeOf(""),
	"string": reflect.TypeOf(""),

	"boolean": reflect.TypeOf(false),
	"Boolean": reflect.TypeOf(false),
	"bool":    reflect.TypeOf(false),

	"int":     reflect.TypeOf(0),
	"Integer": reflect.TypeOf(0),
	"int32":   reflect.TypeOf(int32(0)),

	"long":  reflect.TypeOf(int64(0)),
	"Long":  reflect.TypeOf(int64(0)),
	"int64": reflect.TypeOf(int64(0)),

	"short": reflect.TypeOf(int16(0)),
	"Short": reflect.TypeOf(int16(0)),
	"int16": reflect.TypeOf(int16(0)),

	"byte": reflect.TypeOf(int8(0)),
	"Byte": reflect.TypeOf(int8(0)),
	"int8": reflect.TypeOf(int8(0)),

	"double":  reflect.TypeOf(float64(0)),
	"Double":  reflect.TypeOf(float64(0)),
	"float64": reflect.TypeOf(float64(0)),

	"float":   reflect.TypeOf(float32(0)),
	"Float":   reflect.TypeOf(float32(0)),
	"float32": reflect.TypeOf(float32(0)),

	"BigDecimal": reflect.TypeOf(""),
	"decimal":    reflect.TypeOf(""),

	"Date":      timeType,
	"Time":      timeType,
	"Timestamp": timeType,
	"time.Time": timeType,

	"byte[]": bytesType,
	"[]byte": bytesType,
	"bytes":  bytesType,

	"Object": anyType,
	"any":    anyType,
}

// Types resolves the type names written in script declarations. Names are
// looked up in the aliases, then in the builtin names, then among the type
// samples by qualified name ("example.com/pkg.Person"), by package qualified
// name ("pkg.Person") or by bare name ("Person").
type Types struct {
	aliases map[string]string
	samples []reflect.Type
}

// NewTypes takes sample instantiations of the types that may be named in
// declarations.
func NewTypes(typeSamples []any) (*Types, error) {
	ts := &Types{aliases: map[string]string{}}
	seen := map[reflect.Type]bool{}
	for _, typeSample := range typeSamples {
		if typeSample == nil {
			return nil, fmt.Errorf("need valid value, got nil")
		}
		t := reflect.TypeOf(typeSample)
		if t.Kind() == reflect.Pointer {
			return nil, fmt.Errorf("need non-pointer type, got pointer to %s", t.Elem().Kind())
		}
		if t.Name() == "" {
			return nil, fmt.Errorf("cannot use anonymous %s", t.Kind())
		}
		if seen[t] {
			return nil, fmt.Errorf("found multiple instances of type %q", t.Name())
		}
		seen[t] = true
		if t.Kind() == reflect.Struct {
			if _, err := GetTypeInfo(t); err != nil {
				return nil, fmt.Errorf("cannot use type %s: %s", t.Name(), err)
			}
		}
		ts.samples = append(ts.samples, t)
	}
	return ts, nil
}

// WithAliases returns a copy of ts that also resolves the given aliases.
func (ts *Types) WithAliases(aliases map[string]string) *Types {
	c := &Types{aliases: map[string]string{}, samples: ts.samples}
	for k, v := range ts.aliases {
		c.aliases[k] = v
	}
	for k, v := range aliases {
		c.aliases[k] = v
	}
	return c
}

// Lookup returns the Go type named name.
func (ts *Types) Lookup(name string) (reflect.Type, error) {
	if qualified, ok := ts.aliases[name]; ok {
		name = qualified
	}
	if t, ok := builtinTypes[name]; ok {
		return t, nil
	}
	if elem, ok := strings.CutSuffix(name, "[]"); ok {
		t, err := ts.Lookup(elem)
		if err != nil {
			return nil, err
		}
		return reflect.SliceOf(t), nil
	}
	var matches []reflect.Type
	for _, t := range ts.samples {
		if typeMatches(t, name) {
			matches = append(matches, t)
		}
	}
	switch len(matches) {
	case 0:
		return nil, ts.typeMissingError(name)
	case 1:
		return matches[0], nil
	}
	var names []string
	for _, t := range matches {
		names = append(names, t.PkgPath()+"."+t.Name())
	}
	sort.Strings(names)
	return nil, fmt.Errorf(`type name %q is ambiguous (have "%s")`, name, strings.Join(names, `", "`))
}

// typeMatches reports whether name refers to t.
func typeMatches(t reflect.Type, name string) bool {
	switch name {
	case t.Name(), t.PkgPath() + "." + t.Name(), path.Base(t.PkgPath()) + "." + t.Name():
		return true
	}
	return false
}

// typeMissingError returns an error specifying the missing type and the types
// that are present.
func (ts *Types) typeMissingError(missing string) error {
	if len(ts.samples) == 0 {
		return fmt.Errorf("unknown type %q", missing)
	}
	var names []string
	for _, t := range ts.samples {
		names = append(names, t.Name())
	}
	// Sort for consistent error messages.
	sort.Strings(names)
	// "%s" is used instead of %q to correctly print double quotes within the joined string.
	return fmt.Errorf(`unknown type %q (have "%s")`, missing, strings.Join(names, `", "`))
}

// IsBean reports whether values of t are addressed by property.
func IsBean(t reflect.Type) bool {
	return t.Kind() == reflect.Struct && t != timeType
}
