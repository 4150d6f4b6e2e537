// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"strings"
)

// Accessor reads and writes the value at the end of a property path, e.g.
// "address.street", of a bean value. It is resolved once from the type and
// holds the field indexes to follow, so no lookup by name happens at run time.
type Accessor struct {
	root  reflect.Type
	typ   reflect.Type
	index []int
	path  []string
}

// ResolvePath resolves a property path on the type t. Pointers to beans are
// followed at every step.
func ResolvePath(t reflect.Type, path []string) (*Accessor, error) {
	if len(path) == 0 {
		return nil, fmt.Errorf("empty property path")
	}
	a := &Accessor{root: t, path: path}
	cur := t
	for i, name := range path {
		for cur.Kind() == reflect.Pointer {
			cur = cur.Elem()
		}
		if !IsBean(cur) {
			if i == 0 {
				return nil, fmt.Errorf("cannot access property %q of non-struct type %s", name, cur)
			}
			return nil, fmt.Errorf("cannot access property %q of %s (type %s)", name, strings.Join(path[:i], "."), cur)
		}
		info, err := GetTypeInfo(cur)
		if err != nil {
			return nil, err
		}
		f, ok := info.Property(name)
		if !ok {
			return nil, fmt.Errorf("type %s has no property %q", cur.Name(), name)
		}
		a.index = append(a.index, f.Index)
		cur = f.Type
	}
	a.typ = cur
	return a, nil
}

// Type returns the type of the property.
func (a *Accessor) Type() reflect.Type {
	return a.typ
}

func (a *Accessor) String() string {
	return strings.Join(a.path, ".")
}

// Get returns the property value of root, which must be a value of the type
// the accessor was resolved on, or a pointer to it. A nil pointer on the way
// yields nil.
func (a *Accessor) Get(root any) any {
	v := reflect.ValueOf(root)
	for _, i := range a.index {
		for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
			if v.IsNil() {
				return nil
			}
			v = v.Elem()
		}
		if !v.IsValid() || v.Kind() != reflect.Struct {
			return nil
		}
		v = v.Field(i)
	}
	return v.Interface()
}

// Set stores value at the property of the bean root points to. Nil pointers
// on the way are allocated. The value is decoded to the property type.
func (a *Accessor) Set(root any, value any) error {
	v := reflect.ValueOf(root)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return fmt.Errorf("cannot set property %s: need non-nil pointer to %s, got %T", a, a.root, root)
	}
	return a.SetValue(v.Elem(), value)
}

// SetValue stores value at the property of v, which must be addressable.
func (a *Accessor) SetValue(v reflect.Value, value any) error {
	for n, i := range a.index {
		for v.Kind() == reflect.Pointer {
			if v.IsNil() {
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(i)
		if n == len(a.index)-1 {
			break
		}
	}
	if !v.CanSet() {
		return fmt.Errorf("cannot set property %s: value not addressable", a)
	}
	cv, err := Decode(value, v.Type())
	if err != nil {
		return fmt.Errorf("cannot set property %s: %s", a, err)
	}
	v.Set(cv)
	return nil
}
