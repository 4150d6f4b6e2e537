// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Coerce converts an argument value to the declared type t. Assignable values,
// numbers to numbers and strings to strings are accepted. Pointers are
// dereferenced and nil gives the zero value of t.
func Coerce(src any, t reflect.Type) (reflect.Value, error) {
	sv, ok := deref(src)
	if !ok {
		return reflect.Zero(t), nil
	}
	if sv.Type().AssignableTo(t) {
		return sv, nil
	}
	if t.Kind() == reflect.Interface {
		if sv.Type().Implements(t) {
			return sv.Convert(t), nil
		}
		return reflect.Value{}, fmt.Errorf("type %s does not implement %s", sv.Type(), t)
	}
	switch {
	case isNumber(sv.Kind()) && isNumber(t.Kind()),
		sv.Kind() == reflect.String && t.Kind() == reflect.String,
		sv.Kind() == reflect.Bool && t.Kind() == reflect.Bool,
		sv.Type().ConvertibleTo(t) && sv.Kind() == t.Kind():
		return sv.Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", sv.Type(), t)
}

// Decode converts a value received from a database driver to t. It accepts
// everything Coerce accepts as well as the textual and numeric encodings
// drivers commonly use for numbers, booleans and times.
func Decode(src any, t reflect.Type) (reflect.Value, error) {
	sv, ok := deref(src)
	if !ok {
		return reflect.Zero(t), nil
	}
	if t.Kind() == reflect.Pointer {
		cv, err := Decode(sv.Interface(), t.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		p := reflect.New(t.Elem())
		p.Elem().Set(cv)
		return p, nil
	}
	if v, err := Coerce(sv.Interface(), t); err == nil {
		return v, nil
	}
	var text string
	var isText bool
	switch sv.Kind() {
	case reflect.String:
		text, isText = sv.String(), true
	case reflect.Slice:
		if sv.Type().Elem().Kind() == reflect.Uint8 {
			text, isText = string(sv.Bytes()), true
		}
	}
	switch {
	case t == timeType && isText:
		tm, err := parseTime(text)
		if err != nil {
			return reflect.Value{}, err
		}
		return reflect.ValueOf(tm), nil
	case t.Kind() == reflect.String && isText:
		return reflect.ValueOf(text).Convert(t), nil
	case t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 && isText:
		return reflect.ValueOf([]byte(text)).Convert(t), nil
	case t.Kind() == reflect.Bool:
		switch {
		case isText:
			b, err := strconv.ParseBool(strings.TrimSpace(text))
			if err != nil {
				return reflect.Value{}, fmt.Errorf("cannot convert %q to %s", text, t)
			}
			return reflect.ValueOf(b).Convert(t), nil
		case isNumber(sv.Kind()):
			return reflect.ValueOf(!sv.IsZero()).Convert(t), nil
		}
	case isNumber(t.Kind()) && isText:
		return parseNumber(strings.TrimSpace(text), t)
	case isNumber(t.Kind()) && sv.Kind() == reflect.Bool:
		var n int64
		if sv.Bool() {
			n = 1
		}
		return reflect.ValueOf(n).Convert(t), nil
	}
	return reflect.Value{}, fmt.Errorf("cannot convert %s to %s", sv.Type(), t)
}

// deref follows pointers and interfaces. It returns false for nil.
func deref(src any) (reflect.Value, bool) {
	if src == nil {
		return reflect.Value{}, false
	}
	sv := reflect.ValueOf(src)
	for sv.Kind() == reflect.Pointer || sv.Kind() == reflect.Interface {
		if sv.IsNil() {
			return reflect.Value{}, false
		}
		sv = sv.Elem()
	}
	return sv, true
}

func isNumber(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}

func parseNumber(text string, t reflect.Type) (reflect.Value, error) {
	var v reflect.Value
	switch t.Kind() {
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(text, t.Bits())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert %q to %s", text, t)
		}
		v = reflect.ValueOf(f)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(text, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert %q to %s", text, t)
		}
		v = reflect.ValueOf(n)
	default:
		n, err := strconv.ParseInt(text, 10, t.Bits())
		if err != nil {
			return reflect.Value{}, fmt.Errorf("cannot convert %q to %s", text, t)
		}
		v = reflect.ValueOf(n)
	}
	return v.Convert(t), nil
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"15:04:05",
}

func parseTime(text string) (time.Time, error) {
	text = strings.TrimSpace(text)
	for _, layout := range timeLayouts {
		if tm, err := time.Parse(layout, text); err == nil {
			return tm, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot convert %q to time.Time", text)
}

// IsNil reports whether v is nil or a nil pointer.
func IsNil(v any) bool {
	_, ok := deref(v)
	return !ok
}

// IsTrue reports whether v is a boolean holding true. Any other value,
// including nil, is not true.
func IsTrue(v any) bool {
	sv, ok := deref(v)
	return ok && sv.Kind() == reflect.Bool && sv.Bool()
}

// IsEmpty reports whether v is nil, an empty string or an empty slice, array
// or map. Any other value is not empty.
func IsEmpty(v any) bool {
	sv, ok := deref(v)
	if !ok {
		return true
	}
	switch sv.Kind() {
	case reflect.String, reflect.Slice, reflect.Array, reflect.Map:
		return sv.Len() == 0
	}
	return false
}
