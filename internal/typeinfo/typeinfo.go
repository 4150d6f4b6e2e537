// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

// Field represents a single field from a struct type.
type Field struct {
	Type reflect.Type

	// Name is the name of the struct field.
	Name string

	// Index of this field in the structure.
	Index int

	// Tag is the name given in the "db" tag of the field, if any.
	Tag string
}

// Info represents reflected information about a struct type.
type Info struct {
	Type reflect.Type

	// TagToField relates "db" tag names to fields.
	TagToField map[string]Field

	// NameToField relates exported field names to fields.
	NameToField map[string]Field
}

// Property returns the field a property name refers to. A "db" tag matches
// first, then the exact field name, then the field name ignoring case.
func (info *Info) Property(name string) (Field, bool) {
	if f, ok := info.TagToField[name]; ok {
		return f, true
	}
	if f, ok := info.NameToField[name]; ok {
		return f, true
	}
	for fieldName, f := range info.NameToField {
		if strings.EqualFold(fieldName, name) {
			return f, true
		}
	}
	return Field{}, false
}

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*Info)

// GetTypeInfo returns the Info of a struct type, generating and caching it as
// required.
func GetTypeInfo(t reflect.Type) (*Info, error) {
	if t == nil {
		return &Info{}, fmt.Errorf("cannot reflect nil type")
	}

	cacheMutex.RLock()
	info, found := cache[t]
	cacheMutex.RUnlock()
	if found {
		return info, nil
	}

	info, err := generate(t)
	if err != nil {
		return &Info{}, err
	}

	cacheMutex.Lock()
	cache[t] = info
	cacheMutex.Unlock()

	return info, nil
}

// generate produces and returns reflection information for a struct type.
func generate(t reflect.Type) (*Info, error) {
	if t.Kind() != reflect.Struct {
		return &Info{}, fmt.Errorf("can only reflect struct type")
	}

	info := Info{
		TagToField:  make(map[string]Field),
		NameToField: make(map[string]Field),
		Type:        t,
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		f := Field{Name: field.Name, Index: i, Type: field.Type}
		if tag := field.Tag.Get("db"); tag != "" {
			name, err := parseTag(tag)
			if err != nil {
				return &Info{}, err
			}
			if _, ok := info.TagToField[name]; ok {
				return &Info{}, fmt.Errorf("db tag %q used more than once in struct %s", name, t.Name())
			}
			f.Tag = name
			info.TagToField[name] = f
		}
		info.NameToField[field.Name] = f
	}

	return &info, nil
}

// This expression should be aligned with the characters allowed in names by
// the parser.
var validColNameRx = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// parseTag parses the input tag string and returns its name. The "omitempty"
// option is accepted for compatibility with other struct mappers and ignored.
func parseTag(tag string) (string, error) {
	options := strings.Split(tag, ",")

	// Refuse to parse if there are more than 2 items.
	if len(options) > 2 {
		return "", fmt.Errorf("too many options in 'db' tag")
	}
	if len(options) == 2 {
		if strings.ToLower(options[1]) != "omitempty" {
			return "", fmt.Errorf("unexpected tag value %q", options[1])
		}
	}

	name := options[0]
	if len(name) == 0 {
		return "", fmt.Errorf("empty db tag")
	}

	if !validColNameRx.MatchString(name) {
		return "", fmt.Errorf("invalid column name in 'db' tag")
	}

	return name, nil
}
