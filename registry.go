// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package sqlscript

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/pkg/errors"

	"github.com/canonical/sqlscript/internal/parse"
	"github.com/canonical/sqlscript/internal/script"
	"github.com/canonical/sqlscript/internal/sqlerr"
	"github.com/canonical/sqlscript/internal/typeinfo"
)

// Extension is the file extension of script files read by [LoadDir].
const Extension = ".sqls"

// Script is a compiled script ready to be run on a database. A Script can be
// used with any [DB] and from several goroutines at once.
type Script struct {
	// cacheID is used to look up the driver prepared statements associated
	// with this script.
	cacheID int64
	// file is the file the script was loaded from, if any.
	file string
	s    *script.Script
}

// Param describes an input argument of a script.
type Param struct {
	Name string
	Type reflect.Type
	// Bean is set when the argument is expanded into several parameters,
	// one per listed property.
	Bean bool
}

// Name returns the name of the script.
func (s *Script) Name() string { return s.s.Name() }

// File returns the file the script was loaded from, empty for scripts
// compiled from a string.
func (s *Script) File() string { return s.file }

// Line returns the line of the script header.
func (s *Script) Line() int { return s.s.Line() }

// Kind returns the execution kind of the script: SIMPLE, PREPARED or
// CALLABLE.
func (s *Script) Kind() string { return s.s.Kind().String() }

// Params returns the input arguments expected by [DB.Query], in order.
func (s *Script) Params() []Param {
	var params []Param
	for _, a := range s.s.Args() {
		params = append(params, Param{Name: a.Name, Type: a.Type, Bean: a.Bean})
	}
	return params
}

// Outputs returns the number of values making up a result row.
func (s *Script) Outputs() int { return len(s.s.Targets()) }

// String returns a one line summary of the script.
func (s *Script) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s", s.Name(), s.Kind())
	var params []string
	for _, p := range s.Params() {
		params = append(params, p.Type.String()+" "+p.Name)
	}
	if len(params) > 0 {
		fmt.Fprintf(&b, " IN(%s)", strings.Join(params, ", "))
	}
	switch s.s.Mode() {
	case script.ResultSet:
		fmt.Fprintf(&b, " rows(%d columns)", s.s.Columns())
	case script.OutputVars:
		fmt.Fprintf(&b, " vars(%d)", s.Outputs())
	}
	if keys := s.s.KeyColumns(); len(keys) > 0 {
		fmt.Fprintf(&b, " keys(%s)", strings.Join(keys, ", "))
	}
	return b.String()
}

// Registry holds compiled scripts by name.
type Registry struct {
	scripts []*Script
	byName  map[string]*Script
}

func newRegistry() *Registry {
	return &Registry{byName: map[string]*Script{}}
}

// add registers compiled scripts read from file. Script names are unique in
// a registry.
func (r *Registry) add(file string, scripts []*script.Script) error {
	for _, cs := range scripts {
		if prev, ok := r.byName[cs.Name()]; ok {
			where := fmt.Sprintf("line %d", prev.Line())
			if prev.file != "" && prev.file != file {
				where = fmt.Sprintf("%s:%d", prev.file, prev.Line())
			}
			return sqlerr.Setup(cs.Name(), cs.Line(), 0, fmt.Errorf("duplicate script name, first defined at %s", where))
		}
		s := stmtCache.newScript(cs)
		s.file = file
		r.scripts = append(r.scripts, s)
		r.byName[cs.Name()] = s
	}
	return nil
}

// Script returns the named script. It returns an error wrapping
// [ErrScriptNotFound] if there is none.
func (r *Registry) Script(name string) (*Script, error) {
	s, ok := r.byName[name]
	if !ok {
		return nil, errors.Wrapf(ErrScriptNotFound, "cannot get %q", name)
	}
	return s, nil
}

// MustScript is the same as [Registry.Script] except that it panics on
// error.
func (r *Registry) MustScript(name string) *Script {
	s, err := r.Script(name)
	if err != nil {
		panic(err)
	}
	return s
}

// Scripts returns the scripts of the registry in definition order.
func (r *Registry) Scripts() []*Script {
	scripts := make([]*Script, len(r.scripts))
	copy(scripts, r.scripts)
	return scripts
}

// Compile parses and compiles the scripts of source. The type samples must
// contain an instance of every non-builtin type named in the declarations.
// They are used only for type information.
func Compile(source string, typeSamples ...any) (*Registry, error) {
	types, err := typeinfo.NewTypes(typeSamples)
	if err != nil {
		return nil, sqlerr.Setup("", 0, 0, err)
	}
	r := newRegistry()
	if err := r.compile("", strings.NewReader(source), types); err != nil {
		return nil, err
	}
	return r, nil
}

// MustCompile is the same as [Compile] except that it panics on error.
func MustCompile(source string, typeSamples ...any) *Registry {
	r, err := Compile(source, typeSamples...)
	if err != nil {
		panic(err)
	}
	return r
}

// Load compiles the scripts of the file at path.
func Load(path string, typeSamples ...any) (*Registry, error) {
	types, err := typeinfo.NewTypes(typeSamples)
	if err != nil {
		return nil, sqlerr.Setup("", 0, 0, err)
	}
	r := newRegistry()
	if err := r.load(path, types); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadDir compiles every script file of dir into one registry. Files are
// read in lexical order.
func LoadDir(dir string, typeSamples ...any) (*Registry, error) {
	types, err := typeinfo.NewTypes(typeSamples)
	if err != nil {
		return nil, sqlerr.Setup("", 0, 0, err)
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*"+Extension))
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list scripts in %s", dir)
	}
	r := newRegistry()
	for _, path := range paths {
		if err := r.load(path, types); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) load(path string, types *typeinfo.Types) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "cannot load scripts")
	}
	defer f.Close()
	if err := r.compile(path, f, types); err != nil {
		return errors.Wrapf(err, "%s", path)
	}
	return nil
}

func (r *Registry) compile(file string, in io.Reader, types *typeinfo.Types) error {
	pf, err := parse.Parse(in)
	if err != nil {
		return err
	}
	scripts, err := script.Compile(pf, types)
	if err != nil {
		return err
	}
	return r.add(file, scripts)
}
