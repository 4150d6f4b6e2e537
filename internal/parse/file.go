// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"errors"
	"io"
	"strings"
	"unicode"

	"github.com/canonical/sqlscript/internal/sqlerr"
)

// Parse parses a script definition source. Failures are returned as
// *sqlerr.SetupError values carrying the script name, when known, and the
// position of the problem.
func Parse(src io.Reader) (*File, error) {
	p := &parser{r: NewReader(src)}
	f := &File{Aliases: map[string]string{}}
	for {
		if err := p.skipGap(); err != nil {
			return nil, setupError("", err)
		}
		c, err := p.r.Peek()
		if err != nil {
			return nil, setupError("", err)
		}
		if c == eof {
			return f, nil
		}
		if c == '!' && p.r.Pos().Column == 1 {
			if err := p.parseAlias(f); err != nil {
				return nil, setupError("", err)
			}
			continue
		}
		s, err := p.parseScript()
		if err != nil {
			name := ""
			if s != nil {
				name = s.Name
			}
			return nil, setupError(name, err)
		}
		f.Scripts = append(f.Scripts, s)
	}
}

// ParseString parses a script definition held in a string.
func ParseString(src string) (*File, error) {
	return Parse(strings.NewReader(src))
}

// setupError converts a parse error into a setup error for the script.
func setupError(script string, err error) error {
	var perr *Error
	if errors.As(err, &perr) {
		return &sqlerr.SetupError{Script: script, Line: perr.Pos.Line, Column: perr.Pos.Column, Err: perr.Err}
	}
	return sqlerr.Setup(script, 0, 0, err)
}

// parseAlias parses a line of the form "!Alias=qualified.TypeName".
func (p *parser) parseAlias(f *File) error {
	if err := p.expect('!'); err != nil {
		return err
	}
	pos := p.r.Pos()
	alias, err := p.expectName("alias name")
	if err != nil {
		return err
	}
	if err := p.expect('='); err != nil {
		return err
	}
	valuePos := p.r.Pos()
	var target []rune
	for {
		c, err := p.r.Read()
		if err != nil {
			return err
		}
		if c == eof || unicode.IsSpace(c) {
			p.r.Unread(c)
			break
		}
		target = append(target, c)
	}
	if len(target) == 0 {
		return p.unexpected(valuePos, "qualified type name")
	}
	if err := p.r.skipBlanks(false); err != nil {
		return err
	}
	endPos := p.r.Pos()
	c, err := p.r.Read()
	if err != nil {
		return err
	}
	if c != '\n' && c != eof {
		return errorAt(endPos, "unexpected %q in alias definition", c)
	}
	if _, ok := f.Aliases[alias]; ok {
		return errorAt(pos, "duplicate alias %q", alias)
	}
	f.Aliases[alias] = string(target)
	return nil
}

// isScriptNameChar returns true if the given char can be part of a script
// name.
func isScriptNameChar(c rune) bool {
	return isNameChar(c) || c == '.' || c == '-'
}

// parseScript parses a script block: the header, the opening separator, the
// SQL body and the closing separator. The returned script is non nil as soon
// as its name is known, even on error.
func (p *parser) parseScript() (*Script, error) {
	pos := p.r.Pos()
	var name []rune
	for {
		c, err := p.r.Read()
		if err != nil {
			return nil, err
		}
		if !isScriptNameChar(c) {
			p.r.Unread(c)
			break
		}
		name = append(name, c)
	}
	if len(name) == 0 || !isInitialNameChar(name[0]) {
		return nil, p.unexpected(pos, "script name")
	}
	s := &Script{Name: string(name), Pos: pos}
	if err := p.parseDeclarations(s); err != nil {
		return s, err
	}
	if err := p.skipSeparator(); err != nil {
		return s, err
	}
	s.BodyPos = p.r.Pos()
	body, err := p.parseBody()
	if err != nil {
		return s, err
	}
	s.Body = body
	if err := p.skipSeparator(); err != nil {
		return s, err
	}
	return s, nil
}
