// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"fmt"
	"unicode"
)

// KnownHints is the set of keys accepted by a HINT declaration.
var KnownHints = map[string]bool{
	"maxRows":          true,
	"maxFieldSize":     true,
	"queryTimeout":     true,
	"fetchSize":        true,
	"poolable":         true,
	"escapeProcessing": true,
	"readOnly":         true,
}

type parser struct {
	r *Reader
}

// isNameChar returns true if the given char can be part of a name.
func isNameChar(c rune) bool {
	return unicode.IsLetter(c) || unicode.IsDigit(c) || c == '_'
}

// isInitialNameChar returns true if the given char can appear at the start of
// a name.
func isInitialNameChar(c rune) bool {
	return unicode.IsLetter(c) || c == '_'
}

// parseName parses a name starting with a letter or underscore and followed by
// letters, digits and underscores.
func (p *parser) parseName() (string, bool, error) {
	c, err := p.r.Read()
	if err != nil {
		return "", false, err
	}
	if !isInitialNameChar(c) {
		p.r.Unread(c)
		return "", false, nil
	}
	name := []rune{c}
	for {
		c, err = p.r.Read()
		if err != nil {
			return "", false, err
		}
		if !isNameChar(c) {
			p.r.Unread(c)
			return string(name), true, nil
		}
		name = append(name, c)
	}
}

// expectName parses a name and fails if there is none.
func (p *parser) expectName(what string) (string, error) {
	pos := p.r.Pos()
	name, ok, err := p.parseName()
	if err != nil {
		return "", err
	}
	if !ok {
		return "", p.unexpected(pos, what)
	}
	return name, nil
}

// expect consumes c or fails with a message naming what was expected.
func (p *parser) expect(c rune) error {
	pos := p.r.Pos()
	ok, err := p.r.skipChar(c)
	if err != nil {
		return err
	}
	if !ok {
		return p.unexpected(pos, fmt.Sprintf("%q", c))
	}
	return nil
}

// unexpected reads the offending rune and returns an error describing it.
func (p *parser) unexpected(pos Position, expected string) error {
	c, err := p.r.Read()
	if err != nil {
		return err
	}
	if c == eof {
		return errorAt(pos, "unexpected end of input, expected %s", expected)
	}
	p.r.Unread(c)
	return errorAt(pos, "unexpected %q, expected %s", c, expected)
}

// parseRef parses a parameter name optionally followed by a dot separated
// property path.
func (p *parser) parseRef() (Ref, bool, error) {
	pos := p.r.Pos()
	name, ok, err := p.parseName()
	if err != nil || !ok {
		return Ref{}, false, err
	}
	return p.parseRefFrom(name, pos)
}

// parseTypeName parses a possibly qualified type name with an optional array
// suffix, e.g. "String", "time.Time", "byte[]" or "[]byte".
func (p *parser) parseTypeName() (string, bool, error) {
	prefix := ""
	if ok, err := p.skipPair('[', ']'); err != nil {
		return "", false, err
	} else if ok {
		prefix = "[]"
	}
	name, ok, err := p.parseName()
	if err != nil {
		return "", false, err
	}
	if !ok {
		if prefix != "" {
			return "", false, p.unexpected(p.r.Pos(), "type name")
		}
		return "", false, nil
	}
	for {
		ok, err := p.r.skipChar('.')
		if err != nil {
			return "", false, err
		}
		if !ok {
			break
		}
		part, err := p.expectName("type name")
		if err != nil {
			return "", false, err
		}
		name += "." + part
	}
	if ok, err := p.skipPair('[', ']'); err != nil {
		return "", false, err
	} else if ok {
		name += "[]"
	}
	return prefix + name, true, nil
}

// skipPair consumes a and b only if they are the next two runes.
func (p *parser) skipPair(a, b rune) (bool, error) {
	ok, err := p.r.skipChar(a)
	if err != nil || !ok {
		return false, err
	}
	ok, err = p.r.skipChar(b)
	if err != nil {
		return false, err
	}
	if !ok {
		p.r.Unread(a)
	}
	return ok, nil
}

// atSeparator reports whether the reader is at the start of a block separator,
// that is four or more '=' at column 1. Nothing is consumed.
func (p *parser) atSeparator() (bool, error) {
	if p.r.Pos().Column != 1 {
		return false, nil
	}
	var read []rune
	defer func() {
		for i := len(read) - 1; i >= 0; i-- {
			p.r.Unread(read[i])
		}
	}()
	for i := 0; i < 4; i++ {
		c, err := p.r.Read()
		if err != nil {
			return false, err
		}
		read = append(read, c)
		if c != '=' {
			return false, nil
		}
	}
	return true, nil
}

// skipSeparator consumes a separator line including its line break.
func (p *parser) skipSeparator() error {
	for {
		c, err := p.r.Read()
		if err != nil {
			return err
		}
		if c != '=' {
			p.r.Unread(c)
			break
		}
	}
	if err := p.r.skipBlanks(false); err != nil {
		return err
	}
	pos := p.r.Pos()
	c, err := p.r.Read()
	if err != nil {
		return err
	}
	if c != '\n' && c != eof {
		return errorAt(pos, "unexpected %q after block separator", c)
	}
	return nil
}

// skipGap skips blanks, line breaks and comment lines.
func (p *parser) skipGap() error {
	for {
		if err := p.r.skipBlanks(true); err != nil {
			return err
		}
		if p.r.Pos().Column != 1 {
			return nil
		}
		if ok, err := p.r.skipChar('#'); err != nil {
			return err
		} else if !ok {
			return nil
		}
		if err := p.r.skipLine(); err != nil {
			return err
		}
	}
}

// parseDeclarations parses the IN, OUT, UPDATE and HINT declarations of a
// script header up to, but not including, the block separator.
func (p *parser) parseDeclarations(s *Script) error {
	seen := map[string]Position{}
	for {
		if err := p.skipGap(); err != nil {
			return err
		}
		if ok, err := p.atSeparator(); err != nil {
			return err
		} else if ok {
			return nil
		}
		pos := p.r.Pos()
		keyword, ok, err := p.parseName()
		if err != nil {
			return err
		}
		if !ok {
			return p.unexpected(pos, "declaration or block separator")
		}
		switch keyword {
		case "IN", "OUT", "UPDATE", "HINT":
		default:
			return errorAt(pos, "unknown declaration %q", keyword)
		}
		if first, ok := seen[keyword]; ok {
			return errorAt(pos, "duplicate %s declaration, first declared at %s", keyword, first)
		}
		seen[keyword] = pos
		if err := p.r.skipBlanks(true); err != nil {
			return err
		}
		switch keyword {
		case "IN":
			s.In, err = p.parseDeclList(true)
		case "OUT":
			s.Out, err = p.parseDeclList(false)
		case "UPDATE":
			s.Keys, err = p.parseUpdate()
		case "HINT":
			s.Hints, err = p.parseHints()
		}
		if err != nil {
			return err
		}
	}
}

// parseList parses a bracketed, comma separated list calling item for every
// element. An empty list is allowed.
func (p *parser) parseList(open, close rune, item func() error) error {
	if err := p.expect(open); err != nil {
		return err
	}
	if err := p.r.skipBlanks(true); err != nil {
		return err
	}
	if ok, err := p.r.skipChar(close); err != nil || ok {
		return err
	}
	for {
		if err := p.r.skipBlanks(true); err != nil {
			return err
		}
		if err := item(); err != nil {
			return err
		}
		if err := p.r.skipBlanks(true); err != nil {
			return err
		}
		if ok, err := p.r.skipChar(close); err != nil || ok {
			return err
		}
		if err := p.expect(','); err != nil {
			return err
		}
	}
}

// parseDeclList parses the list of an IN or OUT declaration. Entries of an IN
// list must be named.
func (p *parser) parseDeclList(in bool) ([]Decl, error) {
	var decls []Decl
	err := p.parseList('(', ')', func() error {
		d, err := p.parseDecl(in)
		if err != nil {
			return err
		}
		decls = append(decls, d)
		return nil
	})
	return decls, err
}

// parseDecl parses "Type[|SQLTYPE] [name]" or "Type[prop1, prop2]".
func (p *parser) parseDecl(in bool) (Decl, error) {
	pos := p.r.Pos()
	typeName, ok, err := p.parseTypeName()
	if err != nil {
		return Decl{}, err
	}
	if !ok {
		return Decl{}, p.unexpected(pos, "type name")
	}
	d := Decl{Type: TypeRef{Name: typeName, Pos: pos}, Pos: pos}

	// Bean property expansion.
	if c, err := p.r.Peek(); err != nil {
		return Decl{}, err
	} else if c == '[' {
		err := p.parseList('[', ']', func() error {
			prop, err := p.expectName("property name")
			if err != nil {
				return err
			}
			d.Props = append(d.Props, prop)
			return nil
		})
		if err != nil {
			return Decl{}, err
		}
		if len(d.Props) == 0 {
			return Decl{}, errorAt(pos, "empty property list for %s", typeName)
		}
		return d, nil
	}

	if ok, err := p.r.skipChar('|'); err != nil {
		return Decl{}, err
	} else if ok {
		if d.Type.SQLType, err = p.expectName("SQL type"); err != nil {
			return Decl{}, err
		}
	}
	if err := p.r.skipBlanks(true); err != nil {
		return Decl{}, err
	}
	namePos := p.r.Pos()
	name, ok, err := p.parseName()
	if err != nil {
		return Decl{}, err
	}
	if !ok && in {
		return Decl{}, p.unexpected(namePos, "parameter name")
	}
	d.Name = name
	return d, nil
}

// parseUpdate parses "(KEYS(column -> target, ...))".
func (p *parser) parseUpdate() ([]Key, error) {
	var keys []Key
	err := p.parseList('(', ')', func() error {
		pos := p.r.Pos()
		name, err := p.expectName("KEYS")
		if err != nil {
			return err
		}
		if name != "KEYS" {
			return errorAt(pos, "unknown UPDATE clause %q", name)
		}
		if keys != nil {
			return errorAt(pos, "duplicate KEYS clause")
		}
		keys = []Key{}
		if err := p.r.skipBlanks(true); err != nil {
			return err
		}
		return p.parseList('(', ')', func() error {
			pos := p.r.Pos()
			column, err := p.expectName("column name")
			if err != nil {
				return err
			}
			if err := p.r.skipBlanks(true); err != nil {
				return err
			}
			arrowPos := p.r.Pos()
			if ok, err := p.skipPair('-', '>'); err != nil {
				return err
			} else if !ok {
				return p.unexpected(arrowPos, `"->"`)
			}
			if err := p.r.skipBlanks(true); err != nil {
				return err
			}
			targetPos := p.r.Pos()
			target, ok, err := p.parseRef()
			if err != nil {
				return err
			}
			if !ok {
				return p.unexpected(targetPos, "parameter name")
			}
			keys = append(keys, Key{Column: column, Target: target, Pos: pos})
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

// parseHints parses "(key=value, ...)". Only keys listed in KnownHints are
// accepted.
func (p *parser) parseHints() ([]Hint, error) {
	var hints []Hint
	seen := map[string]bool{}
	err := p.parseList('(', ')', func() error {
		pos := p.r.Pos()
		key, err := p.expectName("hint name")
		if err != nil {
			return err
		}
		if !KnownHints[key] {
			return errorAt(pos, "unknown hint %q", key)
		}
		if seen[key] {
			return errorAt(pos, "duplicate hint %q", key)
		}
		seen[key] = true
		if err := p.r.skipBlanks(false); err != nil {
			return err
		}
		if err := p.expect('='); err != nil {
			return err
		}
		if err := p.r.skipBlanks(false); err != nil {
			return err
		}
		valuePos := p.r.Pos()
		var value []rune
		for {
			c, err := p.r.Read()
			if err != nil {
				return err
			}
			if !isNameChar(c) && c != '-' && c != '.' {
				p.r.Unread(c)
				break
			}
			value = append(value, c)
		}
		if len(value) == 0 {
			return p.unexpected(valuePos, "hint value")
		}
		hints = append(hints, Hint{Key: key, Value: string(value), Pos: pos})
		return nil
	})
	return hints, err
}
