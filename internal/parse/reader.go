// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"
)

// Position is a 1-based line and column in a script definition source.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("line %d, column %d", p.Line, p.Column)
}

// Error is a syntax error located in the source.
type Error struct {
	Pos Position
	Err error
}

func (e *Error) Error() string {
	return e.Pos.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// errorAt wraps an error with line and column information.
func errorAt(pos Position, format string, args ...any) error {
	return &Error{Pos: pos, Err: fmt.Errorf(format, args...)}
}

// eof is returned by Reader.Read as a rune value at the end of the input.
const eof rune = -1

// Reader reads codepoints from a source keeping track of the line and column
// of the next rune to be read. Any number of runes can be pushed back.
type Reader struct {
	src *bufio.Reader
	// pos is the position of the next rune.
	pos Position
	// widths holds the number of runes on every completed line so that
	// pushing back a line break restores the column.
	widths []int
	// pushback is a stack of runes returned with Unread.
	pushback []rune
	err      error
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{src: bufio.NewReader(r), pos: Position{Line: 1, Column: 1}}
}

// NewStringReader returns a Reader over s.
func NewStringReader(s string) *Reader {
	return NewReader(strings.NewReader(s))
}

// Pos returns the position of the next rune.
func (r *Reader) Pos() Position {
	return r.pos
}

// Read returns the next rune, or eof at the end of the input. Malformed UTF-8
// and read failures are reported with the position where they occurred.
func (r *Reader) Read() (rune, error) {
	var c rune
	if n := len(r.pushback); n > 0 {
		c = r.pushback[n-1]
		r.pushback = r.pushback[:n-1]
	} else {
		if r.err != nil {
			return eof, r.err
		}
		var size int
		var err error
		c, size, err = r.src.ReadRune()
		if err == io.EOF {
			return eof, nil
		} else if err != nil {
			r.err = errorAt(r.pos, "cannot read source: %s", err)
			return eof, r.err
		}
		if c == utf8.RuneError && size == 1 {
			r.err = errorAt(r.pos, "invalid UTF-8 encoding")
			return eof, r.err
		}
	}
	r.advance(c)
	return c, nil
}

func (r *Reader) advance(c rune) {
	if c == '\n' {
		r.widths = append(r.widths, r.pos.Column-1)
		r.pos.Line++
		r.pos.Column = 1
		return
	}
	r.pos.Column++
}

// Unread pushes c back so that it is returned by the next Read. Runes must be
// pushed back in the reverse order they were read.
func (r *Reader) Unread(c rune) {
	if c == eof {
		return
	}
	r.pushback = append(r.pushback, c)
	if c == '\n' {
		n := len(r.widths)
		r.pos.Line--
		r.pos.Column = r.widths[n-1] + 1
		r.widths = r.widths[:n-1]
		return
	}
	r.pos.Column--
}

// Peek returns the next rune without consuming it.
func (r *Reader) Peek() (rune, error) {
	c, err := r.Read()
	if err != nil {
		return eof, err
	}
	r.Unread(c)
	return c, nil
}

// skipChar consumes the next rune if it is c.
func (r *Reader) skipChar(c rune) (bool, error) {
	next, err := r.Read()
	if err != nil {
		return false, err
	}
	if next == c {
		return true, nil
	}
	r.Unread(next)
	return false, nil
}

// skipBlanks consumes spaces and tabs, and line breaks when lines is true.
func (r *Reader) skipBlanks(lines bool) error {
	for {
		c, err := r.Read()
		if err != nil {
			return err
		}
		switch c {
		case ' ', '\t', '\r':
			continue
		case '\n':
			if lines {
				continue
			}
		}
		r.Unread(c)
		return nil
	}
}

// skipLine consumes everything up to and including the next line break.
func (r *Reader) skipLine() error {
	for {
		c, err := r.Read()
		if err != nil {
			return err
		}
		if c == '\n' || c == eof {
			return nil
		}
	}
}
