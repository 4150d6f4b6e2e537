// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"strings"
)

// event is a structural construct found by the SQL buffer while scanning a
// script body.
type event int

const (
	// evEOF is the end of the input.
	evEOF event = iota
	// evExpression is an expression opener "?{". It has been consumed.
	evExpression
	// evCondition is a conditional block opener "!(". It has been consumed.
	evCondition
	// evBlockEnd is the "}" closing a conditional block. It has been consumed.
	evBlockEnd
	// evScriptEnd is a block separator at column 1. It has not been consumed.
	evScriptEnd
)

func (e event) String() string {
	switch e {
	case evExpression:
		return "expression"
	case evCondition:
		return "condition"
	case evBlockEnd:
		return "block end"
	case evScriptEnd:
		return "script end"
	}
	return "end of input"
}

type scanState int

const (
	stateNormal scanState = iota
	stateEscape
	stateExpressionLookahead
	stateConditionLookahead
	stateEndLookahead
)

// sqlBuffer scans literal SQL text into a buffer, stopping at the structural
// constructs of a script body. Everything else is kept verbatim.
type sqlBuffer struct {
	r   *Reader
	buf strings.Builder
}

func newSQLBuffer(r *Reader) *sqlBuffer {
	return &sqlBuffer{r: r}
}

// take returns the buffered text and empties the buffer.
func (b *sqlBuffer) take() string {
	s := b.buf.String()
	b.buf.Reset()
	return s
}

// next scans literal text into the buffer until the next event. A '}' closes a
// block only when inBlock is true, elsewhere it is literal text.
func (b *sqlBuffer) next(inBlock bool) (event, Position, error) {
	state := stateNormal
	var markPos Position
	equals := 0
	for {
		pos := b.r.Pos()
		c, err := b.r.Read()
		if err != nil {
			return evEOF, pos, err
		}
		switch state {
		case stateNormal:
			switch {
			case c == eof:
				return evEOF, pos, nil
			case c == '\\':
				state, markPos = stateEscape, pos
			case c == '?':
				state, markPos = stateExpressionLookahead, pos
			case c == '!':
				state, markPos = stateConditionLookahead, pos
			case c == '=' && pos.Column == 1:
				state, markPos, equals = stateEndLookahead, pos, 1
			case c == '}' && inBlock:
				return evBlockEnd, pos, nil
			default:
				b.buf.WriteRune(c)
			}
		case stateEscape:
			switch c {
			case '?', '{', '}':
				b.buf.WriteRune(c)
				state = stateNormal
			case eof:
				return evEOF, markPos, errorAt(markPos, "unterminated escape sequence")
			default:
				return evEOF, markPos, errorAt(markPos, `invalid escape sequence "\%c", only "\?", "\{" and "\}" are allowed`, c)
			}
		case stateExpressionLookahead:
			if c == '{' {
				return evExpression, markPos, nil
			}
			b.buf.WriteRune('?')
			b.r.Unread(c)
			state = stateNormal
		case stateConditionLookahead:
			if c == '(' {
				return evCondition, markPos, nil
			}
			b.buf.WriteRune('!')
			b.r.Unread(c)
			state = stateNormal
		case stateEndLookahead:
			if c == '=' {
				equals++
				if equals == 4 {
					for i := 0; i < 4; i++ {
						b.r.Unread('=')
					}
					return evScriptEnd, markPos, nil
				}
				continue
			}
			b.buf.WriteString(strings.Repeat("=", equals))
			b.r.Unread(c)
			state = stateNormal
		}
	}
}
