// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package parse

import (
	"fmt"
	"strings"
)

// leafBuilder accumulates the chunks and expressions of an unconditional leaf
// fragment.
type leafBuilder struct {
	pos    Position
	chunks []string
	exprs  []Expr
}

func (lb *leafBuilder) empty() bool {
	return len(lb.exprs) == 0 && (len(lb.chunks) == 0 || lb.chunks[0] == "")
}

// flush closes the leaf under construction with the final chunk of text and
// appends it to frags, unless it contains nothing at all.
func (lb *leafBuilder) flush(frags []*Fragment, last string) []*Fragment {
	lb.chunks = append(lb.chunks, last)
	if !lb.empty() {
		frags = append(frags, &Fragment{
			Cond:   Cond{Kind: CondAlways},
			Pos:    lb.pos,
			Chunks: lb.chunks,
			Exprs:  lb.exprs,
		})
	}
	*lb = leafBuilder{}
	return frags
}

// parseBody parses a SQL body up to the closing block separator, which is
// left unconsumed. The line break before the separator is not part of the
// body.
func (p *parser) parseBody() (*Fragment, error) {
	pos := p.r.Pos()
	frags, err := p.parseSequence(newSQLBuffer(p.r), nil)
	if err != nil {
		return nil, err
	}
	switch len(frags) {
	case 0:
		return nil, errorAt(pos, "empty SQL body")
	case 1:
		return frags[0], nil
	}
	return &Fragment{Cond: Cond{Kind: CondAlways}, Pos: pos, Children: frags}, nil
}

// parseSequence parses sibling fragments until the end of the enclosing block
// or, when block is nil, until the end of the script body. Consecutive text and
// expressions are grouped into a single leaf.
func (p *parser) parseSequence(buf *sqlBuffer, block *Cond) ([]*Fragment, error) {
	var frags []*Fragment
	leaf := leafBuilder{pos: p.r.Pos()}
	for {
		ev, pos, err := buf.next(block != nil)
		if err != nil {
			return nil, err
		}
		switch ev {
		case evExpression:
			if len(leaf.chunks) == 0 && len(leaf.exprs) == 0 && buf.buf.Len() == 0 {
				leaf.pos = pos
			}
			leaf.chunks = append(leaf.chunks, buf.take())
			expr, err := p.parseExpr(pos)
			if err != nil {
				return nil, err
			}
			leaf.exprs = append(leaf.exprs, expr)
		case evCondition:
			frags = leaf.flush(frags, buf.take())
			cond, err := p.parseCondition(pos)
			if err != nil {
				return nil, err
			}
			frag, err := p.parseBlock(buf, cond)
			if err != nil {
				return nil, err
			}
			frags = append(frags, frag)
			leaf.pos = p.r.Pos()
		case evBlockEnd:
			return leaf.flush(frags, buf.take()), nil
		case evScriptEnd:
			if block != nil {
				return nil, errorAt(block.Pos, "unterminated conditional block")
			}
			return leaf.flush(frags, trimLineBreak(buf.take())), nil
		case evEOF:
			if block != nil {
				return nil, errorAt(block.Pos, "unterminated conditional block")
			}
			return nil, errorAt(pos, "missing closing block separator")
		default:
			return nil, fmt.Errorf("internal error: unknown event %s", ev)
		}
	}
}

// parseBlock parses the content of a conditional block after its opening
// brace. A block without nested conditions becomes a single guarded leaf,
// otherwise a composite whose children are each evaluated on their own.
func (p *parser) parseBlock(buf *sqlBuffer, cond Cond) (*Fragment, error) {
	children, err := p.parseSequence(buf, &cond)
	if err != nil {
		return nil, err
	}
	if len(children) == 0 {
		return &Fragment{Cond: cond, Pos: cond.Pos, Chunks: []string{""}}, nil
	}
	if len(children) == 1 && !children[0].IsComposite() && children[0].Cond.Kind == CondAlways {
		leaf := children[0]
		leaf.Cond = cond
		return leaf, nil
	}
	if len(children) < 2 {
		return nil, errorAt(cond.Pos, "at least 2 inner parts expected in conditional block %s", cond)
	}
	return &Fragment{Cond: cond, Pos: cond.Pos, Children: children}, nil
}

// trimLineBreak removes one trailing line break.
func trimLineBreak(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}

// parseExpr parses the content of an expression after "?{" up to and
// including the closing "}". The forms are:
//
//	name
//	name.prop.path
//	name|SQLTYPE
//	IN(name), OUT(name), INOUT(name)
func (p *parser) parseExpr(start Position) (Expr, error) {
	expr := Expr{Pos: start}
	if err := p.r.skipBlanks(true); err != nil {
		return Expr{}, err
	}
	pos := p.r.Pos()
	name, ok, err := p.parseName()
	if err != nil {
		return Expr{}, err
	}
	if !ok {
		return Expr{}, p.unterminated(start, pos, "parameter name", "expression")
	}
	dir, isDir := map[string]Direction{"IN": DirIn, "OUT": DirOut, "INOUT": DirInOut}[name]
	if open, err := p.r.skipChar('('); err != nil {
		return Expr{}, err
	} else if open {
		if !isDir {
			return Expr{}, errorAt(pos, "unknown parameter direction %q", name)
		}
		expr.Dir, expr.Explicit = dir, true
		if err := p.r.skipBlanks(true); err != nil {
			return Expr{}, err
		}
		refPos := p.r.Pos()
		ref, ok, err := p.parseRef()
		if err != nil {
			return Expr{}, err
		}
		if !ok {
			return Expr{}, p.unterminated(start, refPos, "parameter name", "expression")
		}
		expr.Ref = ref
		if err := p.r.skipBlanks(true); err != nil {
			return Expr{}, err
		}
		if err := p.expect(')'); err != nil {
			return Expr{}, err
		}
	} else {
		ref, _, err := p.parseRefFrom(name, pos)
		if err != nil {
			return Expr{}, err
		}
		expr.Ref = ref
	}
	if err := p.r.skipBlanks(true); err != nil {
		return Expr{}, err
	}
	if ok, err := p.r.skipChar('|'); err != nil {
		return Expr{}, err
	} else if ok {
		if expr.SQLType, err = p.expectName("SQL type"); err != nil {
			return Expr{}, err
		}
		if err := p.r.skipBlanks(true); err != nil {
			return Expr{}, err
		}
	}
	endPos := p.r.Pos()
	if ok, err := p.r.skipChar('}'); err != nil {
		return Expr{}, err
	} else if !ok {
		return Expr{}, p.unterminated(start, endPos, `"}"`, "expression")
	}
	return expr, nil
}

// parseCondition parses the content of a condition after "!(" up to and
// including the opening brace of the guarded block. The forms are:
//
//	true(ref)
//	empty(ref)
//	ref
//
// each optionally preceded by "!" to negate it.
func (p *parser) parseCondition(start Position) (Cond, error) {
	cond := Cond{Pos: start}
	if err := p.r.skipBlanks(true); err != nil {
		return Cond{}, err
	}
	if ok, err := p.r.skipChar('!'); err != nil {
		return Cond{}, err
	} else if ok {
		cond.Negate = true
		if err := p.r.skipBlanks(true); err != nil {
			return Cond{}, err
		}
	}
	pos := p.r.Pos()
	name, ok, err := p.parseName()
	if err != nil {
		return Cond{}, err
	}
	if !ok {
		return Cond{}, p.unterminated(start, pos, "condition", "condition")
	}
	if open, err := p.r.skipChar('('); err != nil {
		return Cond{}, err
	} else if open {
		switch name {
		case "true":
			cond.Kind = CondTrue
		case "empty":
			cond.Kind = CondEmpty
		default:
			return Cond{}, errorAt(pos, "unknown condition %q", name)
		}
		if err := p.r.skipBlanks(true); err != nil {
			return Cond{}, err
		}
		refPos := p.r.Pos()
		ref, ok, err := p.parseRef()
		if err != nil {
			return Cond{}, err
		}
		if !ok {
			return Cond{}, p.unterminated(start, refPos, "parameter name", "condition")
		}
		cond.Ref = ref
		if err := p.r.skipBlanks(true); err != nil {
			return Cond{}, err
		}
		if err := p.expect(')'); err != nil {
			return Cond{}, err
		}
	} else {
		cond.Kind = CondNotEmpty
		if cond.Ref, _, err = p.parseRefFrom(name, pos); err != nil {
			return Cond{}, err
		}
	}
	if err := p.r.skipBlanks(true); err != nil {
		return Cond{}, err
	}
	closePos := p.r.Pos()
	if ok, err := p.r.skipChar(')'); err != nil {
		return Cond{}, err
	} else if !ok {
		return Cond{}, p.unterminated(start, closePos, `")"`, "condition")
	}
	if err := p.expect('{'); err != nil {
		return Cond{}, err
	}
	return cond, nil
}

// parseRefFrom continues parsing a reference whose name has already been
// consumed.
func (p *parser) parseRefFrom(name string, pos Position) (Ref, bool, error) {
	ref := Ref{Name: name, Pos: pos}
	for {
		ok, err := p.r.skipChar('.')
		if err != nil {
			return Ref{}, false, err
		}
		if !ok {
			return ref, true, nil
		}
		prop, err := p.expectName("property name")
		if err != nil {
			return Ref{}, false, err
		}
		ref.Path = append(ref.Path, prop)
	}
}

// unterminated reports a missing piece of a construct. At the end of the input
// the construct opened at start is reported as unterminated.
func (p *parser) unterminated(start, pos Position, expected, construct string) error {
	c, err := p.r.Peek()
	if err != nil {
		return err
	}
	if c == eof {
		return errorAt(start, "unterminated %s", construct)
	}
	return p.unexpected(pos, expected)
}
