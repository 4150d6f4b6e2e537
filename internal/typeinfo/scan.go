// Copyright 2023 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"unicode/utf8"
)

// Column is a scan destination for one result column. It accepts any driver
// value, including NULL, and holds it until it is decoded into its target.
type Column struct {
	Value any
	// MaxSize, when positive, is the number of bytes strings and byte slices
	// are truncated to.
	MaxSize int
}

// Scan implements sql.Scanner.
func (c *Column) Scan(src any) error {
	switch v := src.(type) {
	case []byte:
		if c.MaxSize > 0 && len(v) > c.MaxSize {
			v = v[:c.MaxSize]
		}
		// The driver owns the memory of a []byte source.
		b := make([]byte, len(v))
		copy(b, v)
		c.Value = b
	case string:
		if c.MaxSize > 0 && len(v) > c.MaxSize {
			n := c.MaxSize
			for n > 0 && !utf8.RuneStart(v[n]) {
				n--
			}
			v = v[:n]
		}
		c.Value = v
	default:
		c.Value = src
	}
	return nil
}
