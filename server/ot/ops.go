// Package ot implements operational transformation over byte-addressed text.
//
// An operation sequence walks a base text from start to end. Each element
// either retains bytes, deletes bytes, or inserts text at the current cursor:
//
//	Ops{Retain(5), Delete(2), Insert("text")} // retain 5, delete 2, insert "text"
//
// All magnitudes are UTF-8 byte counts.
package ot

import (
	"fmt"
	"strings"
)

// Op is a single operation. The only implementations are Retain, Delete and
// Insert.
type Op interface {
	// Len returns the number of bytes spanned by the op.
	Len() int
	isOp()
}

// Retain skips n bytes of the base text.
type Retain int

func (op Retain) Len() int { return int(op) }
func (Retain) isOp()       {}

// Delete removes n bytes of the base text at the cursor.
type Delete int

func (op Delete) Len() int { return int(op) }
func (Delete) isOp()       {}

// Insert inserts text at the cursor.
type Insert string

func (op Insert) Len() int { return len(op) }
func (Insert) isOp()       {}

// Ops is an operation sequence.
type Ops []Op

func (ops Ops) String() string {
	parts := make([]string, len(ops))
	for i, op := range ops {
		switch op := op.(type) {
		case Retain:
			parts[i] = fmt.Sprintf("%d", int(op))
		case Delete:
			parts[i] = fmt.Sprintf("%d", -int(op))
		case Insert:
			parts[i] = fmt.Sprintf("%q", string(op))
		}
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Count returns the number of retained, deleted and inserted bytes.
func Count(ops Ops) (ret, del, ins int) {
	for _, op := range ops {
		switch op := op.(type) {
		case Retain:
			ret += int(op)
		case Delete:
			del += int(op)
		case Insert:
			ins += len(op)
		}
	}
	return
}

// BaseLen returns the length of the text ops applies to.
func BaseLen(ops Ops) int {
	ret, del, _ := Count(ops)
	return ret + del
}

// TargetLen returns the length of the text ops produces.
func TargetLen(ops Ops) int {
	ret, _, ins := Count(ops)
	return ret + ins
}

// MaxLen bounds the text an op sequence may span, on either side.
const MaxLen = 1 << 30

// Validate returns ErrInvalidOp if ops contains a negative magnitude, an op
// of unknown type, or spans more than MaxLen bytes of base or target text.
// Zero-length ops are allowed; they are no-ops.
func Validate(ops Ops) error {
	base, target := 0, 0
	for i, op := range ops {
		switch op := op.(type) {
		case Retain, Delete:
			if n := op.Len(); n < 0 || n > MaxLen {
				return fmt.Errorf("%w: magnitude %d out of range at index %d", ErrInvalidOp, n, i)
			}
			base += op.Len()
			if _, ok := op.(Retain); ok {
				target += op.Len()
			}
		case Insert:
			if len(op) > MaxLen {
				return fmt.Errorf("%w: insert of %d bytes at index %d", ErrInvalidOp, len(op), i)
			}
			target += len(op)
		default:
			return fmt.Errorf("%w: unexpected op type %T at index %d", ErrInvalidOp, op, i)
		}
		if base > MaxLen || target > MaxLen {
			return fmt.Errorf("%w: sequence spans more than %d bytes at index %d", ErrInvalidOp, MaxLen, i)
		}
	}
	return nil
}

// Merge returns the canonical form of ops: zero-length ops are dropped and
// consecutive ops of the same kind are coalesced. The result is never nil.
func Merge(ops Ops) Ops {
	res := make(Ops, 0, len(ops))
	for _, op := range ops {
		if op == nil || op.Len() == 0 {
			continue
		}
		if n := len(res); n > 0 {
			switch last := res[n-1].(type) {
			case Retain:
				if op, ok := op.(Retain); ok {
					res[n-1] = last + op
					continue
				}
			case Delete:
				if op, ok := op.(Delete); ok {
					res[n-1] = last + op
					continue
				}
			case Insert:
				if op, ok := op.(Insert); ok {
					res[n-1] = last + op
					continue
				}
			}
		}
		res = append(res, op)
	}
	return res
}

// cursor walks an operation sequence one grain at a time. Zero-length ops are
// skipped; op is nil once the sequence is exhausted.
type cursor struct {
	ops Ops
	i   int
	op  Op
}

func newCursor(ops Ops) *cursor {
	c := &cursor{ops: ops}
	c.next()
	return c
}

func (c *cursor) done() bool {
	return c.op == nil
}

func (c *cursor) next() {
	c.op = nil
	for c.i < len(c.ops) {
		op := c.ops[c.i]
		c.i++
		if op != nil && op.Len() > 0 {
			c.op = op
			return
		}
	}
}

// consume advances the cursor by n bytes of the current op, where
// 0 < n <= c.op.Len().
func (c *cursor) consume(n int) {
	if n == c.op.Len() {
		c.next()
		return
	}
	switch op := c.op.(type) {
	case Retain:
		c.op = op - Retain(n)
	case Delete:
		c.op = op - Delete(n)
	case Insert:
		c.op = op[n:]
	}
}
