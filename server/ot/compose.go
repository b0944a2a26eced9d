package ot

import "fmt"

// Compose returns an op sequence equivalent to applying a and then b.
// The result length of a must equal the base length of b.
func Compose(a, b Ops) (Ops, error) {
	if a == nil || b == nil {
		return nil, ErrEmpty
	}
	if err := Validate(a); err != nil {
		return nil, err
	}
	if err := Validate(b); err != nil {
		return nil, err
	}
	if alen, blen := TargetLen(a), BaseLen(b); alen != blen {
		return nil, fmt.Errorf("%w: compose requires consecutive ops (%d != %d)", ErrLengthMismatch, alen, blen)
	}

	res := make(Ops, 0, len(a)+len(b))
	ca, cb := newCursor(a), newCursor(b)
	for !ca.done() || !cb.done() {
		// Deletes from a happen before b sees the text.
		if op, ok := ca.op.(Delete); ok {
			res = append(res, op)
			ca.next()
			continue
		}
		// Inserts from b appear regardless of what a did.
		if op, ok := cb.op.(Insert); ok {
			res = append(res, op)
			cb.next()
			continue
		}
		if ca.done() || cb.done() {
			return nil, ErrShortSequence
		}
		n := min(ca.op.Len(), cb.op.Len())
		switch oa := ca.op.(type) {
		case Retain:
			switch cb.op.(type) {
			case Retain:
				res = append(res, Retain(n))
			case Delete:
				res = append(res, Delete(n))
			default:
				return nil, ErrShortSequence
			}
		case Insert:
			switch cb.op.(type) {
			case Retain:
				res = append(res, oa[:n])
			case Delete:
				// b deletes text that a inserted.
			default:
				return nil, ErrShortSequence
			}
		default:
			return nil, ErrShortSequence
		}
		ca.consume(n)
		cb.consume(n)
	}
	return Merge(res), nil
}
