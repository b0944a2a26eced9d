package ot

import "fmt"

// Transform derives the bottom two sides of the OT diamond. Given concurrent
// a and b, it returns a' and b' such that applying a then b' yields the same
// text as applying b then a'. When both sides insert at the same position,
// a's insert is placed first.
//
// If either operand is nil, both are returned unchanged.
func Transform(a, b Ops) (ap, bp Ops, err error) {
	if a == nil || b == nil {
		return a, b, nil
	}
	if err := Validate(a); err != nil {
		return nil, nil, err
	}
	if err := Validate(b); err != nil {
		return nil, nil, err
	}
	if alen, blen := BaseLen(a), BaseLen(b); alen != blen {
		return nil, nil, fmt.Errorf("%w (%d != %d)", ErrNotConcurrent, alen, blen)
	}

	ap = make(Ops, 0, len(a)+len(b))
	bp = make(Ops, 0, len(a)+len(b))
	ca, cb := newCursor(a), newCursor(b)
	for !ca.done() || !cb.done() {
		if op, ok := ca.op.(Insert); ok {
			ap = append(ap, op)
			bp = append(bp, Retain(len(op)))
			ca.next()
			continue
		}
		if op, ok := cb.op.(Insert); ok {
			ap = append(ap, Retain(len(op)))
			bp = append(bp, op)
			cb.next()
			continue
		}
		if ca.done() || cb.done() {
			return nil, nil, ErrShortSequence
		}
		n := min(ca.op.Len(), cb.op.Len())
		switch ca.op.(type) {
		case Retain:
			switch cb.op.(type) {
			case Retain:
				ap = append(ap, Retain(n))
				bp = append(bp, Retain(n))
			case Delete:
				bp = append(bp, Delete(n))
			default:
				return nil, nil, ErrIncompatible
			}
		case Delete:
			switch cb.op.(type) {
			case Retain:
				ap = append(ap, Delete(n))
			case Delete:
				// Both sides deleted the same bytes.
			default:
				return nil, nil, ErrIncompatible
			}
		default:
			return nil, nil, ErrIncompatible
		}
		ca.consume(n)
		cb.consume(n)
	}
	return Merge(ap), Merge(bp), nil
}
