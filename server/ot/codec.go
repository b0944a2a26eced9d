package ot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// MarshalJSON encodes ops as a mixed array: a positive integer retains, a
// negative integer deletes and a string inserts.
func (ops Ops) MarshalJSON() ([]byte, error) {
	if ops == nil {
		return []byte("null"), nil
	}
	vals := make([]interface{}, len(ops))
	for i, op := range ops {
		switch op := op.(type) {
		case Retain:
			vals[i] = int(op)
		case Delete:
			vals[i] = -int(op)
		case Insert:
			vals[i] = string(op)
		default:
			return nil, fmt.Errorf("%w: unexpected op type %T", ErrInvalidOp, op)
		}
	}
	return json.Marshal(vals)
}

// UnmarshalJSON decodes the mixed array produced by MarshalJSON. Zeros and
// empty strings are dropped and the result is canonicalized. Sequences that
// fail Validate are rejected.
func (ops *Ops) UnmarshalJSON(b []byte) error {
	if bytes.Equal(bytes.TrimSpace(b), []byte("null")) {
		*ops = nil
		return nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(b, &raws); err != nil {
		return err
	}
	res := make(Ops, 0, len(raws))
	for i, raw := range raws {
		raw = bytes.TrimSpace(raw)
		if len(raw) > 0 && raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return err
			}
			res = append(res, Insert(s))
			continue
		}
		var n int64
		if err := json.Unmarshal(raw, &n); err != nil {
			return fmt.Errorf("%w: element %d is %s", ErrInvalidOp, i, raw)
		}
		if n > MaxLen || n < -MaxLen {
			return fmt.Errorf("%w: element %d is out of range", ErrInvalidOp, i)
		}
		switch {
		case n > 0:
			res = append(res, Retain(n))
		case n < 0:
			res = append(res, Delete(-n))
		}
	}
	if err := Validate(res); err != nil {
		return err
	}
	*ops = Merge(res)
	return nil
}
