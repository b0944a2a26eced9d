package client

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/asadovsky/cards/server/ot"
)

// Diff returns an op sequence taking a to b, found by trimming their
// common prefix and suffix. It returns nil if the strings are equal. Op
// boundaries never split a codepoint.
func Diff(a, b string) ot.Ops {
	if a == b {
		return nil
	}
	p := 0
	for p < len(a) && p < len(b) && a[p] == b[p] {
		p++
	}
	for p > 0 && (p < len(a) && !utf8.RuneStart(a[p]) || p < len(b) && !utf8.RuneStart(b[p])) {
		p--
	}
	s := 0
	for s < len(a)-p && s < len(b)-p && a[len(a)-1-s] == b[len(b)-1-s] {
		s++
	}
	for s > 0 && (!utf8.RuneStart(a[len(a)-s]) || !utf8.RuneStart(b[len(b)-s])) {
		s--
	}
	return ot.Merge(ot.Ops{
		ot.Retain(p),
		ot.Delete(len(a) - p - s),
		ot.Insert(b[p : len(b)-s]),
		ot.Retain(s),
	})
}

// Splice is an edit addressed in UTF-16 code units, the way browser text
// widgets count. Del units are removed at Pos, then Text is inserted there.
type Splice struct {
	Pos  int
	Del  int
	Text string
}

// Splices converts ops against text into splices to be applied in order.
func Splices(text string, ops ot.Ops) ([]Splice, error) {
	if err := ot.Validate(ops); err != nil {
		return nil, err
	}
	if base := ot.BaseLen(ops); base != len(text) {
		return nil, fmt.Errorf("%w: ops base length %d != text length %d", ot.ErrLengthMismatch, base, len(text))
	}
	var res []Splice
	b, pos := 0, 0
	for _, op := range ot.Merge(ops) {
		switch op := op.(type) {
		case ot.Retain:
			n, err := ot.UCS2Len(text, b, int(op))
			if err != nil {
				return nil, err
			}
			b += int(op)
			pos += n
		case ot.Delete:
			n, err := ot.UCS2Len(text, b, int(op))
			if err != nil {
				return nil, err
			}
			b += int(op)
			res = append(res, Splice{Pos: pos, Del: n})
		case ot.Insert:
			if last := len(res) - 1; last >= 0 && res[last].Pos == pos && res[last].Text == "" {
				res[last].Text = string(op)
			} else {
				res = append(res, Splice{Pos: pos, Text: string(op)})
			}
			pos += len(utf16.Encode([]rune(string(op))))
		}
	}
	return res, nil
}
