package ot

import (
	"fmt"
	"unicode/utf16"
	"unicode/utf8"
)

// UCS2Len returns the number of UTF-16 code units needed to encode the n bytes
// of s starting at byte offset pos. The window must start and end on codepoint
// boundaries.
func UCS2Len(s string, pos, n int) (int, error) {
	if pos < 0 || n < 0 || pos+n > len(s) {
		return 0, fmt.Errorf("%w: window [%d,%d) outside %d bytes", ErrMisaligned, pos, pos+n, len(s))
	}
	if n > 0 && !utf8.RuneStart(s[pos]) {
		return 0, fmt.Errorf("%w: offset %d is inside a codepoint", ErrMisaligned, pos)
	}
	out := 0
	for n > 0 {
		r, size := utf8.DecodeRuneInString(s[pos:])
		if size > n {
			return 0, fmt.Errorf("%w: window ends inside a codepoint at %d", ErrMisaligned, pos)
		}
		if r >= 0x10000 {
			out += 2
		} else {
			out++
		}
		pos += size
		n -= size
	}
	return out, nil
}

// UTF8Len returns the length in UTF-8 bytes of the UTF-16 encoded text.
func UTF8Len(units []uint16) int {
	n := 0
	for _, r := range utf16.Decode(units) {
		n += utf8.RuneLen(r)
	}
	return n
}
