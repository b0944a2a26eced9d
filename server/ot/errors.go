package ot

import "errors"

var (
	// ErrLengthMismatch is returned when an op sequence does not fit the text
	// or op it is combined with.
	ErrLengthMismatch = errors.New("length mismatch")
	// ErrNotConcurrent is returned by Transform when the operands do not share
	// a base.
	ErrNotConcurrent = errors.New("transform requires concurrent ops")
	// ErrShortSequence is returned when one operand runs out before the
	// cursors align.
	ErrShortSequence = errors.New("short operation sequence")
	// ErrIncompatible is returned by Transform for an op pairing it cannot
	// rebase.
	ErrIncompatible = errors.New("incompatible operation sequences")
	// ErrMisaligned is returned when a byte window does not land on codepoint
	// boundaries.
	ErrMisaligned = errors.New("misaligned byte length")
	ErrInvalidOp  = errors.New("invalid op")
	ErrEmpty      = errors.New("compose requires nonempty ops")
)
