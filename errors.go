package qpack

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument is returned when a caller violates a precondition,
	// e.g. by passing a prefix length outside of [1, 8].
	ErrInvalidArgument = errors.New("qpack: invalid argument")
	// ErrIndexOutOfRange is returned when index arithmetic references an entry
	// that was never inserted or was already evicted.
	ErrIndexOutOfRange = errors.New("qpack: index out of range")
	// ErrMalformedInteger is returned when a prefixed integer doesn't terminate
	// within the maximum encoded length, or overflows 64 bits.
	ErrMalformedInteger = errors.New("qpack: malformed integer")
	// ErrBlocked is returned by the decoder when a field section references
	// dynamic table insertions that it hasn't received yet.
	// Decoding can be retried after passing more encoder instructions
	// to HandleEncoderInstructions.
	ErrBlocked = errors.New("qpack: field section blocked on dynamic table insertions")
	// ErrUnknownStream is returned when an acknowledgement references a stream
	// without outstanding field sections.
	ErrUnknownStream = errors.New("qpack: no outstanding field section for stream")
)

var errNoDynamicTable = decodingError{errors.New("no dynamic table")}

// A decodingError is what RFC 9204 calls a decompression failure.
type decodingError struct {
	err error
}

func (de decodingError) Error() string {
	return fmt.Sprintf("decoding error: %v", de.err)
}

func (de decodingError) Unwrap() error { return de.err }

// An invalidIndexError is returned when an encoder references a table
// entry before the static table or after the end of the dynamic table.
type invalidIndexError int

func (e invalidIndexError) Error() string {
	return fmt.Sprintf("invalid indexed representation index %d", int(e))
}
