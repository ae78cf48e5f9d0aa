package stream

import (
	"errors"
	"fmt"
)

// ErrEncoderClosed is returned when writing to an Encoder that already
// emitted a lifecycle event.
var ErrEncoderClosed = errors.New("stream encoder closed")

// FramingError describes a single malformed frame. Decoding recovers from it
// by skipping the frame.
type FramingError struct {
	Frame  string
	Reason string
	Err    error
}

func (e *FramingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed frame: %s: %v", e.Reason, e.Err)
	}
	return "malformed frame: " + e.Reason
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// TransportError indicates the transport ended or failed before a lifecycle
// event arrived.
type TransportError struct {
	// Buffered is the number of undelimited bytes left in the decoder when
	// the transport ended.
	Buffered int

	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("stream transport ended before completion (%d bytes pending): %v", e.Buffered, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
