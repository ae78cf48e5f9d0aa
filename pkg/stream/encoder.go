package stream

import (
	"io"
)

// errFlusher is implemented by buffered writers such as *bufio.Writer.
type errFlusher interface {
	Flush() error
}

// flusher is implemented by http.ResponseWriter implementations.
type flusher interface {
	Flush()
}

// Encoder serializes events onto a writer, one frame per event, flushing
// after every frame so each token reaches the client as soon as it is
// produced. After Done or Fail the encoder is closed.
type Encoder struct {
	w      io.Writer
	buf    []byte
	closed bool

	frames int
	bytes  int64
}

// NewEncoder returns an Encoder writing frames to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: w}
}

// Token writes a token frame. Empty text is dropped: an empty payload is
// indistinguishable from "no new content".
func (e *Encoder) Token(text string) error {
	if text == "" {
		if e.closed {
			return ErrEncoderClosed
		}
		return nil
	}
	return e.write(Token(text))
}

// Done writes the terminal frame of a successful stream and closes the
// encoder.
func (e *Encoder) Done() error {
	return e.write(Done())
}

// Fail writes the terminal frame of a failed stream and closes the encoder.
func (e *Encoder) Fail() error {
	return e.write(Error())
}

// Closed reports whether a lifecycle frame was written (or attempted).
func (e *Encoder) Closed() bool {
	return e.closed
}

// Frames returns the number of frames written.
func (e *Encoder) Frames() int {
	return e.frames
}

// Bytes returns the number of bytes written.
func (e *Encoder) Bytes() int64 {
	return e.bytes
}

func (e *Encoder) write(ev Event) error {
	if e.closed {
		return ErrEncoderClosed
	}
	if ev.Lifecycle() {
		e.closed = true
	}

	e.buf = AppendFrame(e.buf[:0], ev)
	n, err := e.w.Write(e.buf)
	e.bytes += int64(n)
	if err != nil {
		return err
	}
	e.frames++

	switch f := e.w.(type) {
	case errFlusher:
		return f.Flush()
	case flusher:
		f.Flush()
	}
	return nil
}
