package stream

import (
	"bytes"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/utils"
)

const readBufferSize = 4 * 1024

var delimiter = []byte(Delimiter)

// Decoder incrementally reassembles events from raw bytes delivered in
// arbitrary chunks. A single frame may span many chunks and a single chunk
// may carry many frames.
//
// After every Feed the buffer holds at most one partial (undelimited) frame:
// every complete frame found is drained and decoded immediately.
type Decoder struct {
	buf        []byte
	terminated bool
	skipped    int
	logger     *zap.Logger
}

// NewDecoder returns a Decoder. Malformed frames are reported to logger;
// a nil logger discards them.
func NewDecoder(logger *zap.Logger) *Decoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decoder{logger: logger}
}

// Feed appends chunk to the buffer and returns every event completed by it,
// in arrival order. Once a lifecycle event has been decoded the decoder is
// terminated: the remainder of that chunk and all later chunks are ignored.
func (d *Decoder) Feed(chunk []byte) []Event {
	if d.terminated {
		return nil
	}

	d.buf = append(d.buf, chunk...)

	var (
		events   []Event
		consumed int
	)

	for !d.terminated {
		idx := bytes.Index(d.buf[consumed:], delimiter)
		if idx < 0 {
			break
		}

		frame := string(d.buf[consumed : consumed+idx])
		consumed += idx + len(delimiter)

		ev, ok, err := decodeFrame(frame)
		if err != nil {
			d.skipped++
			d.logger.Warn("skipping malformed frame",
				zap.Error(err),
				zap.String("frame", utils.Truncate(frame, 64)),
			)
			continue
		}
		if !ok {
			continue
		}

		events = append(events, ev)
		if ev.Lifecycle() {
			d.terminated = true
		}
	}

	switch {
	case d.terminated:
		d.buf = nil
	case consumed > 0:
		// Drop drained frames so the buffer only ever holds the trailing
		// partial frame.
		d.buf = append(d.buf[:0:0], d.buf[consumed:]...)
	}

	return events
}

// Buffered returns the number of bytes held that do not yet form a
// complete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Terminated reports whether a lifecycle event has been decoded.
func (d *Decoder) Terminated() bool {
	return d.terminated
}

// Skipped returns the number of malformed frames skipped so far.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// decodeFrame classifies a single frame (delimiter already removed).
// ok is false for frames that carry no event, such as SSE comments and
// keep-alive blank frames.
func decodeFrame(frame string) (Event, bool, error) {
	// Tolerate stray line-break residue around the frame, e.g. a third
	// newline or CRLF line endings. Spaces are payload and left intact.
	frame = strings.TrimLeft(frame, "\r\n")
	frame = strings.TrimRight(frame, "\r")

	if frame == "" || strings.HasPrefix(frame, ":") {
		return Event{}, false, nil
	}

	data, ok := strings.CutPrefix(frame, Marker)
	if !ok {
		return Event{}, false, &FramingError{Frame: frame, Reason: "missing data marker"}
	}

	switch data {
	case DoneSentinel:
		return Done(), true, nil
	case ErrorSentinel:
		return Error(), true, nil
	case "":
		return Event{}, false, &FramingError{Frame: frame, Reason: "empty payload"}
	}

	if strings.ContainsAny(data, "\n\r") {
		return Event{}, false, &FramingError{Frame: frame, Reason: "unescaped line break in payload"}
	}

	text, err := Unescape(data)
	if err != nil {
		return Event{}, false, &FramingError{Frame: frame, Reason: "invalid escape", Err: err}
	}

	return Token(text), true, nil
}

// Reader is a pull-based decoder over a transport body. It blocks on each
// read until bytes arrive, and processes each chunk fully before issuing
// the next read, so events are yielded strictly in arrival order.
type Reader struct {
	src     io.Reader
	dec     *Decoder
	buf     []byte
	pending []Event
	err     error
}

// NewReader returns a Reader decoding events from src.
func NewReader(src io.Reader, logger *zap.Logger) *Reader {
	return &Reader{
		src: src,
		dec: NewDecoder(logger),
		buf: make([]byte, readBufferSize),
	}
}

// Next returns the next event. After a lifecycle event has been returned,
// Next returns io.EOF. If the transport ends or fails first, Next returns a
// *TransportError.
func (r *Reader) Next() (Event, error) {
	for {
		if len(r.pending) > 0 {
			ev := r.pending[0]
			r.pending = r.pending[1:]
			return ev, nil
		}

		if r.err != nil {
			return Event{}, r.err
		}

		if r.dec.Terminated() {
			r.err = io.EOF
			continue
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			r.pending = append(r.pending, r.dec.Feed(r.buf[:n])...)
		}

		if err != nil {
			switch {
			case r.dec.Terminated():
				r.err = io.EOF
			case errors.Is(err, io.EOF):
				r.err = &TransportError{Buffered: r.dec.Buffered(), Err: io.ErrUnexpectedEOF}
			default:
				r.err = &TransportError{Buffered: r.dec.Buffered(), Err: err}
			}
		}
	}
}

// Decoder exposes the underlying incremental decoder.
func (r *Reader) Decoder() *Decoder {
	return r.dec
}
