package sse

import (
	"bufio"
	"io"
	"strings"
)

const (
	initialBufferSize = 64 * 1024
	maxLineSize       = 1024 * 1024
)

// Reader yields events from an SSE byte stream.
type Reader struct {
	scanner *bufio.Scanner

	ev      Event
	data    []string
	pending bool
}

func NewReader(src io.Reader) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, initialBufferSize), maxLineSize)

	return &Reader{scanner: scanner}
}

// Next blocks until the next event is dispatched by a blank line. It returns
// io.EOF once the source is exhausted. A final event missing its blank line
// is still returned.
func (r *Reader) Next() (Event, error) {
	for r.scanner.Scan() {
		line := strings.TrimSuffix(r.scanner.Text(), "\r")

		switch {
		case line == "":
			if r.pending {
				return r.dispatch(), nil
			}
		case strings.HasPrefix(line, ":"):
			// comment or keep-alive
		default:
			r.field(line)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, err
	}
	if r.pending {
		return r.dispatch(), nil
	}
	return Event{}, io.EOF
}

// field applies one "name:value" line. A single space after the colon is
// not part of the value; a line without a colon is a field with no value.
func (r *Reader) field(line string) {
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "data":
		r.data = append(r.data, value)
	case "event":
		r.ev.Type = value
	case "id":
		r.ev.ID = value
	default:
		// retry and unknown fields
		return
	}
	r.pending = true
}

func (r *Reader) dispatch() Event {
	ev := r.ev
	ev.Data = strings.Join(r.data, "\n")

	r.ev = Event{}
	r.data = r.data[:0]
	r.pending = false
	return ev
}
