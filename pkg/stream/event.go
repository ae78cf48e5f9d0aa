// Package stream implements the relay's downstream event protocol.
//
// Every event travels as one frame:
//
//	data: <payload>\n\n
//
// where payload is the (escaped) token text, or one of the reserved
// lifecycle sentinels [DONE] and [ERROR]. The server side writes frames with
// an Encoder (usually driven by Pump); the client side reassembles them with
// a Decoder or the pull-based Reader, regardless of how the network chunked
// the bytes.
package stream

const (
	// Marker prefixes every frame.
	Marker = "data: "

	// Delimiter terminates every frame.
	Delimiter = "\n\n"

	// DoneSentinel is the payload of the terminal event of a successful stream.
	DoneSentinel = "[DONE]"

	// ErrorSentinel is the payload of the terminal event of a failed stream.
	ErrorSentinel = "[ERROR]"
)

// Kind discriminates the event variants.
type Kind int

const (
	KindToken Kind = iota
	KindDone
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindToken:
		return "token"
	case KindDone:
		return "done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a single decoded transport event.
type Event struct {
	Kind Kind

	// Text is the token text. Only set for KindToken.
	Text string
}

// Token returns a token event carrying text.
func Token(text string) Event {
	return Event{Kind: KindToken, Text: text}
}

// Done returns the terminal event of a successful stream.
func Done() Event {
	return Event{Kind: KindDone}
}

// Error returns the terminal event of a failed stream.
func Error() Event {
	return Event{Kind: KindError}
}

// Lifecycle reports whether e terminates the stream.
func (e Event) Lifecycle() bool {
	return e.Kind == KindDone || e.Kind == KindError
}

// Frame returns the wire representation of e.
func Frame(e Event) string {
	return Marker + payload(e) + Delimiter
}

// AppendFrame appends the wire representation of e to dst.
func AppendFrame(dst []byte, e Event) []byte {
	dst = append(dst, Marker...)
	dst = append(dst, payload(e)...)
	return append(dst, Delimiter...)
}

func payload(e Event) string {
	switch e.Kind {
	case KindDone:
		return DoneSentinel
	case KindError:
		return ErrorSentinel
	default:
		return Escape(e.Text)
	}
}
