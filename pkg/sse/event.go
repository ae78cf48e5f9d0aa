// Package sse reads Server-Sent Events from upstream providers that stream
// completions that way (OpenAI compatible APIs, Gemini's compatibility
// endpoint included).
//
// The relay's downstream framing is not SSE parsing and lives in pkg/stream.
package sse

// Event is one dispatched SSE event.
type Event struct {
	// Type is the "event:" field. Empty means "message".
	Type string

	// Data is every "data:" line of the event joined with "\n".
	Data string

	// ID is the "id:" field, if any.
	ID string
}

// Message reports whether the event has the default type.
func (e Event) Message() bool {
	return e.Type == "" || e.Type == "message"
}
