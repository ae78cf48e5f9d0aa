package eventstream

import (
	"time"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnCompleted is emitted after a streamed turn has ended,
	// whatever its outcome.
	EventTypeTurnCompleted = "relay.turn.completed"
)

// TurnCompletedEvent is a transport-neutral event payload for one relayed
// turn. It carries metadata only: conversation content is never published.
type TurnCompletedEvent struct {
	SchemaVersion int             `json:"schema_version"`
	EventType     string          `json:"event_type"`
	EventID       string          `json:"event_id"`
	EmittedAt     time.Time       `json:"emitted_at"`
	Source        EventSource     `json:"source"`
	RequestMeta   TurnRequestMeta `json:"request_meta"`
	Stream        TurnStreamMeta  `json:"stream"`
}

// EventSource identifies where the turn was relayed.
type EventSource struct {
	Route    string `json:"route"`
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// TurnRequestMeta captures request lifecycle metadata for the event.
type TurnRequestMeta struct {
	TurnID       string    `json:"turn_id"`
	StartedAt    time.Time `json:"started_at"`
	CompletedAt  time.Time `json:"completed_at"`
	DurationMs   int64     `json:"duration_ms"`
	MessageCount int       `json:"message_count"`
}

// TurnStreamMeta describes how the downstream stream ended.
type TurnStreamMeta struct {
	// Outcome is "done", "error" or "aborted".
	Outcome string `json:"outcome"`

	Tokens       int    `json:"tokens"`
	ContentBytes int    `json:"content_bytes"`
	Error        string `json:"error,omitempty"`
}
