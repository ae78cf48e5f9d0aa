package llm

import "time"

// StreamChunk represents a single chunk in a streaming response.
// This is the internal representation used by the relay after parsing
// provider-specific streaming formats.
type StreamChunk struct {
	// Model that generated the chunk
	Model string `json:"model,omitempty"`

	// Chunk timestamp
	CreatedAt time.Time `json:"created_at,omitzero"`

	// Delta is the incremental text carried by this chunk. It may be empty
	// (role announcements, keep-alives, usage-only chunks).
	Delta string `json:"delta"`

	// Whether this is the final chunk
	Done bool `json:"done,omitempty"`

	// Stop reason (only present on final chunk)
	StopReason string `json:"stop_reason,omitempty"`
}

// ChunkStream is a lazy, single-pass, forward-only sequence of upstream
// chunks. Next returns io.EOF once the upstream completed normally. After
// io.EOF or any other error, every further call to Next returns that same
// error: the sequence cannot be restarted.
//
// Close releases the underlying upstream connection and is safe to call
// more than once.
type ChunkStream interface {
	Next() (*StreamChunk, error)
	Close() error
}
