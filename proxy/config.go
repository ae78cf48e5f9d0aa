package proxy

import (
	"time"

	"github.com/papercomputeco/relay/pkg/eventstream"
)

// Config is the relay server configuration.
type Config struct {
	// ListenAddr is the address to listen on (e.g., ":8080")
	ListenAddr string

	// Routes are the chat endpoints to serve. Each route relays to the same
	// upstream with its own model.
	Routes []Route

	// DefaultModel is used by routes that do not name a model.
	DefaultModel string

	// AllowModelOverride lets a request body's "model" field replace the
	// route model.
	AllowModelOverride bool

	// UpstreamTimeout bounds a whole turn, from opening the upstream request
	// to writing the lifecycle frame. Zero means defaultUpstreamTimeout.
	UpstreamTimeout time.Duration

	// Publisher receives a telemetry event for every completed turn.
	// If nil, events are discarded.
	Publisher eventstream.Publisher

	// NumWorkers and QueueSize size the telemetry worker pool. Zero values
	// take the pool defaults.
	NumWorkers uint
	QueueSize  uint
}

// Route binds a chat endpoint path to an upstream model.
type Route struct {
	Path  string
	Model string
}
