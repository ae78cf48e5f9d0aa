// Package header sets the response headers of a relayed event stream.
//
// A relayed turn is one long-lived HTTP response:
//
//	Client <--> Relay <--> Upstream LLM Provider
//
// and every hop between the client and the relay (reverse proxies, load
// balancers) must be told not to buffer or cache it.
package header

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// TurnIDHeader carries the id the relay assigned to a streamed turn. The same
// id is used as the key of the turn's telemetry event.
const TurnIDHeader = "X-Relay-Turn-Id"

// EventStreamContentType is the media type of the relay's event protocol.
const EventStreamContentType = "text/event-stream"

// Handler manages headers on relayed responses.
type Handler struct{}

// NewHandler creates a new header Handler.
func NewHandler() *Handler {
	return &Handler{}
}

// streamHeaders is the fixed set of headers written on every event stream.
var streamHeaders = [][2]string{
	{fiber.HeaderContentType, EventStreamContentType},
	{fiber.HeaderCacheControl, "no-cache"},
	{fiber.HeaderConnection, "keep-alive"},

	// nginx and friends buffer proxied responses unless told otherwise,
	// which would hold every token until the turn ends.
	{"X-Accel-Buffering", "no"},
}

// SetStreamHeaders marks the response as an unbuffered event stream for the
// given turn.
func (h *Handler) SetStreamHeaders(c *fiber.Ctx, turnID string) {
	for _, kv := range streamHeaders {
		c.Set(kv[0], kv[1])
	}
	if turnID != "" {
		c.Set(TurnIDHeader, turnID)
	}
}

// SetAllowHeader advertises the methods a route accepts, for 405 responses.
func (h *Handler) SetAllowHeader(c *fiber.Ctx, methods ...string) {
	c.Set(fiber.HeaderAllow, strings.Join(methods, ", "))
}

// IsEventStream reports whether a Content-Type value names the relay's event
// protocol, ignoring parameters such as charset.
func IsEventStream(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), EventStreamContentType)
}
