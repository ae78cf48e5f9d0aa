// Package provider opens streaming chat completions against the upstream LLM
// endpoint the relay is configured for.
package provider

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/llm"
)

// Streamer defines the interface for an upstream completion backend.
// Each backend knows how to encode a conversation into its API format and
// how to parse that API's incremental response into llm.StreamChunk values.
type Streamer interface {
	// Name returns the canonical provider name (e.g., "openai", "ollama")
	Name() string

	// Stream opens a streaming completion for req. The returned stream is
	// lazy: each Next blocks until the upstream produces the next chunk.
	//
	// Missing configuration is reported as *llm.ConfigurationError before
	// any network call is made. A rejected or failed request is reported as
	// *llm.UpstreamError.
	Stream(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error)
}

// Options configures a Streamer.
type Options struct {
	// Type is one of SupportedProviders().
	Type string

	// BaseURL overrides the backend's default endpoint.
	BaseURL string

	// APIKey is the upstream credential. Required by credentialed backends.
	APIKey string

	// HTTPClient is used for upstream requests. Defaults to a client without
	// a global timeout: streams are bounded by the request context instead.
	HTTPClient *http.Client

	Logger *zap.Logger
}
