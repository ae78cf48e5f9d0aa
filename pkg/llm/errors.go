package llm

import (
	"fmt"
	"net/http"
)

// ConfigurationError indicates the upstream client is missing or has invalid
// configuration (e.g. no credential). It is fatal for the request and no
// stream is ever opened.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("upstream configuration: %s %s", e.Field, e.Reason)
}

// UpstreamError indicates the provider rejected the request or the
// connection broke mid-stream.
type UpstreamError struct {
	// Provider is the canonical provider name (e.g. "openai").
	Provider string

	// StatusCode is the upstream HTTP status, 0 when the failure happened
	// below HTTP (dial, read, decode).
	StatusCode int

	// Err is the underlying cause.
	Err error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s upstream returned %d %s: %v",
			e.Provider, e.StatusCode, http.StatusText(e.StatusCode), e.Err)
	}
	return fmt.Sprintf("%s upstream: %v", e.Provider, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
