package provider

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/llm/provider/ollama"
	"github.com/papercomputeco/relay/pkg/llm/provider/openai"
)

// Supported provider type constants
const (
	OpenAI = "openai"
	Ollama = "ollama"
)

// SupportedProviders returns the list of all supported provider type names.
func SupportedProviders() []string {
	return []string{OpenAI, Ollama}
}

// New creates a new Streamer for the given options.
// Returns an error if the provider type is not recognized.
func New(opts Options) (Streamer, error) {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	switch opts.Type {
	case OpenAI:
		return openai.New(openai.Config{
			BaseURL:    opts.BaseURL,
			APIKey:     opts.APIKey,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		}), nil
	case Ollama:
		return ollama.New(ollama.Config{
			BaseURL:    opts.BaseURL,
			HTTPClient: opts.HTTPClient,
			Logger:     opts.Logger,
		}), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %q (supported: %v)", opts.Type, SupportedProviders())
	}
}
