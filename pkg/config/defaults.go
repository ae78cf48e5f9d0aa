package config

const (
	defaultListen   = ":8080"
	defaultProvider = "openai"
	defaultBaseURL  = "https://generativelanguage.googleapis.com/v1beta/openai"
	defaultModel    = "gemini-2.5-flash"
	defaultTimeout  = "5m"

	defaultClientTarget = "http://localhost:8080"
	defaultClientPath   = "/api/chat"

	defaultEventsProvider = "nop"
	defaultEventsTopic    = "relay.turns"
)

// NewDefaultConfig returns a Config with sane defaults for all fields.
// This is the single source of truth for default values.
func NewDefaultConfig() *Config {
	return &Config{
		Version: CurrentV,
		Server: ServerConfig{
			Listen: defaultListen,
		},
		Upstream: UpstreamConfig{
			Provider: defaultProvider,
			BaseURL:  defaultBaseURL,
			Model:    defaultModel,
			Timeout:  defaultTimeout,
		},
		Routes: DefaultRoutes(),
		Client: ClientConfig{
			Target:  defaultClientTarget,
			Path:    defaultClientPath,
			Timeout: defaultTimeout,
		},
		Events: EventsConfig{
			Provider: defaultEventsProvider,
			Topic:    defaultEventsTopic,
		},
	}
}

// DefaultRoutes returns the two chat endpoints served out of the box. They
// share one handler and differ only by model.
func DefaultRoutes() []RouteConfig {
	return []RouteConfig{
		{Path: "/api/chat", Model: "gemini-2.5-flash-lite"},
		{Path: "/api/llm-chat", Model: "gemini-2.5-flash"},
	}
}
