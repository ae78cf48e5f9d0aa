package llm

// ChatRequest represents a provider-agnostic chat completion request.
// The full conversation history is supplied on every request; the relay
// keeps no server-side memory between turns.
type ChatRequest struct {
	// Model name (e.g., "gemini-2.5-flash", "llama3.2")
	Model string `json:"model,omitempty"`

	// Conversation messages, oldest first
	Messages []Message `json:"messages"`
}

// ErrorResponse is the JSON body returned for request-level failures that
// happen before any stream is opened.
type ErrorResponse struct {
	Error string `json:"error"`
}
