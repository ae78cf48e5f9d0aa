package openai

// chatRequest represents the OpenAI Chat Completions request body.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatMessage represents a message in OpenAI's format.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatChunk is a single "chat.completion.chunk" SSE payload.
type chatChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`

	// Some compatible servers report failures in-band.
	Error *apiError `json:"error,omitempty"`
}

// apiError is the error object of OpenAI-style error bodies.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type,omitempty"`
}
