package proxy

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/papercomputeco/relay/pkg/llm"
)

// inboundRequest is the wire shape of a chat request. Messages stays raw so
// that "absent" and "wrong type" can be told apart from a decode failure.
type inboundRequest struct {
	Model    string          `json:"model"`
	Messages json.RawMessage `json:"messages"`
}

type inboundMessage struct {
	Role    *string `json:"role"`
	Content *string `json:"content"`
}

const (
	reasonMessagesMissing  = "messages is required"
	reasonMessagesNotArray = "messages must be an array"
	reasonMessagesEmpty    = "messages must not be empty"
)

// parseChatRequest validates a request body and converts it to a
// provider-agnostic ChatRequest. Every failure is a *BadRequestError.
func parseChatRequest(body []byte) (*llm.ChatRequest, error) {
	var in inboundRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, &BadRequestError{Reason: "invalid JSON body", Err: err}
	}

	raw := bytes.TrimSpace(in.Messages)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, &BadRequestError{Reason: reasonMessagesMissing}
	}
	if raw[0] != '[' {
		return nil, &BadRequestError{Reason: reasonMessagesNotArray}
	}

	var entries []json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &BadRequestError{Reason: reasonMessagesNotArray, Err: err}
	}
	if len(entries) == 0 {
		return nil, &BadRequestError{Reason: reasonMessagesEmpty}
	}

	messages := make([]llm.Message, 0, len(entries))
	for i, entry := range entries {
		msg, err := parseMessage(entry)
		if err != nil {
			return nil, &BadRequestError{Reason: fmt.Sprintf("messages[%d]", i), Err: err}
		}
		messages = append(messages, msg)
	}

	return &llm.ChatRequest{
		Model:    in.Model,
		Messages: messages,
	}, nil
}

func parseMessage(entry json.RawMessage) (llm.Message, error) {
	if trimmed := bytes.TrimSpace(entry); len(trimmed) == 0 || trimmed[0] != '{' {
		return llm.Message{}, errors.New("must be an object with role and content")
	}

	var m inboundMessage
	if err := json.Unmarshal(entry, &m); err != nil {
		return llm.Message{}, fmt.Errorf("role and content must be strings: %w", err)
	}
	if m.Role == nil {
		return llm.Message{}, errors.New("role is required")
	}
	if m.Content == nil {
		return llm.Message{}, errors.New("content is required")
	}
	if !llm.ValidRole(*m.Role) {
		return llm.Message{}, fmt.Errorf("unknown role %q", *m.Role)
	}

	return llm.NewTextMessage(*m.Role, *m.Content), nil
}
