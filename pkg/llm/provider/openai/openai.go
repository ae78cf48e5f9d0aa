// Package openai streams chat completions from OpenAI-compatible endpoints,
// including Gemini's OpenAI compatibility layer.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/sse"
)

const (
	// Name is the canonical provider name.
	Name = "openai"

	// DefaultBaseURL is Gemini's OpenAI-compatible endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

	doneData = "[DONE]"

	// maxErrorBody caps how much of a rejected response is kept.
	maxErrorBody = 4 * 1024
)

// Config configures a Client.
type Config struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client streams completions from an OpenAI-compatible Chat Completions API.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// New creates a Client. Zero-valued fields fall back to defaults.
func New(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

func (c *Client) Name() string {
	return Name
}

// Stream opens a streaming chat completion.
func (c *Client) Stream(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error) {
	if c.apiKey == "" {
		return nil, &llm.ConfigurationError{Field: "api_key", Reason: "is not set"}
	}
	if req.Model == "" {
		return nil, &llm.ConfigurationError{Field: "model", Reason: "is not set"}
	}

	body := chatRequest{
		Model:    req.Model,
		Messages: make([]chatMessage, 0, len(req.Messages)),
		Stream:   true,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding chat request: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	c.logger.Debug("opening upstream stream",
		zap.String("url", url),
		zap.String("model", req.Model),
		zap.Int("message_count", len(req.Messages)),
	)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &llm.UpstreamError{Provider: Name, Err: err}
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		return nil, &llm.UpstreamError{
			Provider:   Name,
			StatusCode: httpResp.StatusCode,
			Err:        errors.New(errorMessage(httpResp.Body)),
		}
	}

	return &chunkStream{
		body:   httpResp.Body,
		events: sse.NewReader(httpResp.Body),
	}, nil
}

// errorMessage extracts a readable message from a rejected response body.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var wrapped struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil && wrapped.Error.Message != "" {
		return wrapped.Error.Message
	}

	// Gemini sometimes wraps the error object in a single-element array.
	var list []struct {
		Error apiError `json:"error"`
	}
	if err := json.Unmarshal(raw, &list); err == nil && len(list) > 0 && list[0].Error.Message != "" {
		return list[0].Error.Message
	}

	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "empty response body"
}

// chunkStream adapts an upstream SSE body to llm.ChunkStream.
type chunkStream struct {
	body     io.ReadCloser
	events   *sse.Reader
	finished bool
	err      error
	closed   bool
}

func (s *chunkStream) Next() (*llm.StreamChunk, error) {
	if s.err != nil {
		return nil, s.err
	}

	for {
		ev, err := s.events.Next()
		if errors.Is(err, io.EOF) {
			// The body ended without the [DONE] sentinel. That is only a
			// normal completion if a finish reason was already reported.
			if s.finished {
				return nil, s.fail(io.EOF)
			}
			return nil, s.fail(io.ErrUnexpectedEOF)
		}
		if err != nil {
			return nil, s.fail(err)
		}

		if !ev.Message() {
			continue
		}
		if ev.Data == doneData {
			return nil, s.fail(io.EOF)
		}
		if ev.Data == "" {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			return nil, s.fail(fmt.Errorf("decoding stream chunk: %w", err))
		}
		if chunk.Error != nil {
			return nil, s.fail(errors.New(chunk.Error.Message))
		}

		out := &llm.StreamChunk{Model: chunk.Model}
		if chunk.Created > 0 {
			out.CreatedAt = time.Unix(chunk.Created, 0)
		}

		// Usage-only chunks carry no choices and surface as empty deltas.
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			out.Delta = choice.Delta.Content
			if choice.FinishReason != nil && *choice.FinishReason != "" {
				out.Done = true
				out.StopReason = *choice.FinishReason
				s.finished = true
			}
		}

		return out, nil
	}
}

// fail records the terminal error so every later Next returns it.
func (s *chunkStream) fail(err error) error {
	if !errors.Is(err, io.EOF) {
		err = &llm.UpstreamError{Provider: Name, Err: err}
	}
	s.err = err
	return err
}

func (s *chunkStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.err == nil {
		s.err = &llm.UpstreamError{Provider: Name, Err: errStreamClosed}
	}
	return s.body.Close()
}

var errStreamClosed = errors.New("stream closed")
