// Package ollama streams chat completions from a local Ollama server.
package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/llm"
)

const (
	// Name is the canonical provider name.
	Name = "ollama"

	// DefaultBaseURL is the address of a locally running Ollama.
	DefaultBaseURL = "http://localhost:11434"

	maxErrorBody = 4 * 1024
)

// Config configures a Client. Ollama needs no credential.
type Config struct {
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client streams completions from Ollama's native chat API.
type Client struct {
	baseURL    string
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

	return &Client{baseURL: baseURL, httpClient: httpClient, logger: logger}
}

func (c *Client) Name() string {
	return Name
}

// Stream opens a streaming chat completion.
func (c *Client) Stream(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error) {
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

	url := c.baseURL + "/api/chat"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating upstream request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

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

	scanner := bufio.NewScanner(httpResp.Body)
	// Increase buffer size for large chunks
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &chunkStream{body: httpResp.Body, scanner: scanner}, nil
}

func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, maxErrorBody))

	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Error != "" {
		return body.Error
	}
	if msg := strings.TrimSpace(string(raw)); msg != "" {
		return msg
	}
	return "empty response body"
}

// chunkStream adapts an NDJSON response body to llm.ChunkStream.
type chunkStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	err     error
	closed  bool
}

func (s *chunkStream) Next() (*llm.StreamChunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.done {
		return nil, s.fail(io.EOF)
	}

	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var chunk chatChunk
		if err := json.Unmarshal(line, &chunk); err != nil {
			return nil, s.fail(fmt.Errorf("decoding stream chunk: %w", err))
		}
		if chunk.Error != "" {
			return nil, s.fail(errors.New(chunk.Error))
		}

		out := &llm.StreamChunk{
			Model:     chunk.Model,
			CreatedAt: chunk.CreatedAt,
			Delta:     chunk.Message.Content,
			Done:      chunk.Done,
		}
		if chunk.Done {
			s.done = true
			out.StopReason = chunk.DoneReason
			if out.StopReason == "" {
				out.StopReason = "stop"
			}
		}
		return out, nil
	}

	if err := s.scanner.Err(); err != nil {
		return nil, s.fail(err)
	}
	return nil, s.fail(io.ErrUnexpectedEOF)
}

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
		s.err = &llm.UpstreamError{Provider: Name, Err: errors.New("stream closed")}
	}
	return s.body.Close()
}
