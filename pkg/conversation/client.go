package conversation

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/stream"
)

const (
	defaultTimeout = 5 * time.Minute

	// maxErrorBody caps how much of a non-2xx body is read for its message.
	maxErrorBody = 64 << 10
)

// ClientConfig configures a Client.
type ClientConfig struct {
	// Target is the relay base URL (e.g., "http://localhost:8080")
	Target string

	// Path is the chat route (e.g., "/api/chat")
	Path string

	// Timeout bounds one whole turn, including reading the stream.
	Timeout time.Duration

	// HTTPClient is optional; http.DefaultClient's transport is used when nil.
	// Its own Timeout should be zero so it does not cut streams short.
	HTTPClient *http.Client

	Logger *zap.Logger
}

// Client runs conversation turns against a relay endpoint.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a Client for the configured endpoint.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Target == "" {
		return nil, errors.New("relay target is required")
	}

	base, err := url.Parse(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("parsing relay target: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("relay target %q must be an http or https URL", cfg.Target)
	}

	endpoint := base.JoinPath(cfg.Path).String()

	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Client{
		endpoint:   endpoint,
		timeout:    cfg.Timeout,
		httpClient: cfg.HTTPClient,
		logger:     cfg.Logger,
	}, nil
}

// Endpoint returns the URL turns are posted to.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Turn sends text as the next user message of conv and streams the answer
// into it. It returns once the turn is closed.
//
// Input errors (ErrEmptyInput, ErrTurnInFlight) leave conv untouched. Every
// other failure closes the turn: an error event keeps the partial answer and
// yields ErrStreamFailed, anything else replaces it with ErrorText.
func (c *Client) Turn(ctx context.Context, conv *Conversation, text string) error {
	req, err := conv.Send(text)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.stream(ctx, conv, req); err != nil {
		c.logger.Debug("turn failed", zap.Error(err))
		conv.Fail(err)
		return err
	}

	return conv.LastErr()
}

func (c *Client) stream(ctx context.Context, conv *Conversation, req *llm.ChatRequest) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encoding chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	c.logger.Debug("sending turn",
		zap.String("endpoint", c.endpoint),
		zap.Int("message_count", len(req.Messages)),
	)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending chat request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" && !isEventStream(ct) {
		return fmt.Errorf("unexpected response content type %q", ct)
	}

	reader := stream.NewReader(&firstByteReader{r: resp.Body, onFirst: conv.Begin}, c.logger)
	for {
		ev, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := conv.Apply(ev); err != nil {
			return err
		}
	}
}

func statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp llm.ErrorResponse
	message := string(bytes.TrimSpace(body))
	if json.Unmarshal(body, &errResp) == nil && errResp.Error != "" {
		message = errResp.Error
	}

	return &StatusError{StatusCode: resp.StatusCode, Message: message}
}

func isEventStream(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/event-stream"
}

// firstByteReader calls onFirst before returning the first non-empty read.
type firstByteReader struct {
	r       io.Reader
	onFirst func() error
	fired   bool
}

func (f *firstByteReader) Read(p []byte) (int, error) {
	n, err := f.r.Read(p)
	if n > 0 && !f.fired {
		f.fired = true
		if ferr := f.onFirst(); ferr != nil {
			return 0, ferr
		}
	}
	return n, err
}
