// Package proxy provides the relay's HTTP surface: it opens a streaming
// completion against the upstream LLM provider for every chat request and
// forwards each token to the client as it arrives.
package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/eventstream/nop"
	"github.com/papercomputeco/relay/pkg/llm"
	"github.com/papercomputeco/relay/pkg/llm/provider"
	"github.com/papercomputeco/relay/pkg/stream"
	"github.com/papercomputeco/relay/proxy/header"
	"github.com/papercomputeco/relay/proxy/worker"
)

// defaultUpstreamTimeout bounds a turn when Config.UpstreamTimeout is unset.
// LLM responses can be slow, especially for long answers.
const defaultUpstreamTimeout = 5 * time.Minute

// Proxy relays chat turns between clients and one upstream provider.
// It is stateless across requests: every request carries the full
// conversation and every response is an independent event stream.
type Proxy struct {
	config        Config
	streamer      provider.Streamer
	workerPool    *worker.Pool
	logger        *zap.Logger
	server        *fiber.App
	headerHandler *header.Handler
}

// New creates a new Proxy serving config.Routes against streamer.
func New(config Config, streamer provider.Streamer, logger *zap.Logger) (*Proxy, error) {
	if streamer == nil {
		return nil, errors.New("upstream streamer is required")
	}
	if len(config.Routes) == 0 {
		return nil, errors.New("at least one route is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.UpstreamTimeout <= 0 {
		config.UpstreamTimeout = defaultUpstreamTimeout
	}

	seen := make(map[string]struct{}, len(config.Routes))
	for _, route := range config.Routes {
		if !strings.HasPrefix(route.Path, "/") {
			return nil, fmt.Errorf("route path %q must start with /", route.Path)
		}
		if _, dup := seen[route.Path]; dup {
			return nil, fmt.Errorf("duplicate route path %q", route.Path)
		}
		seen[route.Path] = struct{}{}
	}

	publisher := config.Publisher
	if publisher == nil {
		publisher = nop.NewPublisher()
	}

	wp, err := worker.NewPool(&worker.Config{
		Publisher:  publisher,
		NumWorkers: config.NumWorkers,
		QueueSize:  config.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		// Disable startup message for cleaner logs
		DisableStartupMessage: true,
	})

	// No compress middleware: compressing an event stream buffers it.
	app.Use(fiberrecover.New())
	app.Use(requestLogger(logger))

	p := &Proxy{
		config:        config,
		streamer:      streamer,
		workerPool:    wp,
		logger:        logger,
		server:        app,
		headerHandler: header.NewHandler(),
	}

	app.Get("/ping", p.handlePing)
	for _, route := range config.Routes {
		app.Post(route.Path, p.handleChat(route))
		app.All(route.Path, p.handleMethodNotAllowed)
	}

	return p, nil
}

// Run starts the relay server on the given listening address
func (p *Proxy) Run() error {
	p.logStart(p.config.ListenAddr)
	return p.server.Listen(p.config.ListenAddr)
}

// RunWithListener starts the relay server using the provided listener.
func (p *Proxy) RunWithListener(listener net.Listener) error {
	p.logStart(listener.Addr().String())
	return p.server.Listener(listener)
}

func (p *Proxy) logStart(listen string) {
	paths := make([]string, 0, len(p.config.Routes))
	for _, route := range p.config.Routes {
		paths = append(paths, route.Path)
	}

	p.logger.Info("starting relay server",
		zap.String("listen", listen),
		zap.String("provider", p.streamer.Name()),
		zap.Strings("routes", paths),
	)
}

// Close gracefully shuts down the server and then waits for the worker pool
// to drain its telemetry queue.
func (p *Proxy) Close() error {
	serverErr := p.server.Shutdown()
	poolErr := p.workerPool.Close()
	return errors.Join(serverErr, poolErr)
}

func (p *Proxy) handlePing(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

func (p *Proxy) handleMethodNotAllowed(c *fiber.Ctx) error {
	p.headerHandler.SetAllowHeader(c, fiber.MethodPost)
	return c.Status(fiber.StatusMethodNotAllowed).JSON(llm.ErrorResponse{
		Error: fmt.Sprintf("method %s not allowed", c.Method()),
	})
}

// handleChat returns the handler for one chat route. The request is fully
// validated before the upstream is contacted; after that, every outcome is
// reported inside a 200 event stream except a configuration error, which
// means no stream can ever be opened.
func (p *Proxy) handleChat(route Route) fiber.Handler {
	return func(c *fiber.Ctx) error {
		startedAt := time.Now()

		req, err := parseChatRequest(c.Body())
		if err != nil {
			p.logger.Debug("rejected chat request",
				zap.String("route", route.Path),
				zap.Error(err),
			)
			return c.Status(fiber.StatusBadRequest).JSON(llm.ErrorResponse{Error: err.Error()})
		}
		req.Model = p.resolveModel(route, req.Model)

		turnID := uuid.NewString()
		logger := p.logger.With(
			zap.String("turn_id", turnID),
			zap.String("route", route.Path),
			zap.String("model", req.Model),
		)
		logger.Debug("opening upstream stream",
			zap.String("provider", p.streamer.Name()),
			zap.Int("message_count", len(req.Messages)),
		)

		// Use context.Background() instead of c.Context() because fasthttp
		// recycles its RequestCtx after the handler returns, while the pump
		// goroutine keeps pulling from upstream until the turn ends.
		ctx, cancel := context.WithTimeout(context.Background(), p.config.UpstreamTimeout)

		chunks, openErr := p.streamer.Stream(ctx, req)

		var cfgErr *llm.ConfigurationError
		if errors.As(openErr, &cfgErr) {
			cancel()
			logger.Error("upstream is not configured", zap.Error(openErr))
			return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: openErr.Error()})
		}

		p.headerHandler.SetStreamHeaders(c, turnID)
		c.Status(fiber.StatusOK)

		job := worker.Job{
			TurnID:       turnID,
			Route:        route.Path,
			Provider:     p.streamer.Name(),
			Model:        req.Model,
			MessageCount: len(req.Messages),
			StartedAt:    startedAt,
		}

		// Use io.Pipe + SetBodyStream instead of SetBodyStreamWriter.
		// SetBodyStreamWriter buffers through an internal channel and
		// bufio.Writers, so a flush in the callback does not reach the socket.
		// With io.Pipe, every encoder write blocks until fasthttp's chunked
		// body writer has consumed it, which flushes to TCP per chunk. When
		// the client goes away fasthttp closes the reader and the next write
		// fails, which stops the pump.
		pr, pw := io.Pipe()
		go p.relayTurn(ctx, cancel, pw, chunks, openErr, job, logger)

		// Unknown size (-1) triggers chunked transfer encoding in fasthttp.
		c.Context().Response.SetBodyStream(pr, -1)

		return nil
	}
}

// relayTurn encodes one turn into pw, closes it and hands the outcome to the
// worker pool.
func (p *Proxy) relayTurn(
	ctx context.Context,
	cancel context.CancelFunc,
	pw *io.PipeWriter,
	chunks llm.ChunkStream,
	openErr error,
	job worker.Job,
	logger *zap.Logger,
) {
	defer cancel()

	enc := stream.NewEncoder(pw)

	var res stream.Result
	if openErr != nil {
		res = stream.FailOpen(enc, openErr, logger)
	} else {
		res = stream.Pump(ctx, chunks, enc, logger)
	}

	// Closing the writer ends the chunked body after the lifecycle frame.
	_ = pw.Close()

	job.CompletedAt = time.Now()
	job.Result = res

	logger.Info("turn relayed",
		zap.Stringer("outcome", res.Outcome),
		zap.Int("tokens", res.Tokens),
		zap.Int64("bytes", enc.Bytes()),
		zap.Duration("duration", job.CompletedAt.Sub(job.StartedAt)),
	)

	p.workerPool.Enqueue(job)
}

// resolveModel picks the model for a turn: the request body's model when
// overrides are allowed, then the route model, then the default.
func (p *Proxy) resolveModel(route Route, requested string) string {
	if p.config.AllowModelOverride && requested != "" {
		return requested
	}
	if route.Model != "" {
		return route.Model
	}
	return p.config.DefaultModel
}

// requestLogger logs one line per request once the handler has returned.
// For event streams that is when headers are ready, not when the turn ends.
func requestLogger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		logger.Debug("handled request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("elapsed", time.Since(start)),
		)

		return err
	}
}
