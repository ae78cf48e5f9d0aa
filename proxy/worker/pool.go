// Package worker provides an asynchronous worker pool that publishes
// completed-turn telemetry through an eventstream.Publisher.
//
// The pool decouples publishing from the relay's HTTP hot path so that a slow
// or unavailable event backend never delays a token stream.
package worker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/eventstream"
	"github.com/papercomputeco/relay/pkg/stream"
)

var (
	defaultNumWorkers     uint = 3
	defaultJobQueueSize   uint = 256
	defaultPublishTimeout      = 10 * time.Second
)

// Job is a unit of work for the worker pool to execute against: one relayed
// turn whose stream has ended.
type Job struct {
	TurnID       string
	Route        string
	Provider     string
	Model        string
	MessageCount int
	StartedAt    time.Time
	CompletedAt  time.Time
	Result       stream.Result
}

// Config is the configuration options for the worker pool.
type Config struct {
	// Publisher receives one event per completed turn.
	Publisher eventstream.Publisher

	// NumWorkers is the number of background workers in the pool.
	NumWorkers uint

	// QueueSize is the capacity of the buffered job channel (defaults to 256).
	QueueSize uint

	// PublishTimeout bounds a single publish (defaults to 10s).
	PublishTimeout time.Duration

	// Logger is the provided zap logger
	Logger *zap.Logger
}

// Pool processes publish jobs asynchronously via a worker pool.
type Pool struct {
	config *Config
	queue  chan Job
	wg     sync.WaitGroup
	logger *zap.Logger

	// mu guards closed so that a late Enqueue never sends on a closed queue.
	mu        sync.RWMutex
	closed    bool
	closeOnce sync.Once
}

// NewPool creates a new Pool and starts its worker goroutines.
func NewPool(c *Config) (*Pool, error) {
	if c.Publisher == nil {
		return nil, fmt.Errorf("worker pool requires a publisher")
	}

	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}

	if c.QueueSize == 0 {
		c.QueueSize = defaultJobQueueSize
	}

	if c.PublishTimeout == 0 {
		c.PublishTimeout = defaultPublishTimeout
	}

	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}

	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}

	wp := &Pool{
		config: c,
		queue:  make(chan Job, c.QueueSize),
		logger: c.Logger,
	}

	wp.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go wp.worker(i)
	}

	return wp, nil
}

// Enqueue submits a job for processing by the worker pool.
// Returns true if enqueued, false if the queue is full or the pool is closed,
// resulting in the job being dropped
func (p *Pool) Enqueue(job Job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.logger.Warn("job not queued, pool closed",
			zap.String("turn_id", job.TurnID),
		)
		return false
	}

	select {
	case p.queue <- job:
		p.logger.Debug("job queued",
			zap.String("turn_id", job.TurnID),
			zap.String("model", job.Model),
		)
		return true
	default:
		p.logger.Error("job not queued, queue full, job dropped",
			zap.String("turn_id", job.TurnID),
			zap.String("model", job.Model),
		)
		return false
	}
}

// Close signals workers to stop, waits for in-flight jobs to drain and then
// closes the publisher. Call this during graceful shutdown after the HTTP
// server has stopped.
func (p *Pool) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.queue)
		p.mu.Unlock()

		p.wg.Wait()
		err = p.config.Publisher.Close()
	})
	return err
}

// worker is the inner worker thread that continuously pulls jobs off the jobs queue
func (p *Pool) worker(id uint) {
	defer p.wg.Done()
	p.logger.Debug("worker started", zap.Uint("worker_id", id))

	for job := range p.queue {
		p.processJob(job)
	}

	p.logger.Debug("worker stopped", zap.Uint("worker_id", id))
}

// processJob publishes the telemetry event for one turn. Failures are logged
// and never retried.
func (p *Pool) processJob(job Job) {
	ctx, cancel := context.WithTimeout(context.Background(), p.config.PublishTimeout)
	defer cancel()

	event := NewTurnEvent(job)
	if err := p.config.Publisher.PublishTurn(ctx, event); err != nil {
		p.logger.Error("turn event publish failed",
			zap.String("turn_id", job.TurnID),
			zap.Error(err),
		)
		return
	}

	p.logger.Debug("turn event published",
		zap.String("turn_id", job.TurnID),
		zap.String("event_id", event.EventID),
		zap.String("outcome", job.Result.Outcome.String()),
	)
}

// NewTurnEvent builds the event payload for a completed turn.
func NewTurnEvent(job Job) *eventstream.TurnCompletedEvent {
	event := &eventstream.TurnCompletedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeTurnCompleted,
		EventID:       uuid.NewString(),
		EmittedAt:     time.Now().UTC(),
		Source: eventstream.EventSource{
			Route:    job.Route,
			Provider: job.Provider,
			Model:    job.Model,
		},
		RequestMeta: eventstream.TurnRequestMeta{
			TurnID:       job.TurnID,
			StartedAt:    job.StartedAt,
			CompletedAt:  job.CompletedAt,
			DurationMs:   job.CompletedAt.Sub(job.StartedAt).Milliseconds(),
			MessageCount: job.MessageCount,
		},
		Stream: eventstream.TurnStreamMeta{
			Outcome:      job.Result.Outcome.String(),
			Tokens:       job.Result.Tokens,
			ContentBytes: len(job.Result.Content),
		},
	}

	if job.Result.Err != nil {
		event.Stream.Error = job.Result.Err.Error()
	}

	return event
}
