package stream

import (
	"context"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/papercomputeco/relay/pkg/llm"
)

// Outcome describes how a pumped stream ended.
type Outcome int

const (
	// OutcomeDone means the upstream completed and [DONE] was written.
	OutcomeDone Outcome = iota

	// OutcomeError means the upstream failed and [ERROR] was written.
	OutcomeError

	// OutcomeAborted means a write to the client failed (the client went
	// away), so no lifecycle frame could be delivered.
	OutcomeAborted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDone:
		return "done"
	case OutcomeError:
		return "error"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Result summarizes a pumped stream.
type Result struct {
	Outcome Outcome

	// Tokens is the number of token frames written.
	Tokens int

	// Content is the concatenation of every forwarded delta.
	Content string

	// Err is the upstream or write failure, nil on OutcomeDone.
	Err error
}

// Pump drains chunks into enc. Every non-empty delta becomes one token frame,
// in upstream order. Normal exhaustion writes exactly one [DONE]; any
// upstream failure (including ctx expiry) is logged and written as exactly
// one [ERROR]. A failed write stops pulling from upstream immediately.
// chunks is always closed before Pump returns.
func Pump(ctx context.Context, chunks llm.ChunkStream, enc *Encoder, logger *zap.Logger) Result {
	defer chunks.Close()

	var (
		res     Result
		content strings.Builder
	)

	for {
		var (
			chunk *llm.StreamChunk
			err   error
		)

		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		} else {
			chunk, err = chunks.Next()
		}

		if errors.Is(err, io.EOF) {
			res.Content = content.String()
			if werr := enc.Done(); werr != nil {
				return aborted(res, werr, logger)
			}
			res.Outcome = OutcomeDone
			return res
		}

		if err != nil {
			logger.Error("upstream stream failed",
				zap.Error(err),
				zap.Int("tokens_forwarded", res.Tokens),
			)
			res.Content = content.String()
			if werr := enc.Fail(); werr != nil {
				return aborted(res, werr, logger)
			}
			res.Outcome = OutcomeError
			res.Err = err
			return res
		}

		if chunk == nil || chunk.Delta == "" {
			continue
		}

		if werr := enc.Token(chunk.Delta); werr != nil {
			res.Content = content.String()
			return aborted(res, werr, logger)
		}
		res.Tokens++
		content.WriteString(chunk.Delta)
	}
}

// FailOpen writes the single [ERROR] frame for a stream whose upstream
// request could not be opened.
func FailOpen(enc *Encoder, openErr error, logger *zap.Logger) Result {
	logger.Error("upstream stream failed to open", zap.Error(openErr))
	if werr := enc.Fail(); werr != nil {
		return aborted(Result{}, werr, logger)
	}
	return Result{Outcome: OutcomeError, Err: openErr}
}

func aborted(res Result, err error, logger *zap.Logger) Result {
	logger.Debug("client stopped reading, abandoning upstream stream",
		zap.Error(err),
		zap.Int("tokens_forwarded", res.Tokens),
	)
	res.Outcome = OutcomeAborted
	res.Err = err
	return res
}
