package conversation

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorText replaces the assistant message of a turn that failed before or
// during the request.
const ErrorText = "Sorry, there was an error processing your request."

var (
	// ErrEmptyInput is returned by Send for blank input. The conversation
	// is left untouched.
	ErrEmptyInput = errors.New("empty input")

	// ErrTurnInFlight is returned by Send while a previous turn is still
	// awaiting or streaming its response.
	ErrTurnInFlight = errors.New("a turn is already in flight")

	// ErrStreamFailed records a turn whose stream ended with an error event.
	// The partial assistant content is kept.
	ErrStreamFailed = errors.New("response stream ended with an error")

	// ErrNoOpenTurn is returned when an event arrives with no turn to apply
	// it to.
	ErrNoOpenTurn = errors.New("no open turn")
)

// StatusError is a non-2xx answer from the relay.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("relay returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("relay returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}
