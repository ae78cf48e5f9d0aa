package proxy

import "fmt"

// BadRequestError indicates the inbound chat request is malformed. It is
// reported as a 400 before the upstream is ever contacted.
type BadRequestError struct {
	Reason string
	Err    error
}

func (e *BadRequestError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bad request: %s: %v", e.Reason, e.Err)
	}
	return "bad request: " + e.Reason
}

func (e *BadRequestError) Unwrap() error {
	return e.Err
}
