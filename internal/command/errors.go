package command

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// executing it.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrMaxConcurrency is returned when the execution semaphore is full.
var ErrMaxConcurrency = errors.New("max concurrency reached")

// ErrTimeout is returned when an execution exceeds its deadline.
var ErrTimeout = errors.New("execution timed out")

// badRequestError wraps an error that is the caller's fault. Bad requests
// are not counted toward the health error rate and never trigger fallback.
type badRequestError struct {
	err error
}

func (e *badRequestError) Error() string {
	return fmt.Sprintf("bad request: %v", e.err)
}

func (e *badRequestError) Unwrap() error {
	return e.err
}

// AsBadRequest marks err as a caller error. Executions returning a marked
// error are recorded as bad requests, not failures.
func AsBadRequest(err error) error {
	if err == nil {
		return nil
	}
	return &badRequestError{err: err}
}

// IsBadRequest reports whether err was marked with AsBadRequest.
func IsBadRequest(err error) bool {
	var bre *badRequestError
	return errors.As(err, &bre)
}
