package esi

import (
	"errors"
	"fmt"
)

var (
	// ErrRequestFailed is matched by every RequestError.
	ErrRequestFailed = errors.New("esi request failed")
	ErrCircuitOpen   = errors.New("esi circuit breaker open")
)

// RequestError is returned once the retry budget for a call is spent.
type RequestError struct {
	Method   string
	URL      string
	Status   int
	Attempts int
	Err      error
}

func (e *RequestError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s %s failed after %d attempts with status %d: %v", e.Method, e.URL, e.Attempts, e.Status, e.Err)
	}
	return fmt.Sprintf("%s %s failed after %d attempts: %v", e.Method, e.URL, e.Attempts, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

func (e *RequestError) Is(target error) bool { return target == ErrRequestFailed }

type statusError struct {
	status  int
	message string
}

func (e *statusError) Error() string {
	if e.message == "" {
		return fmt.Sprintf("unexpected status %d", e.status)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.status, e.message)
}
