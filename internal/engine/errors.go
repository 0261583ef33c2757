package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResponse is returned when the engine answers 2xx with no body.
	ErrEmptyResponse = errors.New("empty response from risk engine")
	// ErrResponseTooLarge is returned when a body exceeds the configured limit.
	ErrResponseTooLarge = errors.New("risk engine response exceeded maximum size")
)

// TransportError is a request that never produced a usable engine answer:
// connection failures, timeouts, undecodable bodies.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// RemoteError is a non-2xx answer. Message holds the server's own text when
// it sent one and is empty otherwise.
type RemoteError struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: engine returned status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: engine returned status %d: %s", e.Op, e.StatusCode, e.Message)
}

// HasMessage reports whether the server supplied text to show verbatim
func (e *RemoteError) HasMessage() bool {
	return e.Message != ""
}
