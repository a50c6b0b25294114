// Package llm holds the failure taxonomy shared by the answer-model clients.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// Reason classifies how a model call ended.
type Reason string

const (
	ReasonOK          Reason = "ok"
	ReasonUnavailable Reason = "unavailable" // not attempted, e.g. no API key
	ReasonTransport   Reason = "transport"
	ReasonTimeout     Reason = "timeout"
	ReasonStatus      Reason = "status"
	ReasonMalformed   Reason = "malformed"
	ReasonBlocked     Reason = "blocked"
	ReasonEmpty       Reason = "empty"
)

var (
	// ErrMalformed wraps response bodies that could not be decoded.
	ErrMalformed = errors.New("malformed response")
	// ErrEmpty means the response decoded but carried no answer text.
	ErrEmpty = errors.New("empty response")
)

// StatusError is returned for a non-2xx HTTP status.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// BlockedError is returned when the provider refused the prompt.
type BlockedError struct {
	Reason string
}

func (e *BlockedError) Error() string {
	return "prompt blocked: " + e.Reason
}

// Classify maps an error from a model client to a Reason.
func Classify(err error) Reason {
	var status *StatusError
	var blocked *BlockedError
	switch {
	case err == nil:
		return ReasonOK
	case errors.As(err, &blocked):
		return ReasonBlocked
	case errors.As(err, &status):
		return ReasonStatus
	case errors.Is(err, ErrEmpty):
		return ReasonEmpty
	case errors.Is(err, ErrMalformed):
		return ReasonMalformed
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonTransport
	}
}
