package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a delivery failure. Classification drives both the
// retry decision and the user-facing message.
type Kind string

const (
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindRateLimited   Kind = "rate_limited"
	KindServer        Kind = "server"
	KindClient        Kind = "client"
	KindMalformed     Kind = "malformed_response"
	KindPreFirstChunk Kind = "transport_pre_first_chunk"
)

// Error is a classified delivery failure.
type Error struct {
	Kind   Kind
	Status int
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	if e.Status != 0 {
		return fmt.Sprintf("%s: http %d", e.Kind, e.Status)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Retryable reports whether another attempt could change the outcome.
// Pre-first-chunk failures are handled by the path fallback, never by
// in-path retries.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindNetwork, KindTimeout, KindRateLimited, KindServer:
		return true
	}
	return false
}

// UserMessage is the human-readable text shown on a terminal failure.
func (e *Error) UserMessage() string {
	switch e.Kind {
	case KindNetwork:
		return "Connection problem. Please check your network and try again."
	case KindTimeout:
		return "The assistant took too long to respond. Please try again."
	case KindRateLimited:
		return "Too many requests right now. Please wait a moment and try again."
	case KindServer:
		return "The assistant is having trouble. Please try again shortly."
	case KindMalformed:
		return "The assistant returned an unreadable response."
	case KindPreFirstChunk:
		return "The connection dropped before any response arrived."
	default:
		return "Something went wrong with your request."
	}
}

// Classify maps an HTTP status and/or transport error to an error kind.
func Classify(status int, err error) *Error {
	if err != nil {
		var ne net.Error
		switch {
		case errors.Is(err, context.DeadlineExceeded):
			return &Error{Kind: KindTimeout, Err: err}
		case errors.As(err, &ne) && ne.Timeout():
			return &Error{Kind: KindTimeout, Err: err}
		default:
			return &Error{Kind: KindNetwork, Err: err}
		}
	}

	switch {
	case status == http.StatusTooManyRequests:
		return &Error{Kind: KindRateLimited, Status: status}
	case status >= 500:
		return &Error{Kind: KindServer, Status: status}
	case status >= 400:
		return &Error{Kind: KindClient, Status: status}
	}
	return &Error{Kind: KindNetwork, Status: status}
}

// AsError extracts a classified error, wrapping unknown errors as
// network failures so callers always see a Kind.
func AsError(err error) *Error {
	var te *Error
	if errors.As(err, &te) {
		return te
	}
	return Classify(0, err)
}
