package rovas

import (
	"errors"
	"fmt"
)

var (
	ErrConnectionFailure = errors.New("rovas: connection failure")
	ErrDecodeResponse    = errors.New("rovas: could not decode response")
	ErrUnauthorized      = errors.New("rovas: unauthorized")
)

// ErrorKind classifies transport failures.
type ErrorKind int

const (
	KindConnectionFailure ErrorKind = iota
	KindDecodeResponse
	KindUnauthorized
)

func (k ErrorKind) String() string {
	switch k {
	case KindDecodeResponse:
		return "decode_response"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "connection_failure"
	}
}

// APIError is returned by Client.Post for every failed request.
type APIError struct {
	Kind     ErrorKind
	Endpoint Endpoint
	URL      string
	Status   int
	Err      error
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s %s: %s", e.Endpoint, e.URL, e.Kind)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *APIError) Unwrap() error { return e.Err }

// Is matches the package sentinels by kind.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrConnectionFailure:
		return e.Kind == KindConnectionFailure
	case ErrDecodeResponse:
		return e.Kind == KindDecodeResponse
	case ErrUnauthorized:
		return e.Kind == KindUnauthorized
	}
	return false
}

// ReportAsDefect is true for failures that indicate a server or client bug.
func (e *APIError) ReportAsDefect() bool {
	return e.Kind == KindDecodeResponse
}

// Message is a short human description of the failure.
func (e *APIError) Message() string {
	switch e.Kind {
	case KindUnauthorized:
		return "The API key or token were not accepted by the server."
	case KindDecodeResponse:
		return "The server response could not be understood."
	default:
		if e.Status != 0 {
			return fmt.Sprintf("The server answered with HTTP status %d.", e.Status)
		}
		return "Could not connect to the server."
	}
}
