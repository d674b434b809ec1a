package triage

import (
	"errors"
	"fmt"
)

// ErrorKind partitions triage failures by cause.
type ErrorKind string

const (
	// ErrorKindConfig marks a missing endpoint or API key.
	ErrorKindConfig ErrorKind = "config"
	// ErrorKindTransport marks a network failure or non-success response.
	ErrorKindTransport ErrorKind = "transport"
	// ErrorKindBadOutput marks absent, unparsable, or invalid model output.
	ErrorKindBadOutput ErrorKind = "bad_output"
)

// Error is the single failure type produced by the triage client.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("triage %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("triage %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newConfigError(message string) error {
	return &Error{Kind: ErrorKindConfig, Message: message}
}

func newTransportError(message string, err error) error {
	return &Error{Kind: ErrorKindTransport, Message: message, Err: err}
}

func newBadOutputError(message string, err error) error {
	return &Error{Kind: ErrorKindBadOutput, Message: message, Err: err}
}

// KindOf extracts the failure kind from err, or "" when err is not a
// triage error.
func KindOf(err error) ErrorKind {
	var triageErr *Error
	if errors.As(err, &triageErr) {
		return triageErr.Kind
	}
	return ""
}
