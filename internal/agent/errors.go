package agent

import (
	"errors"
	"fmt"
)

// Error kinds returned by the flow client. Use errors.Is to discriminate.
var (
	ErrInvalidURL           = errors.New("invalid url")
	ErrFetch                = errors.New("fetch failed")
	ErrRequestIDNotFound    = errors.New("request id not found")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrTimeout              = errors.New("authentication timeout")
	ErrTransport            = errors.New("transport error")
	ErrConfiguration        = errors.New("configuration error")

	// ErrTwoFactorRequired is returned by RejectTwoFactor. CompleteFlow wraps
	// it in an ErrAuthenticationFailed FlowError.
	ErrTwoFactorRequired = errors.New("second factor required")
)

// FlowError carries the details of a failed flow step.
type FlowError struct {
	// Kind is one of the Err* sentinels above.
	Kind error

	// Message is a human readable summary.
	Message string

	// Code and Description mirror the server's error and error_description fields.
	Code        string
	Description string

	// StatusCode is the HTTP status observed, if any.
	StatusCode int

	// Err is the underlying cause.
	Err error
}

func (e *FlowError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes the underlying cause.
func (e *FlowError) Unwrap() error {
	return e.Err
}

// Is matches the error kind.
func (e *FlowError) Is(target error) bool {
	return target == e.Kind
}

func newFlowError(kind error, cause error, format string, args ...interface{}) *FlowError {
	return &FlowError{
		Kind:    kind,
		Message: fmt.Sprintf(format, args...),
		Err:     cause,
	}
}

// ServerMessage returns the most descriptive server-provided text in err,
// falling back to err.Error().
func ServerMessage(err error) string {
	var fe *FlowError
	if errors.As(err, &fe) {
		if fe.Description != "" {
			return fe.Description
		}
		if fe.Code != "" {
			return fe.Code
		}
		return fe.Error()
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
