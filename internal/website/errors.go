package website

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidURL          = errors.New("invalid URL")
	ErrBlockedHost         = errors.New("blocked host")
	ErrStateMismatch       = errors.New("state mismatch")
	ErrMissingCode         = errors.New("no authorization code received")
	ErrAuthorizationDenied = errors.New("authorization denied")
	ErrCallbackTimeout     = errors.New("timed out waiting for authorization callback")
	ErrInactiveToken       = errors.New("access token is not active")
)

// OAuthError is an error reply from the token, introspection or revocation endpoint.
type OAuthError struct {
	StatusCode  int
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *OAuthError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Description, e.StatusCode)
	}
	return fmt.Sprintf("%s (HTTP %d)", e.Code, e.StatusCode)
}

// CallbackError is an error delivered to the redirect URI by the authorization server.
type CallbackError struct {
	Code        string
	Description string
}

func (e *CallbackError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("authorization error: %s - %s", e.Code, e.Description)
	}
	return "authorization error: " + e.Code
}

func (e *CallbackError) Unwrap() error {
	return ErrAuthorizationDenied
}
