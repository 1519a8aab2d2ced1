package admin

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrValidation is returned for requests rejected before they are sent.
var ErrValidation = errors.New("invalid admin request")

// APIError is an unexpected reply from the admin API.
type APIError struct {
	// StatusCode is the HTTP status of the reply.
	StatusCode int
	// Code is the server's error code, e.g. invalid_request.
	Code string `json:"error"`
	// Description is the server's human-readable message.
	Description string `json:"error_description"`
	// Body holds the raw reply when it was not a JSON error object.
	Body string `json:"-"`
}

func (e *APIError) Error() string {
	switch {
	case e.Code != "" && e.Description != "":
		return fmt.Sprintf("admin API error %d: %s: %s", e.StatusCode, e.Code, e.Description)
	case e.Code != "":
		return fmt.Sprintf("admin API error %d: %s", e.StatusCode, e.Code)
	case e.Body != "":
		return fmt.Sprintf("admin API error %d: %s", e.StatusCode, e.Body)
	default:
		return fmt.Sprintf("admin API error %d", e.StatusCode)
	}
}

// IsUnauthorized reports whether the admin token was missing or rejected.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// IsConflict reports whether the resource already exists.
func (e *APIError) IsConflict() bool {
	return e.StatusCode == http.StatusConflict
}

// IsServerError reports a 5xx reply.
func (e *APIError) IsServerError() bool {
	return e.StatusCode >= http.StatusInternalServerError
}

// AsAPIError unwraps err to an *APIError if it holds one.
func AsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
