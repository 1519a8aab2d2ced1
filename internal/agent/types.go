package agent

import (
	"net/url"
)

// Status is the server-reported state of an authorization request.
type Status string

// Known status values.
const (
	StatusPending       Status = "pending"
	StatusAuthenticated Status = "authenticated"
	StatusCompleted     Status = "completed"
	StatusError         Status = "error"
	StatusExpired       Status = "expired"
)

// IsSuccess reports whether the request reached a successful terminal state.
func (s Status) IsSuccess() bool {
	return s == StatusAuthenticated || s == StatusCompleted
}

// IsFailure reports whether the request reached a failed terminal state.
func (s Status) IsFailure() bool {
	return s == StatusError || s == StatusExpired
}

// IsTerminal reports whether polling should stop. Unknown or empty values
// are treated as still pending.
func (s Status) IsTerminal() bool {
	return s.IsSuccess() || s.IsFailure()
}

// StatusResult is a snapshot returned by the check-status endpoint.
type StatusResult struct {
	Status           Status `json:"status"`
	Code             string `json:"code,omitempty"`
	RedirectURI      string `json:"redirect_uri,omitempty"`
	State            string `json:"state,omitempty"`
	Error            string `json:"error,omitempty"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// CallbackURL builds the website redirect carrying the authorization code.
// It returns "" unless both a code and a redirect URI are present.
func (r *StatusResult) CallbackURL() string {
	if r == nil || r.Code == "" || r.RedirectURI == "" {
		return ""
	}
	u, err := url.Parse(r.RedirectURI)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("code", r.Code)
	if r.State != "" {
		q.Set("state", r.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// AuthOutcome is the result of an authenticate or verify-2fa call.
// Rejections and transport failures are reported here rather than as errors.
type AuthOutcome struct {
	Success           bool   `json:"success"`
	Message           string `json:"message,omitempty"`
	Error             string `json:"error,omitempty"`
	ErrorDescription  string `json:"error_description,omitempty"`
	RequiresTwoFactor bool   `json:"requires_2fa,omitempty"`
	ExpiresIn         int    `json:"expires_in,omitempty"`
	StatusCode        int    `json:"-"`
}

// IsTransportError reports whether the call never reached the server.
func (o *AuthOutcome) IsTransportError() bool {
	return o != nil && o.Error == errNetwork
}

// FailureMessage returns the most descriptive reason for an unsuccessful outcome.
func (o *AuthOutcome) FailureMessage() string {
	switch {
	case o == nil:
		return msgAuthenticationFailed
	case o.ErrorDescription != "":
		return o.ErrorDescription
	case o.Error != "":
		return o.Error
	default:
		return msgAuthenticationFailed
	}
}

// Credentials identify the agent to the authorization server.
type Credentials struct {
	AgentID     string
	AgentSecret Secret
	Model       string
}

// Secret hides its value from fmt and JSON output.
type Secret string

// Reveal returns the raw secret.
func (s Secret) Reveal() string { return string(s) }

// String implements fmt.Stringer.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString implements fmt.GoStringer so %#v is covered too.
func (s Secret) GoString() string { return s.String() }

// MarshalJSON keeps the secret out of serialized output.
func (s Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// FlowState tracks where a session is in the sign-in flow.
type FlowState string

// Flow states.
const (
	StateStart              FlowState = "start"
	StateRequestIDExtracted FlowState = "request_id_extracted"
	StateAuthenticated      FlowState = "authenticated"
	StatePolling            FlowState = "polling"
	StateCompleted          FlowState = "completed"
	StateFailed             FlowState = "failed"
	StateTimedOut           FlowState = "timed_out"
)

// FlowResult is delivered by the asynchronous variants.
type FlowResult struct {
	Status *StatusResult
	Err    error
}
