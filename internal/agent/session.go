package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

// Session drives one sign-in flow for one authorization request.
// A Session is not safe for concurrent use; create one per flow.
type Session struct {
	cfg FlowConfig

	authorizationURL string
	origin           string
	requestID        string
	state            FlowState
	statusOnly       bool
}

// NewSession validates cfg and returns a fresh session.
func NewSession(cfg FlowConfig) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:   cfg.WithDefaults(),
		state: StateStart,
	}, nil
}

// NewStatusSession returns a session that can extract request ids and check
// or wait on their status. Check-status needs no credentials, so none are
// required; Authenticate and VerifyTwoFactor fail with ErrConfiguration.
func NewStatusSession(cfg FlowConfig) (*Session, error) {
	if err := cfg.validateAllowedHosts(); err != nil {
		return nil, err
	}
	return &Session{
		cfg:        cfg.WithDefaults(),
		state:      StateStart,
		statusOnly: true,
	}, nil
}

// RequestID returns the most recently extracted request id.
func (s *Session) RequestID() string {
	return s.requestID
}

// SetRequestID adopts a request id obtained elsewhere, e.g. from a browser
// automation tool that already read the page.
func (s *Session) SetRequestID(id string) {
	s.requestID = strings.TrimSpace(id)
	if s.requestID != "" && s.state == StateStart {
		s.state = StateRequestIDExtracted
	}
}

// State returns the current flow state.
func (s *Session) State() FlowState {
	return s.state
}

// Credentials returns the session's agent credentials.
func (s *Session) Credentials() Credentials {
	return s.cfg.Credentials
}

// Config returns the effective configuration.
func (s *Session) Config() FlowConfig {
	return s.cfg
}

// endpoint joins the cached origin with path. It fails when no origin has
// been derived or the request id is empty.
func (s *Session) endpoint(path, requestID string) (string, error) {
	if s.origin == "" {
		return "", newFlowError(ErrConfiguration, nil, "authorization server origin not set; extract a request id or derive the origin first")
	}
	if strings.TrimSpace(requestID) == "" {
		return "", newFlowError(ErrConfiguration, nil, "request id is required")
	}
	return s.origin + path, nil
}

// authResponse is the wire shape shared by authenticate and verify-2fa.
type authResponse struct {
	Success          *bool  `json:"success"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	Requires2FA      bool   `json:"requires_2fa"`
	ExpiresIn        int    `json:"expires_in"`
}

// postAuth performs an authenticate-style call and folds every failure into
// the returned outcome.
func (s *Session) postAuth(ctx context.Context, endpoint string, body interface{}, defaultError, defaultMessage string) *AuthOutcome {
	resp, err := s.cfg.Transport.PostJSON(ctx, endpoint, body)
	if err != nil {
		return &AuthOutcome{
			Success:          false,
			Error:            errNetwork,
			ErrorDescription: err.Error(),
		}
	}

	var decoded authResponse
	decodeErr := resp.DecodeJSON(&decoded)

	if !resp.OK() {
		outcome := &AuthOutcome{
			Success:          false,
			Error:            decoded.Error,
			ErrorDescription: decoded.ErrorDescription,
			StatusCode:       resp.StatusCode,
		}
		if outcome.Error == "" {
			outcome.Error = defaultError
		}
		if outcome.ErrorDescription == "" {
			outcome.ErrorDescription = fmt.Sprintf("HTTP %d", resp.StatusCode)
		}
		return outcome
	}

	if decodeErr != nil {
		s.cfg.Logger.Debug("Ignoring undecodable success body from %s: %v", endpoint, decodeErr)
	}

	outcome := &AuthOutcome{
		Success:           true,
		Message:           decoded.Message,
		RequiresTwoFactor: decoded.Requires2FA,
		ExpiresIn:         decoded.ExpiresIn,
		StatusCode:        resp.StatusCode,
	}
	if decoded.Success != nil && !*decoded.Success {
		outcome.Success = false
		outcome.Error = decoded.Error
		outcome.ErrorDescription = decoded.ErrorDescription
		if outcome.Error == "" {
			outcome.Error = defaultError
		}
		return outcome
	}
	if outcome.Message == "" {
		outcome.Message = defaultMessage
	}
	return outcome
}

// Authenticate presents the agent's credentials for requestID. Server
// rejections and transport failures are reported in the outcome; an error is
// returned only when the session is not ready to make the call.
func (s *Session) Authenticate(ctx context.Context, requestID string) (*AuthOutcome, error) {
	if s.statusOnly {
		return nil, newFlowError(ErrConfiguration, nil, "session has no agent credentials")
	}
	endpoint, err := s.endpoint(pathAuthenticate, requestID)
	if err != nil {
		return nil, err
	}

	creds := s.cfg.Credentials
	body := map[string]interface{}{
		"request_id":   requestID,
		"agent_id":     creds.AgentID,
		"agent_secret": creds.AgentSecret.Reveal(),
		"model":        creds.Model,
	}

	s.cfg.Logger.Debug("Authenticating agent %s for request %s", creds.AgentID, requestID)
	outcome := s.postAuth(ctx, endpoint, body, errAuthenticationFailed, msgAuthenticated)
	if outcome.Success {
		s.requestID = requestID
		s.state = StateAuthenticated
	}
	return outcome, nil
}

// VerifyTwoFactor submits a second-factor code for requestID. It has the same
// error contract as Authenticate.
func (s *Session) VerifyTwoFactor(ctx context.Context, requestID, code string) (*AuthOutcome, error) {
	if s.statusOnly {
		return nil, newFlowError(ErrConfiguration, nil, "session has no agent credentials")
	}
	endpoint, err := s.endpoint(pathVerify2FA, requestID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(code) == "" {
		return nil, newFlowError(ErrConfiguration, nil, "verification code is required")
	}

	body := map[string]interface{}{
		"request_id": requestID,
		"code":       code,
		"model":      s.cfg.Credentials.Model,
	}

	outcome := s.postAuth(ctx, endpoint, body, errVerificationFailed, msgTwoFactorVerified)
	if outcome.Success {
		s.state = StateAuthenticated
	}
	return outcome, nil
}

// CheckStatus fetches one status snapshot for requestID. Transport failures
// and non-2xx replies are returned as ErrTransport.
func (s *Session) CheckStatus(ctx context.Context, requestID string) (*StatusResult, error) {
	endpoint, err := s.endpoint(pathCheckStatus, requestID)
	if err != nil {
		return nil, err
	}

	statusURL := endpoint + "?" + url.Values{"request_id": {requestID}}.Encode()
	resp, err := s.cfg.Transport.Get(ctx, statusURL, contentTypeJSON)
	if err != nil {
		return nil, newFlowError(ErrTransport, err, "status check failed")
	}

	var result StatusResult
	decodeErr := resp.DecodeJSON(&result)

	if !resp.OK() {
		fe := newFlowError(ErrTransport, nil, "status check failed: HTTP %d", resp.StatusCode)
		fe.StatusCode = resp.StatusCode
		fe.Code = result.Error
		fe.Description = result.ErrorDescription
		return nil, fe
	}
	if decodeErr != nil {
		return nil, newFlowError(ErrTransport, decodeErr, "invalid status response")
	}

	return &result, nil
}
