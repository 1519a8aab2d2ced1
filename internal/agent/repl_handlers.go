package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

// requireRequestID returns the given id or the session's current one.
func (r *REPL) requireRequestID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	if r.session.RequestID() == "" {
		return "", errors.New("no request id yet; run 'extract' or 'request' first")
	}
	return r.session.RequestID(), nil
}

func (r *REPL) handleOrigin(rawURL string) error {
	r.session.ResetOrigin()
	origin, err := r.session.DeriveOrigin(rawURL)
	if err != nil {
		return err
	}
	r.printf("Origin: %s\n", origin)
	return nil
}

func (r *REPL) handleExtract(ctx context.Context, input string) error {
	id, err := r.session.ExtractRequestID(ctx, input)
	if err != nil {
		return err
	}
	r.printf("Request id: %s\n", id)
	if origin := r.session.Origin(); origin != "" {
		r.printf("Origin:     %s\n", origin)
	}
	return nil
}

func (r *REPL) handleAuthenticate(ctx context.Context, id string) error {
	requestID, err := r.requireRequestID(id)
	if err != nil {
		return err
	}
	outcome, err := r.session.Authenticate(ctx, requestID)
	if err != nil {
		return err
	}
	r.displayOutcome(outcome)
	return nil
}

func (r *REPL) handleVerify(ctx context.Context, code string) error {
	requestID, err := r.requireRequestID("")
	if err != nil {
		return err
	}
	outcome, err := r.session.VerifyTwoFactor(ctx, requestID, code)
	if err != nil {
		return err
	}
	r.displayOutcome(outcome)
	return nil
}

func (r *REPL) handleStatus(ctx context.Context) error {
	requestID, err := r.requireRequestID("")
	if err != nil {
		return err
	}
	status, err := r.session.CheckStatus(ctx, requestID)
	if err != nil {
		return err
	}
	r.println(logging.PrettyJSON(status))
	return nil
}

func (r *REPL) handleWait(ctx context.Context, timeoutArg string) error {
	requestID, err := r.requireRequestID("")
	if err != nil {
		return err
	}

	opts := r.session.DefaultWaitOptions()
	if timeoutArg != "" {
		d, err := time.ParseDuration(timeoutArg)
		if err != nil {
			return fmt.Errorf("invalid timeout %q: %w", timeoutArg, err)
		}
		opts.Timeout = d
	}
	opts.OnUpdate = func(s *StatusResult) {
		r.printf("  status: %s\n", s.Status)
	}

	status, err := r.session.WaitForCompletion(ctx, requestID, opts)
	if err != nil {
		return err
	}
	r.displayStatus(status)
	return nil
}

func (r *REPL) handleFlow(ctx context.Context, authorizationURL string) error {
	opts := r.session.DefaultWaitOptions()
	opts.OnUpdate = func(s *StatusResult) {
		r.printf("  status: %s\n", s.Status)
	}
	status, err := r.session.CompleteFlow(ctx, authorizationURL, opts)
	if err != nil {
		return err
	}
	r.displayStatus(status)
	return nil
}

func (r *REPL) handleSession() error {
	r.printf("State:      %s\n", r.session.State())
	r.printf("Agent:      %s (model %s)\n", r.session.Credentials().AgentID, r.session.Credentials().Model)
	r.printf("Origin:     %s\n", valueOrNone(r.session.Origin()))
	r.printf("Request id: %s\n", valueOrNone(r.session.RequestID()))
	return nil
}

func (r *REPL) handleReset() error {
	session, err := NewSession(r.cfg)
	if err != nil {
		return err
	}
	r.session = session
	r.println("Session reset.")
	return nil
}

func (r *REPL) displayOutcome(outcome *AuthOutcome) {
	if outcome.Success {
		r.logger.Success("%s", outcome.Message)
		if outcome.RequiresTwoFactor {
			r.println("A second factor is required; use 'verify <code>'.")
		}
		return
	}
	r.logger.Error("%s: %s", outcome.Error, outcome.ErrorDescription)
}

func (r *REPL) displayStatus(status *StatusResult) {
	r.logger.Success("Authorization %s", status.Status)
	if cb := status.CallbackURL(); cb != "" {
		r.printf("Callback: %s\n", cb)
	}
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}
