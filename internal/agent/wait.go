package agent

import (
	"context"
	"fmt"
	"time"
)

// WaitOptions tune WaitForCompletion.
type WaitOptions struct {
	// PollInterval is the fixed delay between polls. Zero polls back-to-back.
	PollInterval time.Duration

	// Timeout bounds the whole wait. Zero uses the session timeout.
	Timeout time.Duration

	// OnUpdate, if set, receives every snapshot in order.
	OnUpdate func(*StatusResult)
}

// DefaultWaitOptions returns the session's configured poll interval and timeout.
func (s *Session) DefaultWaitOptions() WaitOptions {
	return WaitOptions{
		PollInterval: s.cfg.PollInterval,
		Timeout:      s.cfg.Timeout,
	}
}

// WaitForCompletion polls the status endpoint until the request reaches a
// terminal state or the timeout elapses. The timeout is checked before each
// poll, so the final poll may start just before the deadline.
func (s *Session) WaitForCompletion(ctx context.Context, requestID string, opts WaitOptions) (*StatusResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	start := time.Now()
	polls := 0
	s.state = StatePolling

	for {
		if time.Since(start) > timeout {
			s.state = StateTimedOut
			return nil, newFlowError(ErrTimeout, nil, "authentication timeout after %s", timeout)
		}

		status, err := s.CheckStatus(ctx, requestID)
		if err != nil {
			s.state = StateFailed
			return nil, err
		}
		polls++
		s.cfg.Logger.Debug("Poll %d: status %q", polls, status.Status)

		if opts.OnUpdate != nil {
			opts.OnUpdate(status)
		}

		switch {
		case status.Status.IsSuccess():
			s.state = StateCompleted
			return status, nil
		case status.Status.IsFailure():
			s.state = StateFailed
			msg := status.Error
			if msg == "" {
				msg = msgAuthenticationFailed
			}
			fe := newFlowError(ErrAuthenticationFailed, nil, "%s", msg)
			fe.Code = status.Error
			fe.Description = status.ErrorDescription
			return nil, fe
		}

		if opts.PollInterval <= 0 {
			if err := ctx.Err(); err != nil {
				s.state = StateFailed
				return nil, err
			}
			continue
		}

		timer := time.NewTimer(opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.state = StateFailed
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// WaitForCompletionAsync runs WaitForCompletion on its own goroutine. The
// returned channel yields exactly one result.
func (s *Session) WaitForCompletionAsync(ctx context.Context, requestID string, opts WaitOptions) <-chan FlowResult {
	results := make(chan FlowResult, 1)
	go func() {
		status, err := s.WaitForCompletion(ctx, requestID, opts)
		results <- FlowResult{Status: status, Err: err}
	}()
	return results
}

// CompleteFlow runs the whole sign-in: extract the request id from
// authorizationURL, authenticate, optionally verify a second factor, and wait
// for the server to finish.
func (s *Session) CompleteFlow(ctx context.Context, authorizationURL string, opts WaitOptions) (*StatusResult, error) {
	s.cfg.Logger.Info("Starting Auth Agent sign-in for %s", authorizationURL)

	requestID, err := s.ExtractRequestID(ctx, authorizationURL)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	s.cfg.Logger.InfoVerbose("Request id: %s", requestID)

	outcome, err := s.Authenticate(ctx, requestID)
	if err != nil {
		s.state = StateFailed
		return nil, err
	}
	if !outcome.Success {
		s.state = StateFailed
		fe := newFlowError(ErrAuthenticationFailed, nil, "%s", outcome.FailureMessage())
		fe.Code = outcome.Error
		fe.Description = outcome.ErrorDescription
		fe.StatusCode = outcome.StatusCode
		return nil, fe
	}
	s.cfg.Logger.Success("%s", outcome.Message)

	if outcome.RequiresTwoFactor && s.cfg.TwoFactor != nil {
		if err := s.completeTwoFactor(ctx, requestID, outcome); err != nil {
			s.state = StateFailed
			return nil, err
		}
	}

	s.cfg.Logger.Info("Waiting for authorization to complete...")
	return s.WaitForCompletion(ctx, requestID, opts)
}

func (s *Session) completeTwoFactor(ctx context.Context, requestID string, outcome *AuthOutcome) error {
	s.cfg.Logger.Info("Second factor required")
	code, err := s.cfg.TwoFactor(ctx, outcome)
	if err != nil {
		fe := newFlowError(ErrAuthenticationFailed, err, "second factor not provided")
		fe.Code = errTwoFactorRequired
		fe.Description = fmt.Sprintf("request %s requires a second factor", requestID)
		return fe
	}

	verified, err := s.VerifyTwoFactor(ctx, requestID, code)
	if err != nil {
		return err
	}
	if !verified.Success {
		fe := newFlowError(ErrAuthenticationFailed, nil, "%s", verified.FailureMessage())
		fe.Code = verified.Error
		fe.Description = verified.ErrorDescription
		fe.StatusCode = verified.StatusCode
		return fe
	}
	s.cfg.Logger.Success("%s", verified.Message)
	return nil
}

// CompleteFlowAsync runs CompleteFlow on its own goroutine. The returned
// channel yields exactly one result.
func (s *Session) CompleteFlowAsync(ctx context.Context, authorizationURL string, opts WaitOptions) <-chan FlowResult {
	results := make(chan FlowResult, 1)
	go func() {
		status, err := s.CompleteFlow(ctx, authorizationURL, opts)
		results <- FlowResult{Status: status, Err: err}
	}()
	return results
}
