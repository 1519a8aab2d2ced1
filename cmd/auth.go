package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/auth-agent/auth-agent-cli/internal/agent"
	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

var (
	authAsync     bool
	authNoPrompt  bool
	authRequestID string
	statusWait    bool
	statusTimeout time.Duration
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth <authorization-url>",
		Short: "Complete the agent sign-in flow for an authorization URL",
		Long: `Loads the authorization page, extracts the request id, authenticates the
agent and waits until the server finishes the authorization.

If the server asks for a second factor, the code is read from the terminal
unless --no-prompt is given. With --request-id the page is not loaded at all.`,
		Args: cobra.ExactArgs(1),
		RunE: runAuth,
	}
	addFlowFlags(cmd)
	cmd.Flags().BoolVar(&authAsync, "async", false, "Run the flow in the background and report progress while it runs")
	cmd.Flags().BoolVar(&authNoPrompt, "no-prompt", false, "Fail instead of prompting when a second factor is required")
	cmd.Flags().StringVar(&authRequestID, "request-id", "", "Use a request id read elsewhere instead of loading the page")
	return cmd
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <request-id>",
		Short: "Check the status of an authorization request",
		Long: `Queries the check-status endpoint of the server given by --server once, or
with --wait polls until the request completes, fails or times out.`,
		Args: cobra.ExactArgs(1),
		RunE: runStatus,
	}
	addFlowFlags(cmd)
	cmd.Flags().BoolVar(&statusWait, "wait", false, "Poll until the request reaches a terminal state")
	cmd.Flags().DurationVar(&statusTimeout, "wait-timeout", 0, "Override --timeout for --wait")
	return cmd
}

// newFlowSession loads the configuration and builds an agent session for cmd.
// twoFactor answers second-factor requests during CompleteFlow.
func newFlowSession(cmd *cobra.Command, logger *logging.Logger, twoFactor agent.TwoFactorProvider) (*agent.Session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return nil, err
	}
	warnSecretFlags(cmd, logger)

	fc, err := cfg.FlowConfig(logger)
	if err != nil {
		return nil, err
	}
	fc.TwoFactor = twoFactor
	return agent.NewSession(fc)
}

// newStatusSession builds a session that only checks request status, so no
// agent credentials are needed. Its origin is the configured server.
func newStatusSession(cmd *cobra.Command, logger *logging.Logger) (*agent.Session, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	fc, err := cfg.FlowConfig(logger)
	if err != nil {
		return nil, err
	}
	session, err := agent.NewStatusSession(fc)
	if err != nil {
		return nil, err
	}
	if _, err := session.DeriveOrigin(cfg.ServerURL); err != nil {
		return nil, err
	}
	return session, nil
}

func runAuth(cmd *cobra.Command, args []string) error {
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, true)
	defer cancel()

	logger := newLogger()
	twoFactor := agent.ReadlineTwoFactorPrompt()
	if authNoPrompt {
		twoFactor = agent.RejectTwoFactor
	}
	session, err := newFlowSession(cmd, logger, twoFactor)
	if err != nil {
		return err
	}

	opts := session.DefaultWaitOptions()
	spin := newSpinner(" Waiting for authorization...")
	opts.OnUpdate = func(s *agent.StatusResult) {
		setSpinnerSuffix(spin, fmt.Sprintf(" Waiting for authorization (status: %s)...", displayStatus(s.Status)))
		logger.Debug("Status: %s", s.Status)
	}

	var status *agent.StatusResult
	switch {
	case authRequestID != "":
		status, err = completeWithRequestID(ctx, session, args[0], authRequestID, opts, spin)
	case authAsync:
		status, err = completeAsync(ctx, session, args[0], opts, spin, logger)
	default:
		status, err = session.CompleteFlow(ctx, args[0], withSpinner(opts, spin))
	}
	stopSpinner(spin)
	if err != nil {
		return describeFlowError(err, logger)
	}

	logger.Success("Authorization %s", status.Status)
	return render(os.Stdout, format, status, statusTable(status))
}

// completeWithRequestID runs the flow for a request id the caller already
// knows. The authorization URL only provides the server origin.
func completeWithRequestID(ctx context.Context, session *agent.Session, authorizationURL, requestID string, opts agent.WaitOptions, spin *spinner.Spinner) (*agent.StatusResult, error) {
	if _, err := session.DeriveOrigin(authorizationURL); err != nil {
		return nil, err
	}
	session.SetRequestID(requestID)

	outcome, err := session.Authenticate(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if !outcome.Success {
		return nil, fmt.Errorf("%w: %s", agent.ErrAuthenticationFailed, outcome.FailureMessage())
	}
	if outcome.RequiresTwoFactor {
		code, err := promptTwoFactor(ctx, session, outcome)
		if err != nil {
			return nil, err
		}
		verified, err := session.VerifyTwoFactor(ctx, requestID, code)
		if err != nil {
			return nil, err
		}
		if !verified.Success {
			return nil, fmt.Errorf("%w: %s", agent.ErrAuthenticationFailed, verified.FailureMessage())
		}
	}
	return session.WaitForCompletion(ctx, requestID, withSpinner(opts, spin))
}

// promptTwoFactor asks the session's provider for a code, failing the same
// way CompleteFlow does when none can be supplied.
func promptTwoFactor(ctx context.Context, session *agent.Session, outcome *agent.AuthOutcome) (string, error) {
	provider := session.Config().TwoFactor
	if provider == nil {
		provider = agent.RejectTwoFactor
	}
	code, err := provider(ctx, outcome)
	if err != nil {
		return "", fmt.Errorf("%w: %w", agent.ErrAuthenticationFailed, err)
	}
	return code, nil
}

// completeAsync starts the flow in the background and logs each status
// change until the single result arrives.
func completeAsync(ctx context.Context, session *agent.Session, authorizationURL string, opts agent.WaitOptions, spin *spinner.Spinner, logger *logging.Logger) (*agent.StatusResult, error) {
	updates := make(chan agent.Status, 16)
	onUpdate := opts.OnUpdate
	opts.OnUpdate = func(s *agent.StatusResult) {
		if onUpdate != nil {
			onUpdate(s)
		}
		select {
		case updates <- s.Status:
		default:
		}
	}

	results := session.CompleteFlowAsync(ctx, authorizationURL, withSpinner(opts, spin))
	var last agent.Status
	for {
		select {
		case s := <-updates:
			if s != last {
				logger.InfoVerbose("Status changed: %s", displayStatus(s))
				last = s
			}
		case res := <-results:
			return res.Status, res.Err
		}
	}
}

// withSpinner starts spin when the first poll begins so that prompts and
// log lines printed before polling are not interleaved with it.
func withSpinner(opts agent.WaitOptions, spin *spinner.Spinner) agent.WaitOptions {
	if spin == nil {
		return opts
	}
	onUpdate := opts.OnUpdate
	started := false
	opts.OnUpdate = func(s *agent.StatusResult) {
		if !started {
			spin.Start()
			started = true
		}
		if onUpdate != nil {
			onUpdate(s)
		}
	}
	return opts
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := parseOutputFormat(output)
	if err != nil {
		return err
	}

	ctx, cancel := commandContext(cmd, true)
	defer cancel()

	logger := newLogger()
	session, err := newStatusSession(cmd, logger)
	if err != nil {
		return err
	}
	requestID := args[0]
	session.SetRequestID(requestID)

	var status *agent.StatusResult
	if statusWait {
		opts := session.DefaultWaitOptions()
		if statusTimeout > 0 {
			opts.Timeout = statusTimeout
		}
		spin := newSpinner(" Waiting for authorization...")
		opts.OnUpdate = func(s *agent.StatusResult) {
			setSpinnerSuffix(spin, fmt.Sprintf(" Waiting for authorization (status: %s)...", displayStatus(s.Status)))
		}
		status, err = session.WaitForCompletion(ctx, requestID, withSpinner(opts, spin))
		stopSpinner(spin)
	} else {
		status, err = session.CheckStatus(ctx, requestID)
	}
	if err != nil {
		return describeFlowError(err, logger)
	}
	return render(os.Stdout, format, status, statusTable(status))
}

// describeFlowError logs a hint for the error kind and returns err.
func describeFlowError(err error, logger *logging.Logger) error {
	switch {
	case errors.Is(err, agent.ErrTwoFactorRequired):
		logger.Info("The server asked for a second factor. Run without --no-prompt to enter the code")
	case errors.Is(err, agent.ErrRequestIDNotFound):
		logger.Info("The page did not contain a request id. Try --fetcher browser for pages rendered by JavaScript")
	case errors.Is(err, agent.ErrTimeout):
		logger.Info("The user did not finish in time. Increase --timeout or start a new sign-in")
	case errors.Is(err, agent.ErrTransport):
		logger.Info("Could not reach the authorization server. Check --server and your network")
	case errors.Is(err, agent.ErrAuthenticationFailed):
		if msg := agent.ServerMessage(err); msg != "" {
			logger.Info("Server said: %s", msg)
		}
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("cancelled")
	}
	return err
}

func displayStatus(s agent.Status) string {
	if s == "" {
		return "unknown"
	}
	return string(s)
}

func statusTable(s *agent.StatusResult) func(t table.Writer) {
	return func(t table.Writer) {
		t.AppendHeader(table.Row{"FIELD", "VALUE"})
		status := displayStatus(s.Status)
		switch {
		case s.Status.IsSuccess():
			status = text.FgGreen.Sprint(status)
		case s.Status.IsFailure():
			status = text.FgRed.Sprint(status)
		}
		if noColor {
			status = displayStatus(s.Status)
		}
		t.AppendRow(table.Row{"Status", status})
		for _, r := range [][2]string{
			{"Code", s.Code},
			{"Redirect URI", s.RedirectURI},
			{"State", s.State},
			{"Callback URL", s.CallbackURL()},
			{"Error", s.Error},
			{"Description", s.ErrorDescription},
		} {
			if r[1] != "" {
				t.AppendRow(table.Row{r[0], r[1]})
			}
		}
	}
}
