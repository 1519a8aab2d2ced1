package agent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

// TwoFactorProvider supplies a second-factor code when the server asks for one.
type TwoFactorProvider func(ctx context.Context, outcome *AuthOutcome) (string, error)

// RejectTwoFactor is a TwoFactorProvider for unattended callers. It makes
// CompleteFlow fail as soon as a second factor is requested instead of
// polling until the timeout.
func RejectTwoFactor(ctx context.Context, outcome *AuthOutcome) (string, error) {
	return "", ErrTwoFactorRequired
}

// FlowConfig configures a Session.
type FlowConfig struct {
	// Credentials are the agent's id, secret and model identifier.
	Credentials Credentials

	// PollInterval is the fixed delay between status polls (default: 500ms).
	PollInterval time.Duration

	// Timeout bounds WaitForCompletion (default: 60s).
	Timeout time.Duration

	// RequestTimeout bounds each HTTP call (default: 30s).
	RequestTimeout time.Duration

	// UserAgent is sent with every request.
	UserAgent string

	// AllowedHosts restricts which authorization servers the session may talk to.
	// An entry also admits its subdomains. Empty allows any host.
	AllowedHosts []string

	// Transport performs the HTTP calls (default: RestyTransport).
	Transport Transport

	// PageFetcher retrieves authorization pages (default: TransportPageFetcher).
	PageFetcher PageFetcher

	// Matchers locate the request id in page source, tried in order.
	Matchers []RequestIDMatcher

	// TwoFactor is consulted by CompleteFlow when the server requires a second
	// factor. When nil, CompleteFlow goes straight to polling and relies on the
	// user finishing verification in the browser.
	TwoFactor TwoFactorProvider

	// Logger receives progress output.
	Logger *logging.Logger
}

// DefaultFlowConfig returns a configuration with the default timings.
func DefaultFlowConfig() FlowConfig {
	return FlowConfig{
		PollInterval:   DefaultPollInterval,
		Timeout:        DefaultTimeout,
		RequestTimeout: DefaultRequestTimeout,
		UserAgent:      DefaultUserAgent,
		Credentials:    Credentials{Model: DefaultModel},
	}
}

// WithDefaults fills unset fields. Pluggable components are built last so
// they see the final timeouts.
func (c FlowConfig) WithDefaults() FlowConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}
	if c.Credentials.Model == "" {
		c.Credentials.Model = DefaultModel
	}
	if c.Logger == nil {
		c.Logger = logging.Discard()
	}
	if c.Transport == nil {
		c.Transport = NewRestyTransport(c.RequestTimeout, c.UserAgent, c.Logger)
	}
	if c.PageFetcher == nil {
		c.PageFetcher = NewTransportPageFetcher(c.Transport)
	}
	if len(c.Matchers) == 0 {
		c.Matchers = DefaultRequestIDMatchers()
	}
	return c
}

// Validate checks that the configuration can drive a flow.
func (c FlowConfig) Validate() error {
	if strings.TrimSpace(c.Credentials.AgentID) == "" {
		return newFlowError(ErrConfiguration, nil, "agent id is required")
	}
	if c.Credentials.AgentSecret == "" {
		return newFlowError(ErrConfiguration, nil, "agent secret is required")
	}
	return c.validateAllowedHosts()
}

func (c FlowConfig) validateAllowedHosts() error {
	for _, host := range c.AllowedHosts {
		if strings.TrimSpace(host) == "" || strings.Contains(host, "/") {
			return newFlowError(ErrConfiguration, nil, "invalid allowed host %q", host)
		}
	}
	return nil
}

// ValidateHTTPURL requires an absolute http(s) URL. Plain HTTP is only
// accepted for loopback hosts.
func ValidateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	switch u.Scheme {
	case schemeHTTPS:
	case schemeHTTP:
		// Note: Hostname() strips brackets from IPv6 addresses, so [::1] becomes ::1
		hostname := u.Hostname()
		if hostname != hostLocal && hostname != hostLoopback && hostname != "::1" {
			return fmt.Errorf("HTTP URLs are only allowed for localhost/127.0.0.1/[::1], use HTTPS for %s", hostname)
		}
	default:
		return fmt.Errorf("URL scheme must be http (localhost only) or https, got: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("URL %q has no host", raw)
	}
	return nil
}
