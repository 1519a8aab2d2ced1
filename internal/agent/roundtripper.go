package agent

import (
	"net/http"
)

// userAgentRoundTripper sets a User-Agent header on requests that do not carry one.
type userAgentRoundTripper struct {
	transport http.RoundTripper
	userAgent string
}

// newUserAgentRoundTripper wraps base, defaulting to http.DefaultTransport.
func newUserAgentRoundTripper(userAgent string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &userAgentRoundTripper{
		transport: base,
		userAgent: userAgent,
	}
}

// RoundTrip implements the http.RoundTripper interface
func (rt *userAgentRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid modifying the original
	clonedReq := req.Clone(req.Context())

	if rt.userAgent != "" && clonedReq.Header.Get(headerUserAgent) == "" {
		clonedReq.Header.Set(headerUserAgent, rt.userAgent)
	}

	return rt.transport.RoundTrip(clonedReq)
}
