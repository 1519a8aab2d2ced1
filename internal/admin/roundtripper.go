package admin

import (
	"net"
	"net/http"
	"strings"
)

// adminTokenRoundTripper adds the admin bearer token to admin API requests.
type adminTokenRoundTripper struct {
	transport  http.RoundTripper
	adminToken string
}

// newAdminTokenRoundTripper creates a RoundTripper that injects the admin token
// into requests under /api/admin sent over https or to a loopback host.
func newAdminTokenRoundTripper(adminToken string, base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &adminTokenRoundTripper{
		transport:  base,
		adminToken: adminToken,
	}
}

// RoundTrip implements the http.RoundTripper interface
func (rt *adminTokenRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clonedReq := req.Clone(req.Context())

	if rt.adminToken != "" &&
		strings.HasPrefix(clonedReq.URL.Path, adminPathPrefix) &&
		secureTarget(clonedReq) {
		clonedReq.Header.Set("Authorization", "Bearer "+rt.adminToken)
	}

	return rt.transport.RoundTrip(clonedReq)
}

// secureTarget reports whether a bearer token may be sent to the request's host.
func secureTarget(req *http.Request) bool {
	if req.URL.Scheme == "https" {
		return true
	}
	host := req.URL.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
