package agent

import "time"

// Authorization server endpoints used by the agent flow.
const (
	pathAuthenticate = "/api/agent/authenticate"
	pathVerify2FA    = "/api/agent/verify-2fa"
	pathCheckStatus  = "/api/check-status"
)

// Default flow tuning.
const (
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultTimeout        = 60 * time.Second
	DefaultRequestTimeout = 30 * time.Second
	DefaultModel          = "browser-use"
	DefaultUserAgent      = "auth-agent-cli/1.0"
)

// Fallback values reported when the server omits them.
const (
	errAuthenticationFailed = "authentication_failed"
	errVerificationFailed   = "verification_failed"
	errNetwork              = "network_error"
	errTwoFactorRequired    = "2fa_required"
	msgAuthenticated        = "Agent authenticated successfully"
	msgTwoFactorVerified    = "2FA verification successful"
	msgAuthenticationFailed = "Authentication failed"
)

// HTTP header values.
const (
	headerContentType = "Content-Type"
	headerAccept      = "Accept"
	headerUserAgent   = "User-Agent"
	contentTypeJSON   = "application/json"
	maxResponseSize   = 1024 * 1024
)

// URL scheme and host constants for validation.
const (
	schemeHTTPS  = "https"
	schemeHTTP   = "http"
	hostLocal    = "localhost"
	hostLoopback = "127.0.0.1"
)
