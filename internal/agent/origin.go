package agent

import (
	"net/url"
	"strings"
)

// OriginOf returns the scheme and host of rawURL, e.g. "https://auth.example.com".
func OriginOf(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", newFlowError(ErrInvalidURL, err, "invalid authorization URL %q", rawURL)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", newFlowError(ErrInvalidURL, nil, "authorization URL %q must include scheme and host", rawURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// hostAllowed reports whether host equals an allowed entry or is a subdomain of one.
func hostAllowed(host string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	host = strings.ToLower(host)
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// DeriveOrigin records the authorization URL and caches its origin. Once an
// origin is cached it is returned unchanged until ResetOrigin is called.
func (s *Session) DeriveOrigin(authorizationURL string) (string, error) {
	if s.origin != "" {
		return s.origin, nil
	}

	origin, err := OriginOf(authorizationURL)
	if err != nil {
		return "", err
	}

	u, _ := url.Parse(origin)
	if !hostAllowed(u.Hostname(), s.cfg.AllowedHosts) {
		return "", newFlowError(ErrInvalidURL, nil, "host %q is not in the allowed hosts list", u.Hostname())
	}

	s.authorizationURL = authorizationURL
	s.origin = origin
	s.cfg.Logger.Debug("Authorization server origin: %s", origin)
	return origin, nil
}

// ResetOrigin forgets the cached origin so the next DeriveOrigin re-parses.
func (s *Session) ResetOrigin() {
	s.origin = ""
	s.authorizationURL = ""
}

// Origin returns the cached origin, or "" if none has been derived yet.
func (s *Session) Origin() string {
	return s.origin
}

// AuthorizationURL returns the URL the origin was derived from.
func (s *Session) AuthorizationURL() string {
	return s.authorizationURL
}
