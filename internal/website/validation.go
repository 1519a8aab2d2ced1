package website

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// privatePrefixes are hostname prefixes treated as internal networks.
var privatePrefixes = []string{"192.168.", "10."}

func init() {
	for i := 16; i <= 31; i++ {
		privatePrefixes = append(privatePrefixes, fmt.Sprintf("172.%d.", i))
	}
}

// isPrivateHost reports whether host names a loopback, private or internal address.
func isPrivateHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "0.0.0.0", "::1":
		return true
	}
	for _, p := range privatePrefixes {
		if strings.HasPrefix(host, p) {
			return true
		}
	}
	return strings.HasSuffix(host, ".local") || strings.HasSuffix(host, ".internal")
}

// hostAllowed reports whether host equals an allowed entry or is a subdomain of one.
func hostAllowed(host string, allowed []string) bool {
	for _, a := range allowed {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" {
			continue
		}
		if host == a || strings.HasSuffix(host, "."+a) {
			return true
		}
	}
	return false
}

// ValidateServerURL checks that raw is an http(s) URL that is safe to call.
//
// Loopback, private network and *.local/*.internal hosts are rejected unless
// they are named explicitly in allowedHosts. When allowedHosts is non-empty,
// the host must also match one of its entries.
func ValidateServerURL(raw string, allowedHosts []string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	if parsed.Scheme != schemeHTTP && parsed.Scheme != schemeHTTPS {
		return nil, fmt.Errorf("%w: scheme %q not allowed, use http or https", ErrInvalidURL, parsed.Scheme)
	}

	host := strings.ToLower(parsed.Hostname())
	if isPrivateHost(host) && !hostAllowed(host, allowedHosts) {
		return nil, fmt.Errorf("%w: private or internal host %s", ErrBlockedHost, host)
	}
	if len(allowedHosts) > 0 && !hostAllowed(host, allowedHosts) {
		return nil, fmt.Errorf("%w: host %s is not in the allowed hosts list", ErrBlockedHost, host)
	}
	return parsed, nil
}

// ValidateRedirectURI requires https. Plain http is accepted only when the
// host is exactly a loopback name or address.
func ValidateRedirectURI(raw string) error {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return fmt.Errorf("%w: invalid redirect URI %q", ErrInvalidURL, raw)
	}
	switch parsed.Scheme {
	case schemeHTTPS:
		return nil
	case schemeHTTP:
		switch parsed.Hostname() {
		case "localhost", "127.0.0.1", "::1":
			return nil
		}
		return fmt.Errorf("%w: redirect URI must use https (http only allowed for localhost)", ErrInvalidURL)
	default:
		return fmt.Errorf("%w: redirect URI must use http or https, got %q", ErrInvalidURL, parsed.Scheme)
	}
}
