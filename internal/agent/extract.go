package agent

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// RequestIDMatcher finds a request id in authorization page source.
type RequestIDMatcher interface {
	Name() string
	Match(source string) (string, bool)
}

// regexMatcher extracts the first capture group of a pattern.
type regexMatcher struct {
	name    string
	pattern *regexp.Regexp
}

// NewRegexMatcher returns a matcher that reports the first capture group of pattern.
func NewRegexMatcher(name string, pattern *regexp.Regexp) RequestIDMatcher {
	return &regexMatcher{name: name, pattern: pattern}
}

func (m *regexMatcher) Name() string { return m.name }

func (m *regexMatcher) Match(source string) (string, bool) {
	groups := m.pattern.FindStringSubmatch(source)
	if len(groups) < 2 || groups[1] == "" {
		return "", false
	}
	return groups[1], true
}

var (
	// window.authRequest = { request_id: 'req_123', ... }
	bootstrapObjectPattern = regexp.MustCompile(`window\.authRequest\s*=\s*\{[^}]*?["']?request_id["']?\s*:\s*["']([^"']+)["']`)

	// request_id: "req_123" anywhere in the page
	bareAssignmentPattern = regexp.MustCompile(`["']?request_id["']?\s*:\s*["']([^"']+)["']`)

	// any quoted value following request_id inside a script block
	scriptBlockPattern = regexp.MustCompile(`<script[^>]*>[\s\S]*?request_id[^}]*?["']([^"']+)["']`)
)

// DefaultRequestIDMatchers returns the built-in matchers in priority order.
func DefaultRequestIDMatchers() []RequestIDMatcher {
	return []RequestIDMatcher{
		NewRegexMatcher("bootstrap-object", bootstrapObjectPattern),
		NewRegexMatcher("bare-assignment", bareAssignmentPattern),
		NewRegexMatcher("script-block", scriptBlockPattern),
	}
}

// matchRequestID runs matchers in order and returns the first hit.
func matchRequestID(source string, matchers []RequestIDMatcher) (id string, matcher string, ok bool) {
	for _, m := range matchers {
		if id, ok := m.Match(source); ok {
			return id, m.Name(), true
		}
	}
	return "", "", false
}

// isURL reports whether input should be fetched rather than searched.
func isURL(input string) bool {
	return strings.HasPrefix(input, "http://") || strings.HasPrefix(input, "https://")
}

// ExtractRequestID finds the request id in page source, or fetches the page
// first when given a URL. Fetching a URL refreshes the session origin.
func (s *Session) ExtractRequestID(ctx context.Context, pageSourceOrURL string) (string, error) {
	source := pageSourceOrURL

	if isURL(strings.TrimSpace(pageSourceOrURL)) {
		pageURL := strings.TrimSpace(pageSourceOrURL)
		s.ResetOrigin()
		if _, err := s.DeriveOrigin(pageURL); err != nil {
			return "", err
		}

		s.cfg.Logger.Debug("Fetching authorization page %s", pageURL)
		body, err := s.cfg.PageFetcher.Fetch(ctx, pageURL)
		if err != nil {
			var fe *FlowError
			if errors.As(err, &fe) {
				return "", err
			}
			return "", newFlowError(ErrFetch, err, "failed to fetch authorization page")
		}
		source = body
	}

	id, matcher, ok := matchRequestID(source, s.cfg.Matchers)
	if !ok {
		return "", newFlowError(ErrRequestIDNotFound, nil, "could not find request_id in authorization page")
	}

	s.cfg.Logger.Debug("Found request id via %s matcher", matcher)
	s.requestID = id
	s.state = StateRequestIDExtracted
	return id, nil
}
