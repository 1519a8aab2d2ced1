package agent

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"testing"
)

func TestRequestIDMatchers(t *testing.T) {
	matchers := DefaultRequestIDMatchers()
	byName := make(map[string]RequestIDMatcher, len(matchers))
	for _, m := range matchers {
		byName[m.Name()] = m
	}

	tests := []struct {
		name    string
		matcher string
		source  string
		want    string
		wantOK  bool
	}{
		{
			name:    "bootstrap object single quotes",
			matcher: "bootstrap-object",
			source:  `<script>window.authRequest = { request_id: 'req_1', client_name: 'Demo' };</script>`,
			want:    "req_1",
			wantOK:  true,
		},
		{
			name:    "bootstrap object json keys",
			matcher: "bootstrap-object",
			source:  `window.authRequest={"client_name":"Demo","request_id":"req_2"}`,
			want:    "req_2",
			wantOK:  true,
		},
		{
			name:    "bootstrap object absent",
			matcher: "bootstrap-object",
			source:  `var config = { request_id: "req_3" };`,
			wantOK:  false,
		},
		{
			name:    "bare assignment",
			matcher: "bare-assignment",
			source:  `var config = { request_id: "req_3" };`,
			want:    "req_3",
			wantOK:  true,
		},
		{
			name:    "bare assignment tolerates spacing",
			matcher: "bare-assignment",
			source:  `request_id   :   'req_4'`,
			want:    "req_4",
			wantOK:  true,
		},
		{
			name:    "bare assignment ignores property assignment",
			matcher: "bare-assignment",
			source:  `<script>state.request_id = "req_5";</script>`,
			wantOK:  false,
		},
		{
			name:    "script block property assignment",
			matcher: "script-block",
			source:  `<script type="text/javascript">state.request_id = "req_5";</script>`,
			want:    "req_5",
			wantOK:  true,
		},
		{
			name:    "script block requires a script tag",
			matcher: "script-block",
			source:  `<div>request_id = "req_6"</div>`,
			wantOK:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := byName[tt.matcher]
			if !ok {
				t.Fatalf("matcher %q not registered", tt.matcher)
			}
			got, ok := m.Match(tt.source)
			if ok != tt.wantOK {
				t.Fatalf("Match() ok = %v, want %v", ok, tt.wantOK)
			}
			if got != tt.want {
				t.Errorf("Match() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDefaultMatcherOrder(t *testing.T) {
	matchers := DefaultRequestIDMatchers()
	want := []string{"bootstrap-object", "bare-assignment", "script-block"}
	if len(matchers) != len(want) {
		t.Fatalf("expected %d matchers, got %d", len(want), len(matchers))
	}
	for i, name := range want {
		if matchers[i].Name() != name {
			t.Errorf("matcher %d = %q, want %q", i, matchers[i].Name(), name)
		}
	}
}

func TestExtractRequestIDFromSource(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		want    string
		wantErr error
	}{
		{
			name:   "server rendered page",
			source: bootstrapPage("req_page"),
			want:   "req_page",
		},
		{
			name: "bootstrap object wins over earlier bare assignment",
			source: `<script>var other = { request_id: "req_other" };</script>
<script>window.authRequest = { request_id: "req_bootstrap" };</script>`,
			want: "req_bootstrap",
		},
		{
			name:   "falls through to script block",
			source: `<html><script>state.request_id = "req_script";</script></html>`,
			want:   "req_script",
		},
		{
			name:    "no request id",
			source:  `<html><body>Nothing here</body></html>`,
			wantErr: ErrRequestIDNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSession(t, "", "resty")
			got, err := s.ExtractRequestID(context.Background(), tt.source)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				if s.RequestID() != "" {
					t.Errorf("expected no request id to be stored, got %q", s.RequestID())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractRequestID() = %q, want %q", got, tt.want)
			}
			if s.State() != StateRequestIDExtracted {
				t.Errorf("expected state %q, got %q", StateRequestIDExtracted, s.State())
			}
		})
	}
}

func TestExtractRequestIDCustomMatchers(t *testing.T) {
	cfg := testFlowConfig("resty")
	cfg.Matchers = []RequestIDMatcher{NewRegexMatcher("data-attr", regexp.MustCompile(`data-request-id="([^"]+)"`))}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	got, err := s.ExtractRequestID(context.Background(), `<div data-request-id="req_attr"></div>`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "req_attr" {
		t.Errorf("ExtractRequestID() = %q, want req_attr", got)
	}
}

func TestExtractRequestIDFromURL(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			server := NewMockAgentServer(t)
			defer server.Close()

			s := newTestSession(t, "https://stale.example.com", transport)
			got, err := s.ExtractRequestID(context.Background(), server.AuthorizeURL())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != testRequestID {
				t.Errorf("ExtractRequestID() = %q, want %q", got, testRequestID)
			}
			if s.Origin() != server.URL {
				t.Errorf("expected origin to be refreshed to %q, got %q", server.URL, s.Origin())
			}
			if ua := server.UserAgents(); len(ua) == 0 || ua[0] != DefaultUserAgent {
				t.Errorf("expected User-Agent %q, got %v", DefaultUserAgent, ua)
			}
		})
	}
}

func TestExtractRequestIDWithCollyFetcher(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()

	cfg := testFlowConfig("resty")
	cfg.PageFetcher = &CollyPageFetcher{Timeout: testTimeoutLong}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	got, err := s.ExtractRequestID(context.Background(), server.AuthorizeURL())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != testRequestID {
		t.Errorf("ExtractRequestID() = %q, want %q", got, testRequestID)
	}
}

func TestExtractRequestIDFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		fetcher func() PageFetcher
	}{
		{name: "transport fetcher", fetcher: func() PageFetcher { return nil }},
		{name: "colly fetcher", fetcher: func() PageFetcher { return &CollyPageFetcher{Timeout: testTimeoutLong} }},
	}

	for _, tt := range tests {
		t.Run(tt.name+" http error", func(t *testing.T) {
			server := NewMockAgentServer(t)
			defer server.Close()
			server.pageStatus = http.StatusNotFound

			cfg := testFlowConfig("resty")
			cfg.PageFetcher = tt.fetcher()
			s, err := NewSession(cfg)
			if err != nil {
				t.Fatalf("NewSession() error = %v", err)
			}

			_, err = s.ExtractRequestID(context.Background(), server.AuthorizeURL())
			if !errors.Is(err, ErrFetch) {
				t.Fatalf("expected ErrFetch, got %v", err)
			}
			var fe *FlowError
			if errors.As(err, &fe) && fe.StatusCode != http.StatusNotFound {
				t.Errorf("expected status 404 on error, got %d", fe.StatusCode)
			}
		})

		t.Run(tt.name+" unreachable", func(t *testing.T) {
			cfg := testFlowConfig("resty")
			cfg.PageFetcher = tt.fetcher()
			s, err := NewSession(cfg)
			if err != nil {
				t.Fatalf("NewSession() error = %v", err)
			}

			_, err = s.ExtractRequestID(context.Background(), closedServerURL()+"/authorize")
			if !errors.Is(err, ErrFetch) {
				t.Fatalf("expected ErrFetch, got %v", err)
			}
		})
	}
}

func TestExtractRequestIDRejectsDisallowedHost(t *testing.T) {
	cfg := testFlowConfig("resty")
	cfg.AllowedHosts = []string{"auth-agent.com"}
	s, err := NewSession(cfg)
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	_, err = s.ExtractRequestID(context.Background(), "https://phish.example.com/authorize")
	if !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("expected ErrInvalidURL, got %v", err)
	}
}
