package agent

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

// Test timeout constants
const (
	testTimeoutShort  = 50 * time.Millisecond
	testTimeoutNormal = 1 * time.Second
	testTimeoutLong   = 5 * time.Second
)

// Test credentials
const (
	testAgentID     = "agent_test"
	testAgentSecret = "secret_test"
	testModel       = "gpt-test"
	testRequestID   = "req_abc123"
)

// MockAgentServer provides a mock Auth Agent authorization server for testing.
// Status replies are served in order; the last one repeats.
type MockAgentServer struct {
	*httptest.Server
	t *testing.T

	// Configuration
	pageHTML         string
	pageStatus       int
	authStatus       int
	authBody         string
	verifyStatus     int
	verifyBody       string
	statusHTTPStatus int
	statuses         []StatusResult

	// State tracking
	mu                 sync.Mutex
	authRequests       []map[string]interface{}
	verifyRequests     []map[string]interface{}
	statusRequestIDs   []string
	pageRequestCount   int
	userAgents         []string
	statusRequestTimes []time.Time
}

// NewMockAgentServer creates a server that authorizes testRequestID after two polls.
func NewMockAgentServer(t *testing.T) *MockAgentServer {
	t.Helper()

	m := &MockAgentServer{
		t:                t,
		pageHTML:         bootstrapPage(testRequestID),
		pageStatus:       http.StatusOK,
		authStatus:       http.StatusOK,
		authBody:         `{"success":true,"message":"Agent authenticated successfully","expires_in":300}`,
		verifyStatus:     http.StatusOK,
		verifyBody:       `{"success":true}`,
		statusHTTPStatus: http.StatusOK,
		statuses: []StatusResult{
			{Status: StatusPending},
			{Status: StatusPending},
			{Status: StatusCompleted, Code: "code_xyz", RedirectURI: "https://site.example.com/callback", State: "st_1"},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", m.handleAuthorize)
	mux.HandleFunc(pathAuthenticate, m.handleAuthenticate)
	mux.HandleFunc(pathVerify2FA, m.handleVerify)
	mux.HandleFunc(pathCheckStatus, m.handleStatus)

	m.Server = httptest.NewServer(mux)
	return m
}

// AuthorizeURL returns the authorization page URL on this server.
func (m *MockAgentServer) AuthorizeURL() string {
	return m.URL + "/authorize?client_id=client_1&state=st_1"
}

func (m *MockAgentServer) recordUserAgent(r *http.Request) {
	m.userAgents = append(m.userAgents, r.Header.Get("User-Agent"))
}

func (m *MockAgentServer) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pageRequestCount++
	m.recordUserAgent(r)

	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(m.pageStatus)
	_, _ = w.Write([]byte(m.pageHTML))
}

func (m *MockAgentServer) decodeBody(r *http.Request) map[string]interface{} {
	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		m.t.Errorf("failed to decode request body: %v", err)
	}
	return body
}

func (m *MockAgentServer) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := m.decodeBody(r)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.authRequests = append(m.authRequests, body)
	m.recordUserAgent(r)

	writeJSON(w, m.authStatus, m.authBody)
}

func (m *MockAgentServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body := m.decodeBody(r)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.verifyRequests = append(m.verifyRequests, body)

	writeJSON(w, m.verifyStatus, m.verifyBody)
}

func (m *MockAgentServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusRequestIDs = append(m.statusRequestIDs, r.URL.Query().Get("request_id"))
	m.statusRequestTimes = append(m.statusRequestTimes, time.Now())

	idx := len(m.statusRequestIDs) - 1
	if idx >= len(m.statuses) {
		idx = len(m.statuses) - 1
	}
	data, _ := json.Marshal(m.statuses[idx])
	writeJSON(w, m.statusHTTPStatus, string(data))
}

// StatusRequestCount returns how many status polls were received.
func (m *MockAgentServer) StatusRequestCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.statusRequestIDs)
}

// StatusRequestIDs returns the request ids polled so far.
func (m *MockAgentServer) StatusRequestIDs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.statusRequestIDs...)
}

// UserAgents returns the User-Agent headers seen so far.
func (m *MockAgentServer) UserAgents() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.userAgents...)
}

// AuthRequests returns the decoded authenticate bodies.
func (m *MockAgentServer) AuthRequests() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.authRequests...)
}

// VerifyRequests returns the decoded verify-2fa bodies.
func (m *MockAgentServer) VerifyRequests() []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]interface{}(nil), m.verifyRequests...)
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

// bootstrapPage renders an authorization page the way the server does.
func bootstrapPage(requestID string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><title>Sign in with Auth Agent</title></head>
<body>
<div id="root"></div>
<script>
  window.authRequest = {
    request_id: '%s',
    client_name: 'Demo Site',
    scope: 'openid profile'
  };
</script>
</body>
</html>`, requestID)
}

// testFlowConfig returns a config with test credentials and the given transport.
func testFlowConfig(transport string) FlowConfig {
	cfg := DefaultFlowConfig()
	cfg.Credentials = Credentials{
		AgentID:     testAgentID,
		AgentSecret: Secret(testAgentSecret),
		Model:       testModel,
	}
	cfg.RequestTimeout = testTimeoutLong
	cfg.Logger = logging.Discard()
	t, err := NewTransport(transport, cfg)
	if err != nil {
		panic(err)
	}
	cfg.Transport = t
	return cfg
}

// newTestSession creates a session whose origin already points at serverURL.
func newTestSession(t *testing.T, serverURL, transport string) *Session {
	t.Helper()

	s, err := NewSession(testFlowConfig(transport))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}
	if serverURL != "" {
		if _, err := s.DeriveOrigin(serverURL); err != nil {
			t.Fatalf("DeriveOrigin() error = %v", err)
		}
	}
	return s
}

// closedServerURL returns the URL of a server that no longer accepts connections.
func closedServerURL() string {
	s := httptest.NewServer(http.NotFoundHandler())
	u := s.URL
	s.Close()
	return u
}

// transports lists the Transport strategies every flow test runs against.
var transports = []string{"resty", "http"}

// contains reports whether s contains substr
func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}
