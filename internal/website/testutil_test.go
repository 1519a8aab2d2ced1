package website

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

const (
	testClientID     = "client_test"
	testClientSecret = "client_secret_test"
	testAgentID      = "agent_test"
	testModel        = "gpt-test"
	testCode         = "code_ok"
	testJWTSecret    = "jwt-secret-for-tests"
)

// mockAuthServer is an Auth Agent server exposing the website-facing endpoints.
type mockAuthServer struct {
	*httptest.Server
	t *testing.T

	publishMetadata bool
	active          bool
	tokenStatus     int
	tokenBody       string

	mu                 sync.Mutex
	tokenRequests      []map[string]string
	introspectRequests []map[string]string
	revokeRequests     []map[string]string
}

func newMockAuthServer(t *testing.T) *mockAuthServer {
	t.Helper()

	m := &mockAuthServer{t: t, publishMetadata: true, active: true}

	r := chi.NewRouter()
	r.Get("/.well-known/oauth-authorization-server", m.handleMetadata)
	r.Post("/token", m.handleToken)
	r.Post("/introspect", m.handleIntrospect)
	r.Post("/revoke", m.handleRevoke)

	m.Server = httptest.NewServer(r)
	t.Cleanup(m.Close)
	return m
}

func (m *mockAuthServer) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if !m.publishMetadata {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"issuer":                           m.URL,
		"authorization_endpoint":           m.URL + "/authorize",
		"token_endpoint":                   m.URL + "/token",
		"introspection_endpoint":           m.URL + "/introspect",
		"revocation_endpoint":              m.URL + "/revoke",
		"code_challenge_methods_supported": []string{"S256"},
		"scopes_supported":                 []string{"openid", "profile", "email"},
	})
}

func (m *mockAuthServer) decode(r *http.Request) map[string]string {
	var body map[string]string
	assert.NoError(m.t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func (m *mockAuthServer) handleToken(w http.ResponseWriter, r *http.Request) {
	body := m.decode(r)
	m.mu.Lock()
	m.tokenRequests = append(m.tokenRequests, body)
	m.mu.Unlock()

	if m.tokenStatus != 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(m.tokenStatus)
		_, _ = w.Write([]byte(m.tokenBody))
		return
	}
	if body["code"] != testCode || body["code_verifier"] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid or expired authorization code",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"access_token":  m.accessToken(),
		"token_type":    "Bearer",
		"expires_in":    3600,
		"refresh_token": "rt_test",
		"scope":         "openid profile",
	})
}

func (m *mockAuthServer) handleIntrospect(w http.ResponseWriter, r *http.Request) {
	body := m.decode(r)
	m.mu.Lock()
	m.introspectRequests = append(m.introspectRequests, body)
	m.mu.Unlock()

	m.mu.Lock()
	active := m.active
	m.mu.Unlock()
	if !active {
		writeJSON(w, http.StatusOK, map[string]bool{"active": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active":    true,
		"sub":       testAgentID,
		"client_id": testClientID,
		"model":     testModel,
		"scope":     "openid profile",
		"exp":       time.Now().Add(time.Hour).Unix(),
	})
}

func (m *mockAuthServer) handleRevoke(w http.ResponseWriter, r *http.Request) {
	body := m.decode(r)
	m.mu.Lock()
	m.revokeRequests = append(m.revokeRequests, body)
	m.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{})
}

func (m *mockAuthServer) accessToken() string {
	s, err := newTestToken(m.URL, time.Hour)
	assert.NoError(m.t, err)
	return s
}

func (m *mockAuthServer) setActive(active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.active = active
}

func (m *mockAuthServer) TokenRequests() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]string(nil), m.tokenRequests...)
}

func (m *mockAuthServer) IntrospectRequests() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]string(nil), m.introspectRequests...)
}

func (m *mockAuthServer) RevokeRequests() []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]map[string]string(nil), m.revokeRequests...)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func signTestToken(t *testing.T, issuer string, ttl time.Duration) string {
	t.Helper()
	s, err := newTestToken(issuer, ttl)
	require.NoError(t, err)
	return s
}

func newTestToken(issuer string, ttl time.Duration) (string, error) {
	claims := Claims{
		ClientID: testClientID,
		Model:    testModel,
		Scope:    "openid profile",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   testAgentID,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
}

// freeRedirectURI returns a loopback redirect URI on a port that was free a moment ago.
func freeRedirectURI(t *testing.T) string {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return fmt.Sprintf("http://127.0.0.1:%d/callback", port)
}

func newTestClient(t *testing.T, serverURL, redirectURI string) *Client {
	t.Helper()
	c, err := NewClient(Config{
		ServerURL:    serverURL,
		ClientID:     testClientID,
		ClientSecret: testClientSecret,
		RedirectURI:  redirectURI,
		AllowedHosts: []string{"127.0.0.1"},
		Timeout:      5 * time.Second,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	return c
}
