package website

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

// DefaultCallbackTimeout bounds how long a sign-in waits for the browser.
const DefaultCallbackTimeout = 5 * time.Minute

const callbackSuccessPage = `<html><body><h1>Signed in with Auth Agent</h1><p>You can close this window.</p></body></html>`

// CallbackResult is a successful redirect back from the authorization server.
type CallbackResult struct {
	Code  string
	State string
}

// CallbackServer receives the authorization redirect on the redirect URI's
// host and path. Only the first callback is delivered.
type CallbackServer struct {
	path          string
	addr          string
	expectedState string
	logger        *logging.Logger

	server   *http.Server
	listener net.Listener
	results  chan *CallbackResult
	errs     chan error
}

// NewCallbackServer prepares a server for redirectURI that accepts only
// callbacks carrying expectedState.
func NewCallbackServer(redirectURI, expectedState string, logger *logging.Logger) (*CallbackServer, error) {
	if err := ValidateRedirectURI(redirectURI); err != nil {
		return nil, err
	}
	parsed, err := url.Parse(redirectURI)
	if err != nil {
		return nil, fmt.Errorf("invalid redirect URI: %w", err)
	}
	path := parsed.Path
	if path == "" {
		path = "/"
	}

	s := &CallbackServer{
		path:          path,
		addr:          parsed.Host,
		expectedState: expectedState,
		logger:        logger,
		results:       make(chan *CallbackResult, 1),
		errs:          make(chan error, 1),
	}
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  30 * time.Second,
	}
	return s, nil
}

// Handler returns the router serving the callback path.
func (s *CallbackServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get(s.path, s.handleCallback)
	return r
}

func (s *CallbackServer) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if code := q.Get("error"); code != "" {
		s.fail(&CallbackError{Code: code, Description: q.Get("error_description")})
		http.Error(w, "Authorization failed", http.StatusBadRequest)
		return
	}
	if q.Get("state") != s.expectedState {
		s.fail(fmt.Errorf("%w: possible CSRF attack", ErrStateMismatch))
		http.Error(w, "Invalid state", http.StatusBadRequest)
		return
	}
	code := q.Get("code")
	if code == "" {
		s.fail(ErrMissingCode)
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return
	}

	select {
	case s.results <- &CallbackResult{Code: code, State: q.Get("state")}:
	default:
	}
	w.Header().Set("Content-Type", "text/html")
	_, _ = w.Write([]byte(callbackSuccessPage))
}

func (s *CallbackServer) fail(err error) {
	s.logger.WarningVerbose("Callback rejected: %v", err)
	select {
	case s.errs <- err:
	default:
	}
}

// Start begins listening. Use a port of 0 in the redirect URI to pick a free one.
func (s *CallbackServer) Start() error {
	l, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = l
	s.logger.InfoVerbose("Callback server listening on %s%s", l.Addr().String(), s.path)

	go func() {
		if err := s.server.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.fail(fmt.Errorf("callback server error: %w", err))
		}
	}()
	return nil
}

// Addr returns the bound address once started.
func (s *CallbackServer) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Wait blocks until a callback arrives, the timeout elapses or ctx is done.
// A timeout of zero uses DefaultCallbackTimeout.
func (s *CallbackServer) Wait(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-s.results:
		return res, nil
	case err := <-s.errs:
		return nil, err
	case <-timer.C:
		return nil, ErrCallbackTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Shutdown stops the server.
func (s *CallbackServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
