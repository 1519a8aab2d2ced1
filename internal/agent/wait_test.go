package agent

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"
)

func TestWaitForCompletion(t *testing.T) {
	tests := []struct {
		name          string
		statuses      []StatusResult
		wantStatus    Status
		wantErr       error
		wantErrText   string
		wantPolls     int
		wantSnapshots int
	}{
		{
			name:          "pending then authenticated",
			statuses:      []StatusResult{{Status: StatusPending}, {Status: StatusPending}, {Status: StatusAuthenticated}},
			wantStatus:    StatusAuthenticated,
			wantPolls:     3,
			wantSnapshots: 3,
		},
		{
			name:          "completed immediately",
			statuses:      []StatusResult{{Status: StatusCompleted, Code: "c"}},
			wantStatus:    StatusCompleted,
			wantPolls:     1,
			wantSnapshots: 1,
		},
		{
			name:          "unknown and empty statuses keep polling",
			statuses:      []StatusResult{{Error: "not_found"}, {Status: "queued"}, {Status: StatusCompleted}},
			wantStatus:    StatusCompleted,
			wantPolls:     3,
			wantSnapshots: 3,
		},
		{
			name:          "expired uses server error",
			statuses:      []StatusResult{{Status: StatusPending}, {Status: StatusExpired, Error: "Request expired"}},
			wantErr:       ErrAuthenticationFailed,
			wantErrText:   "Request expired",
			wantPolls:     2,
			wantSnapshots: 2,
		},
		{
			name:          "error without message uses default",
			statuses:      []StatusResult{{Status: StatusError}},
			wantErr:       ErrAuthenticationFailed,
			wantErrText:   msgAuthenticationFailed,
			wantPolls:     1,
			wantSnapshots: 1,
		},
	}

	for _, transport := range transports {
		for _, tt := range tests {
			t.Run(transport+"/"+tt.name, func(t *testing.T) {
				server := NewMockAgentServer(t)
				defer server.Close()
				server.statuses = tt.statuses

				s := newTestSession(t, server.URL, transport)

				var snapshots []Status
				status, err := s.WaitForCompletion(context.Background(), testRequestID, WaitOptions{
					PollInterval: 0,
					Timeout:      testTimeoutLong,
					OnUpdate: func(r *StatusResult) {
						snapshots = append(snapshots, r.Status)
					},
				})

				if tt.wantErr != nil {
					if !errors.Is(err, tt.wantErr) {
						t.Fatalf("expected %v, got %v", tt.wantErr, err)
					}
					if err.Error() != tt.wantErrText {
						t.Errorf("error text = %q, want %q", err.Error(), tt.wantErrText)
					}
					if s.State() != StateFailed {
						t.Errorf("expected state %q, got %q", StateFailed, s.State())
					}
				} else {
					if err != nil {
						t.Fatalf("unexpected error: %v", err)
					}
					if status.Status != tt.wantStatus {
						t.Errorf("status = %q, want %q", status.Status, tt.wantStatus)
					}
					if s.State() != StateCompleted {
						t.Errorf("expected state %q, got %q", StateCompleted, s.State())
					}
				}

				if got := server.StatusRequestCount(); got != tt.wantPolls {
					t.Errorf("polls = %d, want %d", got, tt.wantPolls)
				}
				if len(snapshots) != tt.wantSnapshots {
					t.Errorf("snapshots = %d, want %d", len(snapshots), tt.wantSnapshots)
				}
			})
		}
	}
}

func TestWaitForCompletionTimeout(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()
	server.statuses = []StatusResult{{Status: StatusPending}}

	s := newTestSession(t, server.URL, "resty")

	interval := 10 * time.Millisecond
	start := time.Now()
	_, err := s.WaitForCompletion(context.Background(), testRequestID, WaitOptions{
		PollInterval: interval,
		Timeout:      testTimeoutShort,
	})
	elapsed := time.Since(start)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed < testTimeoutShort {
		t.Errorf("returned after %v, before the %v timeout", elapsed, testTimeoutShort)
	}
	if elapsed > testTimeoutNormal {
		t.Errorf("returned after %v, far beyond the %v timeout", elapsed, testTimeoutShort)
	}
	if server.StatusRequestCount() < 2 {
		t.Errorf("expected several polls before timing out, got %d", server.StatusRequestCount())
	}
	if s.State() != StateTimedOut {
		t.Errorf("expected state %q, got %q", StateTimedOut, s.State())
	}
}

func TestWaitForCompletionFixedInterval(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()
	server.statuses = []StatusResult{
		{Status: StatusPending}, {Status: StatusPending}, {Status: StatusPending}, {Status: StatusCompleted},
	}

	s := newTestSession(t, server.URL, "http")
	interval := 20 * time.Millisecond
	if _, err := s.WaitForCompletion(context.Background(), testRequestID, WaitOptions{
		PollInterval: interval,
		Timeout:      testTimeoutLong,
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	server.mu.Lock()
	times := append([]time.Time(nil), server.statusRequestTimes...)
	server.mu.Unlock()

	if len(times) != 4 {
		t.Fatalf("expected 4 polls, got %d", len(times))
	}
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < interval {
			t.Errorf("gap %d = %v, shorter than poll interval %v", i, gap, interval)
		}
		// No backoff: gaps stay close to the interval
		if gap > interval*10 {
			t.Errorf("gap %d = %v, looks like backoff", i, gap)
		}
	}
}

func TestWaitForCompletionTransportError(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()
	server.statusHTTPStatus = http.StatusInternalServerError

	s := newTestSession(t, server.URL, "resty")
	_, err := s.WaitForCompletion(context.Background(), testRequestID, WaitOptions{Timeout: testTimeoutLong})
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("expected ErrTransport, got %v", err)
	}
	if server.StatusRequestCount() != 1 {
		t.Errorf("expected no retry, got %d polls", server.StatusRequestCount())
	}
}

func TestWaitForCompletionContextCancel(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()
	server.statuses = []StatusResult{{Status: StatusPending}}

	s := newTestSession(t, server.URL, "resty")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeoutShort)
	defer cancel()

	_, err := s.WaitForCompletion(ctx, testRequestID, WaitOptions{
		PollInterval: 10 * time.Millisecond,
		Timeout:      testTimeoutLong,
	})
	if err == nil {
		t.Fatal("expected error after context cancellation")
	}
}

func TestWaitForCompletionAsync(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()

	s := newTestSession(t, server.URL, "resty")
	results := s.WaitForCompletionAsync(context.Background(), testRequestID, WaitOptions{Timeout: testTimeoutLong})

	select {
	case res := <-results:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Status.Status != StatusCompleted {
			t.Errorf("status = %q, want completed", res.Status.Status)
		}
	case <-time.After(testTimeoutLong):
		t.Fatal("async wait did not deliver a result")
	}
}

func TestCompleteFlow(t *testing.T) {
	for _, transport := range transports {
		t.Run(transport, func(t *testing.T) {
			server := NewMockAgentServer(t)
			defer server.Close()

			cfg := testFlowConfig(transport)
			s, err := NewSession(cfg)
			if err != nil {
				t.Fatalf("NewSession() error = %v", err)
			}

			var mu sync.Mutex
			var updates int
			status, err := s.CompleteFlow(context.Background(), server.AuthorizeURL(), WaitOptions{
				Timeout: testTimeoutLong,
				OnUpdate: func(*StatusResult) {
					mu.Lock()
					updates++
					mu.Unlock()
				},
			})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if status.Status != StatusCompleted {
				t.Errorf("status = %q, want completed", status.Status)
			}
			want := "https://site.example.com/callback?code=code_xyz&state=st_1"
			if status.CallbackURL() != want {
				t.Errorf("CallbackURL() = %q, want %q", status.CallbackURL(), want)
			}
			if updates != 3 {
				t.Errorf("expected 3 updates, got %d", updates)
			}
			if len(server.AuthRequests()) != 1 {
				t.Errorf("expected a single authenticate call, got %d", len(server.AuthRequests()))
			}
			for _, id := range server.StatusRequestIDs() {
				if id != testRequestID {
					t.Errorf("polled with request id %q, want %q", id, testRequestID)
				}
			}
		})
	}
}

func TestCompleteFlowAuthenticationRejected(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantText string
	}{
		{
			name:     "description preferred",
			status:   http.StatusUnauthorized,
			body:     `{"error":"invalid_client","error_description":"Invalid agent credentials"}`,
			wantText: "Invalid agent credentials",
		},
		{
			name:     "defaults when body is empty",
			status:   http.StatusUnauthorized,
			body:     ``,
			wantText: "HTTP 401",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewMockAgentServer(t)
			defer server.Close()
			server.authStatus = tt.status
			server.authBody = tt.body

			s, err := NewSession(testFlowConfig("resty"))
			if err != nil {
				t.Fatalf("NewSession() error = %v", err)
			}

			_, err = s.CompleteFlow(context.Background(), server.AuthorizeURL(), WaitOptions{Timeout: testTimeoutLong})
			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
			}
			if err.Error() != tt.wantText {
				t.Errorf("error text = %q, want %q", err.Error(), tt.wantText)
			}
			if server.StatusRequestCount() != 0 {
				t.Errorf("status must not be polled after a rejected authentication, got %d polls", server.StatusRequestCount())
			}
		})
	}
}

func TestCompleteFlowNoRequestID(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()
	server.pageHTML = "<html><body>maintenance</body></html>"

	s, err := NewSession(testFlowConfig("resty"))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	_, err = s.CompleteFlow(context.Background(), server.AuthorizeURL(), WaitOptions{Timeout: testTimeoutLong})
	if !errors.Is(err, ErrRequestIDNotFound) {
		t.Fatalf("expected ErrRequestIDNotFound, got %v", err)
	}
	if len(server.AuthRequests()) != 0 {
		t.Error("authenticate must not be called without a request id")
	}
}

func TestCompleteFlowTwoFactor(t *testing.T) {
	tests := []struct {
		name         string
		verifyStatus int
		verifyBody   string
		provider     TwoFactorProvider
		wantErr      error
		wantVerifies int
		wantPolls    bool
	}{
		{
			name:         "code accepted",
			verifyStatus: http.StatusOK,
			verifyBody:   `{"success":true}`,
			provider: func(ctx context.Context, o *AuthOutcome) (string, error) {
				return "654321", nil
			},
			wantVerifies: 1,
			wantPolls:    true,
		},
		{
			name:         "code rejected",
			verifyStatus: http.StatusBadRequest,
			verifyBody:   `{"error":"invalid_code"}`,
			provider: func(ctx context.Context, o *AuthOutcome) (string, error) {
				return "000000", nil
			},
			wantErr:      ErrAuthenticationFailed,
			wantVerifies: 1,
		},
		{
			name: "provider fails",
			provider: func(ctx context.Context, o *AuthOutcome) (string, error) {
				return "", errors.New("user cancelled")
			},
			wantErr: ErrAuthenticationFailed,
		},
		{
			name:      "no provider falls through to polling",
			wantPolls: true,
		},
		{
			name:     "rejecting provider fails before polling",
			provider: RejectTwoFactor,
			wantErr:  ErrTwoFactorRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewMockAgentServer(t)
			defer server.Close()
			server.authBody = `{"success":true,"requires_2fa":true,"expires_in":120}`
			server.verifyStatus = tt.verifyStatus
			server.verifyBody = tt.verifyBody

			cfg := testFlowConfig("resty")
			cfg.TwoFactor = tt.provider
			s, err := NewSession(cfg)
			if err != nil {
				t.Fatalf("NewSession() error = %v", err)
			}

			_, err = s.CompleteFlow(context.Background(), server.AuthorizeURL(), WaitOptions{Timeout: testTimeoutLong})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got := len(server.VerifyRequests()); got != tt.wantVerifies {
				t.Errorf("verify calls = %d, want %d", got, tt.wantVerifies)
			}
			if polled := server.StatusRequestCount() > 0; polled != tt.wantPolls {
				t.Errorf("polled = %v, want %v", polled, tt.wantPolls)
			}
		})
	}
}

func TestCompleteFlowTwoFactorRequiredWhilePending(t *testing.T) {
	tests := []struct {
		name        string
		provider    TwoFactorProvider
		wantTimeout bool
	}{
		{
			name:        "without provider waits for the browser",
			wantTimeout: true,
		},
		{
			name:     "rejecting provider fails fast",
			provider: RejectTwoFactor,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewMockAgentServer(t)
			defer server.Close()
			server.authBody = `{"success":true,"requires_2fa":true}`
			server.statuses = []StatusResult{{Status: StatusPending}}

			cfg := testFlowConfig("resty")
			cfg.TwoFactor = tt.provider
			s, err := NewSession(cfg)
			if err != nil {
				t.Fatalf("NewSession() error = %v", err)
			}

			_, err = s.CompleteFlow(context.Background(), server.AuthorizeURL(), WaitOptions{
				Timeout:      testTimeoutShort,
				PollInterval: 10 * time.Millisecond,
			})

			if tt.wantTimeout {
				if !errors.Is(err, ErrTimeout) {
					t.Fatalf("expected ErrTimeout, got %v", err)
				}
				return
			}

			if !errors.Is(err, ErrAuthenticationFailed) {
				t.Fatalf("expected ErrAuthenticationFailed, got %v", err)
			}
			if !errors.Is(err, ErrTwoFactorRequired) {
				t.Errorf("expected ErrTwoFactorRequired in chain, got %v", err)
			}
			if errors.Is(err, ErrTimeout) {
				t.Error("must not report a timeout")
			}
			if n := server.StatusRequestCount(); n != 0 {
				t.Errorf("status polls = %d, want 0", n)
			}
			if msg := ServerMessage(err); !contains(msg, "second factor") {
				t.Errorf("ServerMessage() = %q, want a second factor description", msg)
			}
			if s.State() != StateFailed {
				t.Errorf("state = %v, want %v", s.State(), StateFailed)
			}
		})
	}
}

func TestCompleteFlowAsync(t *testing.T) {
	server := NewMockAgentServer(t)
	defer server.Close()

	s, err := NewSession(testFlowConfig("http"))
	if err != nil {
		t.Fatalf("NewSession() error = %v", err)
	}

	results := s.CompleteFlowAsync(context.Background(), server.AuthorizeURL(), WaitOptions{Timeout: testTimeoutLong})

	select {
	case res := <-results:
		if res.Err != nil {
			t.Fatalf("unexpected error: %v", res.Err)
		}
		if res.Status.Status != StatusCompleted {
			t.Errorf("status = %q, want completed", res.Status.Status)
		}
	case <-time.After(testTimeoutLong):
		t.Fatal("async flow did not deliver a result")
	}

	if s.RequestID() != testRequestID {
		t.Errorf("RequestID() = %q, want %q", s.RequestID(), testRequestID)
	}
}
