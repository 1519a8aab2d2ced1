package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
	"github.com/auth-agent/auth-agent-cli/internal/website"
)

const (
	adminPathPrefix   = "/api/admin/"
	pathAgents        = "/api/admin/agents"
	pathClients       = "/api/admin/clients"
	pathClientsUpdate = "/api/admin/clients/update"

	DefaultTimeout  = 10 * time.Second
	DefaultRetryMax = 3

	maxResponseSize = 1024 * 1024
)

// Config configures the admin API client.
type Config struct {
	BaseURL    string
	AdminToken string
	RetryMax   int
	Timeout    time.Duration
	Logger     *logging.Logger

	// HTTPClient is the base client; its transport is wrapped, not modified.
	HTTPClient *http.Client
}

// Client provisions agents and OAuth clients on an Auth Agent server.
type Client struct {
	baseURL string
	http    *retryablehttp.Client
	logger  *logging.Logger
}

// Agent is an agent identity. AgentSecret is only present on creation.
type Agent struct {
	AgentID     string `json:"agent_id"`
	AgentSecret string `json:"agent_secret,omitempty"`
	UserEmail   string `json:"user_email"`
	UserName    string `json:"user_name"`
	CreatedAt   string `json:"created_at,omitempty"`
	Warning     string `json:"warning,omitempty"`
}

// OAuthClient is a registered website. ClientSecret is only present on creation.
type OAuthClient struct {
	ClientID     string   `json:"client_id"`
	ClientSecret string   `json:"client_secret,omitempty"`
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"allowed_redirect_uris"`
	GrantTypes   []string `json:"allowed_grant_types,omitempty"`
	CreatedAt    string   `json:"created_at,omitempty"`
	Warning      string   `json:"warning,omitempty"`
}

// CreateAgentRequest describes a new agent. An empty AgentID is generated.
type CreateAgentRequest struct {
	AgentID   string `json:"agent_id"`
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
}

// CreateClientRequest describes a new website client. An empty ClientID is generated.
type CreateClientRequest struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name"`
	RedirectURIs []string `json:"redirect_uris"`
}

// UpdateClientRequest changes a client's name or redirect URIs. Empty fields
// are left unchanged.
type UpdateClientRequest struct {
	ClientID     string   `json:"client_id"`
	ClientName   string   `json:"client_name,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
}

// BootstrapRequest creates an agent and a client in one go.
type BootstrapRequest struct {
	Agent  CreateAgentRequest
	Client CreateClientRequest
}

// BootstrapResult holds both created resources.
type BootstrapResult struct {
	Agent  *Agent
	Client *OAuthClient
}

// NewClient returns an admin API client with retries on transient failures.
func NewClient(cfg Config) (*Client, error) {
	parsed, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: server URL must be an absolute http(s) URL, got %q", ErrValidation, cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}

	base := cfg.HTTPClient
	if base == nil {
		base = cleanhttp.DefaultPooledClient()
	}
	hc := *base
	hc.Timeout = cfg.Timeout
	hc.Transport = newAdminTokenRoundTripper(cfg.AdminToken, base.Transport)

	rc := retryablehttp.NewClient()
	rc.HTTPClient = &hc
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.Logger = cfg.Logger.Leveled()
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		baseURL: fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host),
		http:    rc,
		logger:  cfg.Logger,
	}, nil
}

// BaseURL returns the server origin.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// NewAgentID returns a fresh agent identifier.
func NewAgentID() string {
	return "agent_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewClientID returns a fresh client identifier.
func NewClientID() string {
	return "client_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// CreateAgent registers a new agent and returns it with its one-time secret.
func (c *Client) CreateAgent(ctx context.Context, req CreateAgentRequest) (*Agent, error) {
	if strings.TrimSpace(req.UserEmail) == "" || !strings.Contains(req.UserEmail, "@") {
		return nil, fmt.Errorf("%w: a valid user email is required", ErrValidation)
	}
	if strings.TrimSpace(req.UserName) == "" {
		return nil, fmt.Errorf("%w: user name is required", ErrValidation)
	}
	if req.AgentID == "" {
		req.AgentID = NewAgentID()
	}

	var agent Agent
	if err := c.do(ctx, http.MethodPost, pathAgents, req, &agent, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.InfoVerbose("Created agent %s", agent.AgentID)
	return &agent, nil
}

// CreateClient registers a website and returns it with its one-time secret.
func (c *Client) CreateClient(ctx context.Context, req CreateClientRequest) (*OAuthClient, error) {
	if strings.TrimSpace(req.ClientName) == "" {
		return nil, fmt.Errorf("%w: client name is required", ErrValidation)
	}
	if err := validateRedirectURIs(req.RedirectURIs, true); err != nil {
		return nil, err
	}
	if req.ClientID == "" {
		req.ClientID = NewClientID()
	}

	var client OAuthClient
	if err := c.do(ctx, http.MethodPost, pathClients, req, &client, http.StatusCreated); err != nil {
		return nil, err
	}
	c.logger.InfoVerbose("Created client %s", client.ClientID)
	return &client, nil
}

// UpdateClient changes an existing client.
func (c *Client) UpdateClient(ctx context.Context, req UpdateClientRequest) error {
	if strings.TrimSpace(req.ClientID) == "" {
		return fmt.Errorf("%w: client id is required", ErrValidation)
	}
	if err := validateRedirectURIs(req.RedirectURIs, false); err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, pathClientsUpdate, req, nil, http.StatusOK)
}

// ListAgents returns all agents without secrets.
func (c *Client) ListAgents(ctx context.Context) ([]Agent, error) {
	var agents []Agent
	if err := c.do(ctx, http.MethodGet, pathAgents, nil, &agents, http.StatusOK); err != nil {
		return nil, err
	}
	return agents, nil
}

// ListClients returns all clients without secrets.
func (c *Client) ListClients(ctx context.Context) ([]OAuthClient, error) {
	var clients []OAuthClient
	if err := c.do(ctx, http.MethodGet, pathClients, nil, &clients, http.StatusOK); err != nil {
		return nil, err
	}
	return clients, nil
}

// Bootstrap creates an agent and a client concurrently. If either fails the
// other request is cancelled and the first error is returned.
func (c *Client) Bootstrap(ctx context.Context, req BootstrapRequest) (*BootstrapResult, error) {
	g, gctx := errgroup.WithContext(ctx)
	result := &BootstrapResult{}

	g.Go(func() error {
		agent, err := c.CreateAgent(gctx, req.Agent)
		if err != nil {
			return fmt.Errorf("create agent: %w", err)
		}
		result.Agent = agent
		return nil
	})
	g.Go(func() error {
		client, err := c.CreateClient(gctx, req.Client)
		if err != nil {
			return fmt.Errorf("create client: %w", err)
		}
		result.Client = client
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func validateRedirectURIs(uris []string, required bool) error {
	if required && len(uris) == 0 {
		return fmt.Errorf("%w: at least one redirect URI is required", ErrValidation)
	}
	for _, u := range uris {
		if err := website.ValidateRedirectURI(u); err != nil {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, wantStatus int) error {
	endpoint := c.baseURL + path

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}
	c.logger.Request(method, endpoint, body)

	req, err := retryablehttp.NewRequestWithContext(ctx, method, endpoint, bytesOrNil(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s failed: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	c.logger.Response(method, endpoint, resp.StatusCode, data)

	if resp.StatusCode != wantStatus {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Code == "" {
			apiErr.Body = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// bytesOrNil keeps GET requests body-less.
func bytesOrNil(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return bytes.NewReader(b)
}
