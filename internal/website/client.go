package website

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-cleanhttp"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

const (
	DefaultScope     = "openid profile"
	DefaultTimeout   = 30 * time.Second
	DefaultUserAgent = "auth-agent-cli/1.0"

	grantAuthorizationCode = "authorization_code"
	tokenTypeHintAccess    = "access_token"

	// 24 random bytes encode to a 32 character state.
	stateBytes = 24
)

// Config holds the registered OAuth client a website signs agents in with.
type Config struct {
	ServerURL    string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
	AllowedHosts []string
	Timeout      time.Duration
	UserAgent    string
	Logger       *logging.Logger

	// HTTPClient overrides the pooled client used for every call.
	HTTPClient *http.Client
}

// Client drives the website side of "Sign in with Auth Agent".
type Client struct {
	cfg    Config
	http   *resty.Client
	logger *logging.Logger

	mu            sync.Mutex
	metadata      *Metadata
	discoverGroup singleflight.Group
}

// Authorization is a pending sign-in. State and CodeVerifier must be kept
// until the callback arrives.
type Authorization struct {
	URL          string
	State        string
	CodeVerifier string
}

// Introspection is the server's view of an access token.
type Introspection struct {
	Active   bool   `json:"active"`
	Subject  string `json:"sub,omitempty"`
	ClientID string `json:"client_id,omitempty"`
	Model    string `json:"model,omitempty"`
	Scope    string `json:"scope,omitempty"`
	Exp      int64  `json:"exp,omitempty"`
}

// ExpiresAt returns the token expiry, or the zero time when unknown.
func (i *Introspection) ExpiresAt() time.Time {
	if i.Exp == 0 {
		return time.Time{}
	}
	return time.Unix(i.Exp, 0)
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	IDToken      string `json:"id_token"`
}

// NewClient validates cfg and returns a client using the conventional
// endpoints until Discover is called.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, fmt.Errorf("client id is required")
	}
	parsed, err := ValidateServerURL(cfg.ServerURL, cfg.AllowedHosts)
	if err != nil {
		return nil, err
	}
	if err := ValidateRedirectURI(cfg.RedirectURI); err != nil {
		return nil, err
	}
	cfg.ServerURL = fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = strings.Fields(DefaultScope)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = cleanhttp.DefaultPooledClient()
	}

	rc := resty.NewWithClient(cfg.HTTPClient).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &Client{
		cfg:      cfg,
		http:     rc,
		logger:   cfg.Logger,
		metadata: DefaultMetadata(cfg.ServerURL),
	}, nil
}

// Discover replaces the client's endpoints with the server's published ones.
// Concurrent calls share one fetch.
func (c *Client) Discover(ctx context.Context) (*Metadata, error) {
	v, err, _ := c.discoverGroup.Do(c.cfg.ServerURL, func() (interface{}, error) {
		return discoverMetadata(ctx, c.cfg.HTTPClient, c.cfg.ServerURL, c.logger)
	})
	if err != nil {
		return nil, err
	}
	m := v.(*Metadata)
	if !m.SupportsS256() {
		return nil, fmt.Errorf("authorization server does not support S256 PKCE (only: %v)", m.CodeChallengeMethods)
	}
	c.mu.Lock()
	c.metadata = m
	c.mu.Unlock()
	return m, nil
}

// Metadata returns the endpoints currently in use.
func (c *Client) Metadata() *Metadata {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metadata
}

// RedirectURI returns the configured redirect URI.
func (c *Client) RedirectURI() string {
	return c.cfg.RedirectURI
}

func (c *Client) oauth2Config() *oauth2.Config {
	m := c.Metadata()
	return &oauth2.Config{
		ClientID:     c.cfg.ClientID,
		ClientSecret: c.cfg.ClientSecret,
		RedirectURL:  c.cfg.RedirectURI,
		Scopes:       c.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:   m.AuthorizationEndpoint,
			TokenURL:  m.TokenEndpoint,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

// NewAuthorization creates a fresh state and PKCE verifier and the
// authorization URL that carries them.
func (c *Client) NewAuthorization() (*Authorization, error) {
	state, err := generateState()
	if err != nil {
		return nil, err
	}
	verifier := oauth2.GenerateVerifier()
	authURL := c.oauth2Config().AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	c.logger.Debug("Authorization URL: %s", authURL)
	return &Authorization{URL: authURL, State: state, CodeVerifier: verifier}, nil
}

func generateState() (string, error) {
	b := make([]byte, stateBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Exchange trades an authorization code for tokens.
func (c *Client) Exchange(ctx context.Context, code, codeVerifier string) (*oauth2.Token, error) {
	if code == "" || codeVerifier == "" {
		return nil, fmt.Errorf("missing authorization code or code verifier")
	}
	if c.cfg.ClientSecret == "" {
		return nil, fmt.Errorf("client secret is required for the token exchange")
	}

	body := map[string]string{
		"grant_type":    grantAuthorizationCode,
		"code":          code,
		"code_verifier": codeVerifier,
		"redirect_uri":  c.cfg.RedirectURI,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}

	var tr tokenResponse
	if err := c.post(ctx, c.Metadata().TokenEndpoint, body, &tr, "invalid_grant", "Token exchange failed"); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("token response did not include an access token")
	}

	tok := &oauth2.Token{
		AccessToken:  tr.AccessToken,
		TokenType:    tr.TokenType,
		RefreshToken: tr.RefreshToken,
	}
	if tr.ExpiresIn > 0 {
		tok.Expiry = time.Now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	return tok.WithExtra(map[string]interface{}{
		"scope":    tr.Scope,
		"id_token": tr.IDToken,
	}), nil
}

// Introspect asks the server whether accessToken is active.
func (c *Client) Introspect(ctx context.Context, accessToken string) (*Introspection, error) {
	body := map[string]string{
		"token":           accessToken,
		"token_type_hint": tokenTypeHintAccess,
		"client_id":       c.cfg.ClientID,
		"client_secret":   c.cfg.ClientSecret,
	}

	var out Introspection
	if err := c.post(ctx, c.Metadata().IntrospectionEndpoint, body, &out, "server_error", "Failed to introspect access token"); err != nil {
		return nil, err
	}
	return &out, nil
}

// Revoke invalidates a token. The server answers 200 even for unknown tokens.
func (c *Client) Revoke(ctx context.Context, token string) error {
	endpoint := c.Metadata().RevocationEndpoint
	if endpoint == "" {
		endpoint = c.cfg.ServerURL + "/revoke"
	}
	body := map[string]string{
		"token":         token,
		"client_id":     c.cfg.ClientID,
		"client_secret": c.cfg.ClientSecret,
	}
	return c.post(ctx, endpoint, body, nil, "server_error", "Token revocation failed")
}

// post sends a JSON body and decodes a JSON reply. Error replies become
// *OAuthError, with defaultCode and defaultDescription filling missing fields.
func (c *Client) post(ctx context.Context, endpoint string, body, result interface{}, defaultCode, defaultDescription string) error {
	c.logger.Request(http.MethodPost, endpoint, body)

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		Post(endpoint)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", endpoint, err)
	}
	c.logger.Response(http.MethodPost, endpoint, resp.StatusCode(), resp.Body())

	if !resp.IsSuccess() {
		oe := &OAuthError{}
		_ = json.Unmarshal(resp.Body(), oe)
		oe.StatusCode = resp.StatusCode()
		if oe.Code == "" {
			oe.Code = defaultCode
		}
		if oe.Description == "" {
			oe.Description = defaultDescription
		}
		return oe
	}
	if result == nil || len(resp.Body()) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body(), result); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", endpoint, err)
	}
	return nil
}
