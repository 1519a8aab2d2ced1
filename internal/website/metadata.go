package website

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

const (
	// Maximum size for metadata documents (1MB)
	maxMetadataSize = 1024 * 1024

	metadataRequestTimeout = 10 * time.Second

	pkceMethodS256 = "S256"
)

// Metadata is the subset of OAuth 2.0 Authorization Server Metadata (RFC 8414)
// an Auth Agent server publishes.
type Metadata struct {
	Issuer                   string   `json:"issuer"`
	AuthorizationEndpoint    string   `json:"authorization_endpoint"`
	TokenEndpoint            string   `json:"token_endpoint"`
	IntrospectionEndpoint    string   `json:"introspection_endpoint,omitempty"`
	RevocationEndpoint       string   `json:"revocation_endpoint,omitempty"`
	JWKSURI                  string   `json:"jwks_uri,omitempty"`
	ResponseTypesSupported   []string `json:"response_types_supported,omitempty"`
	GrantTypesSupported      []string `json:"grant_types_supported,omitempty"`
	CodeChallengeMethods     []string `json:"code_challenge_methods_supported,omitempty"`
	TokenEndpointAuthMethods []string `json:"token_endpoint_auth_methods_supported,omitempty"`
	ScopesSupported          []string `json:"scopes_supported,omitempty"`

	// Discovered is false when the endpoints are the conventional fallbacks.
	Discovered bool `json:"-"`
}

// SupportsS256 reports whether the server advertises S256 PKCE. Servers that
// publish no methods at all are assumed to support it.
func (m *Metadata) SupportsS256() bool {
	if len(m.CodeChallengeMethods) == 0 {
		return true
	}
	for _, method := range m.CodeChallengeMethods {
		if method == pkceMethodS256 {
			return true
		}
	}
	return false
}

// DefaultMetadata returns the conventional endpoints of an Auth Agent server.
func DefaultMetadata(serverURL string) *Metadata {
	base := strings.TrimRight(serverURL, "/")
	return &Metadata{
		Issuer:                base,
		AuthorizationEndpoint: base + "/authorize",
		TokenEndpoint:         base + "/token",
		IntrospectionEndpoint: base + "/introspect",
		RevocationEndpoint:    base + "/revoke",
		CodeChallengeMethods:  []string{pkceMethodS256},
	}
}

// DiscoverMetadata fetches the server's metadata document. When no valid
// document is published it falls back to DefaultMetadata.
func DiscoverMetadata(ctx context.Context, serverURL string, logger *logging.Logger) (*Metadata, error) {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = metadataRequestTimeout
	return discoverMetadata(ctx, client, serverURL, logger)
}

func discoverMetadata(ctx context.Context, client *http.Client, serverURL string, logger *logging.Logger) (*Metadata, error) {
	endpoints, err := metadataEndpoints(serverURL)
	if err != nil {
		return nil, err
	}

	for i, endpoint := range endpoints {
		logger.InfoVerbose("Trying metadata endpoint (%d/%d): %s", i+1, len(endpoints), endpoint)

		metadata, err := fetchMetadata(ctx, client, endpoint)
		if err != nil {
			logger.WarningVerbose("Failed to fetch from %s: %v", endpoint, err)
			continue
		}
		if err := validateMetadata(metadata); err != nil {
			logger.WarningVerbose("Invalid metadata from %s: %v", endpoint, err)
			continue
		}

		metadata.Discovered = true
		if metadata.IntrospectionEndpoint == "" {
			metadata.IntrospectionEndpoint = strings.TrimRight(metadata.Issuer, "/") + "/introspect"
		}
		logger.InfoVerbose("Discovered server metadata from %s", endpoint)
		return metadata, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	logger.InfoVerbose("No metadata document found, using default endpoints for %s", serverURL)
	return DefaultMetadata(serverURL), nil
}

func metadataEndpoints(serverURL string) ([]string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return nil, fmt.Errorf("%w: server URL must be absolute: %q", ErrInvalidURL, serverURL)
	}
	base := fmt.Sprintf("%s://%s", parsed.Scheme, parsed.Host)
	return []string{
		base + "/.well-known/oauth-authorization-server",
		base + "/.well-known/openid-configuration",
	}, nil
}

func fetchMetadata(ctx context.Context, client *http.Client, metadataURL string) (*Metadata, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, metadataURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("request failed with status %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(strings.ToLower(contentType), "application/json") {
		return nil, fmt.Errorf("unexpected Content-Type: %s", contentType)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxMetadataSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(body)) >= maxMetadataSize {
		return nil, fmt.Errorf("response exceeds maximum size of %d bytes", maxMetadataSize)
	}

	var metadata Metadata
	if err := json.Unmarshal(body, &metadata); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &metadata, nil
}

func validateMetadata(m *Metadata) error {
	required := []struct {
		name  string
		value string
	}{
		{"issuer", m.Issuer},
		{"authorization_endpoint", m.AuthorizationEndpoint},
		{"token_endpoint", m.TokenEndpoint},
	}
	for _, f := range required {
		if f.value == "" {
			return fmt.Errorf("missing required field: %s", f.name)
		}
		parsed, err := url.Parse(f.value)
		if err != nil || !parsed.IsAbs() || parsed.Host == "" {
			return fmt.Errorf("%s must be an absolute URL: %s", f.name, f.value)
		}
		if parsed.Scheme != schemeHTTP && parsed.Scheme != schemeHTTPS {
			return fmt.Errorf("%s must use http or https scheme: %s", f.name, f.value)
		}
	}
	return nil
}
