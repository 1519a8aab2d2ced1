package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-cleanhttp"

	"github.com/auth-agent/auth-agent-cli/internal/logging"
)

// Response is a fully read HTTP response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports a 2xx status.
func (r *Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// DecodeJSON unmarshals the body into v.
func (r *Response) DecodeJSON(v interface{}) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Transport performs the flow's HTTP calls. An error means no response was
// received; non-2xx replies are returned as a Response.
type Transport interface {
	PostJSON(ctx context.Context, url string, body interface{}) (*Response, error)
	Get(ctx context.Context, url string, accept string) (*Response, error)
}

// RestyTransport implements Transport on go-resty.
type RestyTransport struct {
	client *resty.Client
	logger *logging.Logger
}

// NewRestyTransport builds a resty client over a pooled transport.
func NewRestyTransport(timeout time.Duration, userAgent string, logger *logging.Logger) *RestyTransport {
	client := resty.New().
		SetTransport(cleanhttp.DefaultPooledTransport()).
		SetTimeout(timeout)
	// resty fills in its own User-Agent when none is set on the client
	if userAgent != "" {
		client.SetHeader(headerUserAgent, userAgent)
	}
	return NewRestyTransportWithClient(client, logger)
}

// NewRestyTransportWithClient wraps an existing resty client.
func NewRestyTransportWithClient(client *resty.Client, logger *logging.Logger) *RestyTransport {
	return &RestyTransport{client: client, logger: logger}
}

// PostJSON sends body as JSON.
func (t *RestyTransport) PostJSON(ctx context.Context, url string, body interface{}) (*Response, error) {
	t.logger.Request(http.MethodPost, url, body)
	resp, err := t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader(headerContentType, contentTypeJSON).
		SetHeader(headerAccept, contentTypeJSON).
		SetBody(body).
		Post(url)
	if err != nil {
		return nil, err
	}
	return t.finish(http.MethodPost, url, resp)
}

// Get fetches url.
func (t *RestyTransport) Get(ctx context.Context, url string, accept string) (*Response, error) {
	t.logger.Request(http.MethodGet, url, nil)
	resp, err := t.client.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		SetHeader(headerAccept, accept).
		Get(url)
	if err != nil {
		return nil, err
	}
	return t.finish(http.MethodGet, url, resp)
}

// finish reads the unparsed body through the same size cap as HTTPTransport.
func (t *RestyTransport) finish(method, url string, resp *resty.Response) (*Response, error) {
	raw := resp.RawBody()
	if raw == nil {
		return nil, fmt.Errorf("no response body from %s", url)
	}
	defer func() { _ = raw.Close() }()

	body, err := readLimited(raw)
	if err != nil {
		return nil, err
	}
	t.logger.Response(method, url, resp.StatusCode(), body)
	return &Response{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header(),
		Body:       body,
	}, nil
}

// HTTPTransport implements Transport on net/http.
type HTTPTransport struct {
	client *http.Client
	logger *logging.Logger
}

// NewHTTPTransport builds a net/http client with a pooled transport.
func NewHTTPTransport(timeout time.Duration, userAgent string, logger *logging.Logger) *HTTPTransport {
	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout
	client.Transport = newUserAgentRoundTripper(userAgent, client.Transport)
	return NewHTTPTransportWithClient(client, logger)
}

// NewHTTPTransportWithClient wraps an existing http.Client.
func NewHTTPTransportWithClient(client *http.Client, logger *logging.Logger) *HTTPTransport {
	return &HTTPTransport{client: client, logger: logger}
}

// PostJSON sends body as JSON.
func (t *HTTPTransport) PostJSON(ctx context.Context, url string, body interface{}) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerContentType, contentTypeJSON)
	req.Header.Set(headerAccept, contentTypeJSON)

	t.logger.Request(http.MethodPost, url, payload)
	return t.do(req)
}

// Get fetches url.
func (t *HTTPTransport) Get(ctx context.Context, url string, accept string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set(headerAccept, accept)

	t.logger.Request(http.MethodGet, url, nil)
	return t.do(req)
}

func (t *HTTPTransport) do(req *http.Request) (*Response, error) {
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, err
	}

	t.logger.Response(req.Method, req.URL.String(), resp.StatusCode, body)
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}

func readLimited(r io.Reader) ([]byte, error) {
	// Read one byte past the limit to detect truncation
	body, err := io.ReadAll(io.LimitReader(r, maxResponseSize+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if len(body) > maxResponseSize {
		return nil, fmt.Errorf("response exceeds maximum size of %d bytes", maxResponseSize)
	}
	return body, nil
}
