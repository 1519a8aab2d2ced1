package agent

import (
	"context"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/gocolly/colly/v2"
)

const acceptHTML = "text/html,application/xhtml+xml"

// PageFetcher retrieves the source of an authorization page.
type PageFetcher interface {
	Fetch(ctx context.Context, pageURL string) (string, error)
}

// TransportPageFetcher fetches pages with a plain GET through a Transport.
type TransportPageFetcher struct {
	transport Transport
}

// NewTransportPageFetcher returns a fetcher sharing the session transport.
func NewTransportPageFetcher(t Transport) *TransportPageFetcher {
	return &TransportPageFetcher{transport: t}
}

// Fetch implements PageFetcher.
func (f *TransportPageFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	resp, err := f.transport.Get(ctx, pageURL, acceptHTML)
	if err != nil {
		return "", newFlowError(ErrFetch, err, "failed to fetch %s", pageURL)
	}
	if !resp.OK() {
		fe := newFlowError(ErrFetch, nil, "failed to fetch authorization page: HTTP %d", resp.StatusCode)
		fe.StatusCode = resp.StatusCode
		return "", fe
	}
	return string(resp.Body), nil
}

// CollyPageFetcher fetches pages with a colly collector restricted to
// AllowedDomains when set.
type CollyPageFetcher struct {
	AllowedDomains []string
	UserAgent      string
	Timeout        time.Duration
}

// Fetch implements PageFetcher.
func (f *CollyPageFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	opts := []colly.CollectorOption{colly.UserAgent(f.userAgent())}
	if len(f.AllowedDomains) > 0 {
		opts = append(opts, colly.AllowedDomains(f.AllowedDomains...))
	}
	c := colly.NewCollector(opts...)
	c.SetRequestTimeout(f.timeout(ctx))

	var (
		body     string
		fetchErr error
	)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set(headerAccept, acceptHTML)
	})
	c.OnResponse(func(r *colly.Response) {
		body = string(r.Body)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			fe := newFlowError(ErrFetch, err, "failed to fetch authorization page: HTTP %d", r.StatusCode)
			fe.StatusCode = r.StatusCode
			fetchErr = fe
			return
		}
		fetchErr = newFlowError(ErrFetch, err, "failed to fetch %s", pageURL)
	})

	if err := c.Visit(pageURL); err != nil && fetchErr == nil {
		fetchErr = newFlowError(ErrFetch, err, "failed to fetch %s", pageURL)
	}
	if fetchErr != nil {
		return "", fetchErr
	}
	return body, nil
}

func (f *CollyPageFetcher) userAgent() string {
	if f.UserAgent == "" {
		return DefaultUserAgent
	}
	return f.UserAgent
}

// timeout honours the context deadline when it is sooner than Timeout.
func (f *CollyPageFetcher) timeout(ctx context.Context) time.Duration {
	d := f.Timeout
	if d <= 0 {
		d = DefaultRequestTimeout
	}
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < d {
			d = remaining
		}
	}
	return d
}

// BrowserPageFetcher renders pages in headless Chrome, for authorization
// pages that only expose the request id after scripts run.
type BrowserPageFetcher struct {
	// ControlURL is a DevTools websocket URL of a running browser. A local
	// headless browser is launched per fetch when empty.
	ControlURL string

	Timeout time.Duration
}

// Fetch implements PageFetcher.
func (f *BrowserPageFetcher) Fetch(ctx context.Context, pageURL string) (string, error) {
	if _, err := url.ParseRequestURI(pageURL); err != nil {
		return "", newFlowError(ErrInvalidURL, err, "invalid page URL %q", pageURL)
	}

	controlURL := f.ControlURL
	launched := false
	if controlURL == "" {
		l := launcher.New().NoSandbox(true).Headless(true)
		u, err := l.Launch()
		if err != nil {
			return "", newFlowError(ErrConfiguration, err, "headless browser is not available")
		}
		defer l.Kill()
		controlURL = u
		launched = true
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		return "", newFlowError(ErrConfiguration, err, "cannot connect to browser at %s", controlURL)
	}
	if launched {
		defer func() { _ = browser.Close() }()
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return "", newFlowError(ErrFetch, err, "failed to open browser page")
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	page = page.Timeout(timeout)
	defer func() { _ = page.Close() }()

	if err := page.Navigate(pageURL); err != nil {
		return "", newFlowError(ErrFetch, err, "failed to load %s", pageURL)
	}
	if err := page.WaitLoad(); err != nil {
		return "", newFlowError(ErrFetch, err, "page %s did not finish loading", pageURL)
	}

	html, err := page.HTML()
	if err != nil {
		return "", newFlowError(ErrFetch, err, "failed to read rendered page")
	}
	return html, nil
}

// NewPageFetcher selects a fetcher by name: "http", "colly" or "browser".
// The "http" fetcher reuses transport.
func NewPageFetcher(kind string, cfg FlowConfig, transport Transport, browserControlURL string) (PageFetcher, error) {
	switch kind {
	case "", "http":
		return NewTransportPageFetcher(transport), nil
	case "colly":
		return &CollyPageFetcher{
			AllowedDomains: cfg.AllowedHosts,
			UserAgent:      cfg.UserAgent,
			Timeout:        cfg.RequestTimeout,
		}, nil
	case "browser":
		return &BrowserPageFetcher{
			ControlURL: browserControlURL,
			Timeout:    cfg.RequestTimeout,
		}, nil
	default:
		return nil, newFlowError(ErrConfiguration, nil, "unknown page fetcher %q (want http, colly or browser)", kind)
	}
}

// NewTransport selects a transport by name: "resty" or "http".
func NewTransport(kind string, cfg FlowConfig) (Transport, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	switch kind {
	case "", "resty":
		return NewRestyTransport(timeout, userAgent, cfg.Logger), nil
	case "http":
		return NewHTTPTransport(timeout, userAgent, cfg.Logger), nil
	default:
		return nil, newFlowError(ErrConfiguration, nil, "unknown transport %q (want resty or http)", kind)
	}
}
