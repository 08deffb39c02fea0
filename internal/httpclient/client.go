// Package httpclient owns the single outbound HTTP transport for the
// process. Every request handler, scraper, and upstream API call goes
// through one Client instance so connections are pooled and shutdown
// can release them deterministically.
package httpclient

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// DefaultTimeout bounds every outbound request unless a call overrides it.
const DefaultTimeout = 15 * time.Second

type Options struct {
	// ProxyURL routes ALL outbound traffic, regardless of destination
	// scheme, through the given endpoint. Empty disables proxying.
	ProxyURL string

	// Timeout overrides DefaultTimeout when > 0.
	Timeout time.Duration
}

// Client lazily builds one pooled *http.Client and hands it to all
// callers. Close releases the pool; the next use transparently builds
// a fresh handle, so requests racing a shutdown never see an error
// from a stale transport.
type Client struct {
	mu     sync.Mutex
	handle *http.Client

	timeout time.Duration
	proxy   *url.URL
}

// New returns an unopened Client. The underlying transport is not
// allocated until the first request or Handle call.
func New(opts Options) (*Client, error) {
	c := &Client{timeout: opts.Timeout}
	if c.timeout <= 0 {
		c.timeout = DefaultTimeout
	}
	if opts.ProxyURL != "" {
		u, err := url.Parse(opts.ProxyURL)
		if err != nil {
			return nil, err
		}
		c.proxy = u
	}
	return c, nil
}

// Handle returns the live *http.Client, constructing it on first use.
// Subsequent calls return the same handle until Close.
func (c *Client) Handle() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		c.handle = c.build()
	}
	return c.handle
}

func (c *Client) build() *http.Client {
	t := &http.Transport{
		// MaxIdleConns 0 means no global idle cap, matching the
		// unbounded pool the gateway has always run with. See
		// DESIGN.md before capping this.
		MaxIdleConns:        0,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if c.proxy != nil {
		// every scheme, not just the ones ProxyFromEnvironment covers
		t.Proxy = http.ProxyURL(c.proxy)
	}
	return &http.Client{
		Transport: t,
		Timeout:   c.timeout,
		// CheckRedirect nil: follow redirects with the default policy
	}
}

// Close releases the handle's idle connections and resets the Client
// to its unopened state. Safe to call when no handle exists, and safe
// to call repeatedly.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle == nil {
		return
	}
	c.handle.CloseIdleConnections()
	c.handle = nil
}

// RequestOption tweaks a single outbound request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	header  http.Header
	query   url.Values
	body    io.Reader
	timeout time.Duration
}

func WithHeader(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.header == nil {
			rc.header = make(http.Header)
		}
		rc.header.Set(key, value)
	}
}

func WithQuery(key, value string) RequestOption {
	return func(rc *requestConfig) {
		if rc.query == nil {
			rc.query = make(url.Values)
		}
		rc.query.Set(key, value)
	}
}

func WithBody(contentType string, body io.Reader) RequestOption {
	return func(rc *requestConfig) {
		rc.body = body
		if rc.header == nil {
			rc.header = make(http.Header)
		}
		rc.header.Set("Content-Type", contentType)
	}
}

// WithTimeout bounds this one request more tightly than the client default.
func WithTimeout(d time.Duration) RequestOption {
	return func(rc *requestConfig) { rc.timeout = d }
}

// Get issues a GET through the shared handle.
func (c *Client) Get(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, opts...)
}

// Post issues a POST through the shared handle.
func (c *Client) Post(ctx context.Context, rawURL string, opts ...RequestOption) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, rawURL, opts...)
}

func (c *Client) do(ctx context.Context, method, rawURL string, opts ...RequestOption) (*http.Response, error) {
	var rc requestConfig
	for _, o := range opts {
		o(&rc)
	}

	if rc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rc.timeout)
		// the response body must outlive this function; tie the
		// cancel to context expiry instead of deferring it here
		go func() {
			<-ctx.Done()
			cancel()
		}()
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, rc.body)
	if err != nil {
		return nil, err
	}
	if len(rc.query) > 0 {
		q := req.URL.Query()
		for k, vs := range rc.query {
			for _, v := range vs {
				q.Set(k, v)
			}
		}
		req.URL.RawQuery = q.Encode()
	}
	for k, vs := range rc.header {
		for _, v := range vs {
			req.Header.Set(k, v)
		}
	}

	return c.Handle().Do(req)
}
