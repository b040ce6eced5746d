package cmsapi

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/quillpress/quillctl/pkg/slogx"
	"golang.org/x/time/rate"
)

// Client is a stateless client for the Quill CMS identity API. Methods that
// act on behalf of a user take the bearer token explicitly; the client
// never stores one.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client

	// limiter, when set, throttles every outbound request. Login and
	// refresh are the endpoints worth protecting from tight retry loops,
	// and they dominate this client's traffic.
	limiter *rate.Limiter
}

// Option customizes Client construction.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client (custom timeout,
// transport, test doubles).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// WithTimeout sets the request timeout on the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.HTTPClient.Timeout = d
		}
	}
}

// WithLogger wraps the client transport with structured request logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger == nil {
			return
		}
		c.HTTPClient.Transport = slogx.NewTransport(c.HTTPClient.Transport, logger)
	}
}

// WithRateLimit throttles outbound requests to limit requests/sec with the
// given burst.
func WithRateLimit(limit rate.Limit, burst int) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(limit, burst)
	}
}

// New creates a Client for the API rooted at baseURL (e.g.
// "https://cms.example.com/api").
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	return c
}
