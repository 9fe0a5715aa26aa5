// Package http builds the outbound HTTP clients roomgraph uses to poll feeds.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"roomgraph/internal/common/errors"
)

// ClientConfig holds HTTP client configuration
type ClientConfig struct {
	Timeout             time.Duration
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
	UserAgent           string
	// MaxBodySize bounds the bytes Get reads; zero means unbounded
	MaxBodySize int64
	Transport   http.RoundTripper
}

// DefaultClientConfig returns default HTTP client configuration
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:             30 * time.Second,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		UserAgent:           "roomgraph",
		MaxBodySize:         32 << 20,
	}
}

// ClientOption is a function that modifies ClientConfig
type ClientOption func(*ClientConfig)

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.Timeout = timeout
	}
}

func WithMaxIdleConns(max int) ClientOption {
	return func(c *ClientConfig) {
		c.MaxIdleConns = max
	}
}

func WithUserAgent(userAgent string) ClientOption {
	return func(c *ClientConfig) {
		c.UserAgent = userAgent
	}
}

func WithMaxBodySize(size int64) ClientOption {
	return func(c *ClientConfig) {
		c.MaxBodySize = size
	}
}

// WithTransport sets a custom transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *ClientConfig) {
		c.Transport = transport
	}
}

// Client is an http.Client that remembers its request defaults
type Client struct {
	*http.Client
	config ClientConfig
}

// NewHTTPClient creates a new HTTP client with the given options
func NewHTTPClient(opts ...ClientOption) *Client {
	cfg := DefaultClientConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	transport := cfg.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		}
	}

	return &Client{
		Client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
		config: cfg,
	}
}

// Get fetches url and returns the body of a 2xx response. Network failures
// and error statuses come back as connection errors, a ctx deadline as a
// timeout error.
func (c *Client) Get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("invalid request URL: %v", err))
	}
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	resp, err := c.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.TimeoutError("GET " + url)
		}
		return nil, errors.ConnectionError("request failed", err)
	}
	defer resp.Body.Close()

	var body io.Reader = resp.Body
	if c.config.MaxBodySize > 0 {
		body = io.LimitReader(resp.Body, c.config.MaxBodySize)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, body)
		return nil, errors.ConnectionError(fmt.Sprintf("unexpected status %d", resp.StatusCode), nil).
			WithContext("status_code", resp.StatusCode).
			WithContext("url", url)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		return nil, errors.ConnectionError("failed to read response body", err)
	}
	return data, nil
}
