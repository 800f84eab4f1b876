// Package httpclient provides the HTTP transport shared by playlist and
// segment downloads: browser-like request headers and a small exponential
// retry helper.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const (
	// DefaultUserAgent mimics a desktop browser; the origin rejects bare clients.
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/144.0.0.0 Safari/537.36 Edg/144.0.0.0"

	// DefaultReferer is the origin platform's site URL.
	DefaultReferer = "https://fansone.co/"
)

// StatusError reports a non-2xx HTTP response.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: HTTP %d", e.URL, e.StatusCode)
}

// Options configures a Client.
type Options struct {
	UserAgent string
	Referer   string
	Cookie    string
	Timeout   time.Duration
	Retry     RetryPolicy
	Logger    *slog.Logger
}

// Client performs GET requests with the configured headers.
type Client struct {
	http    *http.Client
	headers http.Header
	retry   RetryPolicy
	logger  *slog.Logger
}

// New creates a Client. Zero-valued options fall back to defaults.
func New(opts Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Referer == "" {
		opts.Referer = DefaultReferer
	}
	if opts.Timeout == 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = DefaultRetryPolicy
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	headers := make(http.Header)
	headers.Set("User-Agent", opts.UserAgent)
	headers.Set("Referer", opts.Referer)
	if opts.Cookie != "" {
		headers.Set("Cookie", opts.Cookie)
	}

	return &Client{
		http:    &http.Client{Timeout: opts.Timeout},
		headers: headers,
		retry:   opts.Retry,
		logger:  opts.Logger,
	}
}

// RetryPolicy returns the client's retry policy.
func (c *Client) RetryPolicy() RetryPolicy {
	return c.retry
}

// Get issues a single GET request. Non-2xx responses are returned as
// *StatusError with the body already closed.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range c.headers {
		req.Header[k] = v
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

// GetText fetches url and returns its body, retrying per the client's policy.
func (c *Client) GetText(ctx context.Context, url string) (string, error) {
	var body string
	err := c.retry.Do(ctx, func(attempt int) error {
		resp, err := c.Get(ctx, url)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		body = string(data)
		return nil
	}, func(attempt int, wait time.Duration, err error) {
		c.logger.Warn("request failed, retrying",
			"url", url,
			"attempt", attempt,
			"attempts", c.retry.Attempts,
			"wait", wait,
			"error", err,
		)
	})
	return body, err
}
