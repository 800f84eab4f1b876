package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
)

// DefaultAPIBase is the platform API root.
const DefaultAPIBase = "https://fansone.co/api"

// ErrSignedURL is returned when the API answers without a usable URL.
var ErrSignedURL = errors.New("signed url request rejected")

// TextGetter fetches a URL body with retries.
type TextGetter interface {
	GetText(ctx context.Context, url string) (string, error)
}

// SignedURLClient asks the platform API for signed playlist URLs. The
// session cookie is carried by the underlying client.
type SignedURLClient struct {
	base   string
	client TextGetter
}

// NewSignedURLClient creates a client for the API rooted at base.
func NewSignedURLClient(base string, client TextGetter) *SignedURLClient {
	if base == "" {
		base = DefaultAPIBase
	}
	return &SignedURLClient{base: base, client: client}
}

type signedURLResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
}

// SignedURL implements SignedURLProvider.
func (c *SignedURLClient) SignedURL(ctx context.Context, videoID, domain string) (string, error) {
	q := url.Values{}
	q.Set("videoId", videoID)
	q.Set("domain", domain)
	endpoint := c.base + "/bunny/signed-url?" + q.Encode()

	body, err := c.client.GetText(ctx, endpoint)
	if err != nil {
		return "", err
	}

	var resp signedURLResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return "", fmt.Errorf("decode signed url response: %w", err)
	}
	if !resp.Success || resp.URL == "" {
		return "", ErrSignedURL
	}
	return resp.URL, nil
}
