// Package source turns a post's video reference into a playable HLS
// playlist URL.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

const (
	DomainVideo5    = "video5.fansone.co"
	DomainVideo7    = "video7.fansone.co"
	DomainVideo9194 = "video9194.fansone.co"

	// signedDomain is the domain parameter the signing API expects.
	signedDomain = "video9194"

	tokenPrefix = "bcdn_token="
)

// Post identifies a video on the platform.
type Post struct {
	ID     string
	Video  string
	Domain string
}

// SignedURLProvider returns a signed playlist URL for a video.
type SignedURLProvider interface {
	SignedURL(ctx context.Context, videoID, domain string) (string, error)
}

// Resolver picks the playlist URL for a post based on its storage domain.
type Resolver struct {
	signer SignedURLProvider
	logger *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(signer SignedURLProvider, logger *slog.Logger) *Resolver {
	return &Resolver{signer: signer, logger: logger}
}

// PlaylistURL returns the master playlist URL for p.
func (r *Resolver) PlaylistURL(ctx context.Context, p Post) (string, error) {
	switch p.Domain {
	case DomainVideo7:
		return fmt.Sprintf("https://%s/%s/%s/master.m3u8", p.Domain, p.Domain, p.Video), nil
	case DomainVideo5:
		return fmt.Sprintf("https://%s/%s/master.m3u8", p.Domain, p.Video), nil
	case DomainVideo9194:
		return r.sign(ctx, p)
	}

	signed, err := r.sign(ctx, p)
	if err != nil {
		return "", err
	}

	fixed := FixSignedURL(signed)
	if fixed != signed {
		r.logger.Debug("corrected signed url", "video_id", p.ID, "url", fixed)
	}

	actual := SubstituteHost(fixed, p.Domain)
	if actual != fixed {
		r.logger.Debug("using storage domain", "video_id", p.ID, "url", actual)
	}
	return actual, nil
}

func (r *Resolver) sign(ctx context.Context, p Post) (string, error) {
	if r.signer == nil {
		return "", fmt.Errorf("domain %q requires a signed url", p.Domain)
	}
	u, err := r.signer.SignedURL(ctx, p.Video, signedDomain)
	if err != nil {
		return "", fmt.Errorf("signed url for video %s: %w", p.Video, err)
	}
	return u, nil
}

// FixSignedURL moves signing parameters that were placed in the first path
// segment into the query string:
//
//	https://h/bcdn_token=A&token_path=B/vid/playlist.m3u8
//	https://h/vid/playlist.m3u8?bcdn_token=A&token_path=B
//
// Well-formed or unparsable URLs are returned unchanged.
func FixSignedURL(raw string) string {
	if !strings.Contains(raw, "/"+tokenPrefix) {
		return raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	parts := strings.Split(u.EscapedPath(), "/")
	if len(parts) < 2 || !strings.HasPrefix(parts[1], tokenPrefix) {
		return raw
	}

	return fmt.Sprintf("%s://%s/%s?%s", u.Scheme, u.Host, strings.Join(parts[2:], "/"), parts[1])
}

// SubstituteHost replaces the signing host with domain, where the video is
// actually stored.
func SubstituteHost(raw, domain string) string {
	if domain == "" || domain == DomainVideo9194 {
		return raw
	}
	return strings.Replace(raw, DomainVideo9194, domain, 1)
}
