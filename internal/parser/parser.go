// Package parser resolves HLS playlists into ordered segment lists.
package parser

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"

	"github.com/agleyzer/fansone-dl/internal/segment"
	"github.com/agleyzer/fansone-dl/internal/variant"
	"github.com/grafov/m3u8"
)

const streamInfTag = "#EXT-X-STREAM-INF"

// Document is a parsed playlist.
type Document struct {
	// URL is the playlist's own URL, the base for relative references
	URL string

	// Segments are absolute segment URLs in playlist order
	Segments []segment.Segment

	// NestedURL is the variant playlist a master playlist points to
	NestedURL string

	// Variant holds the attributes of NestedURL when the playlist
	// declared them with #EXT-X-STREAM-INF
	Variant *variant.Variant

	// TargetDuration is the media playlist's target duration in seconds
	TargetDuration int

	// Encrypted reports an #EXT-X-KEY with a method other than NONE
	Encrypted bool
}

// TextFetcher fetches a playlist body, retrying transient failures.
type TextFetcher interface {
	GetText(ctx context.Context, url string) (string, error)
}

// Resolver fetches and parses playlists.
type Resolver struct {
	client TextFetcher
	logger *slog.Logger
}

// NewResolver creates a Resolver that fetches through client.
func NewResolver(client TextFetcher, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = discard
	}
	return &Resolver{client: client, logger: logger}
}

// Resolve fetches and parses the playlist at playlistURL without following
// nested playlists.
func (r *Resolver) Resolve(ctx context.Context, playlistURL string) (*Document, error) {
	body, err := r.client.GetText(ctx, playlistURL)
	if err != nil {
		return nil, &FetchError{URL: playlistURL, Err: err}
	}

	doc, err := Parse(body, playlistURL)
	if err != nil {
		return nil, err
	}
	r.enrich(doc, body)
	return doc, nil
}

// ResolveSegments resolves playlistURL and, when it yields no segments but
// references a nested playlist, resolves that one level deeper and adopts
// its segments.
func (r *Resolver) ResolveSegments(ctx context.Context, playlistURL string) (*Document, error) {
	doc, err := r.Resolve(ctx, playlistURL)
	if err != nil {
		return nil, err
	}
	if len(doc.Segments) > 0 || doc.NestedURL == "" {
		return doc, nil
	}

	r.logger.Debug("following nested playlist", "url", doc.NestedURL)
	nested, err := r.Resolve(ctx, doc.NestedURL)
	if err != nil {
		return nil, err
	}
	if len(nested.Segments) == 0 {
		return nil, &ParseError{URL: doc.NestedURL, Reason: "nested playlist contains no segments"}
	}
	if nested.Variant == nil {
		nested.Variant = doc.Variant
	}
	return nested, nil
}

// Parse scans playlist content line by line. A #EXT-X-STREAM-INF tag makes
// the next non-comment line a nested playlist reference. A bare .m3u8 line
// seen before any segment is also a nested reference. Every other
// non-comment line is a segment.
func Parse(content, baseURL string) (*Document, error) {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	doc := &Document{URL: baseURL}
	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, streamInfTag) {
			if i+1 < len(lines) && !strings.HasPrefix(lines[i+1], "#") {
				nested, err := resolveURL(baseURL, lines[i+1])
				if err != nil {
					return nil, &ParseError{URL: baseURL, Reason: "bad variant reference", Err: err}
				}
				doc.NestedURL = nested
				i++
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}

		ref, err := resolveURL(baseURL, line)
		if err != nil {
			return nil, &ParseError{URL: baseURL, Reason: "bad segment reference", Err: err}
		}
		if strings.HasSuffix(line, ".m3u8") && len(doc.Segments) == 0 && doc.NestedURL == "" {
			doc.NestedURL = ref
			continue
		}

		doc.Segments = append(doc.Segments, segment.Segment{
			URL:      ref,
			Sequence: len(doc.Segments),
		})
	}

	if len(doc.Segments) == 0 && doc.NestedURL == "" {
		return nil, &ParseError{URL: baseURL, Reason: "playlist contains no segments"}
	}

	return doc, nil
}

// enrich adds durations and variant attributes decoded by m3u8. The line
// scan stays authoritative; decode failures only lose metadata.
func (r *Resolver) enrich(doc *Document, body string) {
	playlist, listType, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil {
		r.logger.Debug("playlist metadata unavailable", "url", doc.URL, "error", err)
		return
	}

	switch listType {
	case m3u8.MASTER:
		master, ok := playlist.(*m3u8.MasterPlaylist)
		if !ok {
			return
		}
		for _, v := range master.Variants {
			if v == nil {
				continue
			}
			variantURL, err := resolveURL(doc.URL, v.URI)
			if err != nil || variantURL != doc.NestedURL {
				continue
			}
			doc.Variant = &variant.Variant{
				Bandwidth:   int(v.Bandwidth),
				Resolution:  v.Resolution,
				Codecs:      v.Codecs,
				PlaylistURL: variantURL,
			}
		}

	case m3u8.MEDIA:
		media, ok := playlist.(*m3u8.MediaPlaylist)
		if !ok {
			return
		}
		doc.TargetDuration = int(media.TargetDuration)
		if media.Key != nil && media.Key.Method != "" && media.Key.Method != "NONE" {
			doc.Encrypted = true
		}

		var decoded []*m3u8.MediaSegment
		for _, seg := range media.Segments {
			if seg == nil {
				break
			}
			if seg.Key != nil && seg.Key.Method != "" && seg.Key.Method != "NONE" {
				doc.Encrypted = true
			}
			decoded = append(decoded, seg)
		}
		if len(decoded) != len(doc.Segments) {
			return
		}
		for i, seg := range decoded {
			doc.Segments[i].Duration = seg.Duration
		}
	}
}

// resolveURL resolves a possibly relative URL against a base URL.
func resolveURL(baseURL, relativeURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}

	rel, err := url.Parse(relativeURL)
	if err != nil {
		return "", fmt.Errorf("invalid relative URL: %w", err)
	}

	// Resolve the relative URL against the base
	resolved := base.ResolveReference(rel)
	return resolved.String(), nil
}

// discard is used where a caller passes no logger.
var discard = slog.New(slog.NewTextHandler(io.Discard, nil))
