package parser

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agleyzer/fansone-dl/internal/httpclient"
)

func newTestResolver() *Resolver {
	client := httpclient.New(httpclient.Options{
		Retry: httpclient.RetryPolicy{
			Attempts:  3,
			BaseDelay: time.Millisecond,
		},
	})
	return NewResolver(client, nil)
}

func serve(t *testing.T, routes map[string]string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := routes[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/vnd.apple.mpegurl")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestResolve_MediaPlaylist(t *testing.T) {
	server := serve(t, map[string]string{
		"/vid/playlist.m3u8": `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:10
#EXTINF:9.9,
segment001.ts
#EXTINF:10.0,
segment002.ts
#EXTINF:10.1,
https://cdn.example.com/segment003.ts
#EXT-X-ENDLIST
`,
	})

	doc, err := newTestResolver().Resolve(context.Background(), server.URL+"/vid/playlist.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(doc.Segments) != 3 {
		t.Fatalf("Expected 3 segments, got %d", len(doc.Segments))
	}

	want := []string{
		server.URL + "/vid/segment001.ts",
		server.URL + "/vid/segment002.ts",
		"https://cdn.example.com/segment003.ts",
	}
	for i, seg := range doc.Segments {
		if seg.URL != want[i] {
			t.Errorf("Segment %d: expected %s, got %s", i, want[i], seg.URL)
		}
		if seg.Sequence != i {
			t.Errorf("Segment %d: expected sequence %d, got %d", i, i, seg.Sequence)
		}
	}

	if doc.NestedURL != "" {
		t.Errorf("Expected no nested URL, got %s", doc.NestedURL)
	}
	if doc.TargetDuration != 10 {
		t.Errorf("Expected target duration 10, got %d", doc.TargetDuration)
	}
	if doc.Segments[0].Duration != 9.9 {
		t.Errorf("Expected first segment duration 9.9, got %f", doc.Segments[0].Duration)
	}
}

func TestResolve_MasterPlaylistThenVariant(t *testing.T) {
	server := serve(t, map[string]string{
		"/vid/master.m3u8": `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720
720p/video.m3u8
`,
		"/vid/720p/video.m3u8": `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXTINF:4.0,
video0.ts
#EXTINF:4.0,
video1.ts
#EXT-X-ENDLIST
`,
	})
	r := newTestResolver()

	top, err := r.Resolve(context.Background(), server.URL+"/vid/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(top.Segments) != 0 {
		t.Errorf("Expected 0 top-level segments, got %d", len(top.Segments))
	}
	wantNested := server.URL + "/vid/720p/video.m3u8"
	if top.NestedURL != wantNested {
		t.Fatalf("Expected nested URL %s, got %s", wantNested, top.NestedURL)
	}

	nested, err := r.Resolve(context.Background(), top.NestedURL)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(nested.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(nested.Segments))
	}
	if nested.Segments[1].URL != server.URL+"/vid/720p/video1.ts" {
		t.Errorf("Unexpected segment URL %s", nested.Segments[1].URL)
	}

	doc, err := r.ResolveSegments(context.Background(), server.URL+"/vid/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(doc.Segments) != 2 {
		t.Errorf("Expected nested segments to be adopted, got %d", len(doc.Segments))
	}
	if doc.Variant == nil || doc.Variant.Resolution != "1280x720" {
		t.Errorf("Expected variant resolution 1280x720, got %+v", doc.Variant)
	}
}

func TestParse_BareNestedReference(t *testing.T) {
	doc, err := Parse("#EXTM3U\nindex.m3u8\n", "https://example.com/a/master.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if doc.NestedURL != "https://example.com/a/index.m3u8" {
		t.Errorf("Unexpected nested URL %s", doc.NestedURL)
	}
}

func TestParse_MixedDocumentSegmentsWin(t *testing.T) {
	content := `#EXTM3U
#EXT-X-STREAM-INF:BANDWIDTH=1
#comment between tag and uri
#EXTINF:2.0,
a.ts
#EXT-X-STREAM-INF:BANDWIDTH=2
other.m3u8
#EXTINF:2.0,
b.ts
`
	doc, err := Parse(content, "https://example.com/x/list.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if len(doc.Segments) != 2 {
		t.Fatalf("Expected 2 segments, got %d", len(doc.Segments))
	}
	if doc.Segments[0].URL != "https://example.com/x/a.ts" || doc.Segments[1].URL != "https://example.com/x/b.ts" {
		t.Errorf("Unexpected segments %+v", doc.Segments)
	}
	if doc.NestedURL != "https://example.com/x/other.m3u8" {
		t.Errorf("Expected nested reference to be recorded, got %q", doc.NestedURL)
	}
}

func TestParse_M3U8LineAfterSegmentIsSegment(t *testing.T) {
	doc, err := Parse("a.ts\nb.m3u8\n", "https://example.com/list.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(doc.Segments) != 2 || doc.NestedURL != "" {
		t.Errorf("Expected 2 segments and no nested URL, got %d and %q", len(doc.Segments), doc.NestedURL)
	}
}

func TestParse_CRLF(t *testing.T) {
	doc, err := Parse("#EXTM3U\r\n#EXTINF:1,\r\n  seg.ts  \r\n\r\n", "http://h/p/l.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(doc.Segments) != 1 || doc.Segments[0].URL != "http://h/p/seg.ts" {
		t.Errorf("Unexpected segments %+v", doc.Segments)
	}
}

func TestResolve_EmptyPlaylist(t *testing.T) {
	server := serve(t, map[string]string{
		"/empty.m3u8": "#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-ENDLIST\n",
	})

	_, err := newTestResolver().Resolve(context.Background(), server.URL+"/empty.m3u8")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected *ParseError, got %v", err)
	}
}

func TestResolve_HTTPError(t *testing.T) {
	server := serve(t, map[string]string{})

	_, err := newTestResolver().Resolve(context.Background(), server.URL+"/missing.m3u8")
	var fetchErr *FetchError
	if !errors.As(err, &fetchErr) {
		t.Fatalf("Expected *FetchError, got %v", err)
	}
	var statusErr *httpclient.StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		t.Errorf("Expected wrapped HTTP 404, got %v", err)
	}
}

func TestResolveSegments_NestedWithoutSegments(t *testing.T) {
	server := serve(t, map[string]string{
		"/master.m3u8": "#EXT-X-STREAM-INF:BANDWIDTH=1\nchild.m3u8\n",
		"/child.m3u8":  "#EXT-X-STREAM-INF:BANDWIDTH=1\ngrandchild.m3u8\n",
	})

	_, err := newTestResolver().ResolveSegments(context.Background(), server.URL+"/master.m3u8")
	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected *ParseError for nested playlist without segments, got %v", err)
	}
}

func TestResolve_EncryptedPlaylist(t *testing.T) {
	server := serve(t, map[string]string{
		"/enc.m3u8": `#EXTM3U
#EXT-X-TARGETDURATION:4
#EXT-X-KEY:METHOD=AES-128,URI="key.bin"
#EXTINF:4.0,
s0.ts
#EXT-X-ENDLIST
`,
	})

	doc, err := newTestResolver().Resolve(context.Background(), server.URL+"/enc.m3u8")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !doc.Encrypted {
		t.Error("Expected playlist to be flagged as encrypted")
	}
}

func TestResolveURL(t *testing.T) {
	tests := []struct {
		name        string
		baseURL     string
		relativeURL string
		expected    string
		shouldError bool
	}{
		{
			name:        "relative path",
			baseURL:     "http://example.com/path/playlist.m3u8",
			relativeURL: "segment.ts",
			expected:    "http://example.com/path/segment.ts",
		},
		{
			name:        "absolute URL",
			baseURL:     "http://example.com/playlist.m3u8",
			relativeURL: "https://cdn.example.com/segment.ts",
			expected:    "https://cdn.example.com/segment.ts",
		},
		{
			name:        "root relative path",
			baseURL:     "http://example.com/path/playlist.m3u8",
			relativeURL: "/segments/segment.ts",
			expected:    "http://example.com/segments/segment.ts",
		},
		{
			name:        "signed query kept on base",
			baseURL:     "https://video5.fansone.co/vid/playlist.m3u8?bcdn_token=AAA",
			relativeURL: "720p/video.m3u8",
			expected:    "https://video5.fansone.co/vid/720p/video.m3u8",
		},
		{
			name:        "invalid relative URL",
			baseURL:     "http://example.com/",
			relativeURL: "http://[::1",
			shouldError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := resolveURL(tt.baseURL, tt.relativeURL)
			if tt.shouldError && err == nil {
				t.Fatal("Expected error, got nil")
			}
			if !tt.shouldError && err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !tt.shouldError && result != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, result)
			}
		})
	}
}
