// Package integration provides integration testing utilities for fansone-dl.
package integration

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/asticode/go-astits"

	"github.com/agleyzer/fansone-dl/internal/fetch"
	"github.com/agleyzer/fansone-dl/internal/httpclient"
	"github.com/agleyzer/fansone-dl/internal/parser"
	"github.com/agleyzer/fansone-dl/internal/pipeline"
	"github.com/agleyzer/fansone-dl/internal/playlist"
	"github.com/agleyzer/fansone-dl/internal/progress"
	"github.com/agleyzer/fansone-dl/internal/remux"
	"github.com/agleyzer/fansone-dl/internal/segment"
)

// TestHarness runs a fake origin and an in-process pipeline.
type TestHarness struct {
	t          *testing.T
	httpServer *http.Server
	httpPort   int
	originDir  string
	workDir    string
	requests   atomic.Int64
	segmentReq atomic.Int64

	mu      sync.Mutex
	headers []http.Header

	Repo *progress.FileStore
}

// NewTestHarness creates a new test harness.
func NewTestHarness(t *testing.T) *TestHarness {
	t.Helper()

	work := t.TempDir()
	h := &TestHarness{
		t:         t,
		httpPort:  findAvailablePort(t),
		originDir: t.TempDir(),
		workDir:   work,
	}
	h.Repo = progress.NewFileStore(filepath.Join(work, "data.json"), testLogger())
	return h
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// OriginURL returns the URL of a file on the fake origin.
func (h *TestHarness) OriginURL(name string) string {
	return fmt.Sprintf("http://localhost:%d/%s", h.httpPort, name)
}

// StartOrigin starts an HTTP server serving the origin directory.
func (h *TestHarness) StartOrigin() {
	h.t.Helper()

	fileServer := http.FileServer(http.Dir(h.originDir))
	mux := http.NewServeMux()
	mux.Handle("/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.requests.Add(1)
		if strings.HasSuffix(r.URL.Path, ".ts") {
			h.segmentReq.Add(1)
		}
		h.mu.Lock()
		h.headers = append(h.headers, r.Header.Clone())
		h.mu.Unlock()
		fileServer.ServeHTTP(w, r)
	}))

	h.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", h.httpPort),
		Handler: mux,
	}

	go func() {
		if err := h.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.t.Logf("HTTP server error: %v", err)
		}
	}()

	h.waitForServer(fmt.Sprintf("http://localhost:%d/", h.httpPort), 5*time.Second)
	h.ResetCounters()
	h.t.Logf("origin started on port %d", h.httpPort)
}

// WriteOriginFile places a file on the origin.
func (h *TestHarness) WriteOriginFile(name string, data []byte) {
	h.t.Helper()

	path := filepath.Join(h.originDir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		h.t.Fatalf("failed to create origin dir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		h.t.Fatalf("failed to write origin file: %v", err)
	}
}

// PublishVideo writes a master playlist, a media playlist and n transport
// stream segments under dir on the origin. It returns the master URL.
func (h *TestHarness) PublishVideo(dir string, n int) string {
	h.t.Helper()

	h.WriteOriginFile(dir+"/master.m3u8", []byte(createMasterPlaylist("720p/index.m3u8")))
	segs := make([]segment.Segment, n)
	for i := range segs {
		segs[i] = segment.Segment{URL: fmt.Sprintf("seg%d.ts", i), Duration: 4.0, Sequence: i}
	}
	media, err := playlist.Media(segs, 4)
	if err != nil {
		h.t.Fatalf("failed to render media playlist: %v", err)
	}
	h.WriteOriginFile(dir+"/720p/index.m3u8", []byte(media))
	for i := 0; i < n; i++ {
		h.WriteOriginFile(fmt.Sprintf("%s/720p/seg%d.ts", dir, i), createSegment(h.t, i))
	}
	return h.OriginURL(dir + "/master.m3u8")
}

// SegmentRequests returns how many segment requests the origin served.
func (h *TestHarness) SegmentRequests() int64 {
	return h.segmentReq.Load()
}

// ResetCounters zeroes request counters and forgets seen headers.
func (h *TestHarness) ResetCounters() {
	h.requests.Store(0)
	h.segmentReq.Store(0)

	h.mu.Lock()
	h.headers = nil
	h.mu.Unlock()
}

// Headers returns the request headers seen by the origin.
func (h *TestHarness) Headers() []http.Header {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]http.Header(nil), h.headers...)
}

// TempRoot is where segment directories are created.
func (h *TestHarness) TempRoot() string {
	return filepath.Join(h.workDir, "temp")
}

// OutputDir is the muxed output directory.
func (h *TestHarness) OutputDir() string {
	return pipeline.OutputDir(filepath.Join(h.workDir, "downloads"), "tester")
}

// NewPipeline wires the real resolver, fetcher and TS demuxer with a
// muxer that dumps packets to a file.
func (h *TestHarness) NewPipeline(concurrency int) *pipeline.Pipeline {
	return h.NewPipelineWith(h.Repo, concurrency)
}

// NewPipelineWith is NewPipeline persisting progress to repo.
func (h *TestHarness) NewPipelineWith(repo progress.Repository, concurrency int) *pipeline.Pipeline {
	logger := testLogger()
	client := httpclient.New(httpclient.Options{
		Cookie: "uid=1",
		Retry:  httpclient.RetryPolicy{Attempts: 3, BaseDelay: 10 * time.Millisecond},
		Logger: logger,
	})

	return pipeline.New(pipeline.Options{
		Repository:  repo,
		Resolver:    parser.NewResolver(client, logger),
		Fetcher:     fetch.New(client, client.RetryPolicy(), logger),
		Remuxer:     remux.NewEngine(remux.OpenTS, newDumpMuxer, logger),
		TempRoot:    h.TempRoot(),
		Concurrency: concurrency,
		Logger:      logger,
	})
}

// Job returns a pipeline job for a published video.
func (h *TestHarness) Job(id, url string) pipeline.Job {
	return pipeline.Job{
		VideoID:     progress.VideoID(id),
		PlaylistURL: url,
		Title:       "Integration clip",
		Username:    "tester",
		CreatedAt:   time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		OutputDir:   h.OutputDir(),
	}
}

// Cleanup stops the origin.
func (h *TestHarness) Cleanup() {
	h.t.Helper()

	if h.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		h.httpServer.Shutdown(ctx)
	}
}

// waitForServer waits for a server to become available.
func (h *TestHarness) waitForServer(url string, timeout time.Duration) {
	h.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url)
		if err == nil {
			resp.Body.Close()
			return
		}
		time.Sleep(100 * time.Millisecond)
	}

	h.t.Fatalf("server at %s did not become available within %v", url, timeout)
}

// findAvailablePort finds an available TCP port.
func findAvailablePort(t *testing.T) int {
	t.Helper()

	listener, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to find available port: %v", err)
	}
	defer listener.Close()

	return listener.Addr().(*net.TCPAddr).Port
}

// WaitForCondition polls until a condition is met or timeout occurs.
func WaitForCondition(t *testing.T, condition func() bool, timeout time.Duration, description string) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if condition() {
			return
		}

		<-ticker.C
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for condition: %s", description)
		}
	}
}

func createMasterPlaylist(variant string) string {
	var sb strings.Builder
	sb.WriteString("#EXTM3U\n")
	sb.WriteString("#EXT-X-VERSION:3\n")
	sb.WriteString("#EXT-X-STREAM-INF:BANDWIDTH=1280000,RESOLUTION=1280x720,CODECS=\"avc1.4d401f,mp4a.40.2\"\n")
	sb.WriteString(variant + "\n")
	return sb.String()
}

// framesPerSegment is how many packets per stream createSegment writes.
const framesPerSegment = 4

// createSegment returns a small MPEG-TS segment with one H.264 and one AAC
// stream whose timestamps continue from the previous segment.
func createSegment(t *testing.T, index int) []byte {
	t.Helper()

	var buf bytes.Buffer
	mx := astits.NewMuxer(context.Background(), &buf)
	if err := mx.AddElementaryStream(astits.PMTElementaryStream{ElementaryPID: 0x100, StreamType: astits.StreamType(0x1b)}); err != nil {
		t.Fatalf("add video stream: %v", err)
	}
	if err := mx.AddElementaryStream(astits.PMTElementaryStream{ElementaryPID: 0x101, StreamType: astits.StreamType(0x0f)}); err != nil {
		t.Fatalf("add audio stream: %v", err)
	}
	mx.SetPCRPID(0x100)

	for f := 0; f < framesPerSegment; f++ {
		pts := int64(90000 + (index*framesPerSegment+f)*3000)
		for _, es := range []struct {
			pid uint16
			sid uint8
		}{{0x100, 0xe0}, {0x101, 0xc0}} {
			payload := bytes.Repeat([]byte{byte(index), byte(f), byte(es.pid)}, 100)
			_, err := mx.WriteData(&astits.MuxerData{
				PID: es.pid,
				PES: &astits.PESData{
					Header: &astits.PESHeader{
						StreamID: es.sid,
						OptionalHeader: &astits.PESOptionalHeader{
							MarkerBits:      2,
							PTSDTSIndicator: astits.PTSDTSIndicatorOnlyPTS,
							PTS:             &astits.ClockReference{Base: pts},
						},
					},
					Data: payload,
				},
			})
			if err != nil {
				t.Fatalf("write data: %v", err)
			}
		}
	}
	return buf.Bytes()
}

// dumpMuxer writes one line per packet: output stream, PTS and payload
// size. Output is deterministic for identical input.
type dumpMuxer struct {
	path    string
	part    string
	file    *os.File
	w       *bufio.Writer
	streams []remux.Stream
}

func newDumpMuxer(path string, plan remux.Plan) (remux.Muxer, error) {
	part := path + ".part"
	f, err := os.Create(part)
	if err != nil {
		return nil, err
	}
	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "format %s\n", plan.Format)
	return &dumpMuxer{path: path, part: part, file: f, w: w}, nil
}

func (m *dumpMuxer) AddStream(s remux.Stream) (int, error) {
	m.streams = append(m.streams, s)
	fmt.Fprintf(m.w, "stream %d %s %s\n", len(m.streams)-1, s.Kind, s.Codec)
	return len(m.streams) - 1, nil
}

func (m *dumpMuxer) WritePacket(p *remux.Packet, stream int) error {
	_, err := fmt.Fprintf(m.w, "packet %d %d %d\n", stream, p.PTS, len(p.Data))
	return err
}

func (m *dumpMuxer) Close() error {
	if err := m.w.Flush(); err != nil {
		m.file.Close()
		return err
	}
	if err := m.file.Close(); err != nil {
		return err
	}
	return os.Rename(m.part, m.path)
}

func (m *dumpMuxer) Abort() error {
	m.file.Close()
	return os.Remove(m.part)
}
