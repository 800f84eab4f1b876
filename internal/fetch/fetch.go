// Package fetch downloads HLS segments into a directory with bounded
// concurrency, skipping segments that are already on disk.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/agleyzer/fansone-dl/internal/httpclient"
	"github.com/agleyzer/fansone-dl/internal/segment"
	"golang.org/x/sync/errgroup"
)

// DefaultConcurrency is the number of segments downloaded at once.
const DefaultConcurrency = 6

// Getter issues a single GET request.
type Getter interface {
	Get(ctx context.Context, url string) (*http.Response, error)
}

// Result summarizes a FetchAll call.
type Result struct {
	Completed       int
	Skipped         int
	BytesDownloaded int64
}

// Event describes one finished segment together with the running totals.
type Event struct {
	Index   int
	Skipped bool
	Bytes   int64

	Completed int
	SkippedN  int
	Total     int
	BytesAll  int64
	Elapsed   time.Duration
}

// Done returns how many segments have finished, downloaded or skipped.
func (e Event) Done() int {
	return e.Completed + e.SkippedN
}

// Rate returns bytes per second since the pool started.
func (e Event) Rate() float64 {
	if e.Elapsed <= 0 {
		return 0
	}
	return float64(e.BytesAll) / e.Elapsed.Seconds()
}

// Observer is notified of every finished segment. Calls are serialized.
// An error fails that segment's task.
type Observer func(ctx context.Context, ev Event) error

// SegmentDownloadError reports a segment whose retry budget was exhausted.
type SegmentDownloadError struct {
	Index    int
	URL      string
	Attempts int
	Err      error
}

func (e *SegmentDownloadError) Error() string {
	return fmt.Sprintf("segment %d (%s) failed after %d attempts: %v", e.Index, e.URL, e.Attempts, e.Err)
}

func (e *SegmentDownloadError) Unwrap() error { return e.Err }

// Fetcher downloads segments.
type Fetcher struct {
	client Getter
	retry  httpclient.RetryPolicy
	logger *slog.Logger
}

// New creates a Fetcher.
func New(client Getter, retry httpclient.RetryPolicy, logger *slog.Logger) *Fetcher {
	return &Fetcher{client: client, retry: retry, logger: logger}
}

// fetchState holds the counters shared by a FetchAll call's workers.
type fetchState struct {
	mu       sync.Mutex
	result   Result
	total    int
	started  time.Time
	errs     []error
	observer Observer
}

// FetchAll downloads every segment into targetDir as segment.FileName(),
// running at most concurrency downloads at once. Tasks are submitted in
// index order. All submitted tasks settle before FetchAll returns; failed
// segments are reported together as joined *SegmentDownloadError values.
func (f *Fetcher) FetchAll(ctx context.Context, segments []segment.Segment, targetDir string, concurrency int, observer Observer) (Result, error) {
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("create segment directory: %w", err)
	}

	st := &fetchState{
		total:    len(segments),
		started:  time.Now(),
		observer: observer,
	}

	var g errgroup.Group
	g.SetLimit(concurrency)

	for _, seg := range segments {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := f.fetchOne(ctx, seg, targetDir, st); err != nil {
				st.mu.Lock()
				st.errs = append(st.errs, err)
				st.mu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	st.mu.Lock()
	defer st.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return st.result, errors.Join(append([]error{err}, st.errs...)...)
	}
	return st.result, errors.Join(st.errs...)
}

func (f *Fetcher) fetchOne(ctx context.Context, seg segment.Segment, dir string, st *fetchState) error {
	if ctx.Err() != nil {
		return nil
	}

	path := filepath.Join(dir, seg.FileName())
	if present(path) {
		return st.record(ctx, seg.Sequence, true, 0)
	}

	var written int64
	err := f.retry.Do(ctx, func(attempt int) error {
		n, err := f.download(ctx, seg.URL, path)
		written = n
		return err
	}, func(attempt int, wait time.Duration, err error) {
		f.logger.Warn("segment download failed, retrying",
			"segment", seg.Sequence,
			"attempt", attempt,
			"attempts", f.retry.Attempts,
			"wait", wait,
			"error", err,
		)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return &SegmentDownloadError{Index: seg.Sequence, URL: seg.URL, Attempts: f.retry.Attempts, Err: err}
	}

	return st.record(ctx, seg.Sequence, false, written)
}

// download streams url into path via a temporary file, so a partially
// written segment is never mistaken for a complete one.
func (f *Fetcher) download(ctx context.Context, url, path string) (int64, error) {
	resp, err := f.client.Get(ctx, url)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	part := path + ".part"
	out, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create segment file: %w", err)
	}

	n, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n == 0 {
		err = errors.New("empty response body")
	}
	if err != nil {
		os.Remove(part)
		return 0, err
	}

	if err := os.Rename(part, path); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("finalize segment file: %w", err)
	}
	return n, nil
}

func (st *fetchState) record(ctx context.Context, index int, skipped bool, bytes int64) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if skipped {
		st.result.Skipped++
	} else {
		st.result.Completed++
		st.result.BytesDownloaded += bytes
	}

	if st.observer == nil {
		return nil
	}
	return st.observer(ctx, Event{
		Index:     index,
		Skipped:   skipped,
		Bytes:     bytes,
		Completed: st.result.Completed,
		SkippedN:  st.result.Skipped,
		Total:     st.total,
		BytesAll:  st.result.BytesDownloaded,
		Elapsed:   time.Since(st.started),
	})
}

// present reports whether path exists with a non-zero size.
func present(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() > 0
}

// Present reports whether the segment file at index exists in dir.
func Present(dir string, index int) bool {
	return present(filepath.Join(dir, segment.FileName(index)))
}
