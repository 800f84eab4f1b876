// Package pipeline drives one video from playlist to muxed output file,
// keeping enough state on disk to resume after a failure.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agleyzer/fansone-dl/internal/fetch"
	"github.com/agleyzer/fansone-dl/internal/parser"
	"github.com/agleyzer/fansone-dl/internal/playlist"
	"github.com/agleyzer/fansone-dl/internal/progress"
	"github.com/agleyzer/fansone-dl/internal/segment"
	"github.com/google/uuid"
)

// State is a pipeline run's position in its lifecycle.
type State int

const (
	StateInitializing State = iota
	StateResolving
	StateDownloading
	StateSkippedDownload
	StateRemuxing
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateResolving:
		return "resolving"
	case StateDownloading:
		return "downloading"
	case StateSkippedDownload:
		return "skipped_download"
	case StateRemuxing:
		return "remuxing"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StageError reports the stage in which a video's run failed.
type StageError struct {
	VideoID progress.VideoID
	Stage   State
	Err     error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("video %s: %s: %v", e.VideoID, e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Job describes one video to acquire.
type Job struct {
	VideoID     progress.VideoID
	PlaylistURL string
	Title       string
	Username    string
	CreatedAt   time.Time

	// OutputDir receives the muxed file.
	OutputDir string
	// BaseName overrides the output file name; empty derives it with BaseName.
	BaseName string
}

// Result summarizes a successful run.
type Result struct {
	VideoID    progress.VideoID
	RunID      string
	OutputPath string
	Segments   int

	// SkippedDownload is set when every segment was already on disk.
	SkippedDownload bool
	Fetch           fetch.Result
}

// PlaylistResolver resolves a playlist URL to its media segments.
type PlaylistResolver interface {
	ResolveSegments(ctx context.Context, url string) (*parser.Document, error)
}

// SegmentFetcher downloads segments into a directory.
type SegmentFetcher interface {
	FetchAll(ctx context.Context, segments []segment.Segment, dir string, concurrency int, observer fetch.Observer) (fetch.Result, error)
}

// Remuxer joins ordered segment files into one output file.
type Remuxer interface {
	Remux(ctx context.Context, files []string, outputDir, baseName string) (string, error)
}

// Reporter displays download progress for one video.
type Reporter interface {
	Update(done, total, skipped int, bytesPerSec float64)
	Finish()
}

// Options configures a Pipeline.
type Options struct {
	Repository  progress.Repository
	Resolver    PlaylistResolver
	Fetcher     SegmentFetcher
	Remuxer     Remuxer
	TempRoot    string
	Concurrency int

	// NewReporter creates the progress display for a run; nil disables it.
	NewReporter func(id progress.VideoID) Reporter
	// OnState is called on every state transition.
	OnState func(id progress.VideoID, s State)

	Logger *slog.Logger
}

// Pipeline runs jobs one at a time. Concurrent runs for the same video id
// are not supported.
type Pipeline struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Pipeline.
func New(opts Options) *Pipeline {
	if opts.Concurrency < 1 {
		opts.Concurrency = fetch.DefaultConcurrency
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	return &Pipeline{opts: opts, logger: opts.Logger}
}

type run struct {
	p      *Pipeline
	job    Job
	state  State
	logger *slog.Logger
}

func (r *run) enter(s State) {
	r.logger.Debug("state transition", "from", r.state, "to", s)
	r.state = s
	if r.p.opts.OnState != nil {
		r.p.opts.OnState(r.job.VideoID, s)
	}
}

func (r *run) fail(err error) error {
	stage := r.state
	r.enter(StateFailed)
	return &StageError{VideoID: r.job.VideoID, Stage: stage, Err: err}
}

// Run acquires one video. On failure the temp directory and the
// downloading record are left in place so the next Run resumes.
func (p *Pipeline) Run(ctx context.Context, job Job) (*Result, error) {
	runID := newRunID()
	r := &run{
		p:      p,
		job:    job,
		state:  StateInitializing,
		logger: p.logger.With("video_id", job.VideoID, "run_id", runID),
	}
	if p.opts.OnState != nil {
		p.opts.OnState(job.VideoID, StateInitializing)
	}

	res := &Result{VideoID: job.VideoID, RunID: runID}

	tempDir := TempDir(p.opts.TempRoot, job.VideoID)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, r.fail(fmt.Errorf("create temp dir: %w", err))
	}

	r.enter(StateResolving)
	r.logger.Info("resolving playlist", "url", job.PlaylistURL)
	doc, err := p.opts.Resolver.ResolveSegments(ctx, job.PlaylistURL)
	if err != nil {
		return nil, r.fail(err)
	}
	segments := doc.Segments
	res.Segments = len(segments)
	r.logger.Info("resolved playlist", "segments", len(segments), "encrypted", doc.Encrypted)

	tracker, err := progress.NewTracker(ctx, p.opts.Repository, progress.TrackerOptions{
		VideoID:       job.VideoID,
		TotalSegments: len(segments),
		Title:         job.Title,
		Username:      job.Username,
	})
	if err != nil {
		return nil, r.fail(err)
	}

	onDisk, err := scanSegments(tempDir, len(segments))
	if err != nil {
		return nil, r.fail(err)
	}
	tracker.Reconcile(onDisk)
	if err := tracker.Flush(ctx); err != nil {
		return nil, r.fail(err)
	}
	r.logger.Debug("reconciled progress", "on_disk", len(onDisk), "completed", tracker.CompletedCount())

	if len(segments) > 0 && len(onDisk) == len(segments) {
		r.enter(StateSkippedDownload)
		r.logger.Info("all segments present, skipping download", "segments", len(segments))
		res.SkippedDownload = true
	} else {
		r.enter(StateDownloading)
		fr, err := p.download(ctx, r, tracker, segments, tempDir)
		res.Fetch = fr
		if err != nil {
			if ferr := tracker.Flush(context.WithoutCancel(ctx)); ferr != nil {
				r.logger.Warn("failed to persist progress", "error", ferr)
			} else {
				snap := tracker.Snapshot()
				r.logger.Info("progress kept for resume",
					"completed", len(snap.CompletedSegments),
					"total", snap.TotalSegments,
					"temp_dir", tempDir,
				)
			}
			return nil, r.fail(err)
		}
		r.logger.Info("download finished",
			"completed", fr.Completed,
			"skipped", fr.Skipped,
			"bytes", fr.BytesDownloaded,
		)
	}

	r.enter(StateRemuxing)
	files, err := segmentFiles(tempDir)
	if err != nil {
		return nil, r.fail(err)
	}
	if len(segments) > 0 {
		if path, err := playlist.WriteLocal(tempDir, segments, doc.TargetDuration); err != nil {
			r.logger.Warn("failed to write local playlist", "error", err)
		} else {
			r.logger.Debug("wrote local playlist", "path", path)
		}
	}

	baseName := job.BaseName
	if baseName == "" {
		baseName = BaseName(job.Title, job.CreatedAt, job.VideoID)
	}
	out, err := p.opts.Remuxer.Remux(ctx, files, job.OutputDir, baseName)
	if err != nil {
		return nil, r.fail(err)
	}
	res.OutputPath = out

	if err := tracker.Complete(ctx, out); err != nil {
		return nil, r.fail(err)
	}
	r.enter(StateCompleted)

	if err := os.RemoveAll(tempDir); err != nil {
		r.logger.Warn("failed to remove temp dir", "path", tempDir, "error", err)
	} else {
		r.logger.Debug("removed temp dir", "path", tempDir)
	}

	r.logger.Info("video completed", "output", out)
	return res, nil
}

func (p *Pipeline) download(ctx context.Context, r *run, tracker *progress.Tracker, segments []segment.Segment, dir string) (fetch.Result, error) {
	var rep Reporter
	if p.opts.NewReporter != nil {
		rep = p.opts.NewReporter(r.job.VideoID)
		defer rep.Finish()
	}

	return p.opts.Fetcher.FetchAll(ctx, segments, dir, p.opts.Concurrency, func(ctx context.Context, ev fetch.Event) error {
		if err := tracker.MarkCompleted(ctx, ev.Index); err != nil {
			return err
		}
		if rep != nil {
			rep.Update(ev.Done(), ev.Total, ev.SkippedN, ev.Rate())
		}
		return nil
	})
}

// scanSegments returns the indices in [0, total) whose segment file is
// present in dir.
func scanSegments(dir string, total int) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan temp dir: %w", err)
	}

	var indices []int
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.EqualFold(filepath.Ext(name), segment.Ext) {
			continue
		}
		idx, err := strconv.Atoi(strings.TrimSuffix(name, filepath.Ext(name)))
		if err != nil || idx < 0 || idx >= total {
			continue
		}
		if fetch.Present(dir, idx) {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	return indices, nil
}

// segmentFiles lists every segment file in dir sorted by name, which for
// zero-padded names is index order.
func segmentFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), segment.Ext) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

func newRunID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
