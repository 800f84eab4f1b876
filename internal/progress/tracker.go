package progress

import (
	"context"
	"sort"
	"sync"
	"time"
)

// FlushEvery is the number of recorded changes that triggers a write.
const FlushEvery = 10

// TrackerOptions identifies the video a Tracker records.
type TrackerOptions struct {
	VideoID       VideoID
	TotalSegments int
	Title         string
	Username      string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Tracker owns the mutable progress of one pipeline run. Changes are
// counted and written through the Repository every FlushEvery changes or
// when forced. Writes are serialized: a flush waits for the previous one.
//
// Up to FlushEvery-1 changes can be lost if the process dies between
// flushes. Segment files on disk are reconciled on the next run.
type Tracker struct {
	repo Repository
	now  func() time.Time

	mu        sync.Mutex
	rec       Record
	completed map[int]struct{}
	dirty     int

	// writeMu orders flushes; a flush snapshots state only after acquiring it.
	writeMu sync.Mutex
}

// NewTracker loads any existing record for opts.VideoID and seeds the
// completed set from it. Indices outside [0, TotalSegments) are dropped.
func NewTracker(ctx context.Context, repo Repository, opts TrackerOptions) (*Tracker, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	existing, err := repo.Load(ctx, opts.VideoID)
	if err != nil {
		return nil, err
	}

	t := &Tracker{
		repo:      repo,
		now:       now,
		completed: make(map[int]struct{}),
		rec: Record{
			VideoID:       opts.VideoID,
			TotalSegments: opts.TotalSegments,
			Status:        StatusDownloading,
			CreatedAt:     now().UTC(),
			Title:         opts.Title,
			Username:      opts.Username,
		},
	}
	if existing != nil {
		if !existing.CreatedAt.IsZero() {
			t.rec.CreatedAt = existing.CreatedAt
		}
		for _, idx := range existing.CompletedSegments {
			t.add(idx)
		}
	}
	return t, nil
}

// Reconcile adds indices already present on disk without counting them as
// changes. The filesystem may be ahead of the persisted record.
func (t *Tracker) Reconcile(indices []int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, idx := range indices {
		t.add(idx)
	}
}

// MarkCompleted records a downloaded or confirmed segment and flushes when
// the change counter reaches FlushEvery.
func (t *Tracker) MarkCompleted(ctx context.Context, index int) error {
	t.mu.Lock()
	t.add(index)
	t.dirty++
	flush := t.dirty >= FlushEvery
	if flush {
		t.dirty = 0
	}
	t.mu.Unlock()

	if !flush {
		return nil
	}
	return t.write(ctx)
}

// Flush forces a write of the current state.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	t.dirty = 0
	t.mu.Unlock()
	return t.write(ctx)
}

// Complete marks the video completed with its output path and writes it.
func (t *Tracker) Complete(ctx context.Context, outputPath string) error {
	t.mu.Lock()
	t.rec.Status = StatusCompleted
	t.rec.OutputPath = outputPath
	t.dirty = 0
	t.mu.Unlock()
	return t.write(ctx)
}

// CompletedCount returns the size of the completed set.
func (t *Tracker) CompletedCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.completed)
}

// Snapshot returns the record as it would be written now.
func (t *Tracker) Snapshot() Record {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) write(ctx context.Context) error {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.mu.Lock()
	rec := t.snapshotLocked()
	t.mu.Unlock()

	return t.repo.Save(ctx, rec)
}

func (t *Tracker) snapshotLocked() Record {
	rec := t.rec.Clone()
	rec.CompletedSegments = make([]int, 0, len(t.completed))
	for idx := range t.completed {
		rec.CompletedSegments = append(rec.CompletedSegments, idx)
	}
	sort.Ints(rec.CompletedSegments)
	rec.UpdatedAt = t.now().UTC()
	return rec
}

func (t *Tracker) add(index int) {
	if index < 0 || index >= t.rec.TotalSegments {
		return
	}
	t.completed[index] = struct{}{}
}
