// Package progress persists per-video download state so interrupted
// downloads can resume.
package progress

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// VideoID is the stable identifier of a post.
type VideoID string

// Status is the lifecycle state of a record.
type Status string

const (
	StatusDownloading Status = "downloading"
	StatusCompleted   Status = "completed"
)

// Record is the persisted resumption state for one video.
type Record struct {
	VideoID           VideoID   `json:"videoId"`
	TotalSegments     int       `json:"totalSegments"`
	CompletedSegments []int     `json:"completedSegments"`
	Status            Status    `json:"status,omitempty"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
	OutputPath        string    `json:"outputPath,omitempty"`
	Title             string    `json:"title,omitempty"`
	Username          string    `json:"username,omitempty"`
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	r.CompletedSegments = slices.Clone(r.CompletedSegments)
	return r
}

// Repository loads and saves whole records by video id.
type Repository interface {
	// Load returns the record for id, or nil when none exists.
	Load(ctx context.Context, id VideoID) (*Record, error)
	Save(ctx context.Context, rec Record) error
	List(ctx context.Context) ([]Record, error)
}

// PersistenceError reports a progress storage I/O failure.
type PersistenceError struct {
	Op   string
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("progress %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
