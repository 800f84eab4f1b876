// Package cluster replicates the progress table across nodes with Raft.
package cluster

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"

	"github.com/agleyzer/fansone-dl/internal/progress"
	"github.com/hashicorp/raft"
)

func init() {
	// Register types for gob encoding/decoding
	gob.Register(SaveRecordCommand{})
}

// CommandType identifies the type of Raft command.
type CommandType uint8

const (
	// CommandSaveRecord replaces one progress record.
	CommandSaveRecord CommandType = 1
)

// Command represents a Raft log command.
type Command struct {
	Type CommandType
	Data any
}

// SaveRecordCommand stores a whole record under its video id.
type SaveRecordCommand struct {
	Record progress.Record
}

// ProgressFSM implements raft.FSM over the progress table.
type ProgressFSM struct {
	mu      sync.RWMutex
	records map[progress.VideoID]progress.Record
	logger  *slog.Logger
}

// NewProgressFSM creates an empty ProgressFSM.
func NewProgressFSM(logger *slog.Logger) *ProgressFSM {
	return &ProgressFSM{
		records: make(map[progress.VideoID]progress.Record),
		logger:  logger,
	}
}

// Apply applies a Raft log entry to the FSM.
func (f *ProgressFSM) Apply(log *raft.Log) any {
	var cmd Command
	if err := gob.NewDecoder(bytes.NewReader(log.Data)).Decode(&cmd); err != nil {
		f.logger.Error("failed to decode command", "error", err)
		return fmt.Errorf("decode command: %w", err)
	}

	switch cmd.Type {
	case CommandSaveRecord:
		return f.applySaveRecord(cmd.Data)
	default:
		f.logger.Error("unknown command type", "type", cmd.Type)
		return fmt.Errorf("unknown command type: %d", cmd.Type)
	}
}

func (f *ProgressFSM) applySaveRecord(data any) any {
	save, ok := data.(SaveRecordCommand)
	if !ok {
		return fmt.Errorf("invalid save record command data")
	}
	if save.Record.VideoID == "" {
		return fmt.Errorf("record has no video id")
	}

	f.mu.Lock()
	f.records[save.Record.VideoID] = save.Record.Clone()
	f.mu.Unlock()

	f.logger.Debug("applied record",
		"video_id", save.Record.VideoID,
		"completed", len(save.Record.CompletedSegments),
		"total", save.Record.TotalSegments,
		"status", save.Record.Status,
	)
	return nil
}

// Record returns a copy of the record for id, or nil.
func (f *ProgressFSM) Record(id progress.VideoID) *progress.Record {
	f.mu.RLock()
	defer f.mu.RUnlock()

	rec, ok := f.records[id]
	if !ok {
		return nil
	}
	rec = rec.Clone()
	return &rec
}

// Records returns copies of all records ordered by video id.
func (f *ProgressFSM) Records() []progress.Record {
	f.mu.RLock()
	out := make([]progress.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec.Clone())
	}
	f.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out
}

// Snapshot returns an FSMSnapshot for creating a point-in-time snapshot.
func (f *ProgressFSM) Snapshot() (raft.FSMSnapshot, error) {
	return &fsmSnapshot{records: f.Records()}, nil
}

// Restore replaces the FSM state from a snapshot.
func (f *ProgressFSM) Restore(snapshot io.ReadCloser) error {
	defer snapshot.Close()

	var records []progress.Record
	if err := gob.NewDecoder(snapshot).Decode(&records); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}

	table := make(map[progress.VideoID]progress.Record, len(records))
	for _, rec := range records {
		table[rec.VideoID] = rec
	}

	f.mu.Lock()
	f.records = table
	f.mu.Unlock()

	f.logger.Info("restored progress table from snapshot", "records", len(table))
	return nil
}

// fsmSnapshot implements raft.FSMSnapshot.
type fsmSnapshot struct {
	records []progress.Record
}

// Persist writes the snapshot to the given sink.
func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(s.records); err != nil {
		sink.Cancel()
		return fmt.Errorf("encode snapshot: %w", err)
	}

	if _, err := sink.Write(buf.Bytes()); err != nil {
		sink.Cancel()
		return fmt.Errorf("write snapshot: %w", err)
	}

	return sink.Close()
}

func (s *fsmSnapshot) Release() {}

// EncodeCommand encodes a command for Raft submission.
func EncodeCommand(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}
