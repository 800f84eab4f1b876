package progress

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultDataFile is the progress table file name.
const DefaultDataFile = "data.json"

type table struct {
	Videos map[VideoID]Record `json:"videos"`
}

// FileStore is a Repository backed by a single JSON file holding every
// record. The table is read once and kept in memory; each Save rewrites the
// file atomically.
type FileStore struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	loaded bool
	table  table
}

// NewFileStore creates a FileStore at path. Nothing is read until first use.
func NewFileStore(path string, logger *slog.Logger) *FileStore {
	return &FileStore{path: path, logger: logger}
}

// Path returns the backing file path.
func (s *FileStore) Path() string {
	return s.path
}

// Load implements Repository.
func (s *FileStore) Load(ctx context.Context, id VideoID) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	rec, ok := s.table.Videos[id]
	if !ok {
		return nil, nil
	}
	rec = rec.Clone()
	rec.VideoID = id
	return &rec, nil
}

// Save implements Repository.
func (s *FileStore) Save(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return err
	}
	s.table.Videos[rec.VideoID] = rec.Clone()

	data, err := json.MarshalIndent(s.table, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "encode", Path: s.path, Err: err}
	}
	data = append(data, '\n')

	if err := writeFileAtomic(s.path, data); err != nil {
		return &PersistenceError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// List implements Repository. Records are ordered by video id.
func (s *FileStore) List(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoaded(); err != nil {
		return nil, err
	}
	out := make([]Record, 0, len(s.table.Videos))
	for id, rec := range s.table.Videos {
		rec = rec.Clone()
		rec.VideoID = id
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VideoID < out[j].VideoID })
	return out, nil
}

func (s *FileStore) ensureLoaded() error {
	if s.loaded {
		return nil
	}

	s.table = table{Videos: map[VideoID]Record{}}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.loaded = true
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "read", Path: s.path, Err: err}
	}
	if strings.TrimSpace(string(data)) == "" {
		s.loaded = true
		return nil
	}

	var t table
	if err := json.Unmarshal(data, &t); err != nil {
		return &PersistenceError{Op: "decode", Path: s.path, Err: err}
	}
	if t.Videos != nil {
		s.table = t
	} else {
		s.logger.Warn("progress table has no videos object, starting empty", "path", s.path)
	}
	s.loaded = true
	return nil
}

// writeFileAtomic writes data to a temp file next to path and renames it
// over path, so readers never observe a partial table.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".progress-tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
