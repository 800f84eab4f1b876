package progress

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func createTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFileStore_LoadMissingFile(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "data.json"), createTestLogger())

	rec, err := store.Load(context.Background(), "42")
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if rec != nil {
		t.Errorf("Expected nil record, got %+v", rec)
	}
}

func TestFileStore_SaveAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "data.json")
	store := NewFileStore(path, createTestLogger())
	ctx := context.Background()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	rec := Record{
		VideoID:           "42",
		TotalSegments:     5,
		CompletedSegments: []int{0, 1, 3},
		Status:            StatusDownloading,
		CreatedAt:         created,
		UpdatedAt:         created,
		Title:             "hello",
		Username:          "alice",
	}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded := NewFileStore(path, createTestLogger())
	got, err := reloaded.Load(ctx, "42")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got == nil {
		t.Fatal("Expected record, got nil")
	}
	if got.TotalSegments != 5 || len(got.CompletedSegments) != 3 || got.CompletedSegments[2] != 3 {
		t.Errorf("Unexpected record %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("Expected createdAt %v, got %v", created, got.CreatedAt)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("Expected only the data file, found %d entries", len(entries))
	}
}

func TestFileStore_ReturnsCopies(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "data.json"), createTestLogger())
	ctx := context.Background()

	if err := store.Save(ctx, Record{VideoID: "1", TotalSegments: 2, CompletedSegments: []int{0}}); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Load(ctx, "1")
	got.CompletedSegments[0] = 99

	again, _ := store.Load(ctx, "1")
	if again.CompletedSegments[0] != 0 {
		t.Errorf("Expected stored record to be unaffected, got %v", again.CompletedSegments)
	}
}

func TestFileStore_EmptyAndShapelessFiles(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty file", ""},
		{"whitespace", "  \n"},
		{"no videos key", `{"other": 1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data.json")
			if err := os.WriteFile(path, []byte(tt.content), 0o644); err != nil {
				t.Fatal(err)
			}
			store := NewFileStore(path, createTestLogger())

			records, err := store.List(context.Background())
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if len(records) != 0 {
				t.Errorf("Expected empty table, got %d records", len(records))
			}
		})
	}
}

func TestFileStore_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := NewFileStore(path, createTestLogger()).Load(context.Background(), "1")
	var perr *PersistenceError
	if !errors.As(err, &perr) {
		t.Fatalf("Expected *PersistenceError, got %v", err)
	}
	if perr.Op != "decode" {
		t.Errorf("Expected decode op, got %s", perr.Op)
	}
}

func TestFileStore_ListSorted(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "data.json"), createTestLogger())
	ctx := context.Background()
	for _, id := range []VideoID{"3", "1", "2"} {
		if err := store.Save(ctx, Record{VideoID: id}); err != nil {
			t.Fatal(err)
		}
	}

	records, err := store.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 3 || records[0].VideoID != "1" || records[2].VideoID != "3" {
		t.Errorf("Unexpected order %+v", records)
	}
}
