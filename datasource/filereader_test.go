package datasource

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestFileReaderSource_PullExtractsPlainText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("hello world"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	src := NewFileReaderSource(path)
	items, err := src.Pull(context.Background(), 1, "")
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len(items) = %d, want 1", len(items))
	}
	if items[0].Fields["content"] != "hello world" {
		t.Errorf("content = %q, want %q", items[0].Fields["content"], "hello world")
	}
	if items[0].Cursor != readDoneCursor {
		t.Errorf("Cursor = %q, want %q", items[0].Cursor, readDoneCursor)
	}
}

func TestFileReaderSource_PullAfterDoneCursorReturnsNothing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	os.WriteFile(path, []byte("content"), 0o644)

	src := NewFileReaderSource(path)
	items, err := src.Pull(context.Background(), 1, readDoneCursor)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if len(items) != 0 {
		t.Errorf("expected no items after done cursor, got %d", len(items))
	}
}

func TestFileReaderSource_Metadata(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	os.WriteFile(path, []byte("content"), 0o644)

	src := NewFileReaderSource(path)
	if _, err := src.Pull(context.Background(), 1, ""); err != nil {
		t.Fatalf("Pull: %v", err)
	}

	stats, err := src.Metadata(context.Background())
	if err != nil {
		t.Fatalf("Metadata: %v", err)
	}
	if stats.ItemsPulled != 1 {
		t.Errorf("ItemsPulled = %d, want 1", stats.ItemsPulled)
	}
	if stats.Kind != "filereader" {
		t.Errorf("Kind = %q, want filereader", stats.Kind)
	}
}

func TestFileReaderSource_MissingFileErrors(t *testing.T) {
	src := NewFileReaderSource("/nonexistent/path/does/not/exist.txt")
	if _, err := src.Pull(context.Background(), 1, ""); err == nil {
		t.Error("expected error for missing file")
	}
}
