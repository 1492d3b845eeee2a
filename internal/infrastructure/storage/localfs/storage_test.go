package localfs

import (
	"context"
	"io"
	"strings"
	"testing"

	"github.com/kirillkom/envqa/internal/core/domain"
)

func TestSaveThenOpen(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := storage.Save(context.Background(), "run-1_tests.json", strings.NewReader(`[]`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := storage.Open(context.Background(), "run-1_tests.json")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()

	raw, _ := io.ReadAll(rc)
	if string(raw) != "[]" {
		t.Fatalf("unexpected content %q", raw)
	}
}

func TestOpenMissingIsNotFound(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := storage.Open(context.Background(), "missing.json"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRejectsPathTraversal(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, key := range []string{"../escape.json", "a/b.json", "", ".."} {
		if err := storage.Save(context.Background(), key, strings.NewReader("x")); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("key %q: expected invalid input, got %v", key, err)
		}
	}
}
