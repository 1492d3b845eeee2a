package testset

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kirillkom/envqa/internal/core/domain"
)

type storageFake struct {
	files map[string]string
}

func (s *storageFake) Save(context.Context, string, io.Reader) error { return nil }

func (s *storageFake) Open(_ context.Context, key string) (io.ReadCloser, error) {
	content, ok := s.files[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(content)), nil
}

func TestLoaderReadsFromStorage(t *testing.T) {
	loader := NewLoader(&storageFake{files: map[string]string{
		"run_tests.json": `[
			{"question": " What is methane? ", "expected_keywords": ["greenhouse", " ", "gas"]},
			{"question": "List renewable sources", "expected_keywords": ["solar", "wind"], "group_id": "batch-2"}
		]`,
	}})

	cases, err := loader.Load(context.Background(), "run_tests.json")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cases) != 2 {
		t.Fatalf("expected 2 cases, got %d", len(cases))
	}
	if cases[0].Question != "What is methane?" {
		t.Fatalf("question not trimmed: %q", cases[0].Question)
	}
	if len(cases[0].ExpectedKeywords) != 2 || cases[0].ExpectedKeywords[1] != "gas" {
		t.Fatalf("blank keyword not dropped: %v", cases[0].ExpectedKeywords)
	}
	if cases[1].GroupID != "batch-2" {
		t.Fatalf("group id not decoded: %+v", cases[1])
	}
}

func TestLoaderPropagatesNotFound(t *testing.T) {
	loader := NewLoader(&storageFake{files: map[string]string{}})
	if _, err := loader.Load(context.Background(), "missing"); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDecodeRejectsBadInput(t *testing.T) {
	inputs := map[string][]byte{
		"not json":       []byte(`{"question":`),
		"object":         []byte(`{"question":"q"}`),
		"empty question": []byte(`[{"question":"  ","expected_keywords":["x"]}]`),
		"binary":         {0xff, 0xfe, 0x00},
	}
	for name, raw := range inputs {
		if _, err := Decode(bytes.NewReader(raw)); !domain.IsKind(err, domain.ErrInvalidInput) {
			t.Fatalf("%s: expected invalid input, got %v", name, err)
		}
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tests.json")
	if err := os.WriteFile(path, []byte(`[{"question":"Why do glaciers retreat?","expected_keywords":["warming"]}]`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cases, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if len(cases) != 1 || cases[0].ExpectedKeywords[0] != "warming" {
		t.Fatalf("unexpected cases %+v", cases)
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.json")); !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
