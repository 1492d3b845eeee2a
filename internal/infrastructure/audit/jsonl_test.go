package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/envqa/internal/core/domain"
)

func TestRecordAppendsOneLinePerEntry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "audit.jsonl")
	log, err := NewJSONLLog(path)
	if err != nil {
		t.Fatalf("NewJSONLLog() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := log.Record(context.Background(), domain.AuditEntry{
				Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
				Question:  "What is albedo?",
				QType:     domain.QuestionDefinition,
				Prompt:    "Question: What is albedo?\nAnswer:",
				Answer:    "reflectivity",
				GroupID:   "default",
			})
			if err != nil {
				t.Errorf("Record() error = %v", err)
			}
		}()
	}
	wg.Wait()

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var decoded map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &decoded); err != nil {
			t.Fatalf("line %d is not json: %v", lines, err)
		}
		if decoded["generated_answer"] != "reflectivity" || decoded["group_id"] != "default" {
			t.Fatalf("unexpected fields: %v", decoded)
		}
		if _, ok := decoded["retrieved_chunks"]; !ok {
			t.Fatalf("retrieved_chunks missing: %v", decoded)
		}
		lines++
	}
	if lines != 20 {
		t.Fatalf("expected 20 lines, got %d", lines)
	}
}
