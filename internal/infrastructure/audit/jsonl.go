package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/kirillkom/envqa/internal/core/domain"
)

// JSONLLog appends one JSON object per answered question. Writes are
// serialized so concurrent callers never interleave lines.
type JSONLLog struct {
	mu   sync.Mutex
	path string
}

func NewJSONLLog(path string) (*JSONLLog, error) {
	if path == "" {
		path = "./data/audit/interactions.jsonl"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	return &JSONLLog{path: path}, nil
}

func (l *JSONLLog) Record(_ context.Context, entry domain.AuditEntry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	return f.Close()
}

func (l *JSONLLog) Path() string {
	return l.path
}

// Discard drops every entry. Used when the audit log is disabled.
type Discard struct{}

func (Discard) Record(context.Context, domain.AuditEntry) error { return nil }
