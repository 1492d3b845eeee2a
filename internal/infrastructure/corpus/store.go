// Package corpus reads and writes the JSONL chunk store: one
// {doc_id, section, chunk_id, text} object per line. Line order defines the
// position each chunk has in the index.
package corpus

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/kirillkom/envqa/internal/core/domain"
)

const maxLineBytes = 4 << 20

// Store is an immutable, position-addressed list of chunks.
type Store struct {
	chunks []domain.Chunk
}

func NewStore(chunks []domain.Chunk) (*Store, error) {
	seen := make(map[string]int, len(chunks))
	for i, c := range chunks {
		if strings.TrimSpace(c.DocID) == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "load chunk store", fmt.Errorf("record %d has empty doc_id", i))
		}
		key := c.Key()
		if prev, ok := seen[key]; ok {
			return nil, domain.WrapError(domain.ErrInvalidInput, "load chunk store",
				fmt.Errorf("duplicate chunk %s at records %d and %d", key, prev, i))
		}
		seen[key] = i
	}
	out := make([]domain.Chunk, len(chunks))
	copy(out, chunks)
	return &Store{chunks: out}, nil
}

// Load reads a JSONL chunk store from disk.
func Load(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "load chunk store", err)
		}
		return nil, fmt.Errorf("open chunk store: %w", err)
	}
	defer f.Close()

	chunks, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return NewStore(chunks)
}

func Decode(r io.Reader) ([]domain.Chunk, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	chunks := make([]domain.Chunk, 0, 256)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var c domain.Chunk
		if err := json.Unmarshal([]byte(raw), &c); err != nil {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode chunk store", fmt.Errorf("line %d: %w", line, err))
		}
		chunks = append(chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read chunk store: %w", err)
	}
	return chunks, nil
}

// Write stores chunks as JSONL, replacing path atomically.
func Write(path string, chunks []domain.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create chunk store dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".chunks-*.jsonl")
	if err != nil {
		return fmt.Errorf("create chunk store: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			tmp.Close()
			return fmt.Errorf("encode chunk %s: %w", c.Key(), err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flush chunk store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close chunk store: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace chunk store: %w", err)
	}
	return nil
}

func (s *Store) Len() int {
	return len(s.chunks)
}

// At returns the chunk at index position i.
func (s *Store) At(i int) (domain.Chunk, bool) {
	if i < 0 || i >= len(s.chunks) {
		return domain.Chunk{}, false
	}
	return s.chunks[i], true
}

// Chunks returns a copy of every record in store order.
func (s *Store) Chunks() []domain.Chunk {
	out := make([]domain.Chunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

func (s *Store) Texts() []string {
	out := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = c.Text
	}
	return out
}
