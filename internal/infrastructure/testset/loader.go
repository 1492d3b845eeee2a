package testset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
)

const maxTestSetBytes = 8 << 20

// Loader reads JSON test sets out of object storage.
type Loader struct {
	storage ports.ObjectStorage
}

func NewLoader(storage ports.ObjectStorage) *Loader {
	return &Loader{storage: storage}
}

func (l *Loader) Load(ctx context.Context, key string) ([]domain.TestCase, error) {
	reader, err := l.storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open test set: %w", err)
	}
	defer reader.Close()
	return Decode(reader)
}

func LoadFile(path string) ([]domain.TestCase, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "open test set", err)
		}
		return nil, fmt.Errorf("open test set: %w", err)
	}
	defer f.Close()
	return Decode(f)
}

// Decode parses a JSON array of {question, expected_keywords, group_id?}.
// Blank keywords are dropped; a blank question rejects the whole set.
func Decode(r io.Reader) ([]domain.TestCase, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxTestSetBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read test set: %w", err)
	}
	if len(raw) > maxTestSetBytes {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode test set", fmt.Errorf("test set exceeds %d bytes", maxTestSetBytes))
	}
	if !utf8.Valid(raw) {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode test set", errors.New("test set is not valid UTF-8"))
	}

	var cases []domain.TestCase
	if err := json.Unmarshal(raw, &cases); err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "decode test set", err)
	}
	for i := range cases {
		cases[i].Question = strings.TrimSpace(cases[i].Question)
		if cases[i].Question == "" {
			return nil, domain.WrapError(domain.ErrInvalidInput, "decode test set", fmt.Errorf("case %d has empty question", i))
		}
		keywords := cases[i].ExpectedKeywords[:0]
		for _, kw := range cases[i].ExpectedKeywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		cases[i].ExpectedKeywords = keywords
	}
	return cases, nil
}
