package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrTemporary    = errors.New("temporary failure")
	ErrUnavailable  = errors.New("backend unavailable")

	// ErrIndexCorrupt means the index artifact and the chunk store disagree on
	// record count or position mapping.
	ErrIndexCorrupt = errors.New("index does not match chunk store")

	// ErrEmbeddingMismatch means the query embedder differs from the one the
	// index was built with (model identifier or vector dimension).
	ErrEmbeddingMismatch = errors.New("embedding space mismatch")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
