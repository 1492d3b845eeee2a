package flat

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kirillkom/envqa/internal/core/domain"
)

// Writer persists a flat index artifact into a directory.
type Writer struct {
	dir    string
	metric domain.Metric
	now    func() time.Time
}

func NewWriter(dir string, metric domain.Metric) (*Writer, error) {
	if metric != domain.MetricL2 && metric != domain.MetricInnerProduct {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new flat writer", fmt.Errorf("flat index supports l2 or ip, got %q", metric))
	}
	return &Writer{dir: dir, metric: metric, now: time.Now}, nil
}

// Write stores one vector per chunk in chunk order. Inner-product indexes
// store unit-length vectors.
func (w *Writer) Write(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, embeddingModel string) error {
	if len(chunks) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "write flat index",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}
	if len(vectors) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "write flat index", fmt.Errorf("no vectors to index"))
	}
	dim := len(vectors[0])
	if dim == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "write flat index", fmt.Errorf("empty vectors"))
	}

	flat := make([]float32, 0, len(vectors)*dim)
	for i, v := range vectors {
		if len(v) != dim {
			return domain.WrapError(domain.ErrEmbeddingMismatch, "write flat index",
				fmt.Errorf("vector %d has %d dimensions, expected %d", i, len(v), dim))
		}
		if w.metric == domain.MetricInnerProduct {
			v = Normalize(v)
		}
		flat = append(flat, v...)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := writeVectors(filepath.Join(w.dir, vectorsFile), flat); err != nil {
		return err
	}

	manifest := Manifest{
		EmbeddingModel: embeddingModel,
		Dimension:      dim,
		Metric:         w.metric,
		Count:          len(vectors),
		CreatedAt:      w.now().UTC(),
	}
	raw, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode index manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(w.dir, manifestFile), raw, 0o644); err != nil {
		return fmt.Errorf("write index manifest: %w", err)
	}
	return nil
}

func writeVectors(path string, values []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create index vectors: %w", err)
	}
	if err := binary.Write(f, binary.LittleEndian, values); err != nil {
		f.Close()
		return fmt.Errorf("write index vectors: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close index vectors: %w", err)
	}
	return nil
}
