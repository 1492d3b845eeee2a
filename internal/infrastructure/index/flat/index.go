// Package flat implements an exact nearest-neighbor index persisted as a
// manifest plus a little-endian float32 matrix. Row i of the matrix
// corresponds to record i of the chunk store.
package flat

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/infrastructure/corpus"
)

const (
	manifestFile = "manifest.json"
	vectorsFile  = "vectors.bin"
)

type Manifest struct {
	EmbeddingModel string        `json:"embedding_model"`
	Dimension      int           `json:"dimension"`
	Metric         domain.Metric `json:"metric"`
	Count          int           `json:"count"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Index is immutable after Load; concurrent searches are safe.
type Index struct {
	manifest Manifest
	vectors  []float32
	store    *corpus.Store
}

// Load opens the index in dir and checks it against the chunk store.
func Load(dir string, store *corpus.Store) (*Index, error) {
	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}
	if manifest.Count != store.Len() {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load flat index",
			fmt.Errorf("index has %d vectors, chunk store has %d records", manifest.Count, store.Len()))
	}
	if manifest.Dimension <= 0 {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load flat index", fmt.Errorf("invalid dimension %d", manifest.Dimension))
	}

	vectors, err := readVectors(filepath.Join(dir, vectorsFile), manifest.Count*manifest.Dimension)
	if err != nil {
		return nil, err
	}
	return &Index{manifest: manifest, vectors: vectors, store: store}, nil
}

func readManifest(dir string) (Manifest, error) {
	raw, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Manifest{}, domain.WrapError(domain.ErrNotFound, "load flat index", err)
		}
		return Manifest{}, fmt.Errorf("read index manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, domain.WrapError(domain.ErrIndexCorrupt, "load flat index", fmt.Errorf("decode manifest: %w", err))
	}
	if _, err := domain.ParseMetric(string(m.Metric)); err != nil || m.Metric == domain.MetricCosine {
		return Manifest{}, domain.WrapError(domain.ErrIndexCorrupt, "load flat index", fmt.Errorf("unsupported metric %q", m.Metric))
	}
	return m, nil
}

func readVectors(path string, values int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.WrapError(domain.ErrNotFound, "load flat index", err)
		}
		return nil, fmt.Errorf("open index vectors: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat index vectors: %w", err)
	}
	if info.Size() != int64(values)*4 {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "load flat index",
			fmt.Errorf("vectors file has %d bytes, manifest implies %d", info.Size(), int64(values)*4))
	}

	vectors := make([]float32, values)
	if err := binary.Read(f, binary.LittleEndian, vectors); err != nil {
		return nil, fmt.Errorf("read index vectors: %w", err)
	}
	return vectors, nil
}

func (ix *Index) Manifest() Manifest {
	return ix.manifest
}

func (ix *Index) Metric() domain.Metric {
	return ix.manifest.Metric
}

func (ix *Index) EmbeddingModel() string {
	return ix.manifest.EmbeddingModel
}

func (ix *Index) Dimension() int {
	return ix.manifest.Dimension
}

// Search scans every row. L2 reports squared euclidean distance, inner
// product reports the dot product against the normalized query.
func (ix *Index) Search(ctx context.Context, query []float32, limit int) ([]domain.Neighbor, error) {
	if limit <= 0 {
		return nil, nil
	}
	dim := ix.manifest.Dimension
	if len(query) != dim {
		return nil, domain.WrapError(domain.ErrEmbeddingMismatch, "search flat index",
			fmt.Errorf("query has %d dimensions, index has %d", len(query), dim))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	metric := ix.manifest.Metric
	if metric == domain.MetricInnerProduct {
		query = Normalize(query)
	}

	type hit struct {
		pos   int
		value float64
	}
	hits := make([]hit, ix.manifest.Count)
	for i := 0; i < ix.manifest.Count; i++ {
		row := ix.vectors[i*dim : (i+1)*dim]
		if metric == domain.MetricL2 {
			hits[i] = hit{pos: i, value: squaredL2(query, row)}
		} else {
			hits[i] = hit{pos: i, value: dot(query, row)}
		}
	}

	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].value != hits[b].value {
			if metric == domain.MetricL2 {
				return hits[a].value < hits[b].value
			}
			return hits[a].value > hits[b].value
		}
		return hits[a].pos < hits[b].pos
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]domain.Neighbor, 0, len(hits))
	for _, h := range hits {
		c, ok := ix.store.At(h.pos)
		if !ok {
			return nil, domain.WrapError(domain.ErrIndexCorrupt, "search flat index", fmt.Errorf("position %d has no chunk", h.pos))
		}
		out = append(out, domain.Neighbor{Position: h.pos, Chunk: c, Distance: h.value})
	}
	return out, nil
}

func squaredL2(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return sum
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

// Normalize returns a unit-length copy of v. A zero vector is returned as is.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
