package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
)

const (
	DefaultThreshold = 0.2
	overFetchFactor  = 2
)

// Retriever wraps a VectorIndex: it embeds the query, over-fetches 2k
// neighbors, converts distances to similarities, drops everything under the
// threshold and returns at most k candidates ordered by score.
type Retriever struct {
	embedder  ports.Embedder
	index     ports.VectorIndex
	reranker  ports.Reranker
	threshold float64
}

type RetrieverOptions struct {
	Threshold float64
	// Reranker is optional; nil disables re-ranking.
	Reranker ports.Reranker
}

// NewRetriever fails when the index was built with a different embedding
// model than the one configured for queries.
func NewRetriever(embedder ports.Embedder, index ports.VectorIndex, opts RetrieverOptions) (*Retriever, error) {
	if embedder == nil || index == nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "new retriever", fmt.Errorf("embedder and index are required"))
	}
	indexModel := index.EmbeddingModel()
	if indexModel != "" && indexModel != embedder.ModelName() {
		return nil, domain.WrapError(
			domain.ErrEmbeddingMismatch,
			"new retriever",
			fmt.Errorf("index built with %q, query embedder is %q", indexModel, embedder.ModelName()),
		)
	}

	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Retriever{
		embedder:  embedder,
		index:     index,
		reranker:  opts.Reranker,
		threshold: threshold,
	}, nil
}

// Threshold is the cut-off applied when callers do not pass their own.
func (r *Retriever) Threshold() float64 {
	return r.threshold
}

// TopK returns at most k candidates with similarity >= threshold. An empty
// result is legal and callers must handle the no-context case.
func (r *Retriever) TopK(ctx context.Context, query string, k int, threshold float64) ([]domain.Candidate, error) {
	if k <= 0 {
		return []domain.Candidate{}, nil
	}

	queryVector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if dim := r.index.Dimension(); dim > 0 && len(queryVector) != dim {
		return nil, domain.WrapError(
			domain.ErrEmbeddingMismatch,
			"retrieve candidates",
			fmt.Errorf("query vector has %d dimensions, index has %d", len(queryVector), dim),
		)
	}

	neighbors, err := r.index.Search(ctx, queryVector, overFetchFactor*k)
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}

	metric := r.index.Metric()
	candidates := make([]domain.Candidate, 0, len(neighbors))
	for _, n := range neighbors {
		score := metric.Similarity(n.Distance)
		if math.IsNaN(score) || score < threshold {
			continue
		}
		candidates = append(candidates, domain.Candidate{
			Chunk:       n.Chunk,
			RawDistance: n.Distance,
			Similarity:  score,
		})
	}

	sortCandidates(candidates, func(c domain.Candidate) float64 { return c.Similarity })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	if r.reranker != nil && len(candidates) > 0 {
		if err := r.rerank(ctx, query, candidates); err != nil {
			return nil, err
		}
	}

	slog.Debug("retrieval_candidates",
		"neighbors", len(neighbors),
		"kept", len(candidates),
		"k", k,
		"threshold", threshold,
		"reranked", r.reranker != nil,
	)
	return candidates, nil
}

func (r *Retriever) rerank(ctx context.Context, query string, candidates []domain.Candidate) error {
	chunks := make([]domain.Chunk, len(candidates))
	for i := range candidates {
		chunks[i] = candidates[i].Chunk
	}
	scores, err := r.reranker.Score(ctx, query, chunks)
	if err != nil {
		return fmt.Errorf("rerank candidates: %w", err)
	}
	if len(scores) != len(candidates) {
		return fmt.Errorf("rerank candidates: got %d scores for %d candidates", len(scores), len(candidates))
	}
	for i := range candidates {
		score := scores[i]
		candidates[i].RerankScore = &score
	}
	sortCandidates(candidates, domain.Candidate.RankScore)
	return nil
}

func sortCandidates(candidates []domain.Candidate, score func(domain.Candidate) float64) {
	sort.SliceStable(candidates, func(i, j int) bool {
		si, sj := score(candidates[i]), score(candidates[j])
		if si != sj {
			return si > sj
		}
		if candidates[i].Chunk.DocID != candidates[j].Chunk.DocID {
			return candidates[i].Chunk.DocID < candidates[j].Chunk.DocID
		}
		return candidates[i].Chunk.ChunkID < candidates[j].Chunk.ChunkID
	})
}
