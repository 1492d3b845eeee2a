package usecase

import (
	"context"
	"sync"

	"github.com/kirillkom/envqa/internal/core/domain"
)

type embedderFake struct {
	model   string
	vectors map[string][]float32
	dim     int
	err     error
	queries []string
}

func (f *embedderFake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		vec, err := f.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out = append(out, vec)
	}
	return out, nil
}

func (f *embedderFake) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.queries = append(f.queries, text)
	if f.err != nil {
		return nil, f.err
	}
	if vec, ok := f.vectors[text]; ok {
		return vec, nil
	}
	dim := f.dim
	if dim == 0 {
		dim = 2
	}
	return make([]float32, dim), nil
}

func (f *embedderFake) ModelName() string {
	if f.model == "" {
		return "fake-embedder"
	}
	return f.model
}

type indexFake struct {
	metric    domain.Metric
	model     string
	dim       int
	neighbors []domain.Neighbor
	err       error
	limit     int
}

func (f *indexFake) Search(_ context.Context, _ []float32, limit int) ([]domain.Neighbor, error) {
	f.limit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.neighbors) {
		return f.neighbors[:limit], nil
	}
	return f.neighbors, nil
}

func (f *indexFake) Metric() domain.Metric {
	if f.metric == "" {
		return domain.MetricL2
	}
	return f.metric
}

func (f *indexFake) EmbeddingModel() string { return f.model }

func (f *indexFake) Dimension() int {
	if f.dim == 0 {
		return 2
	}
	return f.dim
}

type rerankerFake struct {
	scores []float64
	err    error
}

func (f *rerankerFake) Score(context.Context, string, []domain.Chunk) ([]float64, error) {
	return f.scores, f.err
}

type generatorFake struct {
	mu        sync.Mutex
	prompts   []string
	maxLength []int
	answer    string
	answerFor func(prompt string) (string, error)
	err       error
}

func (f *generatorFake) Generate(_ context.Context, prompt string, maxLength int) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	f.maxLength = append(f.maxLength, maxLength)
	f.mu.Unlock()
	if f.answerFor != nil {
		return f.answerFor(prompt)
	}
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

type auditFake struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (f *auditFake) Record(_ context.Context, entry domain.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
	return f.err
}

type retrieverFake struct {
	mu         sync.Mutex
	threshold  float64
	candidates []domain.Candidate
	err        error
	ks         []int
	thresholds []float64
}

func (f *retrieverFake) TopK(_ context.Context, _ string, k int, threshold float64) ([]domain.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ks = append(f.ks, k)
	f.thresholds = append(f.thresholds, threshold)
	if f.err != nil {
		return nil, f.err
	}
	var out []domain.Candidate
	for _, c := range f.candidates {
		if c.Similarity >= threshold {
			out = append(out, c)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (f *retrieverFake) Threshold() float64 {
	if f.threshold == 0 {
		return DefaultThreshold
	}
	return f.threshold
}

func chunk(docID string, id int, text string) domain.Chunk {
	return domain.Chunk{DocID: docID, ChunkID: id, Text: text}
}
