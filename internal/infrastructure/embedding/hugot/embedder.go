package hugot

import (
	"context"
	"fmt"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/kirillkom/envqa/internal/core/domain"
)

// Embedder runs a sentence-transformers model in-process on the pure Go
// backend.
type Embedder struct {
	mu        sync.Mutex
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
	modelName string
	batchSize int
}

func NewEmbedder(modelDir, modelName string, batchSize int) (*Embedder, error) {
	if modelName == "" {
		modelName = DefaultEmbeddingModel
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	modelPath, err := PrepareModel(modelDir, modelName, "onnx/model.onnx")
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "prepare embedding model", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "create hugot session", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "envqa-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, domain.WrapError(domain.ErrUnavailable, "create embedding pipeline", err)
	}

	return &Embedder{
		session:   session,
		pipeline:  pipeline,
		modelName: modelName,
		batchSize: batchSize,
	}, nil
}

func (e *Embedder) ModelName() string {
	return e.modelName
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.batchSize, len(texts))
		vectors, err := e.run(texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vectors...)
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *Embedder) run(batch []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result, err := e.pipeline.RunPipeline(batch)
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "run embedding pipeline", err)
	}
	if len(result.Embeddings) != len(batch) {
		return nil, fmt.Errorf("embedding pipeline returned %d vectors for %d texts", len(result.Embeddings), len(batch))
	}
	return result.Embeddings, nil
}

func (e *Embedder) Close() error {
	return e.session.Destroy()
}
