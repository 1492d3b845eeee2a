package ports

import (
	"context"
	"io"

	"github.com/kirillkom/envqa/internal/core/domain"
)

// Embedder builds vectors for chunks and query text. ModelName identifies the
// embedding space; an index is only queryable with the embedder it was built with.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	ModelName() string
}

// VectorIndex is a read-only nearest-neighbor index over the chunk store.
type VectorIndex interface {
	Search(ctx context.Context, queryVector []float32, limit int) ([]domain.Neighbor, error)
	Metric() domain.Metric
	EmbeddingModel() string
	Dimension() int
}

// IndexWriter fills an index from an embedded chunk store.
type IndexWriter interface {
	Write(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, embeddingModel string) error
}

// Reranker scores (question, chunk) pairs. Scores are returned in input order.
type Reranker interface {
	Score(ctx context.Context, question string, chunks []domain.Chunk) ([]float64, error)
}

// TextGenerator decodes deterministically: equal prompts yield equal answers.
type TextGenerator interface {
	Generate(ctx context.Context, prompt string, maxLength int) (string, error)
}

// EntityExtractor returns the named entities mentioned in text.
type EntityExtractor interface {
	Entities(ctx context.Context, text string) ([]string, error)
}

// AuditLog is an append-only record of answered questions.
type AuditLog interface {
	Record(ctx context.Context, entry domain.AuditEntry) error
}

// EvaluationRunRepository persists asynchronous evaluation runs.
type EvaluationRunRepository interface {
	Create(ctx context.Context, run *domain.EvaluationRun) error
	GetByID(ctx context.Context, id string) (*domain.EvaluationRun, error)
	UpdateStatus(ctx context.Context, id string, status domain.EvaluationStatus, errMessage string) error
	SaveReport(ctx context.Context, id string, report *domain.EvaluationReport) error
}

// ObjectStorage stores uploaded test sets.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// MessageQueue publishes/consumes evaluation job events.
type MessageQueue interface {
	PublishEvaluationRequested(ctx context.Context, runID string) error
	SubscribeEvaluationRequested(ctx context.Context, handler func(context.Context, string) error) error
}

// TestSetLoader reads a stored test set.
type TestSetLoader interface {
	Load(ctx context.Context, key string) ([]domain.TestCase, error)
}
