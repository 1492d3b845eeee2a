package ports

import (
	"context"
	"io"

	"github.com/kirillkom/envqa/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for interactive question answering.
type QuestionAnswerer interface {
	Answer(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error)
	AnswerQuestion(ctx context.Context, question string, threshold float64) (string, error)
}

// CandidateRetriever returns at most k candidates scoring at least threshold.
// Threshold is the configured cut-off used when a caller does not override it.
type CandidateRetriever interface {
	TopK(ctx context.Context, query string, k int, threshold float64) ([]domain.Candidate, error)
	Threshold() float64
}

// Evaluator scores a labeled test set against the answering pipeline.
type Evaluator interface {
	Evaluate(ctx context.Context, tests []domain.TestCase) (*domain.EvaluationReport, error)
}

// GroundingVerifier checks an answer against the evidence it cites.
type GroundingVerifier interface {
	Verify(ctx context.Context, req domain.GroundingRequest) (domain.GroundingVerdict, error)
}

// EvaluationSubmitter accepts a test set for asynchronous evaluation.
type EvaluationSubmitter interface {
	Submit(ctx context.Context, filename string, body io.Reader) (*domain.EvaluationRun, error)
}

// EvaluationReader is the read model for evaluation runs.
type EvaluationReader interface {
	GetByID(ctx context.Context, id string) (*domain.EvaluationRun, error)
}

// EvaluationProcessor runs a queued evaluation.
type EvaluationProcessor interface {
	ProcessByID(ctx context.Context, runID string) error
}
