package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
)

const (
	DefaultRetrievalDepth = 10
	defaultGroupID        = "default"
)

// AnswerUseCase runs classify -> retrieve -> prompt -> generate -> audit for
// one question. Nothing is retried; backend errors propagate to the caller.
type AnswerUseCase struct {
	retriever      ports.CandidateRetriever
	generator      ports.TextGenerator
	audit          ports.AuditLog
	retrievalDepth int
	now            func() time.Time
}

type AnswerOptions struct {
	RetrievalDepth int
}

func NewAnswerUseCase(
	retriever ports.CandidateRetriever,
	generator ports.TextGenerator,
	audit ports.AuditLog,
	opts AnswerOptions,
) *AnswerUseCase {
	depth := opts.RetrievalDepth
	if depth <= 0 {
		depth = DefaultRetrievalDepth
	}
	return &AnswerUseCase{
		retriever:      retriever,
		generator:      generator,
		audit:          audit,
		retrievalDepth: depth,
		now:            time.Now,
	}
}

// AnswerQuestion is the plain string form used by batch evaluation.
func (uc *AnswerUseCase) AnswerQuestion(ctx context.Context, question string, threshold float64) (string, error) {
	answer, err := uc.Answer(ctx, domain.AnswerRequest{Question: question, Threshold: &threshold})
	if err != nil {
		return "", err
	}
	return answer.Text, nil
}

func (uc *AnswerUseCase) Answer(ctx context.Context, req domain.AnswerRequest) (*domain.Answer, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "answer question", fmt.Errorf("question is required"))
	}
	threshold := uc.retriever.Threshold()
	if req.Threshold != nil {
		threshold = *req.Threshold
		if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
			return nil, domain.WrapError(domain.ErrInvalidInput, "answer question", fmt.Errorf("threshold must be within [0, 1], got %v", threshold))
		}
	}

	qtype := ClassifyQuestion(question)
	desired := desiredContexts(qtype)

	candidates, err := uc.retriever.TopK(ctx, question, uc.retrievalDepth, threshold)
	if err != nil {
		return nil, fmt.Errorf("retrieve contexts: %w", err)
	}
	if len(candidates) > desired {
		candidates = candidates[:desired]
	}
	if len(candidates) == 0 {
		slog.Warn("answer_without_context", "question_type", qtype, "threshold", threshold)
	}

	prompt := BuildPrompt(question, qtype, domain.CandidateTexts(candidates))
	text, err := uc.generator.Generate(ctx, prompt, generationBudget(qtype))
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	groupID := strings.TrimSpace(req.GroupID)
	if groupID == "" {
		groupID = defaultGroupID
	}
	if uc.audit != nil {
		entry := domain.AuditEntry{
			Timestamp: uc.now().UTC(),
			Question:  question,
			QType:     qtype,
			Contexts:  candidates,
			Prompt:    prompt,
			Answer:    text,
			GroupID:   groupID,
		}
		if err := uc.audit.Record(ctx, entry); err != nil {
			slog.Warn("audit_record_failed", "error", err)
		}
	}

	answer := &domain.Answer{
		Text:         text,
		QuestionType: qtype,
		Contexts:     candidates,
		Prompt:       prompt,
	}
	if qtype == domain.QuestionList {
		answer.Items = CleanListAnswer(text)
	}

	slog.Info("answer_question",
		"question_type", qtype,
		"contexts", len(candidates),
		"group_id", groupID,
	)
	return answer, nil
}

// CleanListAnswer splits a line-per-item answer, strips bullet markers and
// drops case-insensitive duplicates while keeping the first spelling.
func CleanListAnswer(raw string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, line := range strings.Split(raw, "\n") {
		if strings.TrimSpace(line) == "" {
			continue
		}
		item := strings.TrimSpace(strings.Trim(line, "-• "))
		if item == "" {
			continue
		}
		key := strings.ToLower(item)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}
