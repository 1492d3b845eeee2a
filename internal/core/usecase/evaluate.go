package usecase

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
)

const defaultEvaluationGroup = "evaluation"

type EvaluateUseCase struct {
	answerer  ports.QuestionAnswerer
	threshold float64
	workers   int
}

type EvaluateOptions struct {
	Threshold float64
	// Workers bounds how many test cases are answered concurrently.
	Workers int
}

func NewEvaluateUseCase(answerer ports.QuestionAnswerer, opts EvaluateOptions) *EvaluateUseCase {
	threshold := opts.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = 1
	}
	return &EvaluateUseCase{
		answerer:  answerer,
		threshold: threshold,
		workers:   workers,
	}
}

// Evaluate answers every test case and scores it. A failing item is recorded
// with its error and left out of the pooled metrics; the batch continues.
// Results keep the order of tests.
func (uc *EvaluateUseCase) Evaluate(ctx context.Context, tests []domain.TestCase) (*domain.EvaluationReport, error) {
	results := make([]domain.EvaluationResult, len(tests))
	sem := make(chan struct{}, uc.workers)
	var wg sync.WaitGroup

	for i, test := range tests {
		select {
		case <-ctx.Done():
			wg.Wait()
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(i int, test domain.TestCase) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = uc.evaluateOne(ctx, test)
		}(i, test)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	report := &domain.EvaluationReport{
		Results: results,
		Metrics: AggregateMetrics(results),
	}
	slog.Info("evaluation_completed",
		"items", len(results),
		"failed", report.Metrics.Failed,
		"precision", report.Metrics.Precision,
		"recall", report.Metrics.Recall,
		"f1", report.Metrics.F1,
	)
	return report, nil
}

func (uc *EvaluateUseCase) evaluateOne(ctx context.Context, test domain.TestCase) domain.EvaluationResult {
	qtype := ClassifyQuestion(test.Question)
	result := domain.EvaluationResult{
		Question:     test.Question,
		Expected:     test.ExpectedKeywords,
		QuestionType: qtype,
		Hits:         []domain.KeywordHit{},
	}

	groupID := test.GroupID
	if groupID == "" {
		groupID = defaultEvaluationGroup
	}
	threshold := uc.threshold
	answer, err := uc.answerer.Answer(ctx, domain.AnswerRequest{
		Question:  test.Question,
		Threshold: &threshold,
		GroupID:   groupID,
	})
	if err != nil {
		slog.Warn("evaluation_item_failed", "question", test.Question, "error", err)
		result.Error = err.Error()
		return result
	}
	result.Answer = answer.Text

	if qtype == domain.QuestionExplanation {
		recall := RougeLRecall(strings.Join(test.ExpectedKeywords, " "), answer.Text)
		result.RougeL = &recall
		return result
	}

	lowered := strings.ToLower(answer.Text)
	for _, keyword := range test.ExpectedKeywords {
		result.Hits = append(result.Hits, domain.KeywordHit{
			Keyword: keyword,
			Hit:     strings.Contains(lowered, strings.ToLower(keyword)),
		})
	}
	return result
}

// AggregateMetrics pools keyword hits of every successful non-explanation
// result. Every expected keyword is a positive label and a hit is a positive
// prediction, so precision is 1 as soon as any keyword hits and recall is
// the hit fraction.
func AggregateMetrics(results []domain.EvaluationResult) domain.EvaluationMetrics {
	var m domain.EvaluationMetrics
	var rougeSum float64
	for _, r := range results {
		if r.Failed() {
			m.Failed++
			continue
		}
		if r.RougeL != nil {
			rougeSum += *r.RougeL
			m.RougeLItems++
			continue
		}
		for _, hit := range r.Hits {
			m.KeywordTotal++
			if hit.Hit {
				m.KeywordHits++
			}
		}
	}

	if m.KeywordHits > 0 {
		m.Precision = 1
	}
	if m.KeywordTotal > 0 {
		m.Recall = float64(m.KeywordHits) / float64(m.KeywordTotal)
		m.KeywordAccuracy = m.Recall
	}
	if m.Precision+m.Recall > 0 {
		m.F1 = 2 * m.Precision * m.Recall / (m.Precision + m.Recall)
	}
	if m.RougeLItems > 0 {
		m.MeanRougeL = rougeSum / float64(m.RougeLItems)
	}
	return m
}
