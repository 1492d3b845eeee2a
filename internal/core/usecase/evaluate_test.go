package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/kirillkom/envqa/internal/core/domain"
)

type answererFake struct {
	answers map[string]string
	errs    map[string]error
}

func (f *answererFake) Answer(_ context.Context, req domain.AnswerRequest) (*domain.Answer, error) {
	if err, ok := f.errs[req.Question]; ok {
		return nil, err
	}
	return &domain.Answer{Text: f.answers[req.Question]}, nil
}

func (f *answererFake) AnswerQuestion(ctx context.Context, question string, threshold float64) (string, error) {
	answer, err := f.Answer(ctx, domain.AnswerRequest{Question: question, Threshold: &threshold})
	if err != nil {
		return "", err
	}
	return answer.Text, nil
}

func TestEvaluateSingleNumericHit(t *testing.T) {
	q := "How much has the planet warmed since pre-industrial times?"
	uc := NewEvaluateUseCase(&answererFake{answers: map[string]string{q: "About 1.1 °C."}}, EvaluateOptions{})

	report, err := uc.Evaluate(context.Background(), []domain.TestCase{{Question: q, ExpectedKeywords: []string{"1.1"}}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	m := report.Metrics
	if m.Precision != 1 || m.Recall != 1 || m.F1 != 1 {
		t.Fatalf("expected P=R=F1=1, got %+v", m)
	}
	if report.Results[0].QuestionType != domain.QuestionNumeric {
		t.Fatalf("expected numeric qtype, got %s", report.Results[0].QuestionType)
	}
	if len(report.Results[0].Hits) != 1 || !report.Results[0].Hits[0].Hit {
		t.Fatalf("expected a single keyword hit")
	}
}

func TestEvaluateGlobalTemperatureScenario(t *testing.T) {
	q := "How many degrees has global temperature risen?"
	answerer := &answererFake{answers: map[string]string{q: "Global temperature has risen by 1.1 degrees Celsius."}}
	uc := NewEvaluateUseCase(answerer, EvaluateOptions{})

	report, err := uc.Evaluate(context.Background(), []domain.TestCase{{Question: q, ExpectedKeywords: []string{"1.1"}}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	m := report.Metrics
	if m.Precision != 1 || m.Recall != 1 || m.F1 != 1 {
		t.Fatalf("expected P=R=F1=1.0, got %+v", m)
	}
	if report.Results[0].QuestionType != domain.QuestionNumeric || report.Results[0].RougeL != nil {
		t.Fatalf("expected keyword-scored numeric result, got %+v", report.Results[0])
	}
}

func TestEvaluateExplanationUsesRougeL(t *testing.T) {
	q := "Explain the greenhouse effect"
	uc := NewEvaluateUseCase(&answererFake{answers: map[string]string{q: "gases trap heat in the atmosphere"}}, EvaluateOptions{})

	report, err := uc.Evaluate(context.Background(), []domain.TestCase{
		{Question: q, ExpectedKeywords: []string{"gases", "trap", "heat"}},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	r := report.Results[0]
	if r.RougeL == nil || *r.RougeL != 1 {
		t.Fatalf("expected rougeL recall 1, got %v", r.RougeL)
	}
	if len(r.Hits) != 0 {
		t.Fatalf("expected no keyword hits for explanation")
	}
	if report.Metrics.KeywordTotal != 0 || report.Metrics.Precision != 0 {
		t.Fatalf("explanation items must not feed keyword metrics: %+v", report.Metrics)
	}
	if report.Metrics.MeanRougeL != 1 || report.Metrics.RougeLItems != 1 {
		t.Fatalf("unexpected rouge aggregate %+v", report.Metrics)
	}
}

func TestEvaluateIsolatesItemFailures(t *testing.T) {
	answerer := &answererFake{
		answers: map[string]string{
			"List the greenhouse gases": "methane, carbon dioxide",
		},
		errs: map[string]error{
			"What is permafrost?": errors.New("generator down"),
		},
	}
	uc := NewEvaluateUseCase(answerer, EvaluateOptions{Workers: 3})

	report, err := uc.Evaluate(context.Background(), []domain.TestCase{
		{Question: "What is permafrost?", ExpectedKeywords: []string{"frozen"}},
		{Question: "List the greenhouse gases", ExpectedKeywords: []string{"Methane", "ozone"}},
	})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !report.Results[0].Failed() || !strings.Contains(report.Results[0].Error, "generator down") {
		t.Fatalf("expected first item to carry its error, got %+v", report.Results[0])
	}
	if report.Results[1].Failed() {
		t.Fatalf("expected second item to succeed")
	}
	m := report.Metrics
	if m.Failed != 1 || m.KeywordTotal != 2 || m.KeywordHits != 1 {
		t.Fatalf("unexpected counts %+v", m)
	}
	if m.Precision != 1 || m.Recall != 0.5 || m.KeywordAccuracy != 0.5 {
		t.Fatalf("unexpected metrics %+v", m)
	}
	if math.Abs(m.F1-2.0/3.0) > 1e-9 {
		t.Fatalf("expected F1=2/3, got %f", m.F1)
	}
}

func TestEvaluateKeepsOrderWithWorkers(t *testing.T) {
	answers := make(map[string]string)
	tests := make([]domain.TestCase, 0, 20)
	for i := 0; i < 20; i++ {
		q := fmt.Sprintf("What is item %d?", i)
		answers[q] = fmt.Sprintf("item %d", i)
		tests = append(tests, domain.TestCase{Question: q, ExpectedKeywords: []string{fmt.Sprintf("item %d", i)}})
	}
	uc := NewEvaluateUseCase(&answererFake{answers: answers}, EvaluateOptions{Workers: 4})

	report, err := uc.Evaluate(context.Background(), tests)
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	for i, r := range report.Results {
		if r.Question != tests[i].Question {
			t.Fatalf("result %d out of order: %s", i, r.Question)
		}
	}
	if report.Metrics.Recall != 1 {
		t.Fatalf("expected recall 1, got %f", report.Metrics.Recall)
	}
}

func TestEvaluateNoHitsGivesZeroMetrics(t *testing.T) {
	uc := NewEvaluateUseCase(&answererFake{answers: map[string]string{"What is CO2?": "no idea"}}, EvaluateOptions{})
	report, err := uc.Evaluate(context.Background(), []domain.TestCase{{Question: "What is CO2?", ExpectedKeywords: []string{"gas"}}})
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if report.Metrics.Precision != 0 || report.Metrics.Recall != 0 || report.Metrics.F1 != 0 {
		t.Fatalf("expected zero metrics, got %+v", report.Metrics)
	}
}

func TestEvaluateCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	uc := NewEvaluateUseCase(&answererFake{}, EvaluateOptions{})
	if _, err := uc.Evaluate(ctx, []domain.TestCase{{Question: "q"}}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
