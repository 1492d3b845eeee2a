package domain

import "time"

type TestCase struct {
	Question         string   `json:"question"`
	ExpectedKeywords []string `json:"expected_keywords"`
	GroupID          string   `json:"group_id,omitempty"`
}

type KeywordHit struct {
	Keyword string `json:"keyword"`
	Hit     bool   `json:"hit"`
}

// EvaluationResult is the scored outcome of one test case. RougeL is set for
// explanation questions, Hits for every other type. Error is set instead when
// answering the question failed.
type EvaluationResult struct {
	Question     string       `json:"question"`
	Answer       string       `json:"answer"`
	Expected     []string     `json:"expected"`
	QuestionType QuestionType `json:"qtype"`
	Hits         []KeywordHit `json:"hits"`
	RougeL       *float64     `json:"rougeL"`
	Error        string       `json:"error,omitempty"`
}

func (r EvaluationResult) Failed() bool {
	return r.Error != ""
}

// EvaluationMetrics pools keyword hits across all non-explanation results.
// Every expected keyword is a positive label, so Precision is 1 whenever any
// keyword hit and Recall equals KeywordAccuracy.
type EvaluationMetrics struct {
	Precision       float64 `json:"precision"`
	Recall          float64 `json:"recall"`
	F1              float64 `json:"f1"`
	KeywordAccuracy float64 `json:"keyword_accuracy"`
	KeywordTotal    int     `json:"keyword_total"`
	KeywordHits     int     `json:"keyword_hits"`
	MeanRougeL      float64 `json:"mean_rougeL"`
	RougeLItems     int     `json:"rougeL_items"`
	Failed          int     `json:"failed"`
}

type EvaluationReport struct {
	Results []EvaluationResult `json:"results"`
	Metrics EvaluationMetrics  `json:"metrics"`
}

type EvaluationStatus string

const (
	EvaluationQueued    EvaluationStatus = "queued"
	EvaluationRunning   EvaluationStatus = "running"
	EvaluationCompleted EvaluationStatus = "completed"
	EvaluationFailed    EvaluationStatus = "failed"
)

// EvaluationRun tracks an asynchronous evaluation of an uploaded test set.
type EvaluationRun struct {
	ID          string            `json:"id"`
	Filename    string            `json:"filename"`
	StoragePath string            `json:"storage_path"`
	Status      EvaluationStatus  `json:"status"`
	Error       string            `json:"error,omitempty"`
	Report      *EvaluationReport `json:"report,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}
