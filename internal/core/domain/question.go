package domain

import (
	"fmt"
	"strings"
	"time"
)

type QuestionType string

const (
	QuestionNumeric     QuestionType = "numeric"
	QuestionList        QuestionType = "list"
	QuestionDefinition  QuestionType = "definition"
	QuestionExplanation QuestionType = "explanation"
	QuestionCompare     QuestionType = "compare"
	QuestionGeneral     QuestionType = "general"
)

func ParseQuestionType(s string) (QuestionType, error) {
	qt := QuestionType(strings.ToLower(strings.TrimSpace(s)))
	switch qt {
	case QuestionNumeric, QuestionList, QuestionDefinition, QuestionExplanation, QuestionCompare, QuestionGeneral:
		return qt, nil
	case "":
		return QuestionGeneral, nil
	default:
		return "", WrapError(ErrInvalidInput, "parse question type", fmt.Errorf("unknown type %q", s))
	}
}

type AnswerRequest struct {
	Question  string   `json:"question"`
	Threshold *float64 `json:"threshold,omitempty"`
	GroupID   string   `json:"group_id,omitempty"`
}

type Answer struct {
	Text         string       `json:"answer"`
	QuestionType QuestionType `json:"question_type"`
	Contexts     []Candidate  `json:"contexts"`
	Items        []string     `json:"items,omitempty"`
	Prompt       string       `json:"-"`
}

// AuditEntry is one line of the append-only interaction log.
type AuditEntry struct {
	Timestamp time.Time    `json:"timestamp"`
	Question  string       `json:"question"`
	QType     QuestionType `json:"question_type"`
	Contexts  []Candidate  `json:"retrieved_chunks"`
	Prompt    string       `json:"prompt"`
	Answer    string       `json:"generated_answer"`
	GroupID   string       `json:"group_id"`
}
