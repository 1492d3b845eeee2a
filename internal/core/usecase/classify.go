package usecase

import (
	"regexp"
	"strings"

	"github.com/kirillkom/envqa/internal/core/domain"
)

type questionRule struct {
	qtype    domain.QuestionType
	patterns []*regexp.Regexp
}

// Rules are evaluated in order and the first match wins. Explanation phrasing
// is tested before list and definition so that "explain the impacts of X" is
// not captured by the broader patterns.
var questionRules = []questionRule{
	{
		qtype:    domain.QuestionNumeric,
		patterns: []*regexp.Regexp{regexp.MustCompile(`\bhow much\b|\bhow many\b`)},
	},
	{
		qtype: domain.QuestionExplanation,
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`^(describe|explain)\b`),
			regexp.MustCompile(`\bwhat (is the role of|are the impacts of|does .* mean|impact)\b`),
		},
	},
	{
		qtype:    domain.QuestionList,
		patterns: []*regexp.Regexp{regexp.MustCompile(`\bwhich\b|\blist\b|\bwhat types of\b|\bwhat (are|which)\b`)},
	},
	{
		qtype:    domain.QuestionCompare,
		patterns: []*regexp.Regexp{regexp.MustCompile(`^(compare|difference)\b|\bdifference between\b`)},
	},
	{
		qtype:    domain.QuestionDefinition,
		patterns: []*regexp.Regexp{regexp.MustCompile(`\bdefine\b|\bwhat is\b|\bimpact\b`)},
	},
}

// ClassifyQuestion maps a question onto its QuestionType. It is pure.
func ClassifyQuestion(question string) domain.QuestionType {
	q := strings.ToLower(strings.TrimSpace(question))
	for _, rule := range questionRules {
		for _, pattern := range rule.patterns {
			if pattern.MatchString(q) {
				return rule.qtype
			}
		}
	}
	return domain.QuestionGeneral
}

// desiredContexts is how many retrieved contexts a question type uses.
func desiredContexts(qtype domain.QuestionType) int {
	if qtype == domain.QuestionExplanation {
		return 2
	}
	return 3
}

// generationBudget is the max_length passed to the generator.
func generationBudget(qtype domain.QuestionType) int {
	if qtype == domain.QuestionExplanation {
		return 200
	}
	return 128
}
