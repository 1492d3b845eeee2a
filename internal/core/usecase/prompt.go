package usecase

import (
	"fmt"
	"strings"

	"github.com/kirillkom/envqa/internal/core/domain"
)

const (
	contextWordBudget = 50
	truncationMarker  = " …"

	explanationRole = "You are a climate scientist. Using ONLY the information below, write a concise " +
		"explanatory paragraph that answers the question."
	listInstruction = "List every matching item mentioned in the context, one per line, " +
		"using the wording of the context. Do not omit any item."
	compareInstruction = "Compare both items named in the question, stating how they are alike " +
		"and how they differ, using only the context."
)

// TruncateWords keeps at most maxWords whitespace-separated words. Truncated
// text gets a trailing ellipsis; text within budget is returned unchanged.
func TruncateWords(text string, maxWords int) string {
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + truncationMarker
}

// BuildPrompt selects the template for qtype. It is pure: equal inputs give
// equal prompts. With no contexts the context block is omitted entirely.
func BuildPrompt(question string, qtype domain.QuestionType, contexts []string) string {
	if qtype == domain.QuestionExplanation {
		return buildExplanationPrompt(question, contexts)
	}
	return buildAnswerPrompt(question, qtype, contexts)
}

func buildAnswerPrompt(question string, qtype domain.QuestionType, contexts []string) string {
	var b strings.Builder
	for i, ctx := range contexts {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(TruncateWords(ctx, contextWordBudget))
	}
	if len(contexts) > 0 {
		b.WriteString("\n\n")
	}

	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n")
	switch qtype {
	case domain.QuestionList:
		b.WriteString(listInstruction)
		b.WriteString("\n")
	case domain.QuestionCompare:
		b.WriteString(compareInstruction)
		b.WriteString("\n")
	}
	b.WriteString("Answer:")
	return b.String()
}

func buildExplanationPrompt(question string, contexts []string) string {
	pieces := make([]string, 0, len(contexts))
	for i, ctx := range contexts {
		pieces = append(pieces, fmt.Sprintf("[%d] %s", i+1, TruncateWords(ctx, contextWordBudget)))
	}

	var b strings.Builder
	b.WriteString(explanationRole)
	b.WriteString("\n\nQuestion: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\n")
	if len(pieces) > 0 {
		b.WriteString("Contexts:\n")
		b.WriteString(strings.Join(pieces, "\n\n"))
		b.WriteString("\n\n")
	}
	b.WriteString("Explanation:")
	return b.String()
}
