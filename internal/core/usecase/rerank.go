package usecase

import (
	"context"
	"strings"
	"unicode"

	"github.com/kirillkom/envqa/internal/core/domain"
)

// LexicalReranker is a pairwise (question, chunk) relevance scorer based on
// token overlap. A chunk whose section heading mentions a question token gets
// a small boost.
type LexicalReranker struct{}

func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

func (r *LexicalReranker) Score(_ context.Context, question string, chunks []domain.Chunk) ([]float64, error) {
	queryTokens := toTokenSet(question)
	scores := make([]float64, len(chunks))
	for i, chunk := range chunks {
		overlap := tokenOverlap(queryTokens, toTokenSet(chunk.Text))
		sectionBoost := sectionTokenHit(queryTokens, chunk.SectionName())
		scores[i] = 0.85*overlap + 0.15*sectionBoost
	}
	return scores, nil
}

func tokenOverlap(query, chunk map[string]struct{}) float64 {
	if len(query) == 0 || len(chunk) == 0 {
		return 0
	}
	matches := 0
	for token := range query {
		if _, ok := chunk[token]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(query))
}

func sectionTokenHit(query map[string]struct{}, section string) float64 {
	if len(query) == 0 || section == "" {
		return 0
	}
	sectionTokens := toTokenSet(section)
	for token := range query {
		if len(token) < 3 {
			continue
		}
		if _, ok := sectionTokens[token]; ok {
			return 1
		}
	}
	return 0
}

func toTokenSet(s string) map[string]struct{} {
	tokens := splitAlphaNumLower(s)
	out := make(map[string]struct{}, len(tokens))
	for _, token := range tokens {
		out[token] = struct{}{}
	}
	return out
}

func splitAlphaNumLower(s string) []string {
	if s == "" {
		return nil
	}

	tokens := make([]string, 0, 16)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			tokens = append(tokens, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		tokens = append(tokens, b.String())
	}
	return tokens
}
