package usecase

import "github.com/kljensen/snowball/english"

// rougeTokens lower-cases, keeps [a-z0-9] runs and stems tokens longer than
// three characters with the English snowball stemmer.
func rougeTokens(text string) []string {
	tokens := splitAlphaNumLower(text)
	for i, token := range tokens {
		if len(token) > 3 {
			tokens[i] = english.Stem(token, false)
		}
	}
	return tokens
}

// RougeLRecall is LCS(reference, candidate) / len(reference) over stemmed
// tokens. An empty reference scores 0.
func RougeLRecall(reference, candidate string) float64 {
	ref := rougeTokens(reference)
	if len(ref) == 0 {
		return 0
	}
	cand := rougeTokens(candidate)
	return float64(lcsLength(ref, cand)) / float64(len(ref))
}

func lcsLength(a, b []string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			switch {
			case a[i-1] == b[j-1]:
				curr[j] = prev[j-1] + 1
			case prev[j] >= curr[j-1]:
				curr[j] = prev[j]
			default:
				curr[j] = curr[j-1]
			}
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
