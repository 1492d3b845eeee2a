// Package hashing provides a dependency-free embedder: tokens are hashed into
// a fixed number of buckets (signed feature hashing) and the result is scaled
// to unit length. Equal inputs always produce equal vectors.
package hashing

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

const DefaultDimension = 256

type Embedder struct {
	dim int
}

func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimension
	}
	return &Embedder{dim: dim}
}

func (e *Embedder) ModelName() string {
	return fmt.Sprintf("hashing-bow-%d", e.dim)
}

func (e *Embedder) Dimension() int {
	return e.dim
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out = append(out, e.vector(text))
	}
	return out, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return e.vector(text), nil
}

func (e *Embedder) vector(text string) []float32 {
	vec := make([]float64, e.dim)
	tokens := tokenizeAlphaNum(text)
	for _, token := range tokens {
		h := hashToken(token)
		bucket := int(h % uint32(e.dim))
		sign := 1.0
		if h&(1<<31) != 0 {
			sign = -1.0
		}
		vec[bucket] += sign
	}
	// adjacent token pairs carry a little word-order signal
	for i := 1; i < len(tokens); i++ {
		h := hashToken(tokens[i-1] + " " + tokens[i])
		vec[int(h%uint32(e.dim))] += 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	out := make([]float32, e.dim)
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, v := range vec {
		out[i] = float32(v / norm)
	}
	return out
}

func hashToken(token string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(token))
	return h.Sum32()
}

func tokenizeAlphaNum(s string) []string {
	if s == "" {
		return nil
	}
	out := make([]string, 0, 24)
	var b strings.Builder
	for _, r := range s {
		r = unicode.ToLower(r)
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}
