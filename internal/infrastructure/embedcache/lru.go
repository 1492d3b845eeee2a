package embedcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kirillkom/envqa/internal/core/ports"
)

// Wrap puts an expiring LRU in front of an embedder. Non-positive size or ttl
// disables caching and returns next unchanged.
func Wrap(next ports.Embedder, size int, ttl time.Duration) ports.Embedder {
	if next == nil || size <= 0 || ttl <= 0 {
		return next
	}
	return &lruEmbedder{
		next:  next,
		cache: expirable.NewLRU[string, []float32](size, nil, ttl),
	}
}

type lruEmbedder struct {
	next  ports.Embedder
	cache *expirable.LRU[string, []float32]
}

func (l *lruEmbedder) ModelName() string {
	return l.next.ModelName()
}

func (l *lruEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(l.next.ModelName(), "query", text)
	if cached, ok := l.cache.Get(key); ok {
		slog.Debug("embedding_cache_hit", "kind", "query")
		return cloneEmbedding(cached), nil
	}
	res, err := l.next.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	l.cache.Add(key, cloneEmbedding(res))
	return res, nil
}

// Embed only sends cache misses to the wrapped embedder.
func (l *lruEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	model := l.next.ModelName()
	out := make([][]float32, len(texts))
	var (
		missIdx   []int
		missTexts []string
	)
	for i, text := range texts {
		if cached, ok := l.cache.Get(cacheKey(model, "passage", text)); ok {
			out[i] = cloneEmbedding(cached)
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vectors, err := l.next.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	for j, vec := range vectors {
		if j >= len(missIdx) {
			break
		}
		i := missIdx[j]
		out[i] = vec
		l.cache.Add(cacheKey(model, "passage", texts[i]), cloneEmbedding(vec))
	}
	return out, nil
}

func cacheKey(modelName, kind, text string) string {
	modelName = strings.TrimSpace(modelName)
	if modelName == "" {
		modelName = "unknown"
	}
	hash := sha256.Sum256([]byte(text))
	return "embed:" + modelName + ":" + kind + ":" + hex.EncodeToString(hash[:])
}

func cloneEmbedding(values []float32) []float32 {
	if len(values) == 0 {
		return nil
	}
	clone := make([]float32, len(values))
	copy(clone, values)
	return clone
}
