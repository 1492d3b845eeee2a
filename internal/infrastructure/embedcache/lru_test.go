package embedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingEmbedder struct {
	calls  int
	texts  []string
	failOn string
}

func (c *countingEmbedder) ModelName() string { return "counting" }

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	out := make([][]float32, 0, len(texts))
	for _, text := range texts {
		if text == c.failOn {
			return nil, errors.New("boom")
		}
		c.texts = append(c.texts, text)
		out = append(out, []float32{float32(len(text)), 1})
	}
	return out, nil
}

func (c *countingEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func TestWrapDisabledReturnsInner(t *testing.T) {
	inner := &countingEmbedder{}
	assert.Same(t, inner, Wrap(inner, 0, time.Minute))
	assert.Same(t, inner, Wrap(inner, 10, 0))
}

func TestEmbedQueryHitsCache(t *testing.T) {
	inner := &countingEmbedder{}
	cached := Wrap(inner, 16, time.Minute)

	first, err := cached.EmbedQuery(context.Background(), "what is methane")
	require.NoError(t, err)
	first[0] = -1

	second, err := cached.EmbedQuery(context.Background(), "what is methane")
	require.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.Equal(t, float32(len("what is methane")), second[0], "cached vector must not alias caller memory")
	assert.Equal(t, "counting", cached.ModelName())
}

func TestEmbedOnlyForwardsMisses(t *testing.T) {
	inner := &countingEmbedder{}
	cached := Wrap(inner, 16, time.Minute)

	_, err := cached.Embed(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)

	vectors, err := cached.Embed(context.Background(), []string{"bb", "ccc", "a"})
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	assert.Equal(t, []float32{2, 1}, vectors[0])
	assert.Equal(t, []float32{3, 1}, vectors[1])
	assert.Equal(t, []float32{1, 1}, vectors[2])
	assert.Equal(t, []string{"a", "bb", "ccc"}, inner.texts)
}

func TestEmbedErrorIsNotCached(t *testing.T) {
	inner := &countingEmbedder{failOn: "bad"}
	cached := Wrap(inner, 16, time.Minute)

	_, err := cached.EmbedQuery(context.Background(), "bad")
	require.Error(t, err)

	inner.failOn = ""
	_, err = cached.EmbedQuery(context.Background(), "bad")
	require.NoError(t, err)
	assert.Equal(t, 2, inner.calls)
}
