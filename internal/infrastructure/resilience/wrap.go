package resilience

import (
	"context"

	"github.com/kirillkom/envqa/internal/core/ports"
)

type guardedGenerator struct {
	next  ports.TextGenerator
	guard *Guard
}

// WrapGenerator routes Generate through the guard. A nil guard returns next.
func WrapGenerator(next ports.TextGenerator, guard *Guard) ports.TextGenerator {
	if guard == nil {
		return next
	}
	return &guardedGenerator{next: next, guard: guard}
}

func (g *guardedGenerator) Generate(ctx context.Context, prompt string, maxLength int) (string, error) {
	var out string
	err := g.guard.Do(ctx, "generate", func(ctx context.Context) error {
		var err error
		out, err = g.next.Generate(ctx, prompt, maxLength)
		return err
	})
	return out, err
}

type guardedEmbedder struct {
	next  ports.Embedder
	guard *Guard
}

func WrapEmbedder(next ports.Embedder, guard *Guard) ports.Embedder {
	if guard == nil {
		return next
	}
	return &guardedEmbedder{next: next, guard: guard}
}

func (e *guardedEmbedder) ModelName() string {
	return e.next.ModelName()
}

func (e *guardedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var out [][]float32
	err := e.guard.Do(ctx, "embed", func(ctx context.Context) error {
		var err error
		out, err = e.next.Embed(ctx, texts)
		return err
	})
	return out, err
}

func (e *guardedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	var out []float32
	err := e.guard.Do(ctx, "embed_query", func(ctx context.Context) error {
		var err error
		out, err = e.next.EmbedQuery(ctx, text)
		return err
	})
	return out, err
}
