package hugot

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"

	"github.com/kirillkom/envqa/internal/core/domain"
)

// EntityExtractor tags PER/ORG/LOC/MISC spans with a token classification
// model and returns the entity surface forms.
type EntityExtractor struct {
	mu       sync.Mutex
	session  *hugot.Session
	pipeline *pipelines.TokenClassificationPipeline
	minScore float32
}

func NewEntityExtractor(modelDir, modelName string) (*EntityExtractor, error) {
	if modelName == "" {
		modelName = DefaultNERModel
	}
	modelPath, err := PrepareModel(modelDir, modelName, "model.onnx")
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "prepare ner model", err)
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, domain.WrapError(domain.ErrUnavailable, "create hugot session", err)
	}
	pipeline, err := hugot.NewPipeline(session, hugot.TokenClassificationConfig{
		ModelPath: modelPath,
		Name:      "envqa-ner",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("create ner pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, domain.WrapError(domain.ErrUnavailable, "create ner pipeline", err)
	}

	return &EntityExtractor{session: session, pipeline: pipeline, minScore: 0.5}, nil
}

func (x *EntityExtractor) Entities(ctx context.Context, text string) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.Lock()
	result, err := x.pipeline.RunPipeline([]string{text})
	x.mu.Unlock()
	if err != nil {
		return nil, domain.WrapError(domain.ErrTemporary, "run ner pipeline", err)
	}
	if len(result.Entities) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{})
	var out []string
	for _, entity := range result.Entities[0] {
		if entity.Score < x.minScore {
			continue
		}
		word := normalizeWord(entity.Word)
		if word == "" {
			continue
		}
		key := strings.ToLower(word)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, word)
	}
	return out, nil
}

func (x *EntityExtractor) Close() error {
	return x.session.Destroy()
}

// normalizeWord merges WordPiece continuations left by aggregation.
func normalizeWord(word string) string {
	word = strings.ReplaceAll(word, " ##", "")
	word = strings.ReplaceAll(word, "##", "")
	return strings.TrimSpace(word)
}
