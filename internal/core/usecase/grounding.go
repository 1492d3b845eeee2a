package usecase

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
)

var citationTag = regexp.MustCompile(`\[source\]`)

type GroundingThresholds struct {
	Semantic float64
	Entity   float64
	LCS      float64
}

func DefaultGroundingThresholds() GroundingThresholds {
	return GroundingThresholds{Semantic: 0.7, Entity: 0.5, LCS: 0.4}
}

// GroundingVerifier decides whether an answer is supported by a gold chunk.
// Stages run in order and the first satisfied stage decides:
// citation gate, embedding cosine, entity overlap (list questions with a gold
// list only), ROUGE-L recall.
type GroundingVerifier struct {
	embedder   ports.Embedder
	entities   ports.EntityExtractor
	thresholds GroundingThresholds
}

// NewGroundingVerifier accepts a nil entity extractor; the entity stage is
// then skipped.
func NewGroundingVerifier(embedder ports.Embedder, entities ports.EntityExtractor, thresholds GroundingThresholds) *GroundingVerifier {
	defaults := DefaultGroundingThresholds()
	if thresholds.Semantic <= 0 {
		thresholds.Semantic = defaults.Semantic
	}
	if thresholds.Entity <= 0 {
		thresholds.Entity = defaults.Entity
	}
	if thresholds.LCS <= 0 {
		thresholds.LCS = defaults.LCS
	}
	return &GroundingVerifier{
		embedder:   embedder,
		entities:   entities,
		thresholds: thresholds,
	}
}

func (v *GroundingVerifier) Verify(ctx context.Context, req domain.GroundingRequest) (domain.GroundingVerdict, error) {
	evidence := domain.GroundingEvidence{HasCitation: citationTag.MatchString(req.Answer)}
	if !evidence.HasCitation {
		evidence.DecidedBy = domain.StageCitation
		return domain.GroundingVerdict{Grounded: false, Evidence: evidence}, nil
	}

	// Only the answer loses its markers; the gold chunk is compared as given.
	answer := StripCitations(req.Answer)
	gold := req.GoldChunk

	if v.embedder != nil {
		vectors, err := v.embedder.Embed(ctx, []string{answer, gold})
		if err != nil {
			return domain.GroundingVerdict{}, fmt.Errorf("embed grounding pair: %w", err)
		}
		if len(vectors) != 2 {
			return domain.GroundingVerdict{}, fmt.Errorf("embed grounding pair: got %d vectors", len(vectors))
		}
		cosine := CosineSimilarity(vectors[0], vectors[1])
		evidence.SemanticCosine = &cosine
		if cosine >= v.thresholds.Semantic {
			evidence.DecidedBy = domain.StageSemantic
			return domain.GroundingVerdict{Grounded: true, Evidence: evidence}, nil
		}
	}

	if req.QuestionType == domain.QuestionList && req.GoldList != nil && v.entities != nil {
		found, err := v.entities.Entities(ctx, answer)
		if err != nil {
			return domain.GroundingVerdict{}, fmt.Errorf("extract answer entities: %w", err)
		}
		overlap := entityOverlap(found, req.GoldList)
		evidence.EntityOverlap = &overlap
		if overlap >= v.thresholds.Entity {
			evidence.DecidedBy = domain.StageEntity
			return domain.GroundingVerdict{Grounded: true, Evidence: evidence}, nil
		}
	}

	recall := RougeLRecall(gold, answer)
	evidence.LCSRecall = &recall
	if recall >= v.thresholds.LCS {
		evidence.DecidedBy = domain.StageLCS
		return domain.GroundingVerdict{Grounded: true, Evidence: evidence}, nil
	}

	evidence.DecidedBy = domain.StageNone
	return domain.GroundingVerdict{Grounded: false, Evidence: evidence}, nil
}

func StripCitations(text string) string {
	return strings.TrimSpace(citationTag.ReplaceAllString(text, ""))
}

// entityOverlap is the fraction of distinct gold items found among the
// extracted entities, compared case-insensitively.
func entityOverlap(found, gold []string) float64 {
	goldSet := make(map[string]struct{}, len(gold))
	for _, item := range gold {
		item = strings.ToLower(strings.TrimSpace(item))
		if item != "" {
			goldSet[item] = struct{}{}
		}
	}
	if len(goldSet) == 0 {
		return 0
	}
	hits := make(map[string]struct{}, len(found))
	for _, entity := range found {
		entity = strings.ToLower(strings.TrimSpace(entity))
		if _, ok := goldSet[entity]; ok {
			hits[entity] = struct{}{}
		}
	}
	return float64(len(hits)) / float64(len(goldSet))
}

func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
