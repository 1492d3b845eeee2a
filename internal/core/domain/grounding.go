package domain

type GroundingStage string

const (
	StageCitation GroundingStage = "citation"
	StageSemantic GroundingStage = "semantic"
	StageEntity   GroundingStage = "entity"
	StageLCS      GroundingStage = "lcs"
	StageNone     GroundingStage = "none"
)

type GroundingRequest struct {
	Answer       string       `json:"answer"`
	GoldChunk    string       `json:"gold_chunk"`
	QuestionType QuestionType `json:"question_type"`
	GoldList     []string     `json:"gold_list,omitempty"`
}

// GroundingEvidence records the score of every stage that ran. Stages after
// the deciding one are left nil.
type GroundingEvidence struct {
	HasCitation    bool           `json:"has_citation"`
	SemanticCosine *float64       `json:"semantic_cosine,omitempty"`
	EntityOverlap  *float64       `json:"entity_overlap,omitempty"`
	LCSRecall      *float64       `json:"rougeL_recall,omitempty"`
	DecidedBy      GroundingStage `json:"decided_by"`
}

type GroundingVerdict struct {
	Grounded bool              `json:"grounded"`
	Evidence GroundingEvidence `json:"evidence"`
}
