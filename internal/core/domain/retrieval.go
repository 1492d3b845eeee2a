package domain

import "fmt"

// Chunk is the atomic unit of retrieval. Records are produced offline by the
// corpus builder and never mutated afterwards.
type Chunk struct {
	DocID   string  `json:"doc_id"`
	Section *string `json:"section"`
	ChunkID int     `json:"chunk_id"`
	Text    string  `json:"text"`
}

// Key identifies a chunk across the whole store; (doc_id, chunk_id) is unique.
func (c Chunk) Key() string {
	return fmt.Sprintf("%s:%d", c.DocID, c.ChunkID)
}

func (c Chunk) SectionName() string {
	if c.Section == nil {
		return ""
	}
	return *c.Section
}

// Metric names the comparison an index performs.
type Metric string

const (
	MetricL2           Metric = "l2"
	MetricInnerProduct Metric = "ip"
	MetricCosine       Metric = "cosine"
)

func ParseMetric(s string) (Metric, error) {
	switch Metric(s) {
	case MetricL2, MetricInnerProduct, MetricCosine:
		return Metric(s), nil
	default:
		return "", fmt.Errorf("unknown index metric %q", s)
	}
}

// Similarity maps a raw index value onto a similarity score. L2 distances map
// to 1/(1+d), which lies in (0, 1] and decreases as the distance grows.
// Inner-product and cosine backends already report a similarity.
func (m Metric) Similarity(raw float64) float64 {
	switch m {
	case MetricL2:
		if raw < 0 {
			raw = 0
		}
		return 1 / (1 + raw)
	default:
		return raw
	}
}

// Neighbor is a raw nearest-neighbor hit as reported by an index.
type Neighbor struct {
	Position int
	Chunk    Chunk
	Distance float64
}

// Candidate is a neighbor after score conversion. RerankScore is set only when
// a re-ranker has re-ordered the result; Similarity is kept for threshold
// auditing either way.
type Candidate struct {
	Chunk       Chunk    `json:"chunk"`
	RawDistance float64  `json:"raw_distance"`
	Similarity  float64  `json:"similarity_score"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// RankScore is the score the candidate is ordered by.
func (c Candidate) RankScore() float64 {
	if c.RerankScore != nil {
		return *c.RerankScore
	}
	return c.Similarity
}

func CandidateTexts(candidates []Candidate) []string {
	out := make([]string, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Chunk.Text)
	}
	return out
}
