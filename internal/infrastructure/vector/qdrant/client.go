package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/infrastructure/corpus"
)

const upsertBatchSize = 256

// Client stores one point per chunk with the chunk-store position as point
// id. Qdrant scores with cosine similarity.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client

	ensureMu          sync.Mutex
	ensuredCollection bool
	ensuredVectorSize int
}

func New(baseURL, collection string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Write upserts vectors for chunks, keyed by position.
func (c *Client) Write(ctx context.Context, chunks []domain.Chunk, vectors [][]float32, embeddingModel string) error {
	if len(chunks) == 0 || len(vectors) == 0 {
		return nil
	}
	if len(chunks) != len(vectors) {
		return domain.WrapError(domain.ErrInvalidInput, "qdrant write",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)))
	}
	if err := c.ensureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}

	type point struct {
		ID      int            `json:"id"`
		Vector  []float32      `json:"vector"`
		Payload map[string]any `json:"payload"`
	}

	for start := 0; start < len(chunks); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(chunks))
		points := make([]point, 0, end-start)
		for i := start; i < end; i++ {
			points = append(points, point{
				ID:     i,
				Vector: vectors[i],
				Payload: map[string]any{
					"doc_id":          chunks[i].DocID,
					"chunk_id":        chunks[i].ChunkID,
					"section":         chunks[i].Section,
					"text":            chunks[i].Text,
					"embedding_model": embeddingModel,
				},
			})
		}
		url := fmt.Sprintf("%s/collections/%s/points?wait=true", c.baseURL, c.collection)
		if err := c.doJSON(ctx, http.MethodPut, url, map[string]any{"points": points}, nil, "qdrant upsert"); err != nil {
			return err
		}
	}
	return nil
}

// Index is a read-only view of a qdrant collection bound to a chunk store.
type Index struct {
	client    *Client
	store     *corpus.Store
	model     string
	dimension int
}

// Open checks that the collection mirrors the chunk store and reads the
// embedding model recorded with its points.
func (c *Client) Open(ctx context.Context, store *corpus.Store) (*Index, error) {
	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	if err := c.doJSON(ctx, http.MethodGet, url, nil, &info, "qdrant collection info"); err != nil {
		return nil, err
	}
	if info.Result.PointsCount != store.Len() {
		return nil, domain.WrapError(domain.ErrIndexCorrupt, "open qdrant index",
			fmt.Errorf("collection has %d points, chunk store has %d records", info.Result.PointsCount, store.Len()))
	}

	var scroll struct {
		Result struct {
			Points []struct {
				Payload map[string]any `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	scrollURL := fmt.Sprintf("%s/collections/%s/points/scroll", c.baseURL, c.collection)
	body := map[string]any{"limit": 1, "with_payload": []string{"embedding_model"}, "with_vector": false}
	if err := c.doJSON(ctx, http.MethodPost, scrollURL, body, &scroll, "qdrant scroll"); err != nil {
		return nil, err
	}
	model := ""
	if len(scroll.Result.Points) > 0 {
		model = getStringPayload(scroll.Result.Points[0].Payload, "embedding_model")
	}

	return &Index{
		client:    c,
		store:     store,
		model:     model,
		dimension: info.Result.Config.Params.Vectors.Size,
	}, nil
}

func (ix *Index) Metric() domain.Metric  { return domain.MetricCosine }
func (ix *Index) EmbeddingModel() string { return ix.model }
func (ix *Index) Dimension() int         { return ix.dimension }

func (ix *Index) Search(ctx context.Context, queryVector []float32, limit int) ([]domain.Neighbor, error) {
	if limit <= 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"vector":       queryVector,
		"limit":        limit,
		"with_payload": []string{"doc_id", "chunk_id"},
	}
	var searchResp struct {
		Result []struct {
			ID      int            `json:"id"`
			Score   float64        `json:"score"`
			Payload map[string]any `json:"payload"`
		} `json:"result"`
	}
	url := fmt.Sprintf("%s/collections/%s/points/search", ix.client.baseURL, ix.client.collection)
	if err := ix.client.doJSON(ctx, http.MethodPost, url, reqBody, &searchResp, "qdrant search"); err != nil {
		return nil, err
	}

	out := make([]domain.Neighbor, 0, len(searchResp.Result))
	for _, r := range searchResp.Result {
		chunk, ok := ix.store.At(r.ID)
		if !ok || chunk.DocID != getStringPayload(r.Payload, "doc_id") {
			return nil, domain.WrapError(domain.ErrIndexCorrupt, "qdrant search",
				fmt.Errorf("point %d does not match the chunk store", r.ID))
		}
		out = append(out, domain.Neighbor{Position: r.ID, Chunk: chunk, Distance: r.Score})
	}
	return out, nil
}

func (c *Client) ensureCollection(ctx context.Context, vectorSize int) error {
	c.ensureMu.Lock()
	if c.ensuredCollection && c.ensuredVectorSize == vectorSize {
		c.ensureMu.Unlock()
		return nil
	}
	c.ensureMu.Unlock()

	reqBody := map[string]any{
		"vectors": map[string]any{
			"size":     vectorSize,
			"distance": "Cosine",
		},
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal create collection body: %w", err)
	}

	url := fmt.Sprintf("%s/collections/%s", c.baseURL, c.collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create collection request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, "qdrant ensure collection", err)
	}
	defer resp.Body.Close()

	// 409 means the collection already exists.
	if resp.StatusCode == http.StatusConflict {
		c.markCollectionEnsured(vectorSize)
		return nil
	}
	if resp.StatusCode >= 300 {
		return statusError("qdrant ensure collection", resp)
	}
	c.markCollectionEnsured(vectorSize)
	return nil
}

func (c *Client) markCollectionEnsured(vectorSize int) {
	c.ensureMu.Lock()
	defer c.ensureMu.Unlock()
	c.ensuredCollection = true
	c.ensuredVectorSize = vectorSize
}

func (c *Client) doJSON(ctx context.Context, method, url string, in, out any, op string) error {
	var reader io.Reader
	if in != nil {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal %s body: %w", op, err)
		}
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("create %s request: %w", op, err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.WrapError(domain.ErrUnavailable, op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.WrapError(domain.ErrNotFound, op, fmt.Errorf("collection %s", c.collection))
	}
	if resp.StatusCode >= 300 {
		return statusError(op, resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", op, err)
	}
	return nil
}

func statusError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if msg := strings.TrimSpace(string(body)); msg != "" {
		return fmt.Errorf("%s status: %s: %s", op, resp.Status, msg)
	}
	return fmt.Errorf("%s status: %s", op, resp.Status)
}

func getStringPayload(payload map[string]any, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	s, ok := v.(string)
	if ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
