package ollama

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/kirillkom/envqa/internal/core/domain"
)

const DefaultNumCtx = 2048

type Client struct {
	baseURL    string
	genModel   string
	embedModel string
	numCtx     int
	httpClient *http.Client
}

func New(baseURL, genModel, embedModel string, numCtx int) *Client {
	if numCtx <= 0 {
		numCtx = DefaultNumCtx
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		genModel:   genModel,
		embedModel: embedModel,
		numCtx:     numCtx,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// Ping checks that the server answers and has model pulled.
func (c *Client) Ping(ctx context.Context, model string) error {
	if c.baseURL == "" {
		return domain.WrapError(domain.ErrUnavailable, "ollama ping", fmt.Errorf("base url is empty"))
	}
	var tags struct {
		Models []struct {
			Name  string `json:"name"`
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := c.getJSON(ctx, "/api/tags", &tags, "tags"); err != nil {
		return domain.WrapError(domain.ErrUnavailable, "ollama ping", err)
	}
	if model == "" {
		return nil
	}
	for _, m := range tags.Models {
		if m.Name == model || m.Model == model || strings.TrimSuffix(m.Name, ":latest") == model {
			return nil
		}
	}
	return domain.WrapError(domain.ErrUnavailable, "ollama ping", fmt.Errorf("model %q is not pulled", model))
}

type Embedder struct {
	client *Client
}

func NewEmbedder(client *Client) *Embedder {
	return &Embedder{client: client}
}

func (e *Embedder) ModelName() string {
	return "ollama/" + e.client.embedModel
}

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	request := map[string]any{
		"model": e.client.embedModel,
		"input": texts,
	}
	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := e.client.postJSON(ctx, "/api/embed", request, &response, "embed"); err != nil {
		return nil, err
	}
	if len(response.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed returned %d vectors for %d texts", len(response.Embeddings), len(texts))
	}
	return response.Embeddings, nil
}

func (e *Embedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// Generator decodes greedily with a fixed seed so equal prompts give equal
// answers.
type Generator struct {
	client *Client
}

func NewGenerator(client *Client) *Generator {
	return &Generator{client: client}
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxLength int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "ollama generate", fmt.Errorf("prompt is empty"))
	}
	if maxLength <= 0 {
		maxLength = 128
	}
	reqBody := map[string]any{
		"model":  g.client.genModel,
		"prompt": prompt,
		"stream": false,
		"options": map[string]any{
			"temperature": 0,
			"top_k":       1,
			"seed":        0,
			"num_predict": maxLength,
			"num_ctx":     g.client.numCtx,
		},
	}
	var response struct {
		Response string `json:"response"`
	}
	if err := g.client.postJSON(ctx, "/api/generate", reqBody, &response, "generate"); err != nil {
		return "", err
	}
	return strings.TrimSpace(response.Response), nil
}
