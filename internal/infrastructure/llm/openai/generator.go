package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/kirillkom/envqa/internal/core/domain"
)

const DefaultModel = "gpt-4o-mini"

// Generator is a chat-completions backed text generator. Sampling is pinned
// to temperature 0 with a fixed seed.
type Generator struct {
	client openai.Client
	model  string
}

// NewGenerator fails with domain.ErrUnavailable when no credential is set, so
// a misconfigured service never starts.
func NewGenerator(apiKey, baseURL, model string) (*Generator, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, domain.WrapError(domain.ErrUnavailable, "create openai generator", errors.New("OPENAI_API_KEY is not set"))
	}
	if model == "" {
		model = DefaultModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Generator{
		client: openai.NewClient(opts...),
		model:  model,
	}, nil
}

func (g *Generator) Generate(ctx context.Context, prompt string, maxLength int) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", domain.WrapError(domain.ErrInvalidInput, "openai generate", errors.New("prompt is empty"))
	}
	if maxLength <= 0 {
		maxLength = 128
	}
	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Model:       openai.ChatModel(g.model),
		Temperature: openai.Float(0),
		Seed:        openai.Int(0),
		MaxTokens:   openai.Int(int64(maxLength)),
	})
	if err != nil {
		return "", classifyError(err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai generate: empty choices")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusUnauthorized, apiErr.StatusCode == http.StatusForbidden:
			return domain.WrapError(domain.ErrUnavailable, "openai generate", err)
		case apiErr.StatusCode == http.StatusTooManyRequests, apiErr.StatusCode >= 500:
			return domain.WrapError(domain.ErrTemporary, "openai generate", err)
		case apiErr.StatusCode == http.StatusBadRequest:
			return domain.WrapError(domain.ErrInvalidInput, "openai generate", err)
		}
		return fmt.Errorf("openai generate: %w", err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return domain.WrapError(domain.ErrUnavailable, "openai generate", err)
}
