package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kirillkom/envqa/internal/core/domain"
)

func TestGeneratorSendsDeterministicOptions(t *testing.T) {
	var payload map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			http.NotFound(w, r)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		_, _ = w.Write([]byte(`{"response":"  about 1.1 degrees \n"}`))
	}))
	defer server.Close()

	gen := NewGenerator(New(server.URL, "flan", "embed", 1024))
	answer, err := gen.Generate(context.Background(), "Question: how much warming?\nAnswer:", 64)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if answer != "about 1.1 degrees" {
		t.Fatalf("unexpected answer %q", answer)
	}
	if payload["stream"] != false || payload["model"] != "flan" {
		t.Fatalf("unexpected payload: %v", payload)
	}
	opts, _ := payload["options"].(map[string]any)
	if opts["temperature"] != float64(0) || opts["top_k"] != float64(1) || opts["seed"] != float64(0) {
		t.Fatalf("expected greedy decoding options, got %v", opts)
	}
	if opts["num_predict"] != float64(64) || opts["num_ctx"] != float64(1024) {
		t.Fatalf("unexpected length options: %v", opts)
	}
}

func TestGenerateRejectsEmptyPrompt(t *testing.T) {
	gen := NewGenerator(New("http://127.0.0.1:1", "flan", "embed", 0))
	_, err := gen.Generate(context.Background(), "  ", 10)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestEmbedIncludesHTTPBodyInError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model unavailable", http.StatusBadGateway)
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "embed", 0))
	_, err := embedder.Embed(context.Background(), []string{"hello"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected response body in error, got %v", err)
	}
	if !domain.IsKind(err, domain.ErrTemporary) {
		t.Fatalf("expected 502 to be temporary, got %v", err)
	}
}

func TestEmbedQueryReturnsSingleVector(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	}))
	defer server.Close()

	embedder := NewEmbedder(New(server.URL, "gen", "nomic-embed-text", 0))
	vec, err := embedder.EmbedQuery(context.Background(), "sea level")
	if err != nil {
		t.Fatalf("EmbedQuery() error = %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 dims, got %d", len(vec))
	}
	if embedder.ModelName() != "ollama/nomic-embed-text" {
		t.Fatalf("unexpected model name %q", embedder.ModelName())
	}
}

func TestPingChecksPulledModel(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(`{"models":[{"name":"flan:latest","model":"flan:latest"}]}`))
	}))
	defer server.Close()

	client := New(server.URL, "flan", "embed", 0)
	if err := client.Ping(context.Background(), "flan"); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := client.Ping(context.Background(), "llama3"); !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable for missing model, got %v", err)
	}
}

func TestPingUnreachableServerIsUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := server.URL
	server.Close()

	err := New(url, "flan", "embed", 0).Ping(context.Background(), "flan")
	if !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}
