package bootstrap

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/kirillkom/envqa/internal/config"
	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/infrastructure/corpus"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	chunks := []domain.Chunk{
		{DocID: "ipcc", ChunkID: 0, Text: "Methane emissions from livestock trap heat in the atmosphere."},
		{DocID: "ipcc", ChunkID: 1, Text: "Sea level rise threatens coastal cities and wetlands."},
		{DocID: "unep", ChunkID: 0, Text: "Solar and wind power are renewable energy sources."},
	}
	path := filepath.Join(dir, "chunks.jsonl")
	if err := corpus.Write(path, chunks); err != nil {
		t.Fatalf("write chunks: %v", err)
	}
	return config.Config{
		ChunksPath:        path,
		IndexDir:          filepath.Join(dir, "index"),
		IndexBackend:      "flat",
		EmbedBackend:      "hashing",
		EmbedDim:          128,
		EmbedCacheSize:    16,
		GenBackend:        "openai",
		OpenAIAPIKey:      "test-key",
		RAGThreshold:      0.2,
		RAGRetrievalDepth: 10,
		RAGRerankEnabled:  true,
		AuditLogPath:      filepath.Join(dir, "audit.jsonl"),
		EvalWorkers:       1,
	}
}

func buildIndex(t *testing.T, cfg config.Config) {
	t.Helper()
	indexer, err := NewIndexer(context.Background(), cfg, domain.MetricL2)
	if err != nil {
		t.Fatalf("NewIndexer() error = %v", err)
	}
	defer indexer.Close()
	if err := indexer.Build(context.Background(), 2); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
}

func TestNewCoreRetrievesFromBuiltIndex(t *testing.T) {
	cfg := testConfig(t)
	buildIndex(t, cfg)

	core, err := NewCore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewCore() error = %v", err)
	}
	defer core.Close()

	if core.Store.Len() != 3 {
		t.Fatalf("expected 3 chunks, got %d", core.Store.Len())
	}
	candidates, err := core.Retriever.TopK(context.Background(), "Sea level rise threatens coastal cities and wetlands.", 1, 0.5)
	if err != nil {
		t.Fatalf("TopK() error = %v", err)
	}
	if len(candidates) != 1 || candidates[0].Chunk.Key() != "ipcc:1" {
		t.Fatalf("unexpected candidates %+v", candidates)
	}
}

func TestNewCoreRejectsIndexFromOtherEmbedder(t *testing.T) {
	cfg := testConfig(t)
	buildIndex(t, cfg)

	cfg.EmbedDim = 64
	_, err := NewCore(context.Background(), cfg)
	if !domain.IsKind(err, domain.ErrEmbeddingMismatch) {
		t.Fatalf("expected embedding mismatch, got %v", err)
	}
}

func TestNewCoreFailsWithoutGeneratorCredential(t *testing.T) {
	cfg := testConfig(t)
	buildIndex(t, cfg)

	cfg.OpenAIAPIKey = ""
	_, err := NewCore(context.Background(), cfg)
	if !domain.IsKind(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable generator, got %v", err)
	}
}

func TestNewCoreMissingIndexIsNotFound(t *testing.T) {
	cfg := testConfig(t)

	_, err := NewCore(context.Background(), cfg)
	if !domain.IsKind(err, domain.ErrNotFound) {
		t.Fatalf("expected not found index, got %v", err)
	}
}
