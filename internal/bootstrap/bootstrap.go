package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/envqa/internal/config"
	"github.com/kirillkom/envqa/internal/core/domain"
	"github.com/kirillkom/envqa/internal/core/ports"
	"github.com/kirillkom/envqa/internal/core/usecase"
	"github.com/kirillkom/envqa/internal/infrastructure/audit"
	"github.com/kirillkom/envqa/internal/infrastructure/corpus"
	"github.com/kirillkom/envqa/internal/infrastructure/embedcache"
	"github.com/kirillkom/envqa/internal/infrastructure/embedding/hashing"
	"github.com/kirillkom/envqa/internal/infrastructure/embedding/hugot"
	"github.com/kirillkom/envqa/internal/infrastructure/index/flat"
	"github.com/kirillkom/envqa/internal/infrastructure/index/pgvector"
	"github.com/kirillkom/envqa/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/envqa/internal/infrastructure/llm/openai"
	"github.com/kirillkom/envqa/internal/infrastructure/queue/nats"
	"github.com/kirillkom/envqa/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/envqa/internal/infrastructure/resilience"
	"github.com/kirillkom/envqa/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/envqa/internal/infrastructure/testset"
	"github.com/kirillkom/envqa/internal/infrastructure/vector/qdrant"
)

// Core is the question-answering pipeline shared by the API, the worker and
// the CLI.
type Core struct {
	Config config.Config

	Store     *corpus.Store
	Embedder  ports.Embedder
	Index     ports.VectorIndex
	Retriever *usecase.Retriever

	AnswerUC    ports.QuestionAnswerer
	EvaluateUC  ports.Evaluator
	GroundingUC ports.GroundingVerifier

	db  *sql.DB
	res closers
}

type closers []func()

func (c *closers) add(fn func()) {
	*c = append(*c, fn)
}

func (c *closers) closeAll() {
	for i := len(*c) - 1; i >= 0; i-- {
		(*c)[i]()
	}
	*c = nil
}

func NewCore(ctx context.Context, cfg config.Config) (*Core, error) {
	c := &Core{Config: cfg}
	ok := false
	defer func() {
		if !ok {
			c.Close()
		}
	}()

	store, err := corpus.Load(cfg.ChunksPath)
	if err != nil {
		return nil, fmt.Errorf("load chunk store: %w", err)
	}
	c.Store = store

	// One generation call and one query embedding per answer: the breaker
	// still guards them, but nothing is re-issued.
	guard := resilience.NewGuard(answerPathConfig(cfg))

	embedder, err := newEmbedder(cfg, guard, &c.res)
	if err != nil {
		return nil, err
	}
	c.Embedder = embedder

	index, err := openIndex(ctx, cfg, store, c.database)
	if err != nil {
		return nil, err
	}
	c.Index = index

	opts := usecase.RetrieverOptions{Threshold: cfg.RAGThreshold}
	if cfg.RAGRerankEnabled {
		opts.Reranker = usecase.NewLexicalReranker()
	}
	retriever, err := usecase.NewRetriever(embedder, index, opts)
	if err != nil {
		return nil, fmt.Errorf("init retriever: %w", err)
	}
	c.Retriever = retriever

	generator, err := newGenerator(ctx, cfg)
	if err != nil {
		return nil, err
	}
	generator = resilience.WrapGenerator(generator, guard)

	var auditLog ports.AuditLog = audit.Discard{}
	if cfg.AuditLogPath != "" {
		jsonl, err := audit.NewJSONLLog(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("init audit log: %w", err)
		}
		auditLog = jsonl
	}

	answerUC := usecase.NewAnswerUseCase(retriever, generator, auditLog, usecase.AnswerOptions{
		RetrievalDepth: cfg.RAGRetrievalDepth,
	})
	c.AnswerUC = answerUC
	c.EvaluateUC = usecase.NewEvaluateUseCase(answerUC, usecase.EvaluateOptions{
		Threshold: cfg.RAGThreshold,
		Workers:   cfg.EvalWorkers,
	})

	var entities ports.EntityExtractor
	if cfg.NEREnabled {
		ner, err := hugot.NewEntityExtractor(cfg.HugotModelDir, "")
		if err != nil {
			return nil, fmt.Errorf("init entity extractor: %w", err)
		}
		c.res.add(func() { _ = ner.Close() })
		entities = ner
	}
	c.GroundingUC = usecase.NewGroundingVerifier(embedder, entities, usecase.GroundingThresholds{
		Semantic: cfg.GroundingSemanticMin,
		Entity:   cfg.GroundingEntityMin,
		LCS:      cfg.GroundingLCSMin,
	})

	slog.Info("core_ready",
		"chunks", store.Len(),
		"index_backend", cfg.IndexBackend,
		"metric", string(index.Metric()),
		"embedding_model", embedder.ModelName(),
		"gen_backend", cfg.GenBackend,
	)
	ok = true
	return c, nil
}

func (c *Core) Close() {
	c.res.closeAll()
	c.db = nil
}

// database opens the Postgres pool on first use and shares it afterwards.
func (c *Core) database() (*sql.DB, error) {
	if c.db != nil {
		return c.db, nil
	}
	db, err := openDB(c.Config, &c.res)
	if err != nil {
		return nil, err
	}
	c.db = db
	return db, nil
}

func newEmbedder(cfg config.Config, guard *resilience.Guard, res *closers) (ports.Embedder, error) {
	var embedder ports.Embedder
	switch cfg.EmbedBackend {
	case "hashing":
		embedder = hashing.New(cfg.EmbedDim)
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.OllamaNumCtx)
		embedder = resilience.WrapEmbedder(ollama.NewEmbedder(client), guard)
	case "hugot":
		h, err := hugot.NewEmbedder(cfg.HugotModelDir, cfg.EmbedModel, 32)
		if err != nil {
			return nil, fmt.Errorf("init hugot embedder: %w", err)
		}
		res.add(func() { _ = h.Close() })
		embedder = h
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "init embedder", fmt.Errorf("unknown embed backend %q", cfg.EmbedBackend))
	}
	return embedcache.Wrap(embedder, cfg.EmbedCacheSize, time.Duration(cfg.EmbedCacheTTLSeconds)*time.Second), nil
}

func openIndex(ctx context.Context, cfg config.Config, store *corpus.Store, database func() (*sql.DB, error)) (ports.VectorIndex, error) {
	switch cfg.IndexBackend {
	case "flat":
		ix, err := flat.Load(cfg.IndexDir, store)
		if err != nil {
			return nil, fmt.Errorf("load flat index: %w", err)
		}
		return ix, nil
	case "pgvector":
		db, err := database()
		if err != nil {
			return nil, err
		}
		ix, err := pgvector.Open(ctx, db, store)
		if err != nil {
			return nil, fmt.Errorf("open pgvector index: %w", err)
		}
		return ix, nil
	case "qdrant":
		ix, err := qdrant.New(cfg.QdrantURL, cfg.QdrantCollection).Open(ctx, store)
		if err != nil {
			return nil, fmt.Errorf("open qdrant index: %w", err)
		}
		return ix, nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "open index", fmt.Errorf("unknown index backend %q", cfg.IndexBackend))
	}
}

func openDB(cfg config.Config, res *closers) (*sql.DB, error) {
	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	res.add(func() { _ = db.Close() })
	return db, nil
}

func newGenerator(ctx context.Context, cfg config.Config) (ports.TextGenerator, error) {
	switch cfg.GenBackend {
	case "ollama":
		client := ollama.New(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, cfg.OllamaNumCtx)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx, cfg.OllamaGenModel); err != nil {
			return nil, fmt.Errorf("init generator: %w", err)
		}
		return ollama.NewGenerator(client), nil
	case "openai":
		gen, err := openai.NewGenerator(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.OpenAIModel)
		if err != nil {
			return nil, fmt.Errorf("init generator: %w", err)
		}
		return gen, nil
	default:
		return nil, domain.WrapError(domain.ErrInvalidInput, "init generator", fmt.Errorf("unknown gen backend %q", cfg.GenBackend))
	}
}

func resilienceConfig(cfg config.Config) resilience.Config {
	rc := resilience.DefaultConfig()
	rc.Retry.Attempts = cfg.RetryMaxAttempts
	rc.Retry.Initial = cfg.RetryInitialBackoff
	rc.Breaker.Enabled = cfg.BreakerEnabled
	return rc
}

// answerPathConfig keeps the breaker but makes a single attempt; retrying is
// left to offline indexing and job publishing.
func answerPathConfig(cfg config.Config) resilience.Config {
	rc := resilienceConfig(cfg)
	rc.Retry.Attempts = 1
	return rc
}

// App adds the asynchronous evaluation job plumbing used by cmd/api and
// cmd/worker. Without POSTGRES_DSN and NATS_URL only the Core is built and the
// job fields stay nil.
type App struct {
	*Core

	Repo      ports.EvaluationRunRepository
	Queue     ports.MessageQueue
	SubmitUC  *usecase.SubmitEvaluationUseCase
	ProcessUC ports.EvaluationProcessor
}

func New(ctx context.Context, cfg config.Config) (*App, error) {
	core, err := NewCore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app := &App{Core: core}
	ok := false
	defer func() {
		if !ok {
			core.Close()
		}
	}()

	if cfg.PostgresDSN == "" || cfg.NATSURL == "" {
		slog.Info("evaluation_jobs_disabled", "reason", "POSTGRES_DSN or NATS_URL not set")
		ok = true
		return app, nil
	}

	db, err := core.database()
	if err != nil {
		return nil, err
	}
	repo := postgres.NewEvaluationRunRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	storage, err := localfs.New(cfg.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("init object storage: %w", err)
	}

	queue, err := nats.New(cfg.NATSURL, cfg.NATSSubject, nats.Options{
		MaxInFlight: cfg.EvalWorkers,
		Guard:       resilience.NewGuard(resilienceConfig(cfg)),
	})
	if err != nil {
		return nil, fmt.Errorf("init message queue: %w", err)
	}
	core.res.add(queue.Close)

	app.Repo = repo
	app.Queue = queue
	app.SubmitUC = usecase.NewSubmitEvaluationUseCase(repo, storage, queue)
	app.ProcessUC = usecase.NewProcessEvaluationUseCase(repo, testset.NewLoader(storage), core.EvaluateUC)
	ok = true
	return app, nil
}

func (a *App) JobsEnabled() bool {
	return a.SubmitUC != nil
}

// Indexer embeds the chunk store and writes it to the configured backend.
type Indexer struct {
	Store    *corpus.Store
	Embedder ports.Embedder
	Writer   ports.IndexWriter

	res closers
}

func NewIndexer(ctx context.Context, cfg config.Config, metric domain.Metric) (*Indexer, error) {
	store, err := corpus.Load(cfg.ChunksPath)
	if err != nil {
		return nil, fmt.Errorf("load chunk store: %w", err)
	}

	ix := &Indexer{Store: store}
	embedder, err := newEmbedder(cfg, resilience.NewGuard(resilienceConfig(cfg)), &ix.res)
	if err != nil {
		return nil, err
	}
	ix.Embedder = embedder

	var writer ports.IndexWriter
	switch cfg.IndexBackend {
	case "flat":
		w, err := flat.NewWriter(cfg.IndexDir, metric)
		if err != nil {
			ix.Close()
			return nil, err
		}
		writer = w
	case "pgvector":
		db, err := openDB(cfg, &ix.res)
		if err != nil {
			ix.Close()
			return nil, err
		}
		if err := pgvector.EnsureSchema(ctx, db); err != nil {
			ix.Close()
			return nil, fmt.Errorf("ensure pgvector schema: %w", err)
		}
		writer = pgvector.NewWriter(db)
	case "qdrant":
		writer = qdrant.New(cfg.QdrantURL, cfg.QdrantCollection)
	default:
		ix.Close()
		return nil, domain.WrapError(domain.ErrInvalidInput, "init index writer", fmt.Errorf("unknown index backend %q", cfg.IndexBackend))
	}

	ix.Writer = writer
	return ix, nil
}

// Build embeds every chunk in batches and writes the index in one pass.
func (ix *Indexer) Build(ctx context.Context, batchSize int) error {
	if batchSize <= 0 {
		batchSize = 64
	}
	texts := ix.Store.Texts()
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		end := min(start+batchSize, len(texts))
		batch, err := ix.Embedder.Embed(ctx, texts[start:end])
		if err != nil {
			return fmt.Errorf("embed chunks %d-%d: %w", start, end, err)
		}
		vectors = append(vectors, batch...)
		slog.Debug("index_batch_embedded", "done", end, "total", len(texts))
	}
	if err := ix.Writer.Write(ctx, ix.Store.Chunks(), vectors, ix.Embedder.ModelName()); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	slog.Info("index_built", "chunks", len(texts), "embedding_model", ix.Embedder.ModelName())
	return nil
}

func (ix *Indexer) Close() {
	ix.res.closeAll()
}
