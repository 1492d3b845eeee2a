package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	APIPort   string
	LogLevel  string
	LogFormat string

	ChunksPath   string
	IndexDir     string
	IndexBackend string

	EmbedBackend         string
	EmbedModel           string
	EmbedDim             int
	EmbedCacheSize       int
	EmbedCacheTTLSeconds int
	HugotModelDir        string

	GenBackend       string
	OllamaURL        string
	OllamaGenModel   string
	OllamaEmbedModel string
	OllamaNumCtx     int
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	OpenAIModel      string

	RAGThreshold      float64
	RAGRetrievalDepth int
	RAGRerankEnabled  bool

	GroundingSemanticMin float64
	GroundingEntityMin   float64
	GroundingLCSMin      float64
	NEREnabled           bool

	AuditLogPath string

	PostgresDSN      string
	QdrantURL        string
	QdrantCollection string
	NATSURL          string
	NATSSubject      string
	StoragePath      string

	APIRateLimitRPS   float64
	APIRateLimitBurst int
	APIMaxInFlight    int
	BreakerEnabled    bool

	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration

	WorkerMetricsPort string
	EvalWorkers       int
}

// Load reads .env, then the optional YAML file named by ENVQA_CONFIG, then the
// process environment. Later sources win.
func Load() (Config, error) {
	_ = godotenv.Load()

	src := source{}
	if path := os.Getenv("ENVQA_CONFIG"); path != "" {
		overlay, err := readOverlay(path)
		if err != nil {
			return Config{}, err
		}
		src.overlay = overlay
	}

	cfg := Config{
		APIPort:   src.mustEnv("API_PORT", "8080"),
		LogLevel:  src.mustEnv("LOG_LEVEL", "info"),
		LogFormat: src.mustEnv("LOG_FORMAT", "json"),

		ChunksPath:   src.mustEnv("CHUNKS_PATH", "./data/chunks.jsonl"),
		IndexDir:     src.mustEnv("INDEX_DIR", "./data/index"),
		IndexBackend: strings.ToLower(src.mustEnv("INDEX_BACKEND", "flat")),

		EmbedBackend:         strings.ToLower(src.mustEnv("EMBED_BACKEND", "hashing")),
		EmbedModel:           src.mustEnv("EMBED_MODEL", ""),
		EmbedDim:             src.mustEnvInt("EMBED_DIM", 256),
		EmbedCacheSize:       src.mustEnvInt("EMBED_CACHE_SIZE", 1024),
		EmbedCacheTTLSeconds: src.mustEnvInt("EMBED_CACHE_TTL_SECONDS", 600),
		HugotModelDir:        src.mustEnv("HUGOT_MODEL_DIR", "./models"),

		GenBackend:       strings.ToLower(src.mustEnv("GEN_BACKEND", "ollama")),
		OllamaURL:        src.mustEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaGenModel:   src.mustEnv("OLLAMA_GEN_MODEL", "llama3.1:8b"),
		OllamaEmbedModel: src.mustEnv("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		OllamaNumCtx:     src.mustEnvInt("OLLAMA_NUM_CTX", 2048),
		OpenAIAPIKey:     src.mustEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    src.mustEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:      src.mustEnv("OPENAI_MODEL", "gpt-4o-mini"),

		RAGThreshold:      src.mustEnvFloat("RAG_THRESHOLD", 0.2),
		RAGRetrievalDepth: src.mustEnvInt("RAG_RETRIEVAL_DEPTH", 10),
		RAGRerankEnabled:  src.mustEnvBool("RAG_RERANK_ENABLED", true),

		GroundingSemanticMin: src.mustEnvFloat("GROUNDING_SEMANTIC_MIN", 0.7),
		GroundingEntityMin:   src.mustEnvFloat("GROUNDING_ENTITY_MIN", 0.5),
		GroundingLCSMin:      src.mustEnvFloat("GROUNDING_LCS_MIN", 0.4),
		NEREnabled:           src.mustEnvBool("NER_ENABLED", false),

		AuditLogPath: src.mustEnv("AUDIT_LOG_PATH", "./data/audit/interactions.jsonl"),

		PostgresDSN:      src.mustEnv("POSTGRES_DSN", ""),
		QdrantURL:        src.mustEnv("QDRANT_URL", "http://localhost:6333"),
		QdrantCollection: src.mustEnv("QDRANT_COLLECTION", "env_chunks"),
		NATSURL:          src.mustEnv("NATS_URL", ""),
		NATSSubject:      src.mustEnv("NATS_SUBJECT", "evaluations.requested"),
		StoragePath:      src.mustEnv("STORAGE_PATH", "./data/storage"),

		APIRateLimitRPS:   src.mustEnvFloat("API_RATE_LIMIT_RPS", 20),
		APIRateLimitBurst: src.mustEnvInt("API_RATE_LIMIT_BURST", 40),
		APIMaxInFlight:    src.mustEnvInt("API_MAX_IN_FLIGHT", 16),
		BreakerEnabled:    src.mustEnvBool("BREAKER_ENABLED", true),

		RetryMaxAttempts:    src.mustEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialBackoff: time.Duration(src.mustEnvInt("RETRY_INITIAL_BACKOFF_MS", 250)) * time.Millisecond,

		WorkerMetricsPort: src.mustEnv("WORKER_METRICS_PORT", "9090"),
		EvalWorkers:       src.mustEnvInt("EVAL_WORKERS", 1),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	switch c.IndexBackend {
	case "flat", "pgvector", "qdrant":
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND must be flat, pgvector or qdrant, got %q", c.IndexBackend))
	}
	switch c.EmbedBackend {
	case "hashing", "ollama", "hugot":
	default:
		errs = append(errs, fmt.Errorf("EMBED_BACKEND must be hashing, ollama or hugot, got %q", c.EmbedBackend))
	}
	switch c.GenBackend {
	case "ollama", "openai":
	default:
		errs = append(errs, fmt.Errorf("GEN_BACKEND must be ollama or openai, got %q", c.GenBackend))
	}
	if c.RAGThreshold < 0 || c.RAGThreshold > 1 {
		errs = append(errs, fmt.Errorf("RAG_THRESHOLD must be within [0,1], got %v", c.RAGThreshold))
	}
	if c.IndexBackend == "pgvector" && c.PostgresDSN == "" {
		errs = append(errs, errors.New("INDEX_BACKEND=pgvector requires POSTGRES_DSN"))
	}
	if c.NATSURL != "" && c.PostgresDSN == "" {
		errs = append(errs, errors.New("NATS_URL requires POSTGRES_DSN to store evaluation runs"))
	}
	if c.RAGRetrievalDepth <= 0 {
		errs = append(errs, fmt.Errorf("RAG_RETRIEVAL_DEPTH must be positive, got %d", c.RAGRetrievalDepth))
	}
	return errors.Join(errs...)
}

type source struct {
	overlay map[string]string
}

func readOverlay(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config overlay: %w", err)
	}
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config overlay: %w", err)
	}
	out := make(map[string]string, len(raw))
	for key, value := range raw {
		if value == nil {
			continue
		}
		out[strings.ToUpper(key)] = fmt.Sprint(value)
	}
	return out, nil
}

func (s source) lookup(key string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return s.overlay[key]
}

func (s source) mustEnv(key, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	return v
}

func (s source) mustEnvInt(key string, fallback int) int {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func (s source) mustEnvFloat(key string, fallback float64) float64 {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func (s source) mustEnvBool(key string, fallback bool) bool {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return parsed
}
