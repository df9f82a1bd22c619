package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/seatutor/mariner-backend/internal/platform/envutil"
)

// Config is the resolved service configuration. Built once at startup from
// the environment; components receive the values they need, never the env.
type Config struct {
	Mode string
	Port string

	APIKey            string
	LMSCallbackURL    string
	LMSCallbackSecret string

	PostgresDSN string
	RedisAddr   string

	LLMProvider string
	LLMModel    string
	LLMAPIKey   string
	LLMBaseURL  string

	EmbeddingModel      string
	EmbeddingDimensions int

	SimilarityThreshold      float64
	FactSimilarityThreshold  float64
	MemoryDuplicateThreshold float64
	MaxUserFacts             int
	MaxInsights              int
	ConsolidationThreshold   int
	TargetInsightCount       int
	PreserveDays             int

	ContextWindowSize           int
	SummarizationTokenThreshold int

	CacheTTL        time.Duration
	CacheSimilarity float64
	CacheCapacity   int

	RRFK              int
	RRFTitleBoost     float64
	RRFSparsePriority float64

	GraderPassThreshold float64
	GraderParallelism   int

	ReactMaxIterations int
	CragMaxAttempts    int

	RequestDeadline     time.Duration
	ChatRateLimitPerMin int
	APIRateLimitPerMin  int

	UseUnifiedAgent      bool
	EnableCorrectiveRAG  bool
	DeepReasoningEnabled bool
	ContextualRAGEnabled bool

	GuardianCacheTTL time.Duration

	PersonaDir string
}

func Load() (*Config, error) {
	cfg := &Config{
		Mode: envutil.Str("APP_MODE", "dev"),
		Port: envutil.Str("PORT", "8080"),

		APIKey:            envutil.Str("API_KEY", ""),
		LMSCallbackURL:    envutil.Str("LMS_CALLBACK_URL", ""),
		LMSCallbackSecret: envutil.Str("LMS_CALLBACK_SECRET", ""),

		PostgresDSN: envutil.Str("POSTGRES_DSN", ""),
		RedisAddr:   envutil.Str("REDIS_ADDR", ""),

		LLMProvider: envutil.Str("LLM_PROVIDER", "openai"),
		LLMModel:    envutil.Str("LLM_MODEL", "gpt-4o-mini"),
		LLMAPIKey:   envutil.Str("LLM_API_KEY", ""),
		LLMBaseURL:  envutil.Str("LLM_BASE_URL", ""),

		EmbeddingModel:      envutil.Str("EMBEDDING_MODEL", "text-embedding-3-small"),
		EmbeddingDimensions: envutil.Int("EMBEDDING_DIMENSIONS", 768),

		SimilarityThreshold:      envutil.Float("SIMILARITY_THRESHOLD", 0.7),
		FactSimilarityThreshold:  envutil.Float("FACT_SIMILARITY_THRESHOLD", 0.90),
		MemoryDuplicateThreshold: envutil.Float("MEMORY_DUPLICATE_THRESHOLD", 0.85),
		MaxUserFacts:             envutil.Int("MAX_USER_FACTS", 50),
		MaxInsights:              envutil.Int("MAX_INSIGHTS", 50),
		ConsolidationThreshold:   envutil.Int("CONSOLIDATION_THRESHOLD", 40),
		TargetInsightCount:       envutil.Int("TARGET_INSIGHT_COUNT", 30),
		PreserveDays:             envutil.Int("PRESERVE_DAYS", 7),

		ContextWindowSize:           envutil.Int("CONTEXT_WINDOW_SIZE", 50),
		SummarizationTokenThreshold: envutil.Int("SUMMARIZATION_TOKEN_THRESHOLD", 4000),

		CacheTTL:        envutil.Seconds("CACHE_TTL_SECONDS", 7200),
		CacheSimilarity: envutil.Float("CACHE_SIMILARITY", 0.99),
		CacheCapacity:   envutil.Int("CACHE_CAPACITY", 10000),

		RRFK:              envutil.Int("RRF_K", 60),
		RRFTitleBoost:     envutil.Float("RRF_TITLE_BOOST", 3.0),
		RRFSparsePriority: envutil.Float("RRF_SPARSE_PRIORITY", 1.5),

		GraderPassThreshold: envutil.Float("GRADER_PASS_THRESHOLD", 6.0),
		GraderParallelism:   envutil.Int("GRADER_PARALLELISM", 10),

		ReactMaxIterations: envutil.Int("REACT_MAX_ITERATIONS", 5),
		CragMaxAttempts:    envutil.Int("CRAG_MAX_ATTEMPTS", 2),

		RequestDeadline:     envutil.Seconds("REQUEST_DEADLINE_SECONDS", 90),
		ChatRateLimitPerMin: envutil.Int("CHAT_RATE_LIMIT_PER_MIN", 30),
		APIRateLimitPerMin:  envutil.Int("API_RATE_LIMIT_PER_MIN", 100),

		UseUnifiedAgent:      envutil.Bool("USE_UNIFIED_AGENT", true),
		EnableCorrectiveRAG:  envutil.Bool("ENABLE_CORRECTIVE_RAG", true),
		DeepReasoningEnabled: envutil.Bool("DEEP_REASONING_ENABLED", true),
		ContextualRAGEnabled: envutil.Bool("CONTEXTUAL_RAG_ENABLED", true),

		GuardianCacheTTL: envutil.Seconds("GUARDIAN_CACHE_TTL", 3600),

		PersonaDir: envutil.Str("PERSONA_DIR", "configs/personas"),
	}

	var missing []string
	if cfg.APIKey == "" {
		missing = append(missing, "API_KEY")
	}
	if cfg.LLMAPIKey == "" {
		missing = append(missing, "LLM_API_KEY")
	}
	if cfg.PostgresDSN == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("config: missing %s", strings.Join(missing, ", "))
	}
	return cfg, nil
}
