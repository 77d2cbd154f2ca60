// Package config loads and validates application configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	MaxRequestBodyBytes int64
	LogLevel            string

	// Outcome store. An empty DatabaseURL selects the SQLite file at SQLitePath.
	DatabaseURL string
	SQLitePath  string

	// Language model gateway.
	LLMProvider     string // "ollama", "openai" or "anthropic"
	LLMModel        string // Overrides the provider's default model when set.
	LLMTemperature  float64
	LLMMaxTokens    int
	LLMTimeout      time.Duration
	LLMRPS          float64 // Client-side rate limit; 0 disables it.
	LLMBurst        int
	OllamaURL       string
	OllamaModel     string
	AnthropicAPIKey string
	AnthropicModel  string
	OpenAIAPIKey    string
	OpenAIBaseURL   string

	// Embedding provider settings.
	EmbeddingProvider   string // "ollama", "openai" or "hash"
	EmbeddingModel      string
	EmbeddingDimensions int // Vector dimensions; must match the chosen model's output.

	// Knowledge base. An empty QdrantURL selects the embedded chromem index
	// persisted at KBPath (in memory when KBPath is empty).
	QdrantURL        string
	QdrantAPIKey     string
	QdrantCollection string
	KBDocsPath       string
	KBPath           string
	KBChunkSize      int
	KBChunkOverlap   int
	KBWatch          bool

	// Pipeline settings.
	GuardrailMode    string // "advisory" or "blocking"
	ReviewThreshold  float64
	CorrectThreshold float64
	ClarityThreshold float64
	RetrievalK       int
	MemoryK          int
	ParallelPrefetch bool
	RunTimeout       time.Duration
	EnableEvaluator  bool

	// Run records older than RunRetention are purged every
	// RetentionInterval. Zero keeps them forever.
	RunRetention      time.Duration
	RetentionInterval time.Duration

	// JWT settings.
	JWTPrivateKeyPath string // Path to Ed25519 private key PEM file.
	JWTPublicKeyPath  string // Path to Ed25519 public key PEM file.
	JWTExpiration     time.Duration

	// API keys exchanged for tokens at POST /auth/token, one per role.
	AdminAPIKey    string
	ReviewerAPIKey string
	StudentAPIKey  string

	// Per-caller rate limit on POST /v1/solve.
	RateLimitEnabled bool
	RateLimitRPS     float64
	RateLimitBurst   int

	// OTEL settings.
	OTELEndpoint    string
	OTELInsecure    bool
	OTELSampleRatio float64
	ServiceName     string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed value is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	num := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = append(errs, err)
		return v
	}
	flt := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = append(errs, err)
		return v
	}
	dur := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = append(errs, err)
		return v
	}
	flag := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = append(errs, err)
		return v
	}

	cfg := Config{
		Port:                num("MENTOR_PORT", 8080),
		ReadTimeout:         dur("MENTOR_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        dur("MENTOR_WRITE_TIMEOUT", 180*time.Second),
		MaxRequestBodyBytes: int64(num("MENTOR_MAX_REQUEST_BODY_BYTES", 1*1024*1024)),
		LogLevel:            str("MENTOR_LOG_LEVEL", "info"),

		DatabaseURL: str("DATABASE_URL", ""),
		SQLitePath:  str("MENTOR_SQLITE_PATH", "mathmentor.db"),

		LLMProvider:     strings.ToLower(str("MENTOR_LLM_PROVIDER", "ollama")),
		LLMModel:        str("MENTOR_LLM_MODEL", ""),
		LLMTemperature:  flt("MENTOR_LLM_TEMPERATURE", 0.2),
		LLMMaxTokens:    num("MENTOR_LLM_MAX_TOKENS", 2048),
		LLMTimeout:      dur("MENTOR_LLM_TIMEOUT", 60*time.Second),
		LLMRPS:          flt("MENTOR_LLM_RPS", 0),
		LLMBurst:        num("MENTOR_LLM_BURST", 1),
		OllamaURL:       str("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:     str("OLLAMA_MODEL", "llama3.1"),
		AnthropicAPIKey: str("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  str("ANTHROPIC_MODEL", ""),
		OpenAIAPIKey:    str("OPENAI_API_KEY", ""),
		OpenAIBaseURL:   str("OPENAI_BASE_URL", ""),

		EmbeddingProvider:   strings.ToLower(str("MENTOR_EMBEDDING_PROVIDER", "ollama")),
		EmbeddingModel:      str("OLLAMA_EMBED_MODEL", "nomic-embed-text"),
		EmbeddingDimensions: num("MENTOR_EMBEDDING_DIMENSIONS", 768),

		QdrantURL:        str("QDRANT_URL", ""),
		QdrantAPIKey:     str("QDRANT_API_KEY", ""),
		QdrantCollection: str("QDRANT_COLLECTION", "mathmentor_kb"),
		KBDocsPath:       str("MENTOR_KB_DOCS_PATH", "knowledge_base"),
		KBPath:           str("MENTOR_KB_PATH", ".mathmentor/kb"),
		KBChunkSize:      num("MENTOR_KB_CHUNK_SIZE", 500),
		KBChunkOverlap:   num("MENTOR_KB_CHUNK_OVERLAP", 100),
		KBWatch:          flag("MENTOR_KB_WATCH", false),

		GuardrailMode:    strings.ToLower(str("MENTOR_GUARDRAIL_MODE", "advisory")),
		ReviewThreshold:  flt("MENTOR_REVIEW_THRESHOLD", 0.75),
		CorrectThreshold: flt("MENTOR_CORRECT_THRESHOLD", 0.70),
		ClarityThreshold: flt("MENTOR_CLARITY_THRESHOLD", 0.8),
		RetrievalK:       num("MENTOR_RETRIEVAL_K", 5),
		MemoryK:          num("MENTOR_MEMORY_K", 3),
		ParallelPrefetch: flag("MENTOR_PARALLEL_PREFETCH", false),
		RunTimeout:       dur("MENTOR_RUN_TIMEOUT", 150*time.Second),
		EnableEvaluator:  flag("MENTOR_ENABLE_EVALUATOR", false),

		RunRetention:      dur("MENTOR_RUN_RETENTION", 30*24*time.Hour),
		RetentionInterval: dur("MENTOR_RETENTION_INTERVAL", time.Hour),

		JWTPrivateKeyPath: str("MENTOR_JWT_PRIVATE_KEY", ""),
		JWTPublicKeyPath:  str("MENTOR_JWT_PUBLIC_KEY", ""),
		JWTExpiration:     dur("MENTOR_JWT_EXPIRATION", 24*time.Hour),

		AdminAPIKey:    str("MENTOR_ADMIN_API_KEY", ""),
		ReviewerAPIKey: str("MENTOR_REVIEWER_API_KEY", ""),
		StudentAPIKey:  str("MENTOR_STUDENT_API_KEY", ""),

		RateLimitEnabled: flag("MENTOR_RATE_LIMIT_ENABLED", true),
		RateLimitRPS:     flt("MENTOR_RATE_LIMIT_RPS", 1),
		RateLimitBurst:   num("MENTOR_RATE_LIMIT_BURST", 5),

		OTELEndpoint:    str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:    flag("OTEL_EXPORTER_OTLP_INSECURE", false),
		OTELSampleRatio: flt("OTEL_TRACES_SAMPLER_ARG", 1),
		ServiceName:     str("OTEL_SERVICE_NAME", "mathmentor"),
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field requirements.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Port > 0 && c.Port < 65536, "MENTOR_PORT must be between 1 and 65535")
	check(c.MaxRequestBodyBytes > 0, "MENTOR_MAX_REQUEST_BODY_BYTES must be positive")
	check(c.DatabaseURL != "" || c.SQLitePath != "", "one of DATABASE_URL or MENTOR_SQLITE_PATH is required")

	switch c.LLMProvider {
	case "ollama", "openai":
	case "anthropic":
		check(c.AnthropicAPIKey != "", "ANTHROPIC_API_KEY is required when MENTOR_LLM_PROVIDER=anthropic")
	default:
		errs = append(errs, fmt.Errorf("MENTOR_LLM_PROVIDER must be ollama, openai or anthropic (got %q)", c.LLMProvider))
	}
	if c.LLMProvider == "openai" || c.EmbeddingProvider == "openai" {
		check(c.OpenAIAPIKey != "", "OPENAI_API_KEY is required for the openai provider")
	}
	check(c.LLMRPS >= 0, "MENTOR_LLM_RPS must not be negative")

	switch c.EmbeddingProvider {
	case "ollama", "openai", "hash":
	default:
		errs = append(errs, fmt.Errorf("MENTOR_EMBEDDING_PROVIDER must be ollama, openai or hash (got %q)", c.EmbeddingProvider))
	}
	check(c.EmbeddingDimensions > 0, "MENTOR_EMBEDDING_DIMENSIONS must be positive")

	check(c.KBChunkSize > 0, "MENTOR_KB_CHUNK_SIZE must be positive")
	check(c.KBChunkOverlap >= 0 && c.KBChunkOverlap < c.KBChunkSize,
		"MENTOR_KB_CHUNK_OVERLAP must be at least 0 and below MENTOR_KB_CHUNK_SIZE")

	check(c.GuardrailMode == "advisory" || c.GuardrailMode == "blocking",
		"MENTOR_GUARDRAIL_MODE must be advisory or blocking (got %q)", c.GuardrailMode)
	for _, th := range []struct {
		key string
		v   float64
	}{
		{"MENTOR_REVIEW_THRESHOLD", c.ReviewThreshold},
		{"MENTOR_CORRECT_THRESHOLD", c.CorrectThreshold},
		{"MENTOR_CLARITY_THRESHOLD", c.ClarityThreshold},
	} {
		check(th.v > 0 && th.v <= 1, "%s must be in (0, 1]", th.key)
	}
	check(c.RetrievalK > 0, "MENTOR_RETRIEVAL_K must be positive")
	check(c.MemoryK > 0, "MENTOR_MEMORY_K must be positive")
	check(c.RunTimeout >= 0, "MENTOR_RUN_TIMEOUT must not be negative")
	check(c.RunRetention >= 0, "MENTOR_RUN_RETENTION must not be negative")
	check(c.RunRetention == 0 || c.RetentionInterval > 0, "MENTOR_RETENTION_INTERVAL must be positive when retention is enabled")

	if c.RateLimitEnabled {
		check(c.RateLimitRPS > 0, "MENTOR_RATE_LIMIT_RPS must be positive when rate limiting is enabled")
		check(c.RateLimitBurst > 0, "MENTOR_RATE_LIMIT_BURST must be positive when rate limiting is enabled")
	}
	check(c.OTELSampleRatio >= 0 && c.OTELSampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0, 1]")

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// UsesPostgres reports whether the outcome store is Postgres.
func (c Config) UsesPostgres() bool { return c.DatabaseURL != "" }

// UsesQdrant reports whether the knowledge base is Qdrant.
func (c Config) UsesQdrant() bool { return c.QdrantURL != "" }

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
