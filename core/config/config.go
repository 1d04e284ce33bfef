package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"scholarpilot.dev/core/core/db"
)

// Config holds all application configuration.
type Config struct {
	// Env is the environment name (development, staging, production)
	Env string

	// Port is the port the API server listens on.
	Port string

	// DB holds Postgres configuration (persistence phase, episodic memory, preferences).
	DB db.Config

	// Redis holds the KV/cache/stream connection used by internal/kv, internal/cache
	// and internal/queue.
	Redis RedisConfig

	// Arango holds the graph store connection for clusters/claims/evidence spans.
	Arango ArangoConfig

	// Typesense backs the fuzzy-title dedup index.
	Typesense TypesenseConfig

	// LLM selects and configures the provider(s) used by common/llm.
	LLM LLMConfig

	// Phases holds the thresholds that drive HITL gates and phase selection.
	Phases PhaseThresholds

	// Cache holds per-kind TTL overrides for the Cache Layer.
	Cache CacheConfig

	// OTel configures tracing/log export.
	OTel OTelConfig
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type ArangoConfig struct {
	Endpoint string
	Database string
	Username string
	Password string
}

type TypesenseConfig struct {
	Endpoint string
	APIKey   string
}

// LLMProvider selects which common/llm.Client backs the pipeline.
type LLMProvider string

const (
	LLMProviderOpenAI    LLMProvider = "openai"
	LLMProviderAnthropic LLMProvider = "anthropic"
)

type LLMConfig struct {
	Provider       LLMProvider
	OpenAIAPIKey   string
	OpenAIModel    string
	AnthropicKey   string
	AnthropicModel string
}

// PhaseThresholds holds the numeric gates spec.md §4.7 keys HITL prompts off of,
// plus the phase selection knobs used by internal/planner's adaptive templates.
type PhaseThresholds struct {
	// PDFDownloadGateCount is the included-paper count above which the
	// pdf_download gate fires.
	PDFDownloadGateCount int

	// HighTokenBudgetGate is the cumulative token estimate above which the
	// high_token_budget gate fires.
	HighTokenBudgetGate int

	// MaxParallelSearch is loaded from MAX_PARALLEL_SEARCH but nothing reads
	// it; the search tool always queries ArXiv and OpenAlex at once, one
	// goroutine each.
	MaxParallelSearch int

	// MaxParallelPDFLoad bounds concurrent PDF fetch/parse.
	MaxParallelPDFLoad int

	// MaxParallelEvidence bounds concurrent evidence extraction.
	MaxParallelEvidence int

	// MaxParallelAudit bounds concurrent citation audit.
	MaxParallelAudit int
}

// CacheConfig holds TTL overrides for the Cache Layer's per-tool TTL table,
// keyed by tool name ("search", "hf_trending", "collect_url",
// "collect_urls", "default"). A tool with no override keeps the
// internal/cache package default.
type CacheConfig struct {
	TTLOverrides map[string]time.Duration
}

type OTelConfig struct {
	ServiceName    string
	ServiceVersion string
	Endpoint       string
	Headers        string
	enabled        bool
}

func (c OTelConfig) Enabled() bool {
	return c.enabled && c.Endpoint != ""
}

// Load loads configuration from environment variables, reading a local .env
// file first if present. It provides sensible defaults for development.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Env:  getEnv("SCHOLARPILOT_ENV", "development"),
		Port: getEnv("PORT", "8080"),
		DB: db.Config{
			DSN:      buildPostgresDSN(),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvInt("DB_MIN_CONNS", 2)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Arango: ArangoConfig{
			Endpoint: getEnv("ARANGO_ENDPOINT", "http://localhost:8529"),
			Database: getEnv("ARANGO_DATABASE", "scholarpilot"),
			Username: getEnv("ARANGO_USERNAME", "root"),
			Password: getEnv("ARANGO_PASSWORD", ""),
		},
		Typesense: TypesenseConfig{
			Endpoint: getEnv("TYPESENSE_ENDPOINT", "http://localhost:8108"),
			APIKey:   getEnv("TYPESENSE_API_KEY", ""),
		},
		LLM: LLMConfig{
			Provider:       LLMProvider(getEnv("LLM_PROVIDER", string(LLMProviderOpenAI))),
			OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:    getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			AnthropicKey:   getEnv("ANTHROPIC_API_KEY", ""),
			AnthropicModel: getEnv("ANTHROPIC_MODEL", "claude-3-5-sonnet-latest"),
		},
		Phases: PhaseThresholds{
			PDFDownloadGateCount: getEnvInt("GATE_PDF_DOWNLOAD_COUNT", 15),
			HighTokenBudgetGate:  getEnvInt("GATE_HIGH_TOKEN_BUDGET", 100_000),
			MaxParallelSearch:    getEnvInt("MAX_PARALLEL_SEARCH", 2),
			MaxParallelPDFLoad:   getEnvInt("MAX_PARALLEL_PDF_LOAD", 4),
			MaxParallelEvidence:  getEnvInt("MAX_PARALLEL_EVIDENCE", 3),
			MaxParallelAudit:     getEnvInt("MAX_PARALLEL_AUDIT", 4),
		},
		Cache: CacheConfig{
			TTLOverrides: map[string]time.Duration{},
		},
		OTel: OTelConfig{
			ServiceName:    getEnv("OTEL_SERVICE_NAME", "scholarpilot"),
			ServiceVersion: getEnv("OTEL_SERVICE_VERSION", "dev"),
			Endpoint:       getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Headers:        getEnv("OTEL_EXPORTER_OTLP_HEADERS", ""),
			enabled:        getEnvBool("OTEL_ENABLED", false),
		},
	}
}

// buildPostgresDSN constructs the database connection string from individual env vars.
func buildPostgresDSN() string {
	host := getEnv("DATABASE_HOST", "localhost")
	port := getEnv("DATABASE_PORT", "5432")
	user := getEnv("DATABASE_USER", "postgres")
	password := getEnv("DATABASE_PASSWORD", "postgres")
	name := getEnv("DATABASE_NAME", "scholarpilot")
	sslMode := getEnv("DATABASE_SSLMODE", "disable")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, password, host, port, name, sslMode,
	)
}

// IsProduction returns true if running in production environment.
func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// IsDevelopment returns true if running in development environment.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
