package config

import (
	"log/slog"

	"github.com/caarlos0/env/v10"
)

// Config holds runtime configuration for the gateway and its tools.
type Config struct {
	// Server
	Host           string `env:"HOST" envDefault:"0.0.0.0"`
	Port           int    `env:"PORT" envDefault:"5000"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	RequestTimeout int    `env:"REQUEST_TIMEOUT" envDefault:"60"` // seconds
	MetricsEnabled bool   `env:"METRICS_ENABLED" envDefault:"true"`

	// Model
	ModelProvider      string `env:"MODEL_PROVIDER" envDefault:"word2vec"` // "word2vec", "postgres" or "openai"
	ModelName          string `env:"MODEL_NAME" envDefault:"word2vec-google-news-300"`
	ModelPath          string `env:"MODEL_PATH" envDefault:"models/word2vec-google-news-300.bin"`
	ModelURL           string `env:"MODEL_URL"`
	ModelFetchAttempts int    `env:"MODEL_FETCH_ATTEMPTS" envDefault:"3"`
	StemFallback       bool   `env:"STEM_FALLBACK" envDefault:"false"`

	// Postgres vocabulary
	DBURL       string `env:"DB_URL"`
	VectorTable string `env:"VECTOR_TABLE" envDefault:"word_vectors"`

	// OpenAI embeddings
	OpenAIKey      string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `env:"OPENAI_BASE_URL"`
	EmbeddingModel string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
	EmbeddingDim   int    `env:"EMBEDDING_DIM" envDefault:"1536"`

	// Circuit breaker around remote providers
	BreakerMaxRequests uint32  `env:"BREAKER_MAX_REQUESTS" envDefault:"1"`
	BreakerInterval    int     `env:"BREAKER_INTERVAL" envDefault:"60"` // seconds
	BreakerTimeout     int     `env:"BREAKER_TIMEOUT" envDefault:"30"`  // seconds
	BreakerTripRatio   float64 `env:"BREAKER_TRIP_RATIO" envDefault:"0.6"`

	// Cache
	CacheProvider string `env:"CACHE_PROVIDER" envDefault:"none"` // "none" or "redis"
	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	CacheTTL      int    `env:"CACHE_TTL" envDefault:"3600"` // seconds

	// NATS transport
	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"embedding"`

	// Word cloud
	WordCloudEnabled bool `env:"WORDCLOUD_ENABLED" envDefault:"true"`
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		slog.Warn("failed to parse env; using defaults where set", "err", err)
	}
	return cfg
}
