package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"embedding-gateway/internal/cache"
	"embedding-gateway/internal/config"
	"embedding-gateway/internal/embeddings"
	"embedding-gateway/internal/gateway"
	"embedding-gateway/internal/logger"
	"embedding-gateway/internal/metrics"
	"embedding-gateway/internal/store"
	"embedding-gateway/internal/tokenize"
	"embedding-gateway/internal/wordcloud"
)

// Deps bundles the runtime dependencies of the gateway.
type Deps struct {
	Config  config.Config
	Log     *slog.Logger
	Model   embeddings.Model
	Cache   cache.Cache
	Metrics metrics.Metrics
	Gateway *gateway.Service
	NATS    *nats.Conn

	// WordCloud and Sockets are nil when the word cloud is disabled.
	WordCloud *wordcloud.Hub
	Sockets   *wordcloud.Sockets
}

// Build loads env, config, the model and shared components. The model is
// fully loaded before Build returns.
func Build(ctx context.Context) (Deps, error) {
	if err := LoadEnv(); err != nil {
		return Deps{}, err
	}
	cfg := config.Load()
	log := logger.New(cfg.LogLevel)
	return BuildWith(ctx, cfg, log)
}

// LoadEnv loads .env style files into the environment (".env" when none are
// given). Missing files are skipped; unreadable or malformed ones are errors.
func LoadEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load environment variables from %s: %w", name, err)
		}
	}
	return nil
}

// BuildWith assembles Deps from an already loaded config.
func BuildWith(ctx context.Context, cfg config.Config, log *slog.Logger) (Deps, error) {
	log.Info("loading model", "provider", cfg.ModelProvider, "name", cfg.ModelName)
	model, err := buildModel(ctx, cfg, log)
	if err != nil {
		return Deps{}, fmt.Errorf("failed to initialize model: %w", err)
	}
	log.Info("model loaded", "model", model.Name(), "vector_size", model.Dim())

	c := buildCache(cfg, log)

	m := metrics.NewNoopMetrics()
	if cfg.MetricsEnabled {
		m = metrics.NewMetrics(metrics.InstanceInfo{ModelName: model.Name(), VectorSize: model.Dim()})
	}

	nc, err := buildNATS(cfg, log)
	if err != nil {
		_ = c.Close()
		return Deps{}, fmt.Errorf("failed to initialize NATS: %w", err)
	}

	svc := gateway.New(model, gateway.Options{
		Cache:      c,
		CacheTTL:   time.Duration(cfg.CacheTTL) * time.Second,
		CacheScope: cacheScope(cfg, model),
		Metrics:    m,
		Log:        log,
	})
	deps := Deps{
		Config:  cfg,
		Log:     log,
		Model:   model,
		Cache:   c,
		Metrics: m,
		Gateway: svc,
		NATS:    nc,
	}
	if cfg.WordCloudEnabled {
		deps.WordCloud, deps.Sockets = buildWordCloud(cfg, log, nc)
	}
	return deps, nil
}

func buildWordCloud(cfg config.Config, log *slog.Logger, nc *nats.Conn) (*wordcloud.Hub, *wordcloud.Sockets) {
	hub := wordcloud.NewHub(log)
	sockets := wordcloud.NewSockets(hub, log)
	if nc != nil {
		hub.Attach(wordcloud.NewNATSBroadcaster(nc, cfg.NATSSubjectPrefix, log))
	}
	return hub, sockets
}

// Close releases network resources held by Deps.
func (d Deps) Close() error {
	if d.Sockets != nil {
		d.Sockets.Close()
	}
	if d.NATS != nil {
		d.NATS.Close()
	}
	if d.Cache != nil {
		return d.Cache.Close()
	}
	return nil
}

func buildModel(ctx context.Context, cfg config.Config, log *slog.Logger) (embeddings.Model, error) {
	opts := tokenize.Options{StemFallback: cfg.StemFallback}
	switch cfg.ModelProvider {
	case "word2vec":
		fetcher := embeddings.Fetcher{Log: log, Attempts: cfg.ModelFetchAttempts}
		if err := fetcher.Fetch(ctx, cfg.ModelURL, cfg.ModelPath); err != nil {
			return nil, err
		}
		return embeddings.LoadWord2Vec(cfg.ModelPath, cfg.ModelName, opts)
	case "postgres":
		if cfg.DBURL == "" {
			return nil, fmt.Errorf("DB_URL is required when MODEL_PROVIDER=postgres")
		}
		db, err := store.NewPostgres(ctx, cfg.DBURL, cfg.VectorTable)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize Postgres: %w", err)
		}
		defer db.Close()
		return loadVocabulary(ctx, db, cfg.ModelName, opts)
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required when MODEL_PROVIDER=openai")
		}
		var reqOpts []option.RequestOption
		if cfg.OpenAIBaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(cfg.OpenAIBaseURL))
		}
		embedder, err := embeddings.NewOpenAIEmbedder(cfg.OpenAIKey, openai.EmbeddingModel(cfg.EmbeddingModel), cfg.EmbeddingDim, reqOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize OpenAI embedder: %w", err)
		}
		return embeddings.NewBreakerModel(embedder, embeddings.BreakerSettings{
			MaxRequests: cfg.BreakerMaxRequests,
			Interval:    time.Duration(cfg.BreakerInterval) * time.Second,
			Timeout:     time.Duration(cfg.BreakerTimeout) * time.Second,
			TripRatio:   cfg.BreakerTripRatio,
		}, log), nil
	default:
		return nil, fmt.Errorf("invalid MODEL_PROVIDER: %s (valid options: word2vec, postgres, openai)", cfg.ModelProvider)
	}
}

func loadVocabulary(ctx context.Context, db store.VocabularyStore, name string, opts tokenize.Options) (embeddings.Model, error) {
	vectors, err := db.LoadVocabulary(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load vocabulary: %w", err)
	}
	table, err := embeddings.NewTable(vectors)
	if err != nil {
		return nil, err
	}
	return embeddings.NewPhraseModel(name, table, opts), nil
}

func buildCache(cfg config.Config, log *slog.Logger) cache.Cache {
	switch cfg.CacheProvider {
	case "redis":
		c, err := cache.NewRedisCache(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			log.Warn("redis unavailable, caching disabled", "addr", cfg.RedisAddr, "err", err)
			return cache.NewNoOpCache()
		}
		log.Info("using Redis cache", "addr", cfg.RedisAddr, "ttl_seconds", cfg.CacheTTL)
		return c
	case "none", "":
		return cache.NewNoOpCache()
	default:
		log.Warn("unknown CACHE_PROVIDER, caching disabled", "provider", cfg.CacheProvider)
		return cache.NewNoOpCache()
	}
}

// cacheScope names everything that changes what a lookup returns, so a
// shared cache never serves vectors of a differently configured model.
func cacheScope(cfg config.Config, model embeddings.Model) string {
	var source string
	switch cfg.ModelProvider {
	case "word2vec":
		source = cfg.ModelPath
	case "postgres":
		source = cfg.VectorTable
	case "openai":
		source = cfg.OpenAIBaseURL
	}
	return fmt.Sprintf("%s|%s|%s|dim=%d|stem=%t", cfg.ModelProvider, model.Name(), source, model.Dim(), cfg.StemFallback)
}

func buildNATS(cfg config.Config, log *slog.Logger) (*nats.Conn, error) {
	if cfg.NATSURL == "" {
		return nil, nil
	}
	nc, err := nats.Connect(cfg.NATSURL, nats.Name("embedding-gateway"))
	if err != nil {
		return nil, err
	}
	log.Info("connected to NATS", "url", cfg.NATSURL, "prefix", cfg.NATSSubjectPrefix)
	return nc, nil
}
