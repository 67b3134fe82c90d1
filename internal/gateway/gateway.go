package gateway

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"embedding-gateway/internal/cache"
	"embedding-gateway/internal/embeddings"
	"embedding-gateway/internal/metrics"
)

const (
	msgNoText        = "No text provided"
	msgNeedBothTexts = "Both text1 and text2 are required"
	msgNeedTarget    = "Target and words array are required"
)

var validate = validator.New()

type EmbeddingRequest struct {
	Text string `json:"text"`
}

type EmbeddingResponse struct {
	Text      string            `json:"text"`
	Embedding embeddings.Vector `json:"embedding"`
	HasVector bool              `json:"has_vector"`
}

type SimilarityRequest struct {
	Text1 string `json:"text1"`
	Text2 string `json:"text2"`
}

type SimilarityResponse struct {
	Text1      string  `json:"text1"`
	Text2      string  `json:"text2"`
	Similarity float64 `json:"similarity"`
}

type BatchSimilarityRequest struct {
	Target string   `json:"target"`
	Words  []string `json:"words"`
}

type WordSimilarity struct {
	Word       string  `json:"word"`
	Similarity float64 `json:"similarity"`
}

type BatchSimilarityResponse struct {
	Target       string           `json:"target"`
	Similarities []WordSimilarity `json:"similarities"`
}

type HealthResponse struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	VectorSize int    `json:"vector_size"`
}

// Normalized inputs, checked after trimming and lowercasing.
type embeddingInput struct {
	Text string `validate:"required"`
}

type similarityInput struct {
	Text1 string `validate:"required"`
	Text2 string `validate:"required"`
}

type batchInput struct {
	Target string   `validate:"required"`
	Words  []string `validate:"required,min=1"`
}

// Options carries the optional collaborators of a Service.
type Options struct {
	Cache    cache.Cache
	CacheTTL time.Duration
	// CacheScope separates cache entries of differently configured models
	// that share one cache. Defaults to the model name.
	CacheScope string
	Metrics    metrics.Metrics
	Log        *slog.Logger
}

// Service implements the gateway operations over one read-only model.
type Service struct {
	model      embeddings.Model
	cache      cache.Cache
	caching    bool
	cacheTTL   time.Duration
	cacheScope string
	metrics    metrics.Metrics
	log        *slog.Logger
}

func New(model embeddings.Model, opts Options) *Service {
	s := &Service{
		model:      model,
		cache:      opts.Cache,
		cacheTTL:   opts.CacheTTL,
		cacheScope: opts.CacheScope,
		metrics:    opts.Metrics,
		log:        opts.Log,
	}
	if s.cache == nil {
		s.cache = cache.NewNoOpCache()
	}
	_, noop := s.cache.(*cache.NoOpCache)
	s.caching = !noop
	if s.caching && s.cacheScope == "" {
		s.cacheScope = model.Name()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNoopMetrics()
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return s
}

// Normalize trims surrounding whitespace and lowercases text.
func Normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

func (s *Service) Health() HealthResponse {
	return HealthResponse{
		Status:     "healthy",
		Model:      s.model.Name(),
		VectorSize: s.model.Dim(),
	}
}

// Embedding returns the model vector for text, or a zero vector of the
// model's width when there is none.
func (s *Service) Embedding(ctx context.Context, req EmbeddingRequest) (EmbeddingResponse, error) {
	in := embeddingInput{Text: Normalize(req.Text)}
	if err := validate.Struct(in); err != nil {
		return EmbeddingResponse{}, &ValidationError{Message: msgNoText}
	}

	vec, ok, err := s.lookup(ctx, in.Text)
	if err != nil {
		return EmbeddingResponse{}, err
	}
	if !ok {
		vec = make(embeddings.Vector, s.model.Dim())
	}
	return EmbeddingResponse{Text: in.Text, Embedding: vec, HasVector: ok}, nil
}

// Similarity is the cosine similarity of the two texts, or 0 when either
// has no vector.
func (s *Service) Similarity(ctx context.Context, req SimilarityRequest) (SimilarityResponse, error) {
	in := similarityInput{Text1: Normalize(req.Text1), Text2: Normalize(req.Text2)}
	if err := validate.Struct(in); err != nil {
		return SimilarityResponse{}, &ValidationError{Message: msgNeedBothTexts}
	}

	resp := SimilarityResponse{Text1: in.Text1, Text2: in.Text2}
	v1, ok1, err := s.lookup(ctx, in.Text1)
	if err != nil {
		return SimilarityResponse{}, err
	}
	v2, ok2, err := s.lookup(ctx, in.Text2)
	if err != nil {
		return SimilarityResponse{}, err
	}
	if ok1 && ok2 {
		resp.Similarity = embeddings.CosineSimilarity(v1, v2)
	}
	return resp, nil
}

// BatchSimilarity ranks words by similarity to target, best first. The
// target itself, empty words and words without a vector are dropped; equal
// scores keep their input order.
func (s *Service) BatchSimilarity(ctx context.Context, req BatchSimilarityRequest) (BatchSimilarityResponse, error) {
	in := batchInput{Target: Normalize(req.Target), Words: req.Words}
	if err := validate.Struct(in); err != nil {
		return BatchSimilarityResponse{}, &ValidationError{Message: msgNeedTarget}
	}

	target, ok, err := s.lookup(ctx, in.Target)
	if err != nil {
		return BatchSimilarityResponse{}, err
	}
	if !ok {
		return BatchSimilarityResponse{}, &NoVectorError{Text: in.Target}
	}

	similarities := make([]WordSimilarity, 0, len(in.Words))
	for _, raw := range in.Words {
		word := Normalize(raw)
		if word == "" || word == in.Target {
			continue
		}
		vec, ok, err := s.lookup(ctx, word)
		if err != nil {
			return BatchSimilarityResponse{}, err
		}
		if !ok {
			continue
		}
		similarities = append(similarities, WordSimilarity{
			Word:       word,
			Similarity: embeddings.CosineSimilarity(target, vec),
		})
	}
	sort.SliceStable(similarities, func(i, j int) bool {
		return similarities[i].Similarity > similarities[j].Similarity
	})

	return BatchSimilarityResponse{Target: in.Target, Similarities: similarities}, nil
}

// lookup consults the cache before the model. Cache failures only cost a
// model call.
func (s *Service) lookup(ctx context.Context, text string) (embeddings.Vector, bool, error) {
	var key string
	if s.caching {
		key = cache.GenerateCacheKey(s.cacheScope, text)
		if vec, ok, hit := s.cached(ctx, key); hit {
			return vec, ok, nil
		}
	}

	vec, ok, err := s.model.Lookup(ctx, text)
	if err != nil {
		return nil, false, fmt.Errorf("model lookup: %w", err)
	}
	s.metrics.ObserveLookup(s.model.Name(), ok)

	if s.caching {
		if err := s.cache.SetEmbedding(ctx, key, &cache.Entry{Embedding: vec, HasVector: ok}, s.cacheTTL); err != nil {
			s.log.Warn("failed to cache embedding", "err", err)
		}
	}
	return vec, ok, nil
}

func (s *Service) cached(ctx context.Context, key string) (embeddings.Vector, bool, bool) {
	entry, err := s.cache.GetEmbedding(ctx, key)
	switch {
	case err != nil:
		s.metrics.ObserveCache(metrics.CacheError)
		s.log.Warn("embedding cache read failed", "err", err)
		return nil, false, false
	case entry == nil, entry.HasVector && len(entry.Embedding) != s.model.Dim():
		s.metrics.ObserveCache(metrics.CacheMiss)
		return nil, false, false
	case !entry.HasVector:
		s.metrics.ObserveCache(metrics.CacheHit)
		return nil, false, true
	default:
		s.metrics.ObserveCache(metrics.CacheHit)
		return embeddings.Vector(entry.Embedding), true, true
	}
}
