package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores looked-up embeddings keyed by model and normalized text.
type Cache interface {
	// GetEmbedding retrieves a cached embedding by key.
	// Returns nil if not found.
	GetEmbedding(ctx context.Context, key string) (*Entry, error)

	// SetEmbedding stores an embedding with TTL.
	SetEmbedding(ctx context.Context, key string, entry *Entry, ttl time.Duration) error

	// Close closes the cache connection
	Close() error
}

// Entry is a cached model lookup.
type Entry struct {
	Embedding []float32 `json:"embedding"`
	HasVector bool      `json:"has_vector"`
}

// GenerateCacheKey derives a fixed-length key for a model lookup.
func GenerateCacheKey(model, text string) string {
	h := sha256.New()
	h.Write([]byte(model))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}
