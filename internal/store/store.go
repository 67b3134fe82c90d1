package store

import (
	"context"
	"errors"

	"embedding-gateway/internal/embeddings"
)

var ErrEmptyVocabulary = errors.New("vocabulary table is empty")

// VocabularyStore is the persistence contract for word vectors kept in a
// database instead of a model file.
type VocabularyStore interface {
	LoadVocabulary(ctx context.Context) (map[string]embeddings.Vector, error)
	Close() error
}
