package embeddings

import (
	"context"
	"errors"
	"math"
)

// Vector is a simple float32 slice wrapper.
type Vector []float32

// ErrUnavailable marks provider failures that callers should surface as a
// temporary outage rather than a bad request.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Model is a loaded embedding provider. Implementations must be safe for
// concurrent use and must not mutate state after construction.
type Model interface {
	// Name identifies the loaded model.
	Name() string
	// Dim is the fixed width of every vector the model returns.
	Dim() int
	// Lookup returns the vector for text. ok is false when the model has no
	// representation for it.
	Lookup(ctx context.Context, text string) (vec Vector, ok bool, err error)
}

// CosineSimilarity returns the cosine of the angle between a and b.
// Empty, mismatched or zero-norm inputs yield 0.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
