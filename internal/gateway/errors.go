package gateway

import (
	"errors"
	"net/http"

	"embedding-gateway/internal/embeddings"
)

// ValidationError reports a missing or empty required field.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NoVectorError reports a batch target the model has no vector for.
type NoVectorError struct {
	Text string
}

func (e *NoVectorError) Error() string {
	return `No vector available for "` + e.Text + `"`
}

// StatusCode maps an operation error to the HTTP status it is served with.
func StatusCode(err error) int {
	var (
		validation *ValidationError
		noVector   *NoVectorError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.As(err, &noVector):
		return http.StatusBadRequest
	case errors.Is(err, embeddings.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Message is the client-facing text for err. Provider internals are not
// exposed.
func Message(err error) string {
	switch StatusCode(err) {
	case http.StatusBadRequest:
		return err.Error()
	case http.StatusServiceUnavailable:
		return "embedding provider unavailable"
	default:
		return "embedding provider failed"
	}
}
