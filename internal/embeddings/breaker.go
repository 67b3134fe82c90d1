package embeddings

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures the circuit breaker around a remote model.
type BreakerSettings struct {
	MaxRequests uint32
	Interval    time.Duration
	Timeout     time.Duration
	TripRatio   float64
}

// BreakerModel wraps a Model with circuit breaking logic.
type BreakerModel struct {
	model Model
	cb    *gobreaker.CircuitBreaker
}

// callerGoneError wraps a failure caused by the caller's own context. It
// does not count against the provider.
type callerGoneError struct {
	err error
}

func (e *callerGoneError) Error() string { return e.err.Error() }

func (e *callerGoneError) Unwrap() error { return e.err }

func isSuccessful(err error) bool {
	var gone *callerGoneError
	return err == nil || errors.As(err, &gone)
}

type lookupResult struct {
	vec Vector
	ok  bool
}

// NewBreakerModel trips once at least three lookups were made in the
// current interval and the failure ratio reaches TripRatio. Lookups that
// fail because the caller's context ended are not failures.
func NewBreakerModel(model Model, cfg BreakerSettings, log *slog.Logger) *BreakerModel {
	st := gobreaker.Settings{
		Name:         model.Name(),
		MaxRequests:  cfg.MaxRequests,
		Interval:     cfg.Interval,
		Timeout:      cfg.Timeout,
		IsSuccessful: isSuccessful,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 3 && failureRatio >= cfg.TripRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			if log != nil {
				log.Warn("circuit breaker state changed", "model", name, "from", from.String(), "to", to.String())
			}
		},
	}
	return &BreakerModel{
		model: model,
		cb:    gobreaker.NewCircuitBreaker(st),
	}
}

func (b *BreakerModel) Name() string { return b.model.Name() }

func (b *BreakerModel) Dim() int { return b.model.Dim() }

func (b *BreakerModel) Lookup(ctx context.Context, text string) (Vector, bool, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		vec, ok, err := b.model.Lookup(ctx, text)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &callerGoneError{err: err}
			}
			return nil, err
		}
		return lookupResult{vec: vec, ok: ok}, nil
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, false, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}
	var gone *callerGoneError
	if errors.As(err, &gone) {
		return nil, false, gone.err
	}
	if err != nil {
		return nil, false, err
	}
	res := out.(lookupResult)
	return res.vec, res.ok, nil
}
