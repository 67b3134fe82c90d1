package retry

import (
	"context"
	"errors"
	"time"
)

// MaxDelay caps a single wait between attempts.
const MaxDelay = time.Minute

// ExponentialBackoff returns base * 2^attempt, capped at MaxDelay.
func ExponentialBackoff(attempt int, base time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 30 {
		return MaxDelay
	}
	d := base * (1 << attempt)
	if d <= 0 || d > MaxDelay {
		return MaxDelay
	}
	return d
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err so Do gives up without further attempts.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Do calls fn until it succeeds, returns a permanent error, or attempts run
// out. fn receives the zero-based attempt number. The last error is returned.
func Do(ctx context.Context, attempts int, base time.Duration, fn func(attempt int) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if err = fn(attempt); err == nil || IsPermanent(err) {
			return err
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(ExponentialBackoff(attempt, base)):
		}
	}
	return err
}
