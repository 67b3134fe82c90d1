package embeddings

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBreakerModelPassesThrough(t *testing.T) {
	m := new(MockModel)
	m.On("Name").Return("remote")
	m.On("Dim").Return(2)
	m.On("Lookup", mock.Anything, "king").Return(Vector{1, 2}, true, nil).Once()

	b := NewBreakerModel(m, BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, TripRatio: 0.6}, nil)

	vec, ok, err := b.Lookup(context.Background(), "king")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Vector{1, 2}, vec)
	assert.Equal(t, "remote", b.Name())
	assert.Equal(t, 2, b.Dim())
	m.AssertExpectations(t)
}

func TestBreakerModelTripsAfterFailures(t *testing.T) {
	upstream := errors.New("upstream down")
	m := new(MockModel)
	m.On("Name").Return("remote")
	m.On("Lookup", mock.Anything, "king").Return(nil, false, upstream).Times(3)

	b := NewBreakerModel(m, BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, TripRatio: 0.6}, nil)

	for i := 0; i < 3; i++ {
		_, _, err := b.Lookup(context.Background(), "king")
		assert.ErrorIs(t, err, upstream)
	}

	// Open: the upstream is no longer called.
	_, _, err := b.Lookup(context.Background(), "king")
	assert.ErrorIs(t, err, ErrUnavailable)
	m.AssertExpectations(t)
}

func TestBreakerModelIgnoresCallerCancellation(t *testing.T) {
	m := new(MockModel)
	m.On("Name").Return("remote")
	m.On("Lookup", mock.Anything, "king").Return(nil, false, context.Canceled).Times(3)
	m.On("Lookup", mock.Anything, "king").Return(Vector{1, 2}, true, nil).Once()

	b := NewBreakerModel(m, BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, TripRatio: 0.6}, nil)

	canceled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		_, _, err := b.Lookup(canceled, "king")
		assert.ErrorIs(t, err, context.Canceled)
		assert.NotErrorIs(t, err, ErrUnavailable)
	}

	vec, ok, err := b.Lookup(context.Background(), "king")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Vector{1, 2}, vec)
	m.AssertExpectations(t)
}

func TestBreakerModelCountsProviderTimeouts(t *testing.T) {
	m := new(MockModel)
	m.On("Name").Return("remote")
	m.On("Lookup", mock.Anything, "king").Return(nil, false, context.DeadlineExceeded).Times(3)

	b := NewBreakerModel(m, BreakerSettings{MaxRequests: 1, Interval: time.Minute, Timeout: time.Minute, TripRatio: 0.6}, nil)

	// The caller's context is live, so the deadline belongs to the provider.
	for i := 0; i < 3; i++ {
		_, _, err := b.Lookup(context.Background(), "king")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	}

	_, _, err := b.Lookup(context.Background(), "king")
	assert.ErrorIs(t, err, ErrUnavailable)
	m.AssertExpectations(t)
}
