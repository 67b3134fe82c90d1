package embeddings

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockModel is a mock implementation of Model using testify/mock.
type MockModel struct {
	mock.Mock
}

func (m *MockModel) Name() string {
	args := m.Called()
	return args.String(0)
}

func (m *MockModel) Dim() int {
	args := m.Called()
	return args.Int(0)
}

func (m *MockModel) Lookup(ctx context.Context, text string) (Vector, bool, error) {
	args := m.Called(ctx, text)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(Vector), args.Bool(1), args.Error(2)
}
