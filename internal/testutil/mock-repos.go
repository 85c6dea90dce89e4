package testutil

import (
	"context"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"gradcam-service/internal/core/domain"
	ports "gradcam-service/internal/core/ports/output"
)

// MockAnalysisRepo is a mock of AnalysisRepository.
type MockAnalysisRepo struct {
	mock.Mock
}

func (m *MockAnalysisRepo) Create(ctx context.Context, analysis *domain.Analysis) error {
	args := m.Called(ctx, analysis)
	return args.Error(0)
}

func (m *MockAnalysisRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Analysis), args.Error(1)
}

func (m *MockAnalysisRepo) List(ctx context.Context, filter ports.ListFilter) ([]*domain.Analysis, int, error) {
	args := m.Called(ctx, filter)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).([]*domain.Analysis), args.Int(1), args.Error(2)
}

// MockBackbone is a mock of Backbone.
type MockBackbone struct {
	mock.Mock
}

func (m *MockBackbone) Extract(ctx context.Context, input []float32) (*domain.ActivationMap, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.ActivationMap), args.Error(1)
}

func (m *MockBackbone) Close() error {
	args := m.Called()
	return args.Error(0)
}
