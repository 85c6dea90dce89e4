package ports

import (
	"context"

	"github.com/google/uuid"

	"gradcam-service/internal/core/domain"
)

type ListFilter struct {
	Label  string
	Limit  int
	Offset int
}

// AnalysisRepository stores Grad-CAM run metadata.
type AnalysisRepository interface {
	Create(ctx context.Context, analysis *domain.Analysis) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error)
	List(ctx context.Context, filter ListFilter) ([]*domain.Analysis, int, error)
}
