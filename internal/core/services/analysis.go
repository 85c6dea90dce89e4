package services

import (
	"context"
	"image"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"gradcam-service/internal/core/domain"
	"gradcam-service/internal/core/gradcam"
	ports "gradcam-service/internal/core/ports/output"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// AnalysisService runs Grad-CAM and records what it did. The repository is
// optional; without one nothing is kept.
type AnalysisService struct {
	engine *gradcam.Engine
	repo   ports.AnalysisRepository
}

func NewAnalysisService(engine *gradcam.Engine, repo ports.AnalysisRepository) *AnalysisService {
	return &AnalysisService{engine: engine, repo: repo}
}

// HistoryEnabled reports whether analyses are being recorded.
func (s *AnalysisService) HistoryEnabled() bool {
	return s.repo != nil
}

// Model returns the metadata of the loaded model.
func (s *AnalysisService) Model() (*domain.ModelInfo, error) {
	if s.engine == nil {
		return nil, domain.ErrModelNotLoaded
	}
	return s.engine.Info(), nil
}

// Classes is the number of outputs of the loaded head, which may exceed the
// number of labels in the metadata.
func (s *AnalysisService) Classes() int {
	if s.engine == nil {
		return 0
	}
	return s.engine.Classes()
}

// Analyze computes the overlay for img. topK > 0 trims the returned
// predictions. The record is stored best effort.
func (s *AnalysisService) Analyze(ctx context.Context, img image.Image, target *int, topK int, src domain.Source) (*domain.Result, *domain.Analysis, error) {
	if s.engine == nil {
		return nil, nil, domain.ErrModelNotLoaded
	}
	if topK < 0 {
		return nil, nil, domain.ErrInvalidTopK
	}

	res, err := s.engine.Compute(ctx, img, target)
	if err != nil {
		return nil, nil, err
	}
	if topK > 0 && topK < len(res.Top) {
		res.Top = res.Top[:topK]
	}

	b := img.Bounds()
	analysis := domain.NewAnalysis(src, b.Dx(), b.Dy(), res)

	if s.repo != nil {
		// recorded even when the client has already gone away
		if err := s.repo.Create(context.WithoutCancel(ctx), analysis); err != nil {
			log.WithError(err).WithFields(log.Fields{
				"analysis_id": analysis.ID,
				"request_id":  src.RequestID,
			}).Warn("failed to record analysis")
		}
	}

	return res, analysis, nil
}

func (s *AnalysisService) Get(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	if s.repo == nil {
		return nil, domain.ErrHistoryDisabled
	}
	return s.repo.GetByID(ctx, id)
}

func (s *AnalysisService) List(ctx context.Context, filter ports.ListFilter) ([]*domain.Analysis, int, error) {
	if s.repo == nil {
		return nil, 0, domain.ErrHistoryDisabled
	}
	return s.repo.List(ctx, PageFilter(filter))
}

// PageFilter applies the paging bounds List uses: limit defaults to 20 and is
// capped at 100, negative offsets start from the beginning.
func PageFilter(filter ports.ListFilter) ports.ListFilter {
	if filter.Limit <= 0 {
		filter.Limit = defaultPageSize
	}
	if filter.Limit > maxPageSize {
		filter.Limit = maxPageSize
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return filter
}
