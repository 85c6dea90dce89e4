package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"gradcam-service/internal/core/domain"
	ports "gradcam-service/internal/core/ports/output"
)

// analysisRepo keeps the most recent analyses in a fixed-size ring.
type analysisRepo struct {
	mu   sync.RWMutex
	buf  []*domain.Analysis
	next int
	full bool
	byID map[uuid.UUID]*domain.Analysis
}

// NewAnalysisRepository creates a ring buffer holding at most size analyses.
func NewAnalysisRepository(size int) ports.AnalysisRepository {
	if size <= 0 {
		size = 200
	}
	return &analysisRepo{
		buf:  make([]*domain.Analysis, size),
		byID: make(map[uuid.UUID]*domain.Analysis, size),
	}
}

func (r *analysisRepo) Create(ctx context.Context, analysis *domain.Analysis) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byID[analysis.ID]; ok {
		return domain.ErrAnalysisConflict
	}

	if old := r.buf[r.next]; old != nil {
		delete(r.byID, old.ID)
	}
	stored := *analysis
	r.buf[r.next] = &stored
	r.byID[stored.ID] = &stored

	r.next++
	if r.next >= len(r.buf) {
		r.next = 0
		r.full = true
	}
	return nil
}

func (r *analysisRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Analysis, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.byID[id]
	if !ok {
		return nil, domain.ErrAnalysisNotFound
	}
	out := *a
	return &out, nil
}

func (r *analysisRepo) List(ctx context.Context, filter ports.ListFilter) ([]*domain.Analysis, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	// newest first
	var matched []*domain.Analysis
	n := r.next
	if r.full {
		n = len(r.buf)
	}
	for i := 0; i < n; i++ {
		idx := (r.next - 1 - i + len(r.buf)) % len(r.buf)
		a := r.buf[idx]
		if filter.Label != "" && a.Label != filter.Label {
			continue
		}
		matched = append(matched, a)
	}

	total := len(matched)
	if filter.Offset >= total {
		return []*domain.Analysis{}, total, nil
	}
	end := total
	if filter.Limit > 0 && filter.Offset+filter.Limit < end {
		end = filter.Offset + filter.Limit
	}

	out := make([]*domain.Analysis, 0, end-filter.Offset)
	for _, a := range matched[filter.Offset:end] {
		cp := *a
		out = append(out, &cp)
	}
	return out, total, nil
}
