package domain

import (
	"time"

	"github.com/google/uuid"
)

// Analysis is the metadata kept for one Grad-CAM run. Pixels are never stored.
type Analysis struct {
	ID             uuid.UUID `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	RequestID      string    `json:"request_id"`
	Filename       string    `json:"filename"`
	Format         string    `json:"format"`
	Width          int       `json:"width"`
	Height         int       `json:"height"`
	ClassIndex     int       `json:"class_index"`
	Label          string    `json:"label"`
	Score          float32   `json:"score"`
	TargetExplicit bool      `json:"target_explicit"`
	HeatmapHeight  int       `json:"heatmap_height"`
	HeatmapWidth   int       `json:"heatmap_width"`
	Flat           bool      `json:"flat"`
	DurationMS     int64     `json:"duration_ms"`
}

// Source describes where an analysed image came from.
type Source struct {
	RequestID string
	Filename  string
	Format    string
}

// NewAnalysis builds the history record for a finished run.
func NewAnalysis(src Source, width, height int, res *Result) *Analysis {
	a := &Analysis{
		ID:             uuid.New(),
		CreatedAt:      time.Now().UTC(),
		RequestID:      src.RequestID,
		Filename:       src.Filename,
		Format:         src.Format,
		Width:          width,
		Height:         height,
		ClassIndex:     res.Target.Index,
		Label:          res.Target.Label,
		Score:          res.Target.Score,
		TargetExplicit: res.TargetExplicit,
		Flat:           res.Flat,
		DurationMS:     res.Duration.Milliseconds(),
	}
	if res.Heatmap != nil {
		a.HeatmapHeight = res.Heatmap.Height
		a.HeatmapWidth = res.Heatmap.Width
	}
	return a
}
