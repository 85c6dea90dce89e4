package dto

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/google/uuid"

	"gradcam-service/internal/core/domain"
)

type AnalyzeRequest struct {
	// Image is raw base64 or a data URI such as "data:image/png;base64,...".
	Image      string `json:"image" binding:"required"`
	ClassIndex *int   `json:"class_index"`
	TopK       int    `json:"top_k"`
	Filename   string `json:"filename"`
}

type PredictionResponse struct {
	ClassIndex int     `json:"class_index"`
	Label      string  `json:"label"`
	Score      float32 `json:"score"`
}

type AnalysisResponse struct {
	ID         uuid.UUID            `json:"id"`
	Overlay    string               `json:"overlay"`
	Heatmap    [][]float64          `json:"heatmap"`
	ClassIndex int                  `json:"class_index"`
	Label      string               `json:"label"`
	Score      float32              `json:"score"`
	Top        []PredictionResponse `json:"top"`
	Flat       bool                 `json:"flat"`
	Width      int                  `json:"width"`
	Height     int                  `json:"height"`
	DurationMS int64                `json:"duration_ms"`
}

type AnalysisRecordResponse struct {
	ID             uuid.UUID `json:"id"`
	CreatedAt      string    `json:"created_at"`
	RequestID      string    `json:"request_id,omitempty"`
	Filename       string    `json:"filename,omitempty"`
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

type ListAnalysesResponse struct {
	Items      []AnalysisRecordResponse `json:"items"`
	Total      int                      `json:"total"`
	PageSize   int                      `json:"page_size"`
	NextOffset int                      `json:"next_offset"`
}

type ModelResponse struct {
	Name            string  `json:"name"`
	Layer           string  `json:"layer"`
	InputName       string  `json:"input_name"`
	OutputName      string  `json:"output_name"`
	ImageSize       int     `json:"image_size"`
	InputShape      []int64 `json:"input_shape"`
	ActivationShape []int64 `json:"activation_shape"`
	Layout          string  `json:"layout"`
	Preprocessing   string  `json:"preprocessing"`
	NumClasses      int     `json:"num_classes"`
	HistoryEnabled  bool    `json:"history_enabled"`
}

// DecodeImageData accepts plain base64 or a base64 data URI and returns the
// file bytes.
func DecodeImageData(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		comma := strings.IndexByte(s, ',')
		if comma < 0 || !strings.HasSuffix(s[:comma], ";base64") {
			return nil, domain.ErrInvalidEncoding
		}
		s = s[comma+1:]
	}
	if s == "" {
		return nil, domain.ErrEmptyImage
	}

	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		// unpadded input from some browsers
		if data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "=")); err != nil {
			return nil, domain.ErrInvalidEncoding
		}
	}
	return data, nil
}

// PNGDataURI wraps PNG bytes for inline display.
func PNGDataURI(png []byte) string {
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// ToAnalysisResponse maps a finished run; overlayPNG is the encoded overlay.
func ToAnalysisResponse(a *domain.Analysis, res *domain.Result, overlayPNG []byte) AnalysisResponse {
	top := make([]PredictionResponse, 0, len(res.Top))
	for _, p := range res.Top {
		top = append(top, PredictionResponse{ClassIndex: p.Index, Label: p.Label, Score: p.Score})
	}

	var heat [][]float64
	if res.Heatmap != nil {
		heat = res.Heatmap.Rows()
	}

	return AnalysisResponse{
		ID:         a.ID,
		Overlay:    PNGDataURI(overlayPNG),
		Heatmap:    heat,
		ClassIndex: res.Target.Index,
		Label:      res.Target.Label,
		Score:      res.Target.Score,
		Top:        top,
		Flat:       res.Flat,
		Width:      a.Width,
		Height:     a.Height,
		DurationMS: a.DurationMS,
	}
}

func ToAnalysisRecordResponse(a *domain.Analysis) AnalysisRecordResponse {
	return AnalysisRecordResponse{
		ID:             a.ID,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		RequestID:      a.RequestID,
		Filename:       a.Filename,
		Format:         a.Format,
		Width:          a.Width,
		Height:         a.Height,
		ClassIndex:     a.ClassIndex,
		Label:          a.Label,
		Score:          a.Score,
		TargetExplicit: a.TargetExplicit,
		HeatmapHeight:  a.HeatmapHeight,
		HeatmapWidth:   a.HeatmapWidth,
		Flat:           a.Flat,
		DurationMS:     a.DurationMS,
	}
}

func ToModelResponse(info *domain.ModelInfo, numClasses int, historyEnabled bool) ModelResponse {
	return ModelResponse{
		Name:            info.Name,
		Layer:           info.Layer,
		InputName:       info.InputName,
		OutputName:      info.OutputName,
		ImageSize:       info.ImageSize,
		InputShape:      info.InputShape,
		ActivationShape: info.ActivationShape,
		Layout:          string(info.Layout),
		Preprocessing:   string(info.Preprocessing),
		NumClasses:      numClasses,
		HistoryEnabled:  historyEnabled,
	}
}
