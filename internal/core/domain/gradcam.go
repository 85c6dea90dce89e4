package domain

import (
	"image"
	"time"
)

// ============================================================================
// Value Objects
// ============================================================================

// ScoreMode selects which head output the gradient is taken of.
type ScoreMode string

const (
	ScoreProbability ScoreMode = "probability"
	ScoreLogit       ScoreMode = "logit"
)

// IsValid checks if the mode is valid
func (m ScoreMode) IsValid() bool {
	return m == ScoreProbability || m == ScoreLogit
}

// Layout is the dimension order of an image or activation tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

// IsValid checks if the layout is valid
func (l Layout) IsValid() bool {
	return l == LayoutNHWC || l == LayoutNCHW
}

// Preprocessing names the input normalisation a backbone was trained with.
type Preprocessing string

const (
	// PreprocessMobileNet maps 0..255 to [-1, 1].
	PreprocessMobileNet Preprocessing = "mobilenet"
	// PreprocessUnit maps 0..255 to [0, 1].
	PreprocessUnit Preprocessing = "unit"
	// PreprocessImageNet maps to [0, 1] then standardises with ImageNet mean/std.
	PreprocessImageNet Preprocessing = "imagenet"
)

// IsValid checks if the mode is valid
func (p Preprocessing) IsValid() bool {
	return p == PreprocessMobileNet || p == PreprocessUnit || p == PreprocessImageNet
}

// ============================================================================
// Tensors
// ============================================================================

// ActivationMap is the output of the designated intermediate layer for one image,
// stored row-major as Height x Width x Channels.
type ActivationMap struct {
	Height   int
	Width    int
	Channels int
	Data     []float32
}

// Positions is the number of spatial positions.
func (a *ActivationMap) Positions() int {
	return a.Height * a.Width
}

// At returns the activation at row y, column x, channel k.
func (a *ActivationMap) At(y, x, k int) float32 {
	return a.Data[(y*a.Width+x)*a.Channels+k]
}

// Heatmap holds normalised importance scores in [0, 1], row-major Height x Width.
type Heatmap struct {
	Height int
	Width  int
	Values []float64
}

// At returns the value at row y, column x.
func (h *Heatmap) At(y, x int) float64 {
	return h.Values[y*h.Width+x]
}

// Rows returns the heatmap as a 2-D grid.
func (h *Heatmap) Rows() [][]float64 {
	rows := make([][]float64, h.Height)
	for y := range rows {
		rows[y] = h.Values[y*h.Width : (y+1)*h.Width]
	}
	return rows
}

// Prediction is one class with its score.
type Prediction struct {
	Index int     `json:"index"`
	Label string  `json:"label"`
	Score float32 `json:"score"`
}

// HeadOutput is what the classifier head reports for one activation map.
type HeadOutput struct {
	Probabilities []float32
	Target        int
	// Gradients has the same layout and length as ActivationMap.Data.
	Gradients []float32
}

// Result is the output of one Grad-CAM run.
type Result struct {
	Target         Prediction
	TargetExplicit bool
	Top            []Prediction
	Heatmap        *Heatmap
	// Flat is set when the weighted map had no positive value and the heatmap is all zeros.
	Flat     bool
	Overlay  *image.RGBA
	Duration time.Duration
}

// ModelInfo describes a loaded classifier.
type ModelInfo struct {
	Name            string        `json:"name"`
	Layer           string        `json:"layer"`
	InputName       string        `json:"input_name"`
	OutputName      string        `json:"output_name"`
	InputShape      []int64       `json:"input_shape"`
	ActivationShape []int64       `json:"activation_shape"`
	Layout          Layout        `json:"layout"`
	ImageSize       int           `json:"image_size"`
	Preprocessing   Preprocessing `json:"preprocessing"`
	Classes         []string      `json:"classes"`
	HeadKernel      string        `json:"head_kernel"`
	HeadBias        string        `json:"head_bias"`
}

// Label returns the class label for idx, or an empty string.
func (m *ModelInfo) Label(idx int) string {
	if idx < 0 || idx >= len(m.Classes) {
		return ""
	}
	return m.Classes[idx]
}
