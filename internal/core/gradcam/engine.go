package gradcam

import (
	"context"
	"fmt"
	"image"
	"sort"
	"time"

	log "github.com/sirupsen/logrus"

	"gradcam-service/internal/core/domain"
	ports "gradcam-service/internal/core/ports/output"
)

// Model is the loaded pretrained classifier: metadata, the backbone up to the
// designated layer and the differentiable head. It is built once at start and
// shared read-only.
type Model struct {
	Info     domain.ModelInfo
	Backbone ports.Backbone
	Head     *Head
}

// NewModel checks that the metadata, backbone and head agree on shapes.
func NewModel(info domain.ModelInfo, backbone ports.Backbone, head *Head) (*Model, error) {
	if backbone == nil || head == nil {
		return nil, domain.ErrModelNotLoaded
	}
	if len(info.Classes) != 0 && len(info.Classes) != head.Classes() {
		return nil, fmt.Errorf("%w: %d labels for %d head classes", domain.ErrShapeMismatch, len(info.Classes), head.Classes())
	}
	if n := len(info.ActivationShape); n > 0 {
		channels := info.ActivationShape[n-1]
		if info.Layout == domain.LayoutNCHW && n == 4 {
			channels = info.ActivationShape[1]
		}
		if int(channels) != head.Channels() {
			return nil, fmt.Errorf("%w: activation has %d channels, head expects %d", domain.ErrShapeMismatch, channels, head.Channels())
		}
	}
	return &Model{Info: info, Backbone: backbone, Head: head}, nil
}

// Close releases the backbone.
func (m *Model) Close() error {
	return m.Backbone.Close()
}

type Options struct {
	Alpha float64
	Score domain.ScoreMode
	TopK  int
}

func DefaultOptions() Options {
	return Options{Alpha: DefaultAlpha, Score: domain.ScoreProbability, TopK: 5}
}

// Engine computes Grad-CAM overlays with a shared model.
type Engine struct {
	model *Model
	opts  Options
}

func NewEngine(model *Model, opts Options) *Engine {
	if opts.Alpha <= 0 {
		opts.Alpha = DefaultAlpha
	}
	if !opts.Score.IsValid() {
		opts.Score = domain.ScoreProbability
	}
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	return &Engine{model: model, opts: opts}
}

// Info returns the model metadata.
func (e *Engine) Info() *domain.ModelInfo {
	return &e.model.Info
}

// Classes returns the number of classes the head predicts.
func (e *Engine) Classes() int {
	return e.model.Head.Classes()
}

// Compute runs the full pipeline for img. A nil target explains the top
// predicted class.
func (e *Engine) Compute(ctx context.Context, img image.Image, target *int) (*domain.Result, error) {
	start := time.Now()

	if img == nil || img.Bounds().Empty() {
		return nil, domain.ErrEmptyImage
	}
	if target != nil && (*target < 0 || *target >= e.model.Head.Classes()) {
		return nil, fmt.Errorf("%w: %d not in [0, %d)", domain.ErrClassIndexOutOfRange, *target, e.model.Head.Classes())
	}

	input, err := Preprocess(img, &e.model.Info)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	acts, err := e.model.Backbone.Extract(ctx, input)
	if err != nil {
		return nil, err
	}

	out, err := e.model.Head.Gradients(acts, target, e.opts.Score)
	if err != nil {
		return nil, err
	}

	heat, flat, err := ComputeHeatmap(acts, out.Gradients)
	if err != nil {
		return nil, err
	}
	if flat {
		log.WithFields(log.Fields{
			"class_index": out.Target,
			"score_mode":  e.opts.Score,
		}).Warn("gradient-weighted activation has no positive value, heatmap is all zeros")
	}

	overlay := Overlay(img, Colorize(heat), e.opts.Alpha)

	top := TopK(out.Probabilities, e.opts.TopK, &e.model.Info)
	res := &domain.Result{
		Target: domain.Prediction{
			Index: out.Target,
			Label: e.model.Info.Label(out.Target),
			Score: out.Probabilities[out.Target],
		},
		TargetExplicit: target != nil,
		Top:            top,
		Heatmap:        heat,
		Flat:           flat,
		Overlay:        overlay,
		Duration:       time.Since(start),
	}

	log.WithFields(log.Fields{
		"class_index": res.Target.Index,
		"label":       res.Target.Label,
		"score":       res.Target.Score,
		"latency_ms":  res.Duration.Milliseconds(),
	}).Debug("grad-cam computed")

	return res, nil
}

// TopK returns the k most probable classes, highest first.
func TopK(probs []float32, k int, info *domain.ModelInfo) []domain.Prediction {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return probs[idx[a]] > probs[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}

	top := make([]domain.Prediction, 0, k)
	for _, i := range idx[:k] {
		top = append(top, domain.Prediction{Index: i, Label: info.Label(i), Score: probs[i]})
	}
	return top
}
