package onnx

import (
	"context"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"gradcam-service/internal/core/domain"
	ports "gradcam-service/internal/core/ports/output"
)

type backbone struct {
	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
	layout  domain.Layout
	shape   []int64
}

// NewBackbone opens an ONNX session that maps the model input to the
// designated intermediate layer's output. Input and output tensors are
// allocated once from the metadata shapes and reused for every run.
func NewBackbone(modelPath string, info *domain.ModelInfo) (ports.Backbone, error) {
	if len(info.ActivationShape) != 4 {
		return nil, fmt.Errorf("%w: activation shape %v must be 4-D", domain.ErrShapeMismatch, info.ActivationShape)
	}
	if !info.Layout.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidModelLayout, info.Layout)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(info.InputShape...))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(info.ActivationShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{info.InputName}, []string{info.OutputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create onnx session: %w", err)
	}

	return &backbone{
		session: session,
		input:   inputTensor,
		output:  outputTensor,
		layout:  info.Layout,
		shape:   append([]int64(nil), info.ActivationShape...),
	}, nil
}

// Extract runs the session. Runs are serialised because the bound tensors are shared.
func (b *backbone) Extract(ctx context.Context, input []float32) (*domain.ActivationMap, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dst := b.input.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("%w: got %d input values, want %d", domain.ErrShapeMismatch, len(input), len(dst))
	}
	copy(dst, input)

	if err := b.session.Run(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInferenceFailed, err)
	}

	return ToActivationMap(b.output.GetData(), b.shape, b.layout)
}

func (b *backbone) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	if b.session != nil {
		firstErr = b.session.Destroy()
		b.session = nil
	}
	if b.input != nil {
		if err := b.input.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.input = nil
	}
	if b.output != nil {
		if err := b.output.Destroy(); err != nil && firstErr == nil {
			firstErr = err
		}
		b.output = nil
	}
	return firstErr
}

// ToActivationMap copies a batch-of-one activation tensor into Height x Width x
// Channels order.
func ToActivationMap(data []float32, shape []int64, layout domain.Layout) (*domain.ActivationMap, error) {
	if len(shape) != 4 || shape[0] != 1 {
		return nil, fmt.Errorf("%w: activation shape %v", domain.ErrShapeMismatch, shape)
	}

	var h, w, c int
	switch layout {
	case domain.LayoutNHWC:
		h, w, c = int(shape[1]), int(shape[2]), int(shape[3])
	case domain.LayoutNCHW:
		c, h, w = int(shape[1]), int(shape[2]), int(shape[3])
	default:
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidModelLayout, layout)
	}
	if len(data) != h*w*c {
		return nil, fmt.Errorf("%w: %d values for shape %v", domain.ErrShapeMismatch, len(data), shape)
	}

	acts := &domain.ActivationMap{Height: h, Width: w, Channels: c, Data: make([]float32, len(data))}
	if layout == domain.LayoutNHWC {
		copy(acts.Data, data)
		return acts, nil
	}

	plane := h * w
	for k := 0; k < c; k++ {
		for p := 0; p < plane; p++ {
			acts.Data[p*c+k] = data[k*plane+p]
		}
	}
	return acts, nil
}
