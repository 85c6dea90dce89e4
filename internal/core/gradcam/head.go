package gradcam

import (
	"fmt"
	"os"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"

	"gradcam-service/internal/core/domain"
)

// Head is the part of the classifier after the designated layer: global
// average pooling, the dense predictions layer and softmax. It is evaluated as
// a gorgonia graph so the class score can be differentiated with respect to
// the activation map.
type Head struct {
	kernel   *tensor.Dense // channels x classes
	bias     *tensor.Dense // 1 x classes
	channels int
	classes  int
}

// NewHead builds a head from a channels x classes kernel and a bias of length classes.
// The tensors are copied; the head is read-only afterwards.
func NewHead(kernel, bias tensor.Tensor) (*Head, error) {
	k, err := float32Data(kernel)
	if err != nil {
		return nil, fmt.Errorf("head kernel: %w", err)
	}
	if kernel.Dims() != 2 {
		return nil, fmt.Errorf("%w: head kernel must be 2-D, got %v", domain.ErrShapeMismatch, kernel.Shape())
	}
	channels, classes := kernel.Shape()[0], kernel.Shape()[1]

	b, err := float32Data(bias)
	if err != nil {
		return nil, fmt.Errorf("head bias: %w", err)
	}
	if len(b) != classes {
		return nil, fmt.Errorf("%w: head bias has %d values for %d classes", domain.ErrShapeMismatch, len(b), classes)
	}

	return &Head{
		kernel:   tensor.New(tensor.WithShape(channels, classes), tensor.WithBacking(k)),
		bias:     tensor.New(tensor.WithShape(1, classes), tensor.WithBacking(b)),
		channels: channels,
		classes:  classes,
	}, nil
}

// LoadHead reads the kernel and bias from NumPy .npy files.
func LoadHead(kernelPath, biasPath string) (*Head, error) {
	kernel, err := readNpy(kernelPath)
	if err != nil {
		return nil, err
	}
	bias, err := readNpy(biasPath)
	if err != nil {
		return nil, err
	}
	return NewHead(kernel, bias)
}

func readNpy(path string) (*tensor.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t := new(tensor.Dense)
	if err := t.ReadNpy(f); err != nil {
		return nil, fmt.Errorf("read npy %s: %w", path, err)
	}
	return t, nil
}

func (h *Head) Channels() int { return h.channels }

func (h *Head) Classes() int { return h.classes }

type headGraph struct {
	g        *gorgonia.ExprGraph
	features *gorgonia.Node
	logits   *gorgonia.Node
	probs    *gorgonia.Node
}

func (h *Head) graph(acts *domain.ActivationMap) (*headGraph, error) {
	hw := acts.Positions()
	g := gorgonia.NewGraph()

	avg := make([]float32, hw)
	for i := range avg {
		avg[i] = 1 / float32(hw)
	}
	feats := tensor.New(tensor.WithShape(hw, acts.Channels), tensor.WithBacking(append([]float32(nil), acts.Data...)))

	features := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(hw, acts.Channels),
		gorgonia.WithName("features"), gorgonia.WithValue(feats))
	pool := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, hw),
		gorgonia.WithName("pool"), gorgonia.WithValue(tensor.New(tensor.WithShape(1, hw), tensor.WithBacking(avg))))
	kernel := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(h.channels, h.classes),
		gorgonia.WithName("kernel"), gorgonia.WithValue(h.kernel))
	bias := gorgonia.NewMatrix(g, tensor.Float32, gorgonia.WithShape(1, h.classes),
		gorgonia.WithName("bias"), gorgonia.WithValue(h.bias))

	// 1 x channels
	pooled, err := gorgonia.Mul(pool, features)
	if err != nil {
		return nil, fmt.Errorf("pool: %w", err)
	}
	dense, err := gorgonia.Mul(pooled, kernel)
	if err != nil {
		return nil, fmt.Errorf("dense: %w", err)
	}
	logits, err := gorgonia.Add(dense, bias)
	if err != nil {
		return nil, fmt.Errorf("bias: %w", err)
	}
	probs, err := gorgonia.SoftMax(logits)
	if err != nil {
		return nil, fmt.Errorf("softmax: %w", err)
	}

	return &headGraph{g: g, features: features, logits: logits, probs: probs}, nil
}

// Probabilities runs the head forward only.
func (h *Head) Probabilities(acts *domain.ActivationMap) ([]float32, error) {
	if err := h.check(acts); err != nil {
		return nil, err
	}
	hg, err := h.graph(acts)
	if err != nil {
		return nil, err
	}

	vm := gorgonia.NewTapeMachine(hg.g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("%w: head forward: %v", domain.ErrInferenceFailed, err)
	}
	return nodeData(hg.probs)
}

// Gradients returns the class probabilities and the gradient of the target
// class score with respect to every activation. A nil target selects the
// arg-max class.
func (h *Head) Gradients(acts *domain.ActivationMap, target *int, mode domain.ScoreMode) (*domain.HeadOutput, error) {
	if !mode.IsValid() {
		return nil, fmt.Errorf("unknown score mode %q", mode)
	}
	if err := h.check(acts); err != nil {
		return nil, err
	}

	var idx int
	if target != nil {
		idx = *target
		if idx < 0 || idx >= h.classes {
			return nil, fmt.Errorf("%w: %d not in [0, %d)", domain.ErrClassIndexOutOfRange, idx, h.classes)
		}
	} else {
		probs, err := h.Probabilities(acts)
		if err != nil {
			return nil, err
		}
		idx = argmax(probs)
	}

	hg, err := h.graph(acts)
	if err != nil {
		return nil, err
	}

	selected := hg.probs
	if mode == domain.ScoreLogit {
		selected = hg.logits
	}

	onehot := make([]float32, h.classes)
	onehot[idx] = 1
	mask := gorgonia.NewMatrix(hg.g, tensor.Float32, gorgonia.WithShape(1, h.classes),
		gorgonia.WithName("target"), gorgonia.WithValue(tensor.New(tensor.WithShape(1, h.classes), tensor.WithBacking(onehot))))

	picked, err := gorgonia.HadamardProd(selected, mask)
	if err != nil {
		return nil, fmt.Errorf("select target: %w", err)
	}
	score, err := gorgonia.Sum(picked)
	if err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	grads, err := gorgonia.Grad(score, hg.features)
	if err != nil {
		return nil, fmt.Errorf("grad: %w", err)
	}

	vm := gorgonia.NewTapeMachine(hg.g)
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		return nil, fmt.Errorf("%w: head backward: %v", domain.ErrInferenceFailed, err)
	}

	probs, err := nodeData(hg.probs)
	if err != nil {
		return nil, err
	}
	g, err := nodeData(grads[0])
	if err != nil {
		return nil, err
	}

	return &domain.HeadOutput{Probabilities: probs, Target: idx, Gradients: g}, nil
}

func (h *Head) check(acts *domain.ActivationMap) error {
	if acts == nil || acts.Positions() == 0 {
		return domain.ErrEmptyImage
	}
	if acts.Channels != h.channels {
		return fmt.Errorf("%w: activation has %d channels, head expects %d", domain.ErrShapeMismatch, acts.Channels, h.channels)
	}
	if len(acts.Data) != acts.Positions()*acts.Channels {
		return fmt.Errorf("%w: activation has %d values for %dx%dx%d", domain.ErrShapeMismatch,
			len(acts.Data), acts.Height, acts.Width, acts.Channels)
	}
	return nil
}

func nodeData(n *gorgonia.Node) ([]float32, error) {
	t, ok := n.Value().(tensor.Tensor)
	if !ok {
		return nil, fmt.Errorf("%w: node %s has no tensor value", domain.ErrInferenceFailed, n.Name())
	}
	data, ok := t.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("%w: node %s is %v, want float32", domain.ErrInferenceFailed, n.Name(), t.Dtype())
	}
	return append([]float32(nil), data...), nil
}

func float32Data(t tensor.Tensor) ([]float32, error) {
	switch data := t.Data().(type) {
	case []float32:
		return append([]float32(nil), data...), nil
	case []float64:
		out := make([]float32, len(data))
		for i, v := range data {
			out[i] = float32(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: unsupported dtype %v", domain.ErrShapeMismatch, t.Dtype())
	}
}

func argmax(v []float32) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}
