package gradcam

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"

	"gradcam-service/internal/core/domain"
	"gradcam-service/internal/testutil"
)

func newTinyHead(t *testing.T) *Head {
	t.Helper()
	kernel := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(testutil.TinyKernel()))
	bias := tensor.New(tensor.WithShape(3), tensor.WithBacking(testutil.TinyBias()))
	h, err := NewHead(kernel, bias)
	require.NoError(t, err)
	return h
}

// expectedHead evaluates pooling, dense and softmax in float64.
func expectedHead(acts *domain.ActivationMap) (probs []float64, kernel [][]float64) {
	w := testutil.TinyKernel()
	b := testutil.TinyBias()
	channels, classes := 4, 3

	kernel = make([][]float64, channels)
	for k := range kernel {
		kernel[k] = make([]float64, classes)
		for c := 0; c < classes; c++ {
			kernel[k][c] = float64(w[k*classes+c])
		}
	}

	pooled := make([]float64, channels)
	for p := 0; p < acts.Positions(); p++ {
		for k := 0; k < channels; k++ {
			pooled[k] += float64(acts.Data[p*channels+k]) / float64(acts.Positions())
		}
	}

	logits := make([]float64, classes)
	sum := 0.0
	for c := range logits {
		logits[c] = float64(b[c])
		for k := 0; k < channels; k++ {
			logits[c] += pooled[k] * kernel[k][c]
		}
		sum += math.Exp(logits[c])
	}
	probs = make([]float64, classes)
	for c := range probs {
		probs[c] = math.Exp(logits[c]) / sum
	}
	return probs, kernel
}

func TestHead_GradientsMatchSoftmaxDerivative(t *testing.T) {
	h := newTinyHead(t)
	acts := testutil.Activations()
	probs, kernel := expectedHead(acts)

	for target := 0; target < 3; target++ {
		tgt := target
		out, err := h.Gradients(acts, &tgt, domain.ScoreProbability)
		require.NoError(t, err)
		assert.Equal(t, target, out.Target)
		require.Len(t, out.Gradients, len(acts.Data))

		for p := 0; p < acts.Positions(); p++ {
			for k := 0; k < 4; k++ {
				mix := 0.0
				for j := range probs {
					mix += probs[j] * kernel[k][j]
				}
				want := probs[target] * (kernel[k][target] - mix) / float64(acts.Positions())
				assert.InDelta(t, want, out.Gradients[p*4+k], 1e-5, "target %d position %d channel %d", target, p, k)
			}
		}
	}
}

func TestHead_LogitGradientsAreScaledKernel(t *testing.T) {
	h := newTinyHead(t)
	acts := testutil.Activations()
	_, kernel := expectedHead(acts)

	target := 1
	out, err := h.Gradients(acts, &target, domain.ScoreLogit)
	require.NoError(t, err)

	for p := 0; p < acts.Positions(); p++ {
		for k := 0; k < 4; k++ {
			assert.InDelta(t, kernel[k][target]/4, out.Gradients[p*4+k], 1e-6)
		}
	}
}

func TestHead_DefaultTargetIsArgmax(t *testing.T) {
	h := newTinyHead(t)
	acts := testutil.Activations()
	probs, _ := expectedHead(acts)

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}

	out, err := h.Gradients(acts, nil, domain.ScoreProbability)
	require.NoError(t, err)
	assert.Equal(t, best, out.Target)

	total := float32(0)
	for i, p := range out.Probabilities {
		assert.InDelta(t, probs[i], p, 1e-5)
		total += p
	}
	assert.InDelta(t, 1.0, total, 1e-5)
}

func TestHead_TargetOutOfRange(t *testing.T) {
	h := newTinyHead(t)

	for _, target := range []int{-1, 3, 1000} {
		tgt := target
		_, err := h.Gradients(testutil.Activations(), &tgt, domain.ScoreProbability)
		assert.ErrorIs(t, err, domain.ErrClassIndexOutOfRange)
	}
}

func TestHead_ChannelMismatch(t *testing.T) {
	h := newTinyHead(t)
	acts := &domain.ActivationMap{Height: 1, Width: 1, Channels: 2, Data: []float32{1, 2}}

	_, err := h.Gradients(acts, nil, domain.ScoreProbability)
	assert.ErrorIs(t, err, domain.ErrShapeMismatch)
}

func TestHead_InvalidScoreMode(t *testing.T) {
	h := newTinyHead(t)

	_, err := h.Gradients(testutil.Activations(), nil, domain.ScoreMode("entropy"))
	assert.Error(t, err)
}

func TestNewHead_Validation(t *testing.T) {
	t.Run("kernel not 2-D", func(t *testing.T) {
		kernel := tensor.New(tensor.WithShape(12), tensor.WithBacking(testutil.TinyKernel()))
		bias := tensor.New(tensor.WithShape(3), tensor.WithBacking(testutil.TinyBias()))
		_, err := NewHead(kernel, bias)
		assert.ErrorIs(t, err, domain.ErrShapeMismatch)
	})

	t.Run("bias length", func(t *testing.T) {
		kernel := tensor.New(tensor.WithShape(4, 3), tensor.WithBacking(testutil.TinyKernel()))
		bias := tensor.New(tensor.WithShape(2), tensor.WithBacking([]float32{1, 2}))
		_, err := NewHead(kernel, bias)
		assert.ErrorIs(t, err, domain.ErrShapeMismatch)
	})

	t.Run("float64 weights are narrowed", func(t *testing.T) {
		kernel := tensor.New(tensor.WithShape(2, 2), tensor.WithBacking([]float64{1, 2, 3, 4}))
		bias := tensor.New(tensor.WithShape(2), tensor.WithBacking([]float64{0, 0}))
		h, err := NewHead(kernel, bias)
		require.NoError(t, err)
		assert.Equal(t, 2, h.Channels())
		assert.Equal(t, 2, h.Classes())
	})
}
