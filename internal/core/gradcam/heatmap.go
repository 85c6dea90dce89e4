package gradcam

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"gradcam-service/internal/core/domain"
)

// ChannelWeights reduces the gradients to one importance weight per channel by
// averaging over all spatial positions.
func ChannelWeights(acts *domain.ActivationMap, grads []float32) ([]float64, error) {
	if acts == nil || acts.Positions() <= 0 || acts.Channels <= 0 {
		return nil, domain.ErrEmptyImage
	}
	if len(grads) != len(acts.Data) {
		return nil, fmt.Errorf("%w: %d gradients for %d activations", domain.ErrShapeMismatch, len(grads), len(acts.Data))
	}
	hw := acts.Positions()
	g := mat.NewDense(hw, acts.Channels, widen(grads))

	avg := make([]float64, hw)
	for i := range avg {
		avg[i] = 1 / float64(hw)
	}

	var w mat.VecDense
	w.MulVec(g.T(), mat.NewVecDense(hw, avg))
	return w.RawVector().Data, nil
}

// ComputeHeatmap weights each activation channel by its mean gradient, sums the
// channels, drops negative values and scales by the maximum. When no position
// is positive the heatmap is all zeros and flat is true.
func ComputeHeatmap(acts *domain.ActivationMap, grads []float32) (heat *domain.Heatmap, flat bool, err error) {
	weights, err := ChannelWeights(acts, grads)
	if err != nil {
		return nil, false, err
	}

	a := mat.NewDense(acts.Positions(), acts.Channels, widen(acts.Data))
	var sum mat.VecDense
	sum.MulVec(a, mat.NewVecDense(acts.Channels, weights))

	values := make([]float64, acts.Positions())
	copy(values, sum.RawVector().Data)
	// NaN fails the comparison and is dropped with the negatives.
	for i, v := range values {
		if !(v > 0) {
			values[i] = 0
		}
	}

	heat = &domain.Heatmap{Height: acts.Height, Width: acts.Width, Values: values}

	peak := floats.Max(values)
	if peak == 0 {
		return heat, true, nil
	}
	for i := range values {
		values[i] /= peak
	}
	return heat, false, nil
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}
