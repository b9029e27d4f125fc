package regularization

import (
	"fmt"

	"mustard/internal/models"
)

// Fidelity is the masked, frame-weighted sum of squared residuals between the
// modeled frames and the observations, with an optional squared-hinge penalty
// on pixels where the model exceeds the observation.
//
// Frame may be called concurrently for different frames. The per-frame values
// of the last evaluation are kept so the data and positivity parts can be
// reported separately.
type Fidelity struct {
	direct     models.Cube
	derotated  models.Cube
	weights    []float64
	mask       []float64
	positivity bool

	data [2][]float64
	pos  [2][]float64
}

// NewFidelity checks that the observed cube, its derotated copy, the frame
// weights and the coronagraph mask agree in shape. weights may be nil.
func NewFidelity(direct, derotated models.Cube, weights, mask []float64, positivity bool) (*Fidelity, error) {
	if err := direct.Validate(); err != nil {
		return nil, err
	}
	n := direct.Len()
	size := direct.Size()
	if derotated.Len() != n || derotated.Size() != size {
		return nil, fmt.Errorf("%w: derotated cube does not match the observations", models.ErrShapeMismatch)
	}
	if weights == nil {
		weights = make([]float64, n)
		for i := range weights {
			weights[i] = 1
		}
	}
	if len(weights) != n {
		return nil, fmt.Errorf("%w: %d frame weights for %d frames", models.ErrShapeMismatch, len(weights), n)
	}
	if len(mask) != size*size {
		return nil, fmt.Errorf("%w: mask has %d pixels for frames of size %d", models.ErrShapeMismatch, len(mask), size)
	}
	f := &Fidelity{
		direct:     direct,
		derotated:  derotated,
		weights:    weights,
		mask:       mask,
		positivity: positivity,
	}
	for w := 0; w < 2; w++ {
		f.data[w] = make([]float64, n)
		f.pos[w] = make([]float64, n)
	}
	return f, nil
}

// Frame scores modeled frame i against the observation (the derotated one
// when reverse is set) and writes the gradient into grad.
func (f *Fidelity) Frame(reverse bool, i int, modeled, grad []float64) float64 {
	obs, slot := f.direct.Frames[i].Data, 0
	if reverse {
		obs, slot = f.derotated.Frames[i].Data, 1
	}
	wi := f.weights[i]
	data, pos := 0.0, 0.0
	for k, m := range modeled {
		c := wi * f.mask[k]
		r := m - obs[k]
		data += c * r * r
		grad[k] = 2 * c * r
		if f.positivity && r > 0 {
			pos += c * r * r
			grad[k] += 2 * c * r
		}
	}
	f.data[slot][i] = data
	f.pos[slot][i] = pos
	return data + pos
}

// Data returns the data term of the last evaluation
func (f *Fidelity) Data() float64 {
	return sumSlots(f.data)
}

// Positivity returns the positivity penalty of the last evaluation
func (f *Fidelity) Positivity() float64 {
	return sumSlots(f.pos)
}

// Weights returns the frame weights
func (f *Fidelity) Weights() []float64 { return f.weights }

func sumSlots(s [2][]float64) float64 {
	total := 0.0
	for _, way := range s {
		for _, v := range way {
			total += v
		}
	}
	return total
}
