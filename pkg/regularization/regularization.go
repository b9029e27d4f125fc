// Package regularization implements the loss terms of the separation problem:
// the weighted data-fidelity term, the positivity penalty and the two
// configurable regularizations (R1: smoothness or sparsity, R2: prior mask).
//
// Every term returns its raw value. When gradient buffers are supplied, the
// gradient of the term multiplied by scale is added into them, so several
// terms can share the same buffers.
package regularization

// Penalty is a regularization term on the two maps
type Penalty interface {
	// Eval returns the raw penalty of (x, l) and adds scale times its
	// gradient into gx and gl when they are non-nil
	Eval(x, l, gx, gl []float64, scale float64) float64
	// Name describes the configured term
	Name() string
}

// Off is the zero penalty used when a regularization is disabled
type Off struct{}

// Eval implements Penalty
func (Off) Eval(x, l, gx, gl []float64, scale float64) float64 { return 0 }

// Name implements Penalty
func (Off) Name() string { return "none" }

// AdaptiveWeight returns pct * loss / raw. ok is false when the raw value is
// not strictly positive, in which case no valid weight exists.
func AdaptiveWeight(pct, loss, raw float64) (w float64, ok bool) {
	if pct == 0 {
		return 0, true
	}
	if raw <= 0 {
		return 0, false
	}
	return pct * loss / raw, true
}

func addScaled(dst []float64, k int, v float64) {
	if dst != nil {
		dst[k] += v
	}
}

func sign(v float64) float64 {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}
