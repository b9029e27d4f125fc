package regularization

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"

	"mustard/internal/models"
)

// R2Mode selects the shape of the prior regularization
type R2Mode int

const (
	// MaskPrior penalizes X inside the prior mask and L outside of it
	MaskPrior R2Mode = iota
	// DistPrior penalizes the squared distance between the mask and a map
	DistPrior
	// SparsePrior is the l1 norm of the maps, without any mask
	SparsePrior
)

// String implements fmt.Stringer
func (m R2Mode) String() string {
	switch m {
	case MaskPrior:
		return "mask"
	case DistPrior:
		return "dist"
	case SparsePrior:
		return "l1"
	}
	return fmt.Sprintf("R2Mode(%d)", int(m))
}

// ParseR2Mode accepts mask, pdi (an alias of mask), dist and l1
func ParseR2Mode(s string) (R2Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mask", "pdi":
		return MaskPrior, nil
	case "dist":
		return DistPrior, nil
	case "l1":
		return SparsePrior, nil
	}
	return MaskPrior, models.NewConfigurationError("R2 mode", s, "expected mask, pdi, dist or l1")
}

// Target selects which map the prior penalizes
type Target int

const (
	TargetX Target = iota
	TargetL
	TargetBoth
	TargetTrueBoth
)

// String implements fmt.Stringer
func (t Target) String() string {
	switch t {
	case TargetX:
		return "X"
	case TargetL:
		return "L"
	case TargetBoth:
		return "Both"
	case TargetTrueBoth:
		return "TrueBoth"
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// ParseTarget accepts X, L, B/Both and TB/TrueBoth in any case
func ParseTarget(s string) (Target, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "x":
		return TargetX, nil
	case "l":
		return TargetL, nil
	case "b", "both":
		return TargetBoth, nil
	case "tb", "trueboth":
		return TargetTrueBoth, nil
	}
	return TargetX, models.NewConfigurationError("penalize", s, "expected X, L, Both or TrueBoth")
}

// R2 is the prior regularization
type R2 struct {
	Mode   R2Mode
	Target Target
	Invert bool
	// PW is the relative weight of L in the TrueBoth combination
	PW float64

	mask    []float64 // normalized, inverted when requested (mask mode)
	regMask []float64
	ratio   float64 // (sum M)^2 / (sum 1-M)^2
}

// NewR2 validates the prior configuration. The prior mask is required by the
// mask and dist modes and must have the size of the frames; regMask is the
// regularization mask of the run.
func NewR2(mode R2Mode, target Target, invert bool, prior []float64, regMask []float64, size int) (*R2, error) {
	if len(regMask) != size*size {
		return nil, fmt.Errorf("%w: regularization mask has %d pixels for frames of size %d", models.ErrShapeMismatch, len(regMask), size)
	}
	r := &R2{Mode: mode, Target: target, Invert: invert, PW: 2, regMask: regMask}
	if mode == SparsePrior {
		return r, nil
	}
	if len(prior) != size*size {
		return nil, models.NewConfigurationError("prior mask", len(prior), fmt.Sprintf("must have %d pixels", size*size))
	}
	if mode == DistPrior && target == TargetTrueBoth {
		return nil, models.NewConfigurationError("penalize", target, "TrueBoth is not defined for dist")
	}
	r.mask = make([]float64, len(prior))
	copy(r.mask, prior)
	if mode == MaskPrior {
		peak := floats.Max(r.mask)
		if peak <= 0 {
			return nil, models.NewConfigurationError("prior mask", peak, "maximum must be positive")
		}
		floats.Scale(1/peak, r.mask)
		if invert {
			for k, v := range r.mask {
				r.mask[k] = 1 - v
			}
		}
		in := floats.Sum(r.mask)
		out := float64(len(r.mask)) - in
		if out > 0 {
			r.ratio = in * in / (out * out)
		}
	}
	return r, nil
}

// Mask returns the effective prior mask
func (r *R2) Mask() []float64 { return r.mask }

// Name implements Penalty
func (r *R2) Name() string {
	s := r.Mode.String() + " on " + r.Target.String()
	if r.Invert {
		s += " inverted"
	}
	return s
}

// Eval implements Penalty
func (r *R2) Eval(x, l, gx, gl []float64, scale float64) float64 {
	switch r.Mode {
	case DistPrior:
		return r.dist(x, l, gx, gl, scale)
	case SparsePrior:
		return r.sparse(x, l, gx, gl, scale)
	default:
		return r.masked(x, l, gx, gl, scale)
	}
}

func (r *R2) masked(x, l, gx, gl []float64, scale float64) float64 {
	m, rm := r.mask, r.regMask
	onX := func(s float64) float64 {
		v := 0.0
		for k := range x {
			p := m[k] * x[k]
			v += rm[k] * p * p
			addScaled(gx, k, s*2*rm[k]*m[k]*p)
		}
		return v
	}
	onL := func(s float64) float64 {
		v := 0.0
		for k := range l {
			p := (1 - m[k]) * l[k]
			v += rm[k] * p * p
			addScaled(gl, k, s*2*rm[k]*(1-m[k])*p)
		}
		return v
	}

	switch r.Target {
	case TargetL:
		return onL(scale)
	case TargetBoth:
		return onX(scale) + r.ratio*onL(scale*r.ratio)
	case TargetTrueBoth:
		v := 0.0
		for k := range x {
			p := m[k] * x[k]
			q := rm[k] * l[k]
			v += p*p + r.PW*q*q
			addScaled(gx, k, scale*2*m[k]*p)
			addScaled(gl, k, scale*2*r.PW*rm[k]*q)
		}
		return v
	default:
		return onX(scale)
	}
}

func (r *R2) dist(x, l, gx, gl []float64, scale float64) float64 {
	m, rm := r.mask, r.regMask
	term := func(img, g []float64, s float64) float64 {
		v := 0.0
		for k := range img {
			d := m[k] - img[k]
			v += rm[k] * d * d
			addScaled(g, k, -s*2*rm[k]*d)
		}
		return v
	}
	switch r.Target {
	case TargetL:
		return term(l, gl, scale)
	case TargetBoth:
		sg := r.sign()
		return sg * (term(x, gx, sg*scale) - term(l, gl, -sg*scale))
	default:
		return term(x, gx, scale)
	}
}

func (r *R2) sparse(x, l, gx, gl []float64, scale float64) float64 {
	term := func(img, g []float64, s float64) float64 {
		v := 0.0
		for k, p := range img {
			if p < 0 {
				v -= p
			} else {
				v += p
			}
			addScaled(g, k, s*sign(p))
		}
		return v
	}
	sg := r.sign()
	switch r.Target {
	case TargetL:
		return term(l, gl, scale)
	case TargetBoth:
		return sg * (term(x, gx, sg*scale) - term(l, gl, -sg*scale))
	case TargetTrueBoth:
		return sg * (term(x, gx, sg*scale) + r.PW*term(l, gl, sg*r.PW*scale))
	default:
		return term(x, gx, scale)
	}
}

func (r *R2) sign() float64 {
	if r.Invert {
		return -1
	}
	return 1
}
