package estimator

import (
	"math"

	"mustard/pkg/model"
	"mustard/pkg/regularization"
)

// Terms are the parts of one loss evaluation. R1 and R2 are weighted and are
// zero while regularization is inactive.
type Terms struct {
	Data       float64
	Positivity float64
	R1         float64
	R2         float64
	RawR1      float64
	RawR2      float64
	Total      float64
}

// Objective is the function minimized by a Stepper
type Objective interface {
	Func(x []float64) float64
	Grad(grad, x []float64)
}

// objective evaluates the loss and its gradient for a packed parameter
// vector. The last evaluation is cached because line searches ask for the
// value and the gradient of the same point separately.
type objective struct {
	model *model.Model
	fid   *regularization.Fidelity
	r1    regularization.Penalty
	r2    regularization.Penalty
	lay   layout
	size  int

	work    variables
	active  bool
	wr, wr2 float64

	grad  *model.Gradient
	evals int

	cached bool
	lastX  []float64
	lastG  []float64
	terms  Terms
}

func newObjective(m *model.Model, fid *regularization.Fidelity, r1, r2 regularization.Penalty, lay layout, v variables) *objective {
	return &objective{
		model: m,
		fid:   fid,
		r1:    r1,
		r2:    r2,
		lay:   lay,
		size:  m.Size(),
		work:  v.clone(),
		grad:  model.NewGradient(m.Size(), m.Frames()),
		lastX: make([]float64, lay.len()),
		lastG: make([]float64, lay.len()),
	}
}

// setWeights changes the regularization contribution and drops the cache
func (o *objective) setWeights(active bool, wr, wr2 float64) {
	o.active, o.wr, o.wr2 = active, wr, wr2
	o.cached = false
}

// Func implements Objective
func (o *objective) Func(x []float64) float64 {
	o.eval(x)
	return o.terms.Total
}

// Grad implements Objective
func (o *objective) Grad(grad, x []float64) {
	o.eval(x)
	copy(grad, o.lastG)
}

func (o *objective) eval(x []float64) {
	if o.cached && equal(o.lastX, x) {
		return
	}
	copy(o.lastX, x)
	o.cached = true
	o.evals++
	o.lay.unpack(&o.work, x)
	o.terms = o.compute(o.work, o.lastG)
}

// compute evaluates v and, when packed is non-nil, writes the packed gradient
func (o *objective) compute(v variables, packed []float64) Terms {
	var static []float64
	if o.lay.halo {
		static = v.halo.Render(o.size)
	}
	p := model.Params{L: v.l, X: v.x, FluxX: v.fluxX, FluxL: v.fluxL, Static: static}
	g := o.grad
	o.model.Evaluate(p, o.frameLoss, g)

	t := Terms{Data: o.fid.Data(), Positivity: o.fid.Positivity()}
	if o.active && o.wr != 0 {
		lh := withStatic(v.l, static)
		glh := make([]float64, len(lh))
		t.RawR1 = o.r1.Eval(v.x, lh, g.X, glh, o.wr)
		t.R1 = o.wr * t.RawR1
		for k, d := range glh {
			g.L[k] += d
			g.Static[k] += d
		}
	}
	if o.active && o.wr2 != 0 {
		t.RawR2 = o.r2.Eval(v.x, v.l, g.X, g.L, o.wr2)
		t.R2 = o.wr2 * t.RawR2
	}
	t.Total = t.Data + t.Positivity + t.R1 + t.R2

	if packed != nil {
		var dh [4]float64
		if o.lay.halo {
			dh = v.halo.Gradient(o.size, g.Static)
		}
		o.lay.packGradient(packed, g, dh)
	}
	return t
}

// raw returns the unweighted penalties of v
func (o *objective) raw(v variables) (r1, r2 float64) {
	var static []float64
	if o.lay.halo {
		static = v.halo.Render(o.size)
	}
	r1 = o.r1.Eval(v.x, withStatic(v.l, static), nil, nil, 0)
	r2 = o.r2.Eval(v.x, v.l, nil, nil, 0)
	return r1, r2
}

func (o *objective) frameLoss(way model.Way, i int, modeled, grad []float64) float64 {
	return o.fid.Frame(way == model.Reverse, i, modeled, grad)
}

// gradientNorm is the mean absolute gradient of X, or of L when X is fixed
func (o *objective) gradientNorm() float64 {
	g := o.lastG
	off := 0
	if o.lay.x && o.lay.l {
		off = o.lay.n2
	}
	sum := 0.0
	for _, v := range g[off : off+o.lay.n2] {
		sum += math.Abs(v)
	}
	return sum / float64(o.lay.n2)
}

func withStatic(l, static []float64) []float64 {
	if static == nil {
		return l
	}
	out := make([]float64, len(l))
	for k := range l {
		out[k] = l[k] + static[k]
	}
	return out
}

func equal(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
