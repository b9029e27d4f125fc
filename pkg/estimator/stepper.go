package estimator

import (
	"errors"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

// Stepper advances the parameters by one bounded quasi-Newton step
type Stepper interface {
	// Reset discards the curvature history, as when the optimizer is
	// re-instantiated with a new objective
	Reset()
	// Step minimizes obj starting from x and returns the new point. A nil
	// point means the step could not be taken.
	Step(obj Objective, x []float64) ([]float64, error)
}

var errNonFinite = errors.New("estimator: non-finite loss or gradient at the step start")

// LBFGS runs a fixed number of limited-memory BFGS iterations per step. The
// curvature pairs carry over from one step to the next until Reset.
type LBFGS struct {
	// Iterations bounds the inner iterations of one step
	Iterations int
	// Store is the number of curvature pairs kept
	Store int

	history *curvature
}

// NewLBFGS returns an LBFGS stepper. Zero values select 20 inner iterations
// and a history of 100 pairs.
func NewLBFGS(iterations, store int) *LBFGS {
	if iterations <= 0 {
		iterations = 20
	}
	if store <= 0 {
		store = 100
	}
	return &LBFGS{Iterations: iterations, Store: store, history: &curvature{store: store}}
}

// Reset implements Stepper
func (s *LBFGS) Reset() {
	s.history.reset()
}

// Pairs returns the number of curvature pairs currently stored
func (s *LBFGS) Pairs() int { return len(s.history.s) }

// Step implements Stepper. It drives a gonum line search method whose search
// directions come from the persistent history and returns the best point
// visited.
func (s *LBFGS) Step(obj Objective, x []float64) ([]float64, error) {
	loc := &optimize.Location{X: cloneSlice(x), Gradient: make([]float64, len(x))}
	loc.F = obj.Func(loc.X)
	obj.Grad(loc.Gradient, loc.X)
	if !finite(loc.F) || !allFinite(loc.Gradient) {
		return nil, errNonFinite
	}
	best, bestF := cloneSlice(loc.X), loc.F

	ls := &optimize.LinesearchMethod{
		NextDirectioner: s.history,
		Linesearcher:    &optimize.Bisection{},
	}
	op, err := ls.Init(loc)
	budget := 20 * s.Iterations
	for major := 0; err == nil; {
		switch {
		case op == optimize.MajorIteration:
			major++
			if loc.F < bestF {
				copy(best, loc.X)
				bestF = loc.F
			}
			if major >= s.Iterations {
				return best, nil
			}
		case op&(optimize.FuncEvaluation|optimize.GradEvaluation) != 0:
			if budget == 0 {
				return best, nil
			}
			budget--
			if op&optimize.FuncEvaluation != 0 {
				loc.F = obj.Func(loc.X)
			}
			if op&optimize.GradEvaluation != 0 {
				obj.Grad(loc.Gradient, loc.X)
			}
		default:
			return best, nil
		}
		op, err = ls.Iterate(loc)
	}
	if errors.Is(err, optimize.ErrNoProgress) {
		err = nil
	}
	return best, err
}

// curvature holds the (s, y) pairs of the L-BFGS inverse Hessian
// approximation, oldest first. It implements optimize.NextDirectioner.
type curvature struct {
	store int

	s, y  [][]float64
	rho   []float64
	alpha []float64

	// location of the last accepted iterate
	x, grad []float64
}

func (c *curvature) reset() {
	c.s, c.y, c.rho = c.s[:0], c.y[:0], c.rho[:0]
	c.x, c.grad = nil, nil
}

// InitDirection starts the first line search of a step. Pairs from earlier
// steps are kept.
func (c *curvature) InitDirection(loc *optimize.Location, dir []float64) float64 {
	if c.x == nil || len(c.x) != len(loc.X) {
		c.reset()
		c.remember(loc)
		return steepest(loc.Gradient, dir)
	}
	return c.NextDirection(loc, dir)
}

// NextDirection records the pair from the previous iterate and applies the
// two-loop recursion.
func (c *curvature) NextDirection(loc *optimize.Location, dir []float64) float64 {
	n := len(loc.X)
	sk := make([]float64, n)
	yk := make([]float64, n)
	floats.SubTo(sk, loc.X, c.x)
	floats.SubTo(yk, loc.Gradient, c.grad)
	// pairs without positive curvature would break the positive definiteness
	if sy := floats.Dot(sk, yk); sy > 1e-10 {
		if len(c.s) == c.store {
			c.s, c.y, c.rho = c.s[1:], c.y[1:], c.rho[1:]
		}
		c.s = append(c.s, sk)
		c.y = append(c.y, yk)
		c.rho = append(c.rho, 1/sy)
	}
	c.remember(loc)

	m := len(c.s)
	if m == 0 {
		return steepest(loc.Gradient, dir)
	}
	if cap(c.alpha) < m {
		c.alpha = make([]float64, m)
	}
	c.alpha = c.alpha[:m]

	copy(dir, loc.Gradient)
	for i := m - 1; i >= 0; i-- {
		c.alpha[i] = c.rho[i] * floats.Dot(c.s[i], dir)
		floats.AddScaled(dir, -c.alpha[i], c.y[i])
	}
	last := c.y[m-1]
	floats.Scale(1/(c.rho[m-1]*floats.Dot(last, last)), dir)
	for i := 0; i < m; i++ {
		beta := c.rho[i] * floats.Dot(c.y[i], dir)
		floats.AddScaled(dir, c.alpha[i]-beta, c.s[i])
	}
	floats.Scale(-1, dir)
	return 1
}

func (c *curvature) remember(loc *optimize.Location) {
	c.x = append(c.x[:0], loc.X...)
	c.grad = append(c.grad[:0], loc.Gradient...)
}

// steepest sets dir to the negative gradient and returns a unit first step
func steepest(grad, dir []float64) float64 {
	copy(dir, grad)
	floats.Scale(-1, dir)
	norm := floats.Norm(dir, 2)
	if norm == 0 {
		return 1
	}
	return 1 / norm
}

func allFinite(v []float64) bool {
	for _, x := range v {
		if !finite(x) {
			return false
		}
	}
	return true
}
