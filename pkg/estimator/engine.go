// Package estimator runs the regularized minimization that separates an ADI
// cube into a starlight map L and a circumstellar map X.
//
// A run is an explicit state machine. Each outer iteration takes one bounded
// LBFGS step over the trainable variables of the estimation mode. The
// regularization can be switched on at a given iteration (or at the first
// convergence) and off again later. After activation, a loss increase marks
// the previous iterate as the returned estimate. NaN losses and context
// cancellation end the run with the last finite iterate; neither is reported
// as an error.
package estimator

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"mustard/internal/models"
	"mustard/pkg/initguess"
	"mustard/pkg/model"
	"mustard/pkg/regularization"
	"mustard/pkg/rotation"
)

// Options configures one run. Zero values are replaced with defaults:
// MaxIter=10, Gtol=1e-10, InnerIterations=20, History=100.
type Options struct {
	MaxIter int
	Gtol    float64
	// KActiv is the iteration at which regularization is switched on; 0
	// keeps it on from the start
	KActiv int
	// KDActiv is the iteration at which regularization is switched off; 0
	// never switches it off
	KDActiv int
	Mode    Mode

	// WR and WR2 weight R1 and R2. With Percent they are fractions of the
	// data loss and the real weights are computed at activation.
	WR      float64
	WR2     float64
	Percent bool

	InnerIterations int
	History         int

	// AngleShift is the global rotation the caller applied to the angle list
	// at setup; the returned maps are rotated back by it
	AngleShift float64

	// Border is the edge handling of the derotated observations; the zero
	// value wraps
	Border rotation.Border

	Logger  *zap.Logger
	Stepper Stepper
}

func (o Options) withDefaults() Options {
	if o.MaxIter <= 0 {
		o.MaxIter = 10
	}
	if o.Gtol <= 0 {
		o.Gtol = 1e-10
	}
	if o.InnerIterations <= 0 {
		o.InnerIterations = 20
	}
	if o.History <= 0 {
		o.History = 100
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// Problem holds the read-only inputs of a run
type Problem struct {
	Model *model.Model
	// Cube holds the observed frames, already preprocessed
	Cube models.Cube
	// Weights are the per-frame weights of the data term; nil means ones
	Weights []float64
	// R1 and R2 default to no penalty
	R1         regularization.Penalty
	R2         regularization.Penalty
	Positivity bool
}

// Init is the starting point of a run. A missing map is derived from the
// other one; when both are missing max_common is used.
type Init struct {
	L, X models.Frame
	// Halo is the starting halo in ModeHalo; nil estimates it from the cube
	Halo *model.Halo
}

// Estimator owns the derived inputs of a run
type Estimator struct {
	prob      Problem
	opts      Options
	log       *zap.Logger
	derotated models.Cube
	fid       *regularization.Fidelity
	stepper   Stepper
	lay       layout
	runID     string

	obj   *objective
	trace []string
}

// New validates the problem and prepares the derotated observations
func New(p Problem, opts Options) (*Estimator, error) {
	if p.Model == nil {
		return nil, models.NewConfigurationError("model", nil, "required")
	}
	if err := p.Cube.Validate(); err != nil {
		return nil, err
	}
	shape := model.ShapeOf(p.Cube)
	if shape.Frames != p.Model.Frames() || shape.Size != p.Model.Size() {
		return nil, fmt.Errorf("%w: cube of %d frames of size %d for a model of %d frames of size %d",
			models.ErrShapeMismatch, shape.Frames, shape.Size, p.Model.Frames(), p.Model.Size())
	}
	if opts.KActiv < 0 || opts.KDActiv < 0 {
		return nil, models.NewConfigurationError("activation", [2]int{opts.KActiv, opts.KDActiv}, "iterations must not be negative")
	}
	if p.R1 == nil {
		p.R1 = regularization.Off{}
	}
	if p.R2 == nil {
		p.R2 = regularization.Off{}
	}
	opts = opts.withDefaults()

	derot, err := rotation.DerotateCube(p.Cube, p.Model.Angles(), opts.Border)
	if err != nil {
		return nil, err
	}
	fid, err := regularization.NewFidelity(p.Cube, derot, p.Weights, p.Model.Masks().Coronagraph.Data, p.Positivity)
	if err != nil {
		return nil, err
	}

	stepper := opts.Stepper
	if stepper == nil {
		stepper = NewLBFGS(opts.InnerIterations, opts.History)
	}
	runID := uuid.NewString()
	return &Estimator{
		prob:      p,
		opts:      opts,
		log:       opts.Logger.With(zap.String("run", runID)),
		derotated: derot,
		fid:       fid,
		stepper:   stepper,
		lay:       newLayout(opts.Mode, shape.Size, shape.Frames),
		runID:     runID,
	}, nil
}

// RunID identifies the run in logs and outputs
func (e *Estimator) RunID() string { return e.runID }

// Derotated returns the derotated observations used by the reverse way
func (e *Estimator) Derotated() models.Cube { return e.derotated }

// Estimate runs the minimization. Configuration errors are returned before
// the first iteration; every numeric outcome is reported through the result.
func (e *Estimator) Estimate(ctx context.Context, init Init) (*Result, error) {
	start := time.Now()
	s, err := e.initialize(init)
	if err != nil {
		return nil, err
	}
	e.iterate(ctx, s)
	return e.result(s, time.Since(start)), nil
}

// initialize moves a fresh state to Initialized
func (e *Estimator) initialize(init Init) (*solverState, error) {
	m := e.prob.Model
	l0, x0, err := initguess.Complete(e.prob.Cube, m.Angles(), init.L, init.X)
	if err != nil {
		return nil, err
	}

	s := &solverState{
		state:   Uninitialized,
		kactiv:  e.opts.KActiv,
		kdactiv: e.opts.KDActiv,
		mink:    2,
	}
	nf := m.Frames() - 1
	s.vars = variables{
		l:     cloneSlice(l0.Data),
		x:     cloneSlice(x0.Data),
		fluxX: ones(nf),
		fluxL: ones(nf),
	}
	if e.opts.Mode == ModeHalo {
		if init.Halo != nil {
			s.vars.halo = *init.Halo
		} else {
			mean := initguess.PixelMean(e.derotated)
			s.vars.halo = model.EstimateHalo(mean.Data, m.Masks().Coronagraph.Data, m.Size())
		}
	}
	if r1, ok := e.prob.R1.(*regularization.R1); ok && r1.Mode == regularization.PeakPreservation {
		r1.XMax = maxOf(s.vars.x)
	}

	s.point = make([]float64, e.lay.len())
	e.lay.pack(s.point, s.vars)
	e.obj = newObjective(m, e.fid, e.prob.R1, e.prob.R2, e.lay, s.vars)

	s.active = s.kactiv == 0
	if !e.opts.Percent {
		s.wr, s.wr2 = e.opts.WR, e.opts.WR2
	} else if s.active {
		// Weights relative to the unregularized initial data loss
		e.obj.setWeights(false, 0, 0)
		e.evaluate(s)
		var ok bool
		if s.wr, s.wr2, ok = e.adaptiveWeights(s, s.terms.Data); !ok {
			e.log.Warn("cannot compute regularization weights, activation moved to iteration 2")
			s.kactiv = 2
		}
	}
	e.obj.setWeights(s.active, s.wr, s.wr2)
	e.evaluate(s)

	s.losses = []float64{s.terms.Total}
	s.checkpoint()
	s.state = Initialized
	e.trace = e.header(s)
	e.traceIteration(s, "")
	return s, nil
}

// iterate runs the outer loop until a terminal state is reached
func (e *Estimator) iterate(ctx context.Context, s *solverState) {
	if !finite(s.terms.Total) {
		s.state = NaN
		return
	}
	s.state = Iterating
	prev := s.terms.Total

	for s.k = 1; s.k <= e.opts.MaxIter; s.k++ {
		if ctx.Err() != nil {
			s.state = Interrupted
			break
		}

		if s.kactiv > 0 && s.k == s.kactiv {
			s.active = true
			s.mink = s.k + 2
			e.activate(s)
			if !finite(s.terms.Total) {
				s.losses = append(s.losses, s.terms.Total)
				s.state = NaN
				break
			}
			e.record(s)
			prev = s.terms.Total
			continue
		}

		if s.kdactiv > 0 && s.k == s.kdactiv {
			e.deactivate(s)
		}

		e.step(s)
		loss := s.terms.Total
		if !finite(loss) {
			s.losses = append(s.losses, loss)
			s.state = NaN
			break
		}
		if s.kactiv > 0 && s.k > s.kactiv && loss > prev {
			snap := s.last
			s.final = &snap
		}
		e.record(s)
		prev = loss

		if s.k > s.mink && s.grad < e.opts.Gtol {
			if !s.active && s.kactiv > 0 {
				s.active = true
				s.mink = s.k + 2
				s.kactiv = s.k
				e.activate(s)
				if !finite(s.terms.Total) {
					s.losses = append(s.losses, s.terms.Total)
					s.state = NaN
					break
				}
				prev = s.terms.Total
				continue
			}
			s.state = Converged
			if s.k == e.opts.MaxIter {
				s.state = MaxIter
			}
			break
		}
	}
	if s.state == Iterating {
		s.state = MaxIter
	}
	e.log.Info("minimization done",
		zap.Stringer("reason", s.state),
		zap.Int("iterations", len(s.losses)-1),
		zap.Float64("loss", s.terms.Total))
}

// step takes one optimizer step and evaluates the new point
func (e *Estimator) step(s *solverState) {
	next, err := e.stepper.Step(e.obj, s.point)
	if err != nil {
		e.log.Debug("optimizer step", zap.Int("iteration", s.k), zap.Error(err))
	}
	if next != nil {
		copy(s.point, next)
		e.lay.unpack(&s.vars, s.point)
	}
	e.evaluate(s)
}

// evaluate refreshes the loss terms and the gradient norm at the current point
func (e *Estimator) evaluate(s *solverState) {
	e.obj.Func(s.point)
	s.terms = e.obj.terms
	s.grad = e.obj.gradientNorm()
}

// activate switches the regularization on in two phases. The weights are
// first computed against the current state and the optimizer restarted; one
// step is then taken and the weights are computed again.
func (e *Estimator) activate(s *solverState) {
	for _, phase := range []string{"ACTIVATED", "ADJUSTED"} {
		if phase == "ADJUSTED" {
			e.step(s)
		}
		if e.opts.Percent {
			wr, wr2, ok := e.adaptiveWeights(s, s.terms.Total-s.terms.Positivity)
			if !ok {
				e.log.Warn("cannot compute regularization weights", zap.Int("iteration", s.k))
			}
			s.wr, s.wr2 = wr, wr2
		}
		e.obj.setWeights(true, s.wr, s.wr2)
		e.stepper.Reset()
	}
	e.evaluate(s)
	e.log.Info("regularization activated",
		zap.Int("iteration", s.k),
		zap.Float64("w_r", s.wr),
		zap.Float64("w_r2", s.wr2))
	e.traceIteration(s, fmt.Sprintf("ADJUSTED : w_r = %.2e, w_r2 = %.2e", s.wr, s.wr2))
}

// deactivate zeroes the regularization contribution. The optimizer keeps its
// history.
func (e *Estimator) deactivate(s *solverState) {
	s.active = false
	e.obj.setWeights(false, s.wr, s.wr2)
	e.log.Info("regularization deactivated", zap.Int("iteration", s.k))
	e.traceIteration(s, "DEACTIVATED")
}

// adaptiveWeights computes both weights as a fraction of loss. It only reads
// the state, so repeated calls with the same state agree.
func (e *Estimator) adaptiveWeights(s *solverState, loss float64) (wr, wr2 float64, ok bool) {
	r1, r2 := e.obj.raw(s.vars)
	wr, ok1 := regularization.AdaptiveWeight(e.opts.WR, loss, r1)
	wr2, ok2 := regularization.AdaptiveWeight(e.opts.WR2, loss, r2)
	return wr, wr2, ok1 && ok2
}

// record appends the current loss to the trajectory and checkpoints the iterate
func (e *Estimator) record(s *solverState) {
	s.losses = append(s.losses, s.terms.Total)
	s.checkpoint()
	e.traceIteration(s, "")
	e.log.Debug("iteration",
		zap.Int("k", s.k),
		zap.Float64("data", s.terms.Data),
		zap.Float64("r1", s.terms.R1),
		zap.Float64("r2", s.terms.R2),
		zap.Float64("positivity", s.terms.Positivity),
		zap.Float64("loss", s.terms.Total),
		zap.Float64("grad", s.grad))
}

func ones(n int) []float64 {
	if n < 0 {
		n = 0
	}
	v := make([]float64, n)
	for i := range v {
		v[i] = 1
	}
	return v
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
