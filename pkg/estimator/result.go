package estimator

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"mustard/internal/models"
	"mustard/pkg/model"
	"mustard/pkg/rotation"
)

// Result is the outcome of one run
type Result struct {
	// L and X are the rectified maps, rotated back by the angle shift and
	// masked by the coronagraph
	L, X models.Frame
	// RawL and RawX are the optimization variables of the returned iterate
	RawL, RawX models.Frame
	Halo       model.Halo
	// FluxX and FluxL hold the factors of frames 1..N-1
	FluxX, FluxL []float64

	// Losses has one entry per iteration including the initial loss
	Losses []float64
	// Terms are the loss parts of the last evaluation
	Terms      Terms
	KActiv     int
	Reason     State
	WR, WR2    float64
	Iterations int
	Duration   time.Duration
	RunID      string
	// Log is the human readable run log
	Log []string

	model     *model.Model
	cube      models.Cube
	derotated models.Cube
	border    rotation.Border
}

func (e *Estimator) result(s *solverState, elapsed time.Duration) *Result {
	snap := s.last
	reason := s.state
	if s.final != nil && reason != NaN && reason != Interrupted {
		snap = *s.final
		reason = Diverged
	}
	s.state = reason

	size := e.prob.Model.Size()
	coro := e.prob.Model.Masks().Coronagraph.Data
	nice := func(v []float64) models.Frame {
		out := make([]float64, len(v))
		relu(out, v)
		if e.opts.AngleShift != 0 {
			out = rotation.Rotate(out, size, -e.opts.AngleShift)
		}
		for k := range out {
			out[k] *= coro[k]
		}
		return models.Frame{Data: out, Size: size}
	}

	r := &Result{
		L:          nice(snap.vars.l),
		X:          nice(snap.vars.x),
		RawL:       models.Frame{Data: snap.L(), Size: size},
		RawX:       models.Frame{Data: snap.X(), Size: size},
		Halo:       snap.Halo(),
		FluxX:      snap.FluxX(),
		FluxL:      snap.FluxL(),
		Losses:     cloneSlice(s.losses),
		Terms:      s.terms,
		KActiv:     s.kactiv,
		Reason:     reason,
		WR:         s.wr,
		WR2:        s.wr2,
		Iterations: len(s.losses) - 1,
		Duration:   elapsed,
		RunID:      e.runID,
		model:      e.prob.Model,
		cube:       e.prob.Cube,
		derotated:  e.derotated,
		border:     e.opts.Border,
	}
	r.Log = e.footer(r)
	return r
}

func (r *Result) params(withX bool) model.Params {
	p := model.Params{L: r.RawL.Data, FluxX: r.FluxX, FluxL: r.FluxL}
	if r.Halo.Amplitude != 0 {
		p.Static = r.Halo.Render(r.RawL.Size)
	}
	if withX {
		p.X = r.RawX.Data
	} else {
		p.X = make([]float64, len(r.RawX.Data))
	}
	return p
}

// observed returns the observations the given way compares against
func (r *Result) observed(way model.Way) models.Cube {
	if way == model.Reverse {
		return r.derotated
	}
	return r.cube
}

// Reconstruction returns the modeled cube of the given way
func (r *Result) Reconstruction(way model.Way) models.Cube {
	if way == model.Reverse {
		return r.model.Reverse(r.params(true))
	}
	return r.model.Forward(r.params(true))
}

// Residual returns the observations minus the model of the given way
func (r *Result) Residual(way model.Way) models.Cube {
	return subtract(r.observed(way), r.Reconstruction(way))
}

// CubeWithoutSpeckles returns the observations with the starlight model removed
func (r *Result) CubeWithoutSpeckles(way model.Way) models.Cube {
	p := r.params(false)
	var star models.Cube
	if way == model.Reverse {
		star = r.model.Reverse(p)
	} else {
		star = r.model.Forward(p)
	}
	return subtract(r.observed(way), star)
}

// SkyCube returns the circumstellar map as seen in every frame: RawX rotated
// by the frame angle, clipped at zero and scaled by the frame flux
func (r *Result) SkyCube() (models.Cube, error) {
	tiled := models.NewCube(r.model.Frames(), r.RawX.Size)
	for _, f := range tiled.Frames {
		copy(f.Data, r.RawX.Data)
	}
	sky, err := rotation.RotateCube(tiled, r.model.Angles(), r.border)
	if err != nil {
		return models.Cube{}, err
	}
	for i, f := range sky.Frames {
		flux := 1.0
		if i > 0 && len(r.FluxX) >= i {
			flux = r.FluxX[i-1]
		}
		for k, v := range f.Data {
			f.Data[k] = flux * math.Max(v, 0)
		}
	}
	return sky, nil
}

// UncertaintyMap is the per-pixel variance of the derotated direct residual
func (r *Result) UncertaintyMap() (models.Frame, error) {
	res, err := rotation.DerotateCube(r.Residual(model.Direct), r.model.Angles(), r.border)
	if err != nil {
		return models.Frame{}, err
	}
	out := models.NewFrame(res.Size())
	column := make([]float64, res.Len())
	for k := range out.Data {
		for i, f := range res.Frames {
			column[i] = f.Data[k]
		}
		out.Data[k] = stat.PopVariance(column, nil)
	}
	return out, nil
}

// LossRatio returns the regularization and positivity terms of the last
// evaluation as fractions of the data term
func (r *Result) LossRatio() (r1, r2, positivity float64) {
	d := r.Terms.Data
	if d == 0 {
		return 0, 0, 0
	}
	return r.Terms.R1 / d, r.Terms.R2 / d, r.Terms.Positivity / d
}

func subtract(a, b models.Cube) models.Cube {
	out := a.Clone()
	for i := range out.Frames {
		for k, v := range b.Frames[i].Data {
			out.Frames[i].Data[k] -= v
		}
	}
	return out
}

func relu(dst, src []float64) {
	for k, v := range src {
		if v > 0 {
			dst[k] = v
		} else {
			dst[k] = 0
		}
	}
}
