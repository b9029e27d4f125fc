// Package reconstruction runs the complete separation of an ADI cube: input
// loading, preprocessing, model and penalty setup, the minimization and the
// output files.
package reconstruction

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"mustard/internal/models"
	"mustard/pkg/config"
	"mustard/pkg/estimator"
	"mustard/pkg/filters"
	"mustard/pkg/initguess"
	"mustard/pkg/masks"
	"mustard/pkg/model"
	"mustard/pkg/regularization"
	"mustard/pkg/report"
	"mustard/pkg/rotation"
	"mustard/pkg/store"
	"mustard/pkg/visualization"
)

// Params holds the inputs of one reconstruction
type Params struct {
	// CubePath is the FITS cube of the ADI sequence
	CubePath string

	// AnglesPath is the FITS vector of parallactic angles in degrees
	AnglesPath string

	// Config holds every other option; nil uses the defaults
	Config *config.Config

	// Logger receives the progress; nil discards it
	Logger *zap.Logger
}

// Reconstructor carries the state of one run between the pipeline stages
type Reconstructor struct {
	params *Params
	cfg    *config.Config
	log    *zap.Logger

	cube   models.Cube
	angles []float64
	psf    *filters.PSF
	prior  []float64
	init   estimator.Init

	set    masks.Set
	model  *model.Model
	result *estimator.Result
	out    *store.Output
}

// NewReconstructor creates a reconstructor for params
func NewReconstructor(params *Params) *Reconstructor {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	logger := params.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconstructor{params: params, cfg: cfg, log: logger}
}

// Process runs the complete pipeline. Cancelling ctx stops the minimization
// at the next iteration; the partial result is still saved.
func (r *Reconstructor) Process(ctx context.Context) error {
	if err := r.cfg.Validate(); err != nil {
		return err
	}
	stages := []struct {
		name string
		run  func(context.Context) error
	}{
		{"load inputs", r.loadInputs},
		{"preprocess", r.preprocess},
		{"build model", r.buildModel},
		{"initial guess", r.initialGuess},
		{"minimize", r.minimize},
		{"save outputs", r.saveOutputs},
	}
	for _, s := range stages {
		r.log.Debug("stage", zap.String("name", s.name))
		if err := s.run(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.name, err)
		}
	}
	return nil
}

// Result returns the result of the last Process call
func (r *Reconstructor) Result() *estimator.Result { return r.result }

// OutputDir returns the output directory of the last Process call
func (r *Reconstructor) OutputDir() string {
	if r.out == nil {
		return ""
	}
	return r.out.Dir()
}

func (r *Reconstructor) loadInputs(context.Context) error {
	var err error
	if r.cube, err = store.ReadCube(r.params.CubePath); err != nil {
		return err
	}
	if r.angles, err = store.ReadVector(r.params.AnglesPath); err != nil {
		return err
	}
	if len(r.angles) != r.cube.Len() {
		return fmt.Errorf("%w: %d angles for %d frames", models.ErrShapeMismatch, len(r.angles), r.cube.Len())
	}
	size := r.cube.Size()
	r.log.Info("cube loaded",
		zap.String("path", r.params.CubePath),
		zap.Int("frames", r.cube.Len()),
		zap.Int("size", size))

	if path := r.cfg.Model.PSF; path != "" {
		f, err := store.ReadFrame(path)
		if err != nil {
			return err
		}
		if r.psf, err = filters.NewPSF(f, size); err != nil {
			return err
		}
	}
	if path := r.cfg.Regularization.Mask; path != "" {
		f, err := store.ReadFrame(path)
		if err != nil {
			return err
		}
		if f.Size != size {
			return models.NewConfigurationError("regularization.mask", f.Size, fmt.Sprintf("must be %dx%d", size, size))
		}
		r.prior = f.Data
	}
	for _, in := range []struct {
		path string
		dst  *models.Frame
	}{
		{r.cfg.Init.L0, &r.init.L},
		{r.cfg.Init.X0, &r.init.X},
	} {
		if in.path == "" {
			continue
		}
		if *in.dst, err = store.ReadFrame(in.path); err != nil {
			return err
		}
	}
	return nil
}

func (r *Reconstructor) preprocess(context.Context) error {
	var err error
	if bad := r.cfg.Preprocess.BadFrames; len(bad) > 0 {
		if r.cube, r.angles, err = estimator.RemoveFrames(r.cube, r.angles, bad); err != nil {
			return err
		}
		r.log.Info("bad frames removed", zap.Ints("frames", bad))
	}
	if shift := r.cfg.Model.AngleShift; shift != 0 {
		for i := range r.angles {
			r.angles[i] -= shift
		}
	}

	pupil, err := masks.ParsePupil(r.cfg.Model.Pupil)
	if err != nil {
		return err
	}
	if r.set, err = masks.Build(r.cube.Size(), r.cfg.Model.CoroRadius, pupil); err != nil {
		return err
	}
	if r.cfg.Preprocess.MedianSubtract {
		r.cube = estimator.MedianSubtract(r.cube, r.set.Coronagraph.Data)
	}
	return nil
}

func (r *Reconstructor) buildModel(context.Context) error {
	ways, err := model.ParseWays(r.cfg.Model.Ways)
	if err != nil {
		return err
	}
	r.model, err = model.New(model.ShapeOf(r.cube), r.angles, r.set, model.Options{
		PSF:       r.psf,
		ConvolveL: r.cfg.Model.ConvolveL,
		Ways:      ways,
		Workers:   r.cfg.Model.Workers,
	})
	return err
}

func (r *Reconstructor) initialGuess(context.Context) error {
	if r.init.L.Data != nil || r.init.X.Data != nil {
		return nil
	}
	mode, err := initguess.ParseMode(r.cfg.Init.Mode)
	if err != nil {
		return err
	}
	if mode == initguess.MaxCommon {
		// the estimator derives it itself
		return nil
	}
	r.init.L, r.init.X, err = initguess.Guess(r.cube, r.angles, initguess.Options{
		Mode:         mode,
		Components:   r.cfg.Init.Components,
		Iterations:   r.cfg.Init.Iterations,
		AnnulusWidth: r.cfg.Init.AnnulusWidth,
	})
	if err == nil {
		r.log.Info("initial guess computed", zap.Stringer("mode", mode))
	}
	return err
}

// penalties builds the configured R1 and R2 terms
func (r *Reconstructor) penalties() (r1, r2 regularization.Penalty, err error) {
	rc := r.cfg.Regularization
	size := r.cube.Size()
	r1, r2 = regularization.Off{}, regularization.Off{}

	if mode, ok, err := r.cfg.R1Mode(); err != nil {
		return nil, nil, err
	} else if ok {
		p, err := regularization.NewR1(mode, size, r.set.Regularization.Data)
		if err != nil {
			return nil, nil, err
		}
		p.OnL = rc.SmoothL
		p.LWeight = rc.PL
		if rc.Epsilon > 0 {
			p.Epsilon = rc.Epsilon
		}
		r1 = p
	}

	if mode, ok, err := r.cfg.R2Mode(); err != nil {
		return nil, nil, err
	} else if ok {
		if mode != regularization.SparsePrior && r.prior == nil {
			return nil, nil, models.NewConfigurationError("regularization.mask", "", "required by R2 "+mode.String())
		}
		target, err := regularization.ParseTarget(rc.Penalize)
		if err != nil {
			return nil, nil, err
		}
		p, err := regularization.NewR2(mode, target, rc.Invert, r.prior, r.set.Regularization.Data, size)
		if err != nil {
			return nil, nil, err
		}
		if rc.PW > 0 {
			p.PW = rc.PW
		}
		r2 = p
	}
	return r1, r2, nil
}

func (r *Reconstructor) minimize(ctx context.Context) error {
	r1, r2, err := r.penalties()
	if err != nil {
		return err
	}
	mode, err := estimator.ParseMode(r.cfg.Optimization.Estimation)
	if err != nil {
		return err
	}
	var weights []float64
	if r.cfg.Model.WeightedRotation {
		weights = model.RotationWeights(r.angles)
	}

	border, err := rotation.ParseBorder(r.cfg.Model.Border)
	if err != nil {
		return err
	}

	oc := r.cfg.Optimization
	est, err := estimator.New(estimator.Problem{
		Model:      r.model,
		Cube:       r.cube,
		Weights:    weights,
		R1:         r1,
		R2:         r2,
		Positivity: r.cfg.Regularization.Positivity,
	}, estimator.Options{
		MaxIter:         oc.MaxIter,
		Gtol:            oc.Gtol,
		KActiv:          oc.KActiv.Resolve(oc.MaxIter),
		KDActiv:         oc.KDActiv.Resolve(oc.MaxIter),
		Mode:            mode,
		WR:              r.cfg.Regularization.WR,
		WR2:             r.cfg.Regularization.WR2,
		Percent:         r.cfg.Regularization.Percent,
		InnerIterations: oc.InnerIterations,
		History:         oc.History,
		AngleShift:      r.cfg.Model.AngleShift,
		Border:          border,
		Logger:          r.log,
	})
	if err != nil {
		return err
	}

	r.log.Info("minimization started", zap.String("run", est.RunID()), zap.Int("maxiter", oc.MaxIter))
	r.result, err = est.Estimate(ctx, r.init)
	if err != nil {
		return err
	}
	r.log.Info("minimization ended",
		zap.Stringer("reason", r.result.Reason),
		zap.Int("iterations", r.result.Iterations),
		zap.Duration("duration", r.result.Duration))
	return nil
}

func (r *Reconstructor) saveOutputs(context.Context) error {
	var err error
	if r.out, err = store.NewOutput(r.cfg.Output.Dir, r.cfg.Output.Suffix); err != nil {
		return err
	}
	if err := r.out.SaveResult(r.result); err != nil {
		return err
	}
	unc, err := r.result.UncertaintyMap()
	if err != nil {
		return err
	}
	if err := store.WriteFrame(r.out.Path("uncertainty", ".fits"), unc); err != nil {
		return err
	}
	if err := store.WriteCube(r.out.Path("model", ".fits"), r.result.Reconstruction(model.Direct)); err != nil {
		return err
	}
	if err := store.WriteCube(r.out.Path("residuals", ".fits"), r.result.Residual(model.Direct)); err != nil {
		return err
	}
	sky, err := r.result.SkyCube()
	if err != nil {
		return err
	}
	if err := store.WriteCube(r.out.Path("sky", ".fits"), sky); err != nil {
		return err
	}

	if r.cfg.Output.Plots {
		if err := r.savePlots(); err != nil {
			return err
		}
	}
	if r.cfg.Output.Previews {
		if err := r.savePreviews(); err != nil {
			return err
		}
	}
	r.log.Info("outputs saved", zap.String("dir", r.out.Dir()))
	return nil
}

func (r *Reconstructor) savePlots() error {
	p, err := report.Convergence(r.result.Losses, r.result.KActiv)
	if err != nil {
		return err
	}
	if err := report.Save(p, r.out.Path("convergence", ".png")); err != nil {
		return err
	}
	if len(r.result.FluxX) == 0 && len(r.result.FluxL) == 0 {
		return nil
	}
	if p, err = report.Flux(r.result.FluxX, r.result.FluxL); err != nil {
		return err
	}
	return report.Save(p, r.out.Path("flux", ".png"))
}

func (r *Reconstructor) savePreviews() error {
	for _, m := range []struct {
		name  string
		frame models.Frame
	}{
		{"L_est", r.result.L},
		{"X_est", r.result.X},
	} {
		v, err := visualization.FrameViewer(m.frame, visualization.Asinh)
		if err != nil {
			return err
		}
		if err := v.SaveFrame(0, r.out.Path(m.name, ".jpg")); err != nil {
			return err
		}
	}
	v, err := visualization.NewViewer(r.result.Residual(model.Direct), visualization.Linear)
	if err != nil {
		return err
	}
	return v.SaveSequence(filepath.Join(r.out.Dir(), "residuals"+r.cfg.Output.Suffix), "residual")
}
