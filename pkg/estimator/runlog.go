package estimator

import (
	"fmt"
	"strings"
	"time"
)

const tableHeader = "  it |      loss     |      R1       |      R2       |     Rpos      |    total"

// header lists the parameters of the run
func (e *Estimator) header(s *solverState) []string {
	m := e.prob.Model
	var ways []string
	if m.Ways().Direct {
		ways = append(ways, "direct")
	}
	if m.Ways().Reverse {
		ways = append(ways, "reverse")
	}
	kactiv := "0 (active from start)"
	if s.kactiv > 0 {
		kactiv = fmt.Sprint(s.kactiv)
	}
	lines := []string{
		fmt.Sprintf("run %s started %s", e.runID, time.Now().Format(time.RFC3339)),
		fmt.Sprintf("cube: %d frames of %dx%d", m.Frames(), m.Size(), m.Size()),
		fmt.Sprintf("model: ways %s, psf %t, estimation mode %s", strings.Join(ways, "+"), m.HasPSF(), e.opts.Mode),
		fmt.Sprintf("regularization: R1 %s (w_r %g), R2 %s (w_r2 %g), percent %t, positivity %t",
			e.prob.R1.Name(), e.opts.WR, e.prob.R2.Name(), e.opts.WR2, e.opts.Percent, e.prob.Positivity),
		fmt.Sprintf("optimization: maxiter %d, gtol %g, kactiv %s, kdactiv %d, inner iterations %d, history %d",
			e.opts.MaxIter, e.opts.Gtol, kactiv, s.kdactiv, e.opts.InnerIterations, e.opts.History),
	}
	if e.opts.Percent && s.active {
		lines = append(lines, fmt.Sprintf("initial weights: w_r = %.2e, w_r2 = %.2e", s.wr, s.wr2))
	}
	return append(lines, "", tableHeader)
}

// traceIteration appends a table row for the current iterate, or note when set
func (e *Estimator) traceIteration(s *solverState, note string) {
	if note != "" {
		e.trace = append(e.trace, fmt.Sprintf("  %2d | %s", s.k, note))
		return
	}
	t := s.terms
	e.trace = append(e.trace, fmt.Sprintf("  %2d | %.6e | %.6e | %.6e | %.6e | %.6e",
		s.k, t.Data, t.R1, t.R2, t.Positivity, t.Total))
}

// footer closes the run log with the ending reason and the timing
func (e *Estimator) footer(r *Result) []string {
	lines := append([]string(nil), e.trace...)
	lines = append(lines, "",
		fmt.Sprintf("ended: %s", r.Reason),
		fmt.Sprintf("iterations: %d, activation at %d", r.Iterations, r.KActiv),
		fmt.Sprintf("final weights: w_r = %.2e, w_r2 = %.2e", r.WR, r.WR2),
		fmt.Sprintf("done in %s", r.Duration.Round(time.Millisecond)),
	)
	if len(r.FluxX) > 0 {
		lines = append(lines, "flux X: "+formatVector(r.FluxX))
	}
	if len(r.FluxL) > 0 {
		lines = append(lines, "flux L: "+formatVector(r.FluxL))
	}
	if r.Halo.Amplitude != 0 {
		lines = append(lines, fmt.Sprintf("halo: amplitude %.4g, std (%.3g, %.3g), theta %.3g",
			r.Halo.Amplitude, r.Halo.XStd, r.Halo.YStd, r.Halo.Theta))
	}
	return lines
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = fmt.Sprintf("%.4f", x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
