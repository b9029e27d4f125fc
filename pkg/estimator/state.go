package estimator

import (
	"mustard/pkg/model"
)

// State is the lifecycle state of a run. The last five values are terminal
// and double as the reason a run ended.
type State int

const (
	Uninitialized State = iota
	Initialized
	Iterating
	Converged
	MaxIter
	Diverged
	NaN
	Interrupted
)

// String implements fmt.Stringer
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initialized:
		return "initialized"
	case Iterating:
		return "iterating"
	case Converged:
		return "gtol reached"
	case MaxIter:
		return "max iter reached"
	case Diverged:
		return "loss increased after activation, previous iterate returned"
	case NaN:
		return "NaN values end minimization, last finite iterate returned"
	case Interrupted:
		return "interrupted"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s >= Converged
}

// variables are the mutable optimization variables
type variables struct {
	l, x         []float64
	fluxX, fluxL []float64
	halo         model.Halo
}

func (v variables) clone() variables {
	return variables{
		l:     cloneSlice(v.l),
		x:     cloneSlice(v.x),
		fluxX: cloneSlice(v.fluxX),
		fluxL: cloneSlice(v.fluxL),
		halo:  v.halo,
	}
}

// Snapshot is an immutable copy of the variables at one iteration
type Snapshot struct {
	Iteration int
	Loss      float64
	vars      variables
}

func newSnapshot(k int, loss float64, v variables) Snapshot {
	return Snapshot{Iteration: k, Loss: loss, vars: v.clone()}
}

// L returns a copy of the starlight variable
func (s Snapshot) L() []float64 { return cloneSlice(s.vars.l) }

// X returns a copy of the circumstellar variable
func (s Snapshot) X() []float64 { return cloneSlice(s.vars.x) }

// FluxX returns a copy of the flux factors of X
func (s Snapshot) FluxX() []float64 { return cloneSlice(s.vars.fluxX) }

// FluxL returns a copy of the flux factors of L
func (s Snapshot) FluxL() []float64 { return cloneSlice(s.vars.fluxL) }

// Halo returns the halo parameters
func (s Snapshot) Halo() model.Halo { return s.vars.halo }

func cloneSlice(s []float64) []float64 {
	if s == nil {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// solverState is the explicit state threaded through the transitions of
// one run. Only the engine goroutine touches it.
type solverState struct {
	state State
	k     int
	vars  variables
	point []float64 // packed trainable variables

	active  bool
	wr, wr2 float64
	kactiv  int
	kdactiv int
	mink    int

	terms  Terms
	losses []float64
	grad   float64

	last  Snapshot
	final *Snapshot
}

// checkpoint records the current iterate as the last one
func (s *solverState) checkpoint() {
	s.last = newSnapshot(s.k, s.terms.Total, s.vars)
}
