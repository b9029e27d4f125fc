package regularization

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"mustard/internal/models"
	"mustard/pkg/masks"
)

const testSize = 11

func uniformData(n int, lo, hi float64, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	d := make([]float64, n)
	for i := range d {
		d[i] = lo + (hi-lo)*rng.Float64()
	}
	return d
}

// PenaltySuite checks the analytic gradient of every penalty against central differences
type PenaltySuite struct {
	suite.Suite
	x, l    []float64
	regMask []float64
	prior   []float64
}

func (s *PenaltySuite) SetupTest() {
	n2 := testSize * testSize
	s.x = uniformData(n2, 0.2, 2, 1)
	s.l = uniformData(n2, 0.2, 2, 2)
	set, err := masks.Build(testSize, 2, masks.Pupil{})
	s.Require().NoError(err)
	s.regMask = set.Regularization.Data
	s.prior = masks.Circle(testSize, 4).Data
	// Soft edge so the normalization is exercised
	s.prior[0] = 0.5
}

func (s *PenaltySuite) checkGradient(p Penalty) {
	n2 := testSize * testSize
	gx := make([]float64, n2)
	gl := make([]float64, n2)
	const scale = 1.7
	p.Eval(s.x, s.l, gx, gl, scale)

	numeric := func(v []float64, k int) float64 {
		const eps = 1e-6
		orig := v[k]
		v[k] = orig + eps
		up := p.Eval(s.x, s.l, nil, nil, 0)
		v[k] = orig - eps
		down := p.Eval(s.x, s.l, nil, nil, 0)
		v[k] = orig
		return scale * (up - down) / (2 * eps)
	}
	for _, k := range []int{0, 5, 27, 60, 61, 93, 120} {
		want := numeric(s.x, k)
		s.InDelta(want, gx[k], 1e-5*math.Max(1, math.Abs(want)), "%s: dX[%d]", p.Name(), k)
		want = numeric(s.l, k)
		s.InDelta(want, gl[k], 1e-5*math.Max(1, math.Abs(want)), "%s: dL[%d]", p.Name(), k)
	}
}

func (s *PenaltySuite) TestR1Modes() {
	for _, mode := range []R1Mode{Smooth, SmoothWithEdges, PeakPreservation, Sparse} {
		r, err := NewR1(mode, testSize, s.regMask)
		s.Require().NoError(err)
		r.LWeight = 0.5
		r.XMax = 1.5
		s.checkGradient(r)
	}
}

func (s *PenaltySuite) TestR2Modes() {
	for _, mode := range []R2Mode{MaskPrior, DistPrior, SparsePrior} {
		for _, target := range []Target{TargetX, TargetL, TargetBoth, TargetTrueBoth} {
			if mode == DistPrior && target == TargetTrueBoth {
				continue
			}
			for _, invert := range []bool{false, true} {
				r, err := NewR2(mode, target, invert, s.prior, s.regMask, testSize)
				s.Require().NoError(err)
				s.checkGradient(r)
			}
		}
	}
}

func TestPenaltySuite(t *testing.T) {
	suite.Run(t, new(PenaltySuite))
}

// TestSmoothIsZeroOnConstantInterior verifies only the zero-padded border of a constant map is penalized
func TestSmoothIsZeroOnConstantInterior(t *testing.T) {
	n := 9
	interior := make([]float64, n*n)
	for y := 1; y < n-1; y++ {
		for x := 1; x < n-1; x++ {
			interior[y*n+x] = 1
		}
	}
	r, err := NewR1(Smooth, n, interior)
	require.NoError(t, err)
	r.OnL = false
	flat := make([]float64, n*n)
	for i := range flat {
		flat[i] = 3
	}
	assert.InDelta(t, 0, r.Eval(flat, nil, nil, nil, 0), 1e-12)

	edges, err := NewR1(SmoothWithEdges, n, interior)
	require.NoError(t, err)
	edges.OnL = false
	edges.Epsilon = 0.1
	assert.InDelta(t, -2*float64(n*n)*0.01, edges.Eval(flat, nil, nil, nil, 0), 1e-12)
}

func TestR1L1Value(t *testing.T) {
	n := 3
	mask := []float64{1, 1, 1, 1, 0, 1, 1, 1, 1}
	r, err := NewR1(Sparse, n, mask)
	require.NoError(t, err)
	r.LWeight = 2
	x := []float64{-1, 2, 0, 0, 100, 0, 0, 0, 1}
	l := []float64{1, 0, 0, 0, 0, 0, 0, 0, 0}
	assert.InDelta(t, 4+2*1, r.Eval(x, l, nil, nil, 0), 1e-12)
	assert.Equal(t, "l1 on X and L", r.Name())
}

func TestMaskPriorValue(t *testing.T) {
	n := 2
	ones := []float64{1, 1, 1, 1}
	prior := []float64{2, 0, 2, 0} // normalized to {1, 0, 1, 0}
	x := []float64{1, 2, 3, 4}
	l := []float64{1, 1, 1, 1}

	onX, err := NewR2(MaskPrior, TargetX, false, prior, ones, n)
	require.NoError(t, err)
	assert.InDelta(t, 1+9, onX.Eval(x, l, nil, nil, 0), 1e-12)

	onL, err := NewR2(MaskPrior, TargetL, false, prior, ones, n)
	require.NoError(t, err)
	assert.InDelta(t, 2, onL.Eval(x, l, nil, nil, 0), 1e-12)

	inverted, err := NewR2(MaskPrior, TargetX, true, prior, ones, n)
	require.NoError(t, err)
	assert.InDelta(t, 4+16, inverted.Eval(x, l, nil, nil, 0), 1e-12)
	assert.Equal(t, "mask on X inverted", inverted.Name())

	// Equal in and out areas give a unit ratio
	both, err := NewR2(MaskPrior, TargetBoth, false, prior, ones, n)
	require.NoError(t, err)
	assert.InDelta(t, 10+2, both.Eval(x, l, nil, nil, 0), 1e-12)

	trueBoth, err := NewR2(MaskPrior, TargetTrueBoth, false, prior, ones, n)
	require.NoError(t, err)
	assert.InDelta(t, 10+2*4, trueBoth.Eval(x, l, nil, nil, 0), 1e-12)
}

func TestSparsePriorSign(t *testing.T) {
	n := 2
	ones := []float64{1, 1, 1, 1}
	x := []float64{1, 1, 1, 1}
	l := []float64{0.5, 0.5, 0.5, 0.5}
	both, err := NewR2(SparsePrior, TargetBoth, false, nil, ones, n)
	require.NoError(t, err)
	assert.InDelta(t, 2, both.Eval(x, l, nil, nil, 0), 1e-12)

	inverted, err := NewR2(SparsePrior, TargetBoth, true, nil, ones, n)
	require.NoError(t, err)
	assert.InDelta(t, -2, inverted.Eval(x, l, nil, nil, 0), 1e-12)
}

func TestR2RejectsBadMask(t *testing.T) {
	ones := []float64{1, 1, 1, 1}
	_, err := NewR2(MaskPrior, TargetX, false, []float64{1, 0, 1}, ones, 2)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, err = NewR2(DistPrior, TargetX, false, nil, ones, 2)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, err = NewR2(MaskPrior, TargetX, false, []float64{0, 0, 0, 0}, ones, 2)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, err = NewR2(SparsePrior, TargetX, false, nil, ones[:3], 2)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestParse(t *testing.T) {
	m, err := ParseR1Mode("Smooth_With_Edges")
	require.NoError(t, err)
	assert.Equal(t, SmoothWithEdges, m)
	_, err = ParseR1Mode("tv")
	assert.ErrorIs(t, err, models.ErrConfiguration)

	m2, err := ParseR2Mode("pdi")
	require.NoError(t, err)
	assert.Equal(t, MaskPrior, m2)
	_, err = ParseR2Mode("gauss")
	assert.ErrorIs(t, err, models.ErrConfiguration)

	for in, want := range map[string]Target{"X": TargetX, "l": TargetL, "B": TargetBoth, "Both": TargetBoth, "TB": TargetTrueBoth, "trueboth": TargetTrueBoth} {
		got, err := ParseTarget(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err = ParseTarget("Y")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestAdaptiveWeight(t *testing.T) {
	w, ok := AdaptiveWeight(0.03, 200, 4)
	assert.True(t, ok)
	assert.InDelta(t, 1.5, w, 1e-12)

	// Recomputing from the same inputs gives the same weight
	w2, _ := AdaptiveWeight(0.03, 200, 4)
	assert.Equal(t, w, w2)

	_, ok = AdaptiveWeight(0.03, 200, 0)
	assert.False(t, ok)
	_, ok = AdaptiveWeight(0.03, 200, -1)
	assert.False(t, ok)

	w, ok = AdaptiveWeight(0, 200, -1)
	assert.True(t, ok)
	assert.Equal(t, 0.0, w)
}

func TestFidelity(t *testing.T) {
	n := 2
	obs := models.NewCube(2, n)
	obs.Frames[0].Data = []float64{1, 1, 1, 1}
	obs.Frames[1].Data = []float64{0, 0, 0, 0}
	mask := []float64{1, 1, 1, 0}

	f, err := NewFidelity(obs, obs, []float64{1, 2}, mask, true)
	require.NoError(t, err)

	grad := make([]float64, 4)
	// Residuals {1, -1, 0, 5}: the last pixel is masked
	l := f.Frame(false, 0, []float64{2, 0, 1, 6}, grad)
	assert.InDelta(t, 2+1, l, 1e-12)
	assert.Equal(t, []float64{4, -2, 0, 0}, grad)

	l = f.Frame(true, 1, []float64{0.5, 0, 0, 0}, grad)
	assert.InDelta(t, 2*0.25*2, l, 1e-12)

	assert.InDelta(t, 2+0.5, f.Data(), 1e-12)
	assert.InDelta(t, 1+0.5, f.Positivity(), 1e-12)

	_, err = NewFidelity(obs, models.NewCube(3, n), nil, mask, false)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
	_, err = NewFidelity(obs, obs, []float64{1}, mask, false)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}
