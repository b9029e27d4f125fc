package filters

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"mustard/internal/models"
)

func randomData(n int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	d := make([]float64, n)
	for i := range d {
		d[i] = rng.NormFloat64()
	}
	return d
}

// TestKernelSizes verifies the enumerated sizes are accepted and every other size is rejected
func TestKernelSizes(t *testing.T) {
	for _, size := range []int{3, 5, 7} {
		k, err := Laplacian(size)
		require.NoError(t, err)
		assert.Equal(t, size, k.Size)
		assert.Len(t, k.Data, size*size)
		// A Laplacian has no response to a constant image
		assert.InDelta(t, 0, floats.Sum(k.Data), 1e-12, "laplacian %d", size)
	}
	for _, size := range []int{3, 5} {
		k, err := Gaussian(size)
		require.NoError(t, err)
		assert.Equal(t, size, k.Size)
	}

	for _, size := range []int{0, 1, 2, 4, 9} {
		_, err := Laplacian(size)
		assert.ErrorIs(t, err, models.ErrUnsupportedKernelSize, "laplacian %d", size)
	}
	for _, size := range []int{1, 7} {
		_, err := Gaussian(size)
		assert.ErrorIs(t, err, models.ErrUnsupportedKernelSize, "gaussian %d", size)
	}
}

// TestSobelResponse verifies the derivative kernels respond to ramps along their own axis
func TestSobelResponse(t *testing.T) {
	n := 7
	ramp := make([]float64, n*n)
	for y := 0; y < n; y++ {
		for x := 0; x < n; x++ {
			ramp[y*n+x] = float64(x)
		}
	}
	gy := make([]float64, n*n)
	gx := make([]float64, n*n)
	Correlate(gy, ramp, n, SobelY())
	Correlate(gx, ramp, n, SobelX())

	// Interior pixel: a horizontal ramp only excites the column derivative
	assert.InDelta(t, -8, gy[3*n+3], 1e-12)
	assert.InDelta(t, 0, gx[3*n+3], 1e-12)
}

// TestCorrelateAdjoint verifies <K x, y> == <x, K^T y>
func TestCorrelateAdjoint(t *testing.T) {
	n := 9
	x := randomData(n*n, 1)
	y := randomData(n*n, 2)
	k, err := Laplacian(5)
	require.NoError(t, err)

	kx := make([]float64, n*n)
	Correlate(kx, x, n, k)
	kty := make([]float64, n*n)
	CorrelateAdjoint(kty, y, n, k)

	assert.InDelta(t, floats.Dot(kx, y), floats.Dot(x, kty), 1e-9)
}

// TestPSF verifies a delta PSF is the identity, flux is conserved and the adjoint matches
func TestPSF(t *testing.T) {
	n := 16
	delta := models.NewFrame(3)
	delta.Set(1, 1, 5)
	p, err := NewPSF(delta, n)
	require.NoError(t, err)

	x := randomData(n*n, 3)
	out := make([]float64, n*n)
	p.Apply(out, x)
	for i := range x {
		assert.InDelta(t, x[i], out[i], 1e-9)
	}

	blur := models.Frame{Data: []float64{1, 2, 1, 2, 4, 2, 1, 2, 1}, Size: 3}
	p, err = NewPSF(blur, n)
	require.NoError(t, err)
	p.Apply(out, x)
	assert.InDelta(t, floats.Sum(x), floats.Sum(out), 1e-9)

	y := randomData(n*n, 4)
	aty := make([]float64, n*n)
	p.Adjoint(aty, y)
	assert.InDelta(t, floats.Dot(out, y), floats.Dot(x, aty), 1e-9*math.Max(1, math.Abs(floats.Dot(out, y))))

	_, err = NewPSF(models.NewFrame(17), n)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}
