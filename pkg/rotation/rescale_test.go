package rotation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"mustard/internal/models"
)

// TestRescaleGrid verifies the chosen padding yields an exact grid ratio when one exists
func TestRescaleGrid(t *testing.T) {
	tests := []struct {
		n      int
		scale  float64
		pad, m int
	}{
		{32, 2, 0, 64},
		{32, 0.5, 0, 16},
		{32, 1.5, 0, 48},
		{48, 1 / 1.5, 0, 32},
		{15, 2, 0, 30},
		{15, 0.5, 1, 8},
		{15, 1.5, 1, 24},
		{33, 0.5, 1, 17},
	}
	for _, tt := range tests {
		pad, m := rescaleGrid(tt.n, tt.scale)
		assert.Equal(t, tt.pad, pad, "n=%d scale=%v", tt.n, tt.scale)
		assert.Equal(t, tt.m, m, "n=%d scale=%v", tt.n, tt.scale)
	}
}

func TestScaledSize(t *testing.T) {
	assert.Equal(t, 64, ScaledSize(32, 2))
	assert.Equal(t, 16, ScaledSize(32, 0.5))
	assert.Equal(t, 48, ScaledSize(32, 1.5))
	assert.Equal(t, 33, ScaledSize(33, 1))
	assert.Equal(t, 8, ScaledSize(15, 0.5))
	assert.Equal(t, 23, ScaledSize(15, 1.5))
	assert.Equal(t, 1, ScaledSize(3, 0.01))
}

// TestRescaleRoundTrip verifies scaling by s then 1/s restores size and content
// for both parities
func TestRescaleRoundTrip(t *testing.T) {
	for _, size := range []int{15, 31, 32, 33} {
		src := gaussianFrame(size, 0, 0, float64(size)/10)
		for _, s := range []float64{0.5, 1.5, 2.0} {
			r, err := NewResampler(size, s)
			require.NoError(t, err)
			scaled, err := r.Apply(src)
			require.NoError(t, err)
			require.Len(t, scaled, r.ScaledSize()*r.ScaledSize())

			back, err := r.Invert(scaled)
			require.NoError(t, err)
			require.Len(t, back, size*size, "size %d scale %v", size, s)
			if size == 15 && s < 1 {
				// 8 pixels cannot carry a blob of sigma 1.5 without losing frequencies
				assert.Less(t, maxAbsDiff(src, back), 0.1)
				continue
			}
			assert.Less(t, maxAbsDiff(src, back), 1e-4, "size %d scale %v", size, s)
		}
	}
}

// TestRescaleUpThenDown verifies the plain function restores odd sizes when
// enlarging first
func TestRescaleUpThenDown(t *testing.T) {
	for _, size := range []int{15, 31, 33} {
		src := gaussianFrame(size, 0, 0, float64(size)/10)
		for _, s := range []float64{1.5, 2.0} {
			scaled, n1, err := Rescale(src, size, s, false)
			require.NoError(t, err)
			back, n2, err := Rescale(scaled, n1, 1/s, false)
			require.NoError(t, err)
			require.Equal(t, size, n2, "size %d scale %v", size, s)
			assert.Less(t, maxAbsDiff(src, back), 1e-4, "size %d scale %v", size, s)
		}
	}
}

// TestRescaleKeepsCenter verifies the center pixel stays the peak after rescaling
func TestRescaleKeepsCenter(t *testing.T) {
	for _, size := range []int{15, 16} {
		src := gaussianFrame(size, 0, 0, 2)
		scaled, n, err := Rescale(src, size, 2, false)
		require.NoError(t, err)
		assert.Equal(t, (n/2)*n+n/2, floats.MaxIdx(scaled), "size %d", size)
	}
}

// TestRescaleConservesFlux verifies the resampled grid carries the same total flux
func TestRescaleConservesFlux(t *testing.T) {
	size := 32
	src := gaussianFrame(size, 1, -2, 3)
	total := floats.Sum(src)
	for _, s := range []float64{0.5, 1.5, 2.0} {
		scaled, _, err := Rescale(src, size, s, false)
		require.NoError(t, err)
		assert.InDelta(t, total, floats.Sum(scaled), 1e-6*total, "scale %v", s)
	}
}

// TestRescaleKeepSize verifies keepSize crops or pads back to the input size
func TestRescaleKeepSize(t *testing.T) {
	frame := models.Frame{Data: gaussianFrame(32, 0, 0, 2), Size: 32}
	for _, s := range []float64{0.5, 2} {
		out, err := RescaleFrame(frame, s, true)
		require.NoError(t, err)
		assert.Equal(t, 32, out.Size)
		assert.Len(t, out.Data, 32*32)
	}
}

// TestRescaleRejectsInvalidScale verifies non-positive scales are configuration errors
func TestRescaleRejectsInvalidScale(t *testing.T) {
	_, _, err := Rescale(make([]float64, 16), 4, 0, true)
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, _, err = Rescale(make([]float64, 15), 4, 1, true)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}
