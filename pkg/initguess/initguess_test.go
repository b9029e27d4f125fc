package initguess

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"mustard/internal/models"
	"mustard/pkg/rotation"
)

const size = 32

var angles = []float64{0, 30, 60, 90}

func blob(cx, cy, sigma, amp float64) models.Frame {
	f := models.NewFrame(size)
	c := float64(size / 2)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c-cx, float64(y)-c-cy
			f.Data[y*size+x] = amp * math.Exp(-(dx*dx+dy*dy)/(2*sigma*sigma))
		}
	}
	return f
}

// syntheticCube returns L scaled per frame plus X rotated by each angle
func syntheticCube(l, x models.Frame, flux []float64) models.Cube {
	cube := models.NewCube(len(angles), size)
	for i, a := range angles {
		rx := rotation.Rotate(x.Data, size, a)
		for k := range cube.Frames[i].Data {
			cube.Frames[i].Data[k] = flux[i]*l.Data[k] + rx[k]
		}
	}
	return cube
}

func nrms(est, truth []float64) float64 {
	diff := make([]float64, len(est))
	floats.SubTo(diff, est, truth)
	return floats.Norm(diff, 2) / floats.Norm(truth, 2)
}

func argmax(f models.Frame) (int, int) {
	k := floats.MaxIdx(f.Data)
	return k % f.Size, k / f.Size
}

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": MaxCommon, "max_common": MaxCommon, "PCA": PCA, "pcait": PCAIt, "pca_annular": PCAAnnular} {
		got, err := ParseMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseMode("nmf")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestMaxCommon(t *testing.T) {
	lTrue := blob(-5, -5, 1.5, 1)
	xTrue := blob(6, 0, 1.5, 1)
	cube := syntheticCube(lTrue, xTrue, []float64{1, 1, 1, 1})

	l, x, err := Guess(cube, angles, Options{})
	require.NoError(t, err)
	assert.Less(t, nrms(x.Data, xTrue.Data), 0.1)
	assert.Less(t, nrms(l.Data, lTrue.Data), 0.1)
	assert.GreaterOrEqual(t, floats.Min(x.Data), 0.0)
	assert.GreaterOrEqual(t, floats.Min(l.Data), 0.0)
}

func TestComplete(t *testing.T) {
	lTrue := blob(-5, -5, 1.5, 1)
	xTrue := blob(6, 0, 1.5, 1)
	cube := syntheticCube(lTrue, xTrue, []float64{1, 1, 1, 1})

	l, x, err := Complete(cube, angles, models.Frame{}, xTrue)
	require.NoError(t, err)
	assert.Equal(t, xTrue.Data, x.Data)
	assert.Less(t, nrms(l.Data, lTrue.Data), 0.05)

	l, x, err = Complete(cube, angles, lTrue, models.Frame{})
	require.NoError(t, err)
	assert.Equal(t, lTrue.Data, l.Data)
	assert.Less(t, nrms(x.Data, xTrue.Data), 0.1)

	_, _, err = Complete(cube, angles, models.NewFrame(8), models.Frame{})
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

// TestPCAModes verifies every PCA flavor locates the rotating source
func TestPCAModes(t *testing.T) {
	lTrue := blob(-5, -5, 1.5, 10)
	xTrue := blob(6, 0, 1.5, 1)
	cube := syntheticCube(lTrue, xTrue, []float64{1, 1.3, 0.8, 1.1})
	wantX, wantY := argmax(xTrue)

	for _, mode := range []Mode{PCA, PCAIt, PCAAnnular} {
		l, x, err := Guess(cube, angles, Options{Mode: mode, Components: 1})
		require.NoError(t, err, mode.String())
		require.Len(t, x.Data, size*size)
		require.Len(t, l.Data, size*size)

		gx, gy := argmax(x)
		assert.InDelta(t, wantX, gx, 1, mode.String())
		assert.InDelta(t, wantY, gy, 1, mode.String())
		assert.GreaterOrEqual(t, floats.Min(x.Data), 0.0, mode.String())
	}
}

func TestGuessRejectsAngleMismatch(t *testing.T) {
	cube := models.NewCube(3, 8)
	_, _, err := Guess(cube, []float64{0, 1}, Options{})
	assert.ErrorIs(t, err, models.ErrShapeMismatch)
}

func TestPixelStatistics(t *testing.T) {
	cube := models.NewCube(4, 1)
	for i, v := range []float64{4, 1, 3, 2} {
		cube.Frames[i].Data[0] = v
	}
	assert.Equal(t, 2.5, PixelMedian(cube).Data[0])
	assert.Equal(t, 2.5, PixelMean(cube).Data[0])
}
