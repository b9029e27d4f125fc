package rotation

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"mustard/internal/models"
)

// gaussianFrame builds a size x size frame holding a unit-peak Gaussian at
// (center+dx, center+dy) with the given sigma
func gaussianFrame(size int, dx, dy, sigma float64) []float64 {
	data := make([]float64, size*size)
	c := float64(size / 2)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			rx := float64(x) - c - dx
			ry := float64(y) - c - dy
			data[y*size+x] = math.Exp(-(rx*rx + ry*ry) / (2 * sigma * sigma))
		}
	}
	return data
}

func randomFrame(size int, seed int64) []float64 {
	rng := rand.New(rand.NewSource(seed))
	data := make([]float64, size*size)
	for i := range data {
		data[i] = rng.Float64()
	}
	return data
}

func maxAbsDiff(a, b []float64) float64 {
	d := 0.0
	for i := range a {
		d = math.Max(d, math.Abs(a[i]-b[i]))
	}
	return d
}

// TestNormalize verifies angles are wrapped into [0, 360)
func TestNormalize(t *testing.T) {
	cases := map[float64]float64{
		0:    0,
		30:   30,
		360:  0,
		-30:  330,
		725:  5,
		-720: 0,
	}
	for in, want := range cases {
		assert.InDelta(t, want, Normalize(in), 1e-12, "angle %v", in)
	}
}

// TestRotateZeroIsIdentity verifies a zero rotation returns the input exactly
func TestRotateZeroIsIdentity(t *testing.T) {
	for _, size := range []int{8, 9, 32, 33} {
		src := randomFrame(size, int64(size))
		assert.Equal(t, src, Rotate(src, size, 0), "size %d", size)
		assert.Equal(t, src, Rotate(src, size, 360), "size %d", size)
	}
}

// TestRotateConservesFlux verifies the total flux is unchanged for angles over the full circle
func TestRotateConservesFlux(t *testing.T) {
	for _, size := range []int{32, 33} {
		src := gaussianFrame(size, 2, -1, 2)
		total := floats.Sum(src)
		for angle := 0.0; angle < 360; angle += 17 {
			rotated := Rotate(src, size, angle)
			assert.InDelta(t, total, floats.Sum(rotated), 1e-9*total,
				"size %d angle %v", size, angle)
		}
	}
}

// TestRotateRoundTrip verifies rotating by θ then -θ returns the original frame
func TestRotateRoundTrip(t *testing.T) {
	angles := []float64{10, 30, 44, 45, 60, 90, 135, 200, 300, 359}
	for _, size := range []int{32, 33} {
		src := gaussianFrame(size, 2, -1, 2)
		for _, angle := range angles {
			back := Rotate(Rotate(src, size, angle), size, -angle)
			assert.Less(t, maxAbsDiff(src, back), 2e-3, "size %d angle %v", size, angle)
		}
	}
}

// TestRotateQuarterTurnIsPermutation verifies 90° turns move pixels without interpolation
func TestRotateQuarterTurnIsPermutation(t *testing.T) {
	size := 9
	src := make([]float64, size*size)
	c := size / 2
	// A single bright pixel one step right of the center
	src[c*size+c+1] = 1

	rotated := Rotate(src, size, 90)

	// Counter-clockwise as displayed: right of center moves above center
	assert.InDelta(t, 1, rotated[(c-1)*size+c], 1e-12)
	assert.InDelta(t, 1, floats.Sum(rotated), 1e-12)
}

// TestRotateSmallAngleMatchesQuarterTurnDirection verifies shears and quarter turns share one sense
func TestRotateSmallAngleMatchesQuarterTurnDirection(t *testing.T) {
	size := 33
	src := gaussianFrame(size, 4, 0, 2)
	quarter := Rotate(src, size, 90)
	viaShears := Rotate(Rotate(Rotate(src, size, 30), size, 30), size, 30)
	assert.Less(t, maxAbsDiff(quarter, viaShears), 5e-3)
}

// TestAdjoint verifies <T x, y> == <x, T^T y> for odd and even sizes
func TestAdjoint(t *testing.T) {
	for _, size := range []int{9, 10} {
		ws := NewWorkspace(size)
		x := randomFrame(size, 1)
		y := randomFrame(size, 2)
		tx := make([]float64, size*size)
		tty := make([]float64, size*size)
		for _, angle := range []float64{12, 60, 135, 250, 330} {
			plan := NewPlan(size, angle)
			plan.Apply(ws, tx, x)
			plan.Adjoint(ws, tty, y)
			lhs := floats.Dot(tx, y)
			rhs := floats.Dot(x, tty)
			assert.InDelta(t, lhs, rhs, 1e-9*math.Abs(lhs), "size %d angle %v", size, angle)
		}
	}
}

// TestDerotateCube verifies cube helpers check the angle count and undo RotateCube
func TestDerotateCube(t *testing.T) {
	size := 33
	cube := models.Cube{Frames: []models.Frame{
		{Data: gaussianFrame(size, 2, 1, 2), Size: size},
		{Data: gaussianFrame(size, -1, 2, 2), Size: size},
	}}
	angles := []float64{20, 75}

	rotated, err := RotateCube(cube, angles, BorderWrap)
	require.NoError(t, err)
	back, err := DerotateCube(rotated, angles, BorderZero)
	require.NoError(t, err)
	for i := range cube.Frames {
		assert.Less(t, maxAbsDiff(cube.Frames[i].Data, back.Frames[i].Data), 2e-3)
	}

	_, err = DerotateCube(cube, []float64{1}, BorderWrap)
	assert.ErrorIs(t, err, models.ErrShapeMismatch)

	_, err = ParseBorder("mirror")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

func TestParseBorder(t *testing.T) {
	tests := []struct {
		in   string
		want Border
	}{
		{"", BorderWrap},
		{"wrap", BorderWrap},
		{"zero", BorderZero},
		{"constant", BorderZero},
	}
	for _, tt := range tests {
		got, err := ParseBorder(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	assert.Equal(t, "zero", BorderZero.String())
	assert.Equal(t, "wrap", BorderWrap.String())
}

func TestRotateCubeZeroBorder(t *testing.T) {
	size := 16
	frame := make([]float64, size*size)
	for k := range frame {
		frame[k] = 1
	}
	cube := models.Cube{Frames: []models.Frame{{Data: frame, Size: size}}}

	zero, err := RotateCube(cube, []float64{30}, BorderZero)
	require.NoError(t, err)
	wrap, err := RotateCube(cube, []float64{30}, BorderWrap)
	require.NoError(t, err)
	assert.Zero(t, zero.Frames[0].Data[0])
	assert.NotZero(t, wrap.Frames[0].Data[0])
	c := size/2*size + size/2
	assert.Equal(t, wrap.Frames[0].Data[c], zero.Frames[0].Data[c])
}
