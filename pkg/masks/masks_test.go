package masks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"

	"mustard/internal/models"
)

// TestCircle verifies the disk is centered on (size/2, size/2)
func TestCircle(t *testing.T) {
	c := Circle(10, 1.5)
	assert.Equal(t, 1.0, c.At(5, 5))
	assert.Equal(t, 1.0, c.At(4, 5))
	assert.Equal(t, 1.0, c.At(6, 6))
	assert.Equal(t, 0.0, c.At(3, 5))
	// 3x3 block minus nothing: corners at distance sqrt(2) < 1.5
	assert.Equal(t, 9.0, floats.Sum(c.Data))
}

// TestParsePupil verifies accepted spellings and rejection of unknown values
func TestParsePupil(t *testing.T) {
	p, err := ParsePupil("edge")
	require.NoError(t, err)
	assert.Equal(t, PupilEdge, p.Kind)

	p, err = ParsePupil("")
	require.NoError(t, err)
	assert.Equal(t, PupilNone, p.Kind)

	p, err = ParsePupil("12.5")
	require.NoError(t, err)
	assert.Equal(t, PupilRadius, p.Kind)
	assert.Equal(t, 12.5, p.Radius)
	assert.Equal(t, "12.5", p.String())

	_, err = ParsePupil("square")
	assert.ErrorIs(t, err, models.ErrConfiguration)
	_, err = ParsePupil("-3")
	assert.ErrorIs(t, err, models.ErrConfiguration)
}

// TestBuild verifies the occulted disk is zero and the regularization mask is narrower
func TestBuild(t *testing.T) {
	set, err := Build(32, 4, Pupil{Kind: PupilEdge})
	require.NoError(t, err)

	assert.Equal(t, 0.0, set.Coronagraph.At(16, 16))
	assert.Equal(t, 1.0, set.Coronagraph.At(16, 24))
	assert.Equal(t, 0.0, set.Coronagraph.At(0, 0))
	// Edge pixel inside the pupil but outside the narrower regularization pupil
	assert.Equal(t, 1.0, set.Coronagraph.At(16, 1))
	assert.Equal(t, 0.0, set.Regularization.At(16, 1))
	assert.Less(t, floats.Sum(set.Regularization.Data), floats.Sum(set.Coronagraph.Data))

	open, err := Build(8, 0, Pupil{})
	require.NoError(t, err)
	assert.Equal(t, 64.0, floats.Sum(open.Coronagraph.Data))

	_, err = Build(8, -1, Pupil{})
	assert.ErrorIs(t, err, models.ErrConfiguration)
}
