// Package masks rasterizes the coronagraph, pupil and regularization masks.
package masks

import (
	"fmt"
	"strconv"
	"strings"

	"mustard/internal/models"
)

// DefaultCoronagraphRadius is the occulted disk radius in pixels when none is configured
const DefaultCoronagraphRadius = 6

// Circle returns a size x size frame equal to 1 strictly inside the disk of the
// given radius centered on pixel (size/2, size/2) and 0 elsewhere
func Circle(size int, radius float64) models.Frame {
	f := models.NewFrame(size)
	c := float64(size / 2)
	r2 := radius * radius
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			dx, dy := float64(x)-c, float64(y)-c
			if dx*dx+dy*dy < r2 {
				f.Data[y*size+x] = 1
			}
		}
	}
	return f
}

// Ones returns a size x size frame of ones
func Ones(size int) models.Frame {
	f := models.NewFrame(size)
	for i := range f.Data {
		f.Data[i] = 1
	}
	return f
}

// PupilKind selects the pupil geometry
type PupilKind int

const (
	// PupilNone keeps every pixel
	PupilNone PupilKind = iota
	// PupilEdge uses the disk inscribed in the frame
	PupilEdge
	// PupilRadius uses a disk of an explicit radius
	PupilRadius
)

// Pupil describes the optical aperture projection
type Pupil struct {
	Kind   PupilKind
	Radius float64
}

// ParsePupil accepts "edge", "none" (or "") and a numeric radius
func ParsePupil(s string) (Pupil, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return Pupil{Kind: PupilNone}, nil
	case "edge":
		return Pupil{Kind: PupilEdge}, nil
	}
	r, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || r <= 0 {
		return Pupil{}, models.NewConfigurationError("pupil", s, "expected edge, none or a positive radius")
	}
	return Pupil{Kind: PupilRadius, Radius: r}, nil
}

// String implements fmt.Stringer
func (p Pupil) String() string {
	switch p.Kind {
	case PupilEdge:
		return "edge"
	case PupilRadius:
		return strconv.FormatFloat(p.Radius, 'g', -1, 64)
	default:
		return "none"
	}
}

// Set holds the masks of one run. They are computed once and never mutated.
type Set struct {
	// Coronagraph is zero inside the occulted disk and outside the pupil
	Coronagraph models.Frame
	// Regularization is the narrower mask used inside penalty terms
	Regularization models.Frame
	// Pupil is the aperture mask
	Pupil models.Frame
}

// Build rasterizes the masks for frames of the given size. A coronagraph radius
// of zero disables the occulting disk.
func Build(size int, coroRadius float64, pupil Pupil) (Set, error) {
	if size <= 0 {
		return Set{}, fmt.Errorf("%w: frame size %d", models.ErrShapeMismatch, size)
	}
	if coroRadius < 0 {
		return Set{}, models.NewConfigurationError("coronagraph radius", coroRadius, "must not be negative")
	}

	var pupilMask, pupilR models.Frame
	switch pupil.Kind {
	case PupilEdge:
		pupilMask = Circle(size, float64(size)/2)
		pupilR = Circle(size, float64(size)/2-2)
	case PupilRadius:
		pupilMask = Circle(size, pupil.Radius)
		pupilR = pupilMask.Clone()
	default:
		pupilMask = Ones(size)
		pupilR = Ones(size)
	}

	occulter := Circle(size, coroRadius)
	coro := models.NewFrame(size)
	coroR := models.NewFrame(size)
	for i := range coro.Data {
		coro.Data[i] = (1 - occulter.Data[i]) * pupilMask.Data[i]
		coroR.Data[i] = (1 - occulter.Data[i]) * pupilR.Data[i]
	}
	return Set{Coronagraph: coro, Regularization: coroR, Pupil: pupilMask}, nil
}

// Unmasked returns a set of all-ones masks
func Unmasked(size int) Set {
	return Set{Coronagraph: Ones(size), Regularization: Ones(size), Pupil: Ones(size)}
}
