// Package initguess computes starting (L, X) estimates from an ADI cube.
//
// The default is max_common: the sky-fixed component is the part common to
// every derotated frame and the starlight is what remains in the observed
// frames. The PCA modes model the starlight with the leading principal
// components of the cube instead.
package initguess

import (
	"fmt"
	"sort"
	"strings"

	"gonum.org/v1/gonum/stat"

	"mustard/internal/models"
	"mustard/pkg/rotation"
)

// Mode selects the initial guess algorithm
type Mode int

const (
	// MaxCommon uses the per-pixel minimum of the derotated frames
	MaxCommon Mode = iota
	// PCA subtracts a principal component model of the starlight
	PCA
	// PCAIt alternates PCA and sky-fixed estimation
	PCAIt
	// PCAAnnular runs PCA independently on concentric annuli
	PCAAnnular
)

// String implements fmt.Stringer
func (m Mode) String() string {
	switch m {
	case PCA:
		return "pca"
	case PCAIt:
		return "pcait"
	case PCAAnnular:
		return "pca_annular"
	default:
		return "max_common"
	}
}

// ParseMode converts a configuration string into a Mode. The empty string
// selects MaxCommon.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "max_common":
		return MaxCommon, nil
	case "pca":
		return PCA, nil
	case "pcait":
		return PCAIt, nil
	case "pca_annular":
		return PCAAnnular, nil
	}
	return MaxCommon, models.NewConfigurationError("init mode", s, "expected max_common, pca, pcait or pca_annular")
}

// Options configures Guess
type Options struct {
	Mode Mode
	// Components is the number of principal components (default 1)
	Components int
	// Iterations is the number of PCA passes of PCAIt (default 3)
	Iterations int
	// AnnulusWidth is the ring width in pixels of PCAAnnular (default 4)
	AnnulusWidth int
}

func (o Options) withDefaults() Options {
	if o.Components <= 0 {
		o.Components = 1
	}
	if o.Iterations <= 0 {
		o.Iterations = 3
	}
	if o.AnnulusWidth <= 0 {
		o.AnnulusWidth = 4
	}
	return o
}

// Guess returns the starting starlight and circumstellar maps
func Guess(cube models.Cube, angles []float64, opts Options) (l, x models.Frame, err error) {
	if err := cube.Validate(); err != nil {
		return models.Frame{}, models.Frame{}, err
	}
	if len(angles) != cube.Len() {
		return models.Frame{}, models.Frame{}, fmt.Errorf("%w: %d angles for %d frames", models.ErrShapeMismatch, len(angles), cube.Len())
	}
	opts = opts.withDefaults()

	switch opts.Mode {
	case PCA:
		return pcaGuess(cube, angles, opts.Components, nil)
	case PCAIt:
		return pcaIterative(cube, angles, opts)
	case PCAAnnular:
		return pcaGuess(cube, angles, opts.Components, annuli(cube.Size(), opts.AnnulusWidth))
	default:
		return maxCommon(cube, angles)
	}
}

// maxCommon sets X to the per-pixel minimum of the derotated frames and L to
// the median of the frames once the rotated X has been removed.
func maxCommon(cube models.Cube, angles []float64) (models.Frame, models.Frame, error) {
	derot, err := rotation.DerotateCube(cube, angles, rotation.BorderWrap)
	if err != nil {
		return models.Frame{}, models.Frame{}, err
	}
	x := models.NewFrame(cube.Size())
	for k := range x.Data {
		m := derot.Frames[0].Data[k]
		for _, f := range derot.Frames[1:] {
			if f.Data[k] < m {
				m = f.Data[k]
			}
		}
		x.Data[k] = clip(m)
	}
	l, err := starlightFrom(cube, angles, x)
	return l, x, err
}

// starlightFrom returns the clipped per-pixel median of cube minus X rotated into each frame
func starlightFrom(cube models.Cube, angles []float64, x models.Frame) (models.Frame, error) {
	size := cube.Size()
	rest := models.NewCube(cube.Len(), size)
	ws := rotation.NewWorkspace(size)
	for i, f := range cube.Frames {
		rotation.NewPlan(size, angles[i]).Apply(ws, rest.Frames[i].Data, x.Data)
		for k := range f.Data {
			rest.Frames[i].Data[k] = f.Data[k] - rest.Frames[i].Data[k]
		}
	}
	l := PixelMedian(rest)
	for k, v := range l.Data {
		l.Data[k] = clip(v)
	}
	return l, nil
}

// skyFrom returns the clipped per-pixel median of the derotated cube minus L
func skyFrom(cube models.Cube, angles []float64, l models.Frame) (models.Frame, error) {
	rest := cube.Clone()
	for _, f := range rest.Frames {
		for k := range f.Data {
			f.Data[k] -= l.Data[k]
		}
	}
	derot, err := rotation.DerotateCube(rest, angles, rotation.BorderZero)
	if err != nil {
		return models.Frame{}, err
	}
	x := PixelMedian(derot)
	for k, v := range x.Data {
		x.Data[k] = clip(v)
	}
	return x, nil
}

// Complete derives whichever of l and x is missing (nil Data) from the other.
// When both are missing it falls back to max_common.
func Complete(cube models.Cube, angles []float64, l, x models.Frame) (models.Frame, models.Frame, error) {
	size := cube.Size()
	for name, f := range map[string]models.Frame{"L0": l, "X0": x} {
		if f.Data != nil && (f.Size != size || len(f.Data) != size*size) {
			return models.Frame{}, models.Frame{}, fmt.Errorf("%w: %s of size %d for frames of size %d", models.ErrShapeMismatch, name, f.Size, size)
		}
	}
	var err error
	switch {
	case l.Data == nil && x.Data == nil:
		return maxCommon(cube, angles)
	case l.Data == nil:
		l, err = starlightFrom(cube, angles, x)
	case x.Data == nil:
		x, err = skyFrom(cube, angles, l)
	}
	return l, x, err
}

// PixelMedian returns the per-pixel median over the frames of a cube
func PixelMedian(cube models.Cube) models.Frame {
	out := models.NewFrame(cube.Size())
	column := make([]float64, cube.Len())
	for k := range out.Data {
		for i, f := range cube.Frames {
			column[i] = f.Data[k]
		}
		sort.Float64s(column)
		m := len(column) / 2
		if len(column)%2 == 1 {
			out.Data[k] = column[m]
		} else {
			out.Data[k] = (column[m-1] + column[m]) / 2
		}
	}
	return out
}

// PixelMean returns the per-pixel mean over the frames of a cube
func PixelMean(cube models.Cube) models.Frame {
	out := models.NewFrame(cube.Size())
	column := make([]float64, cube.Len())
	for k := range out.Data {
		for i, f := range cube.Frames {
			column[i] = f.Data[k]
		}
		out.Data[k] = stat.Mean(column, nil)
	}
	return out
}

func clip(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
