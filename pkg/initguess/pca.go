package initguess

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"mustard/internal/models"
	"mustard/pkg/rotation"
)

var errFactorize = errors.New("initguess: SVD factorization failed")

// pcaGuess models the starlight of every frame with its projection on the
// leading principal components of the cube. Each region (a list of pixel
// indices) is decomposed independently; nil means the whole frame.
func pcaGuess(cube models.Cube, angles []float64, ncomp int, regions [][]int) (models.Frame, models.Frame, error) {
	starlight, err := pcaModel(cube, ncomp, regions)
	if err != nil {
		return models.Frame{}, models.Frame{}, err
	}
	x, err := skyFromResiduals(cube, angles, starlight)
	if err != nil {
		return models.Frame{}, models.Frame{}, err
	}
	l, err := starlightFrom(cube, angles, x)
	return l, x, err
}

// pcaIterative alternates between modeling the starlight on the cube with the
// current X removed and re-estimating X from the residuals.
func pcaIterative(cube models.Cube, angles []float64, opts Options) (models.Frame, models.Frame, error) {
	size := cube.Size()
	x := models.NewFrame(size)
	ws := rotation.NewWorkspace(size)
	rotated := make([]float64, size*size)
	for it := 0; it < opts.Iterations; it++ {
		sub := cube.Clone()
		for i, f := range sub.Frames {
			rotation.NewPlan(size, angles[i]).Apply(ws, rotated, x.Data)
			for k := range f.Data {
				f.Data[k] -= rotated[k]
			}
		}
		starlight, err := pcaModel(sub, opts.Components, nil)
		if err != nil {
			return models.Frame{}, models.Frame{}, err
		}
		if x, err = skyFromResiduals(cube, angles, starlight); err != nil {
			return models.Frame{}, models.Frame{}, err
		}
	}
	l, err := starlightFrom(cube, angles, x)
	return l, x, err
}

func skyFromResiduals(cube models.Cube, angles []float64, starlight models.Cube) (models.Frame, error) {
	residual := cube.Clone()
	for i, f := range residual.Frames {
		for k := range f.Data {
			f.Data[k] -= starlight.Frames[i].Data[k]
		}
	}
	derot, err := rotation.DerotateCube(residual, angles, rotation.BorderZero)
	if err != nil {
		return models.Frame{}, err
	}
	x := PixelMedian(derot)
	for k, v := range x.Data {
		x.Data[k] = clip(v)
	}
	return x, nil
}

// pcaModel returns the low-rank reconstruction of every frame
func pcaModel(cube models.Cube, ncomp int, regions [][]int) (models.Cube, error) {
	size := cube.Size()
	if regions == nil {
		all := make([]int, size*size)
		for k := range all {
			all[k] = k
		}
		regions = [][]int{all}
	}
	out := models.NewCube(cube.Len(), size)
	for _, pix := range regions {
		if len(pix) == 0 {
			continue
		}
		recon, err := lowRank(cube, pix, ncomp)
		if err != nil {
			return models.Cube{}, err
		}
		for i := range out.Frames {
			for j, k := range pix {
				out.Frames[i].Data[k] = recon.At(i, j)
			}
		}
	}
	return out, nil
}

// lowRank projects the frames restricted to pix on their first ncomp
// principal components. Pixel means over time are removed before the
// decomposition and restored afterwards.
func lowRank(cube models.Cube, pix []int, ncomp int) (*mat.Dense, error) {
	n, p := cube.Len(), len(pix)
	m := mat.NewDense(n, p, nil)
	for i, f := range cube.Frames {
		for j, k := range pix {
			m.Set(i, j, f.Data[k])
		}
	}
	means := make([]float64, p)
	for j := 0; j < p; j++ {
		col := mat.Col(nil, j, m)
		means[j] = stat.Mean(col, nil)
		for i := 0; i < n; i++ {
			m.Set(i, j, col[i]-means[j])
		}
	}

	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDThin) {
		return nil, errFactorize
	}
	var v mat.Dense
	svd.VTo(&v)
	_, c := v.Dims()
	if ncomp > c {
		ncomp = c
	}
	vk := v.Slice(0, p, 0, ncomp)

	var coef, recon mat.Dense
	coef.Mul(m, vk)
	recon.Mul(&coef, vk.T())
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			recon.Set(i, j, recon.At(i, j)+means[j])
		}
	}
	return &recon, nil
}

// annuli groups the pixels into rings of the given width around the center
func annuli(size, width int) [][]int {
	c := float64(size / 2)
	var rings [][]int
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r := math.Hypot(float64(x)-c, float64(y)-c)
			idx := int(r) / width
			for len(rings) <= idx {
				rings = append(rings, nil)
			}
			rings[idx] = append(rings[idx], y*size+x)
		}
	}
	return rings
}
