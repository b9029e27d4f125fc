package rotation

import (
	"math"

	"mustard/internal/models"
)

// rescaleGrid chooses the zero-padding pad of an n pixel frame and the size m of
// the resampled grid so that m / (n + pad) is as close to scale as the discrete
// grid allows. The smallest padding reaching the best ratio wins.
func rescaleGrid(n int, scale float64) (pad, m int) {
	best := math.Inf(1)
	for p := 0; p <= n && best > 1e-9; p++ {
		exact := scale * float64(n+p)
		if e := math.Abs(exact - math.Round(exact)); e < best-1e-12 {
			best, pad, m = e, p, int(math.Round(exact))
		}
	}
	return pad, m
}

// ScaledSize returns round(scale*n), at least 1
func ScaledSize(n int, scale float64) int {
	r := int(math.Round(scale * float64(n)))
	if r < 1 {
		r = 1
	}
	return r
}

// Rescale resamples a size x size frame by scale with Fourier zero-padding,
// about the center pixel (size/2, size/2). The total flux is preserved on the
// resampled grid. When keepSize is set the result is cropped or padded back to
// size, otherwise to ScaledSize(size, scale). It returns the resampled frame
// and its size.
func Rescale(src []float64, size int, scale float64, keepSize bool) ([]float64, int, error) {
	out := size
	if !keepSize {
		out = ScaledSize(size, scale)
	}
	dst, err := rescale(src, size, scale, out)
	if err != nil {
		return nil, 0, err
	}
	return dst, out, nil
}

// Resampler rescales frames of one size by one factor and maps the results
// back to that exact size. The inverse needs the source size recorded: 15 and
// 16 pixel frames both halve to 8.
type Resampler struct {
	size   int
	scaled int
	scale  float64
}

// NewResampler validates scale and prepares the sizes of both directions
func NewResampler(size int, scale float64) (*Resampler, error) {
	if err := checkScale(scale); err != nil {
		return nil, err
	}
	if size < 1 {
		return nil, models.NewConfigurationError("size", size, "must be positive")
	}
	return &Resampler{size: size, scaled: ScaledSize(size, scale), scale: scale}, nil
}

// Size returns the source frame size
func (r *Resampler) Size() int { return r.size }

// ScaledSize returns the size of the resampled frames
func (r *Resampler) ScaledSize() int { return r.scaled }

// Apply resamples a source frame by the scale
func (r *Resampler) Apply(src []float64) ([]float64, error) {
	return rescale(src, r.size, r.scale, r.scaled)
}

// Invert resamples a scaled frame by 1/scale back to the source size
func (r *Resampler) Invert(src []float64) ([]float64, error) {
	return rescale(src, r.scaled, 1/r.scale, r.size)
}

func checkScale(scale float64) error {
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return models.NewConfigurationError("scale", scale, "must be a positive finite number")
	}
	return nil
}

// rescale resamples src onto an out x out grid. The center pixel of the source
// (size/2) lands on the center pixel of the output (out/2).
func rescale(src []float64, size int, scale float64, out int) ([]float64, error) {
	if err := checkScale(scale); err != nil {
		return nil, err
	}
	if len(src) != size*size {
		return nil, models.ErrShapeMismatch
	}

	n := size
	pad, dimPP := rescaleGrid(n, scale)
	if dimPP < 1 {
		return nil, models.NewConfigurationError("scale", scale, "too small for the frame size")
	}
	dimP := n + pad
	cP, cPP := dimP/2, dimPP/2

	// Zero-pad with the frame center moved to the origin, then go to the Fourier plane
	padded := make([]complex128, dimP*dimP)
	off := cP - n/2
	for y := 0; y < n; y++ {
		py := wrapIndex(y+off-cP, dimP)
		for x := 0; x < n; x++ {
			padded[py*dimP+wrapIndex(x+off-cP, dimP)] = complex(src[y*n+x], 0)
		}
	}
	fft2(padded, dimP, false)

	// Copy the common frequencies into the resampled spectrum
	spec := make([]complex128, dimPP*dimPP)
	lo := maxInt(-(dimP / 2), -(dimPP / 2))
	hi := minInt(dimP-dimP/2-1, dimPP-dimPP/2-1)
	for fy := lo; fy <= hi; fy++ {
		for fx := lo; fx <= hi; fx++ {
			spec[wrapIndex(fy, dimPP)*dimPP+wrapIndex(fx, dimPP)] = padded[wrapIndex(fy, dimP)*dimP+wrapIndex(fx, dimP)]
		}
	}
	fft2(spec, dimPP, true)

	// Move the origin back to the center and crop or pad to out
	norm := 1 / float64(dimPP*dimPP)
	dst := make([]float64, out*out)
	shift := cPP - out/2
	for y := 0; y < out; y++ {
		qy := y + shift
		if qy < 0 || qy >= dimPP {
			continue
		}
		row := wrapIndex(qy-cPP, dimPP) * dimPP
		for x := 0; x < out; x++ {
			qx := x + shift
			if qx < 0 || qx >= dimPP {
				continue
			}
			dst[y*out+x] = real(spec[row+wrapIndex(qx-cPP, dimPP)]) * norm
		}
	}
	return dst, nil
}

// RescaleFrame is Rescale for a models.Frame
func RescaleFrame(f models.Frame, scale float64, keepSize bool) (models.Frame, error) {
	data, size, err := Rescale(f.Data, f.Size, scale, keepSize)
	if err != nil {
		return models.Frame{}, err
	}
	return models.Frame{Data: data, Size: size}, nil
}

func wrapIndex(f, n int) int {
	return ((f % n) + n) % n
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
