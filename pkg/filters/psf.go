package filters

import (
	"fmt"
	"math/cmplx"

	"gonum.org/v1/gonum/floats"

	"mustard/internal/models"
	"mustard/pkg/rotation"
)

// PSF convolves frames with a fixed point-spread function through the 2-D DFT.
// The convolution is circular and centered on the middle pixel of the PSF.
type PSF struct {
	size     int
	spectrum []complex128
}

// NewPSF prepares the convolution of size x size frames with psf.
// The PSF is normalized to unit sum so the convolution conserves flux.
func NewPSF(psf models.Frame, size int) (*PSF, error) {
	if err := psf.Validate(); err != nil {
		return nil, fmt.Errorf("psf: %w", err)
	}
	if psf.Size > size {
		return nil, fmt.Errorf("%w: psf of size %d larger than frames of size %d", models.ErrShapeMismatch, psf.Size, size)
	}
	total := floats.Sum(psf.Data)
	if total == 0 {
		return nil, models.NewConfigurationError("psf", "sum", "must not be zero")
	}

	// Place the PSF center on pixel (0, 0) with circular wrap
	kernel := make([]float64, size*size)
	c := psf.Size / 2
	for y := 0; y < psf.Size; y++ {
		for x := 0; x < psf.Size; x++ {
			ty := ((y-c)%size + size) % size
			tx := ((x-c)%size + size) % size
			kernel[ty*size+tx] += psf.Data[y*psf.Size+x] / total
		}
	}
	return &PSF{size: size, spectrum: rotation.FFT2(kernel, size)}, nil
}

// Apply writes psf * src into dst
func (p *PSF) Apply(dst, src []float64) {
	p.filter(dst, src, false)
}

// Adjoint writes the correlation of src with the PSF into dst
func (p *PSF) Adjoint(dst, src []float64) {
	p.filter(dst, src, true)
}

func (p *PSF) filter(dst, src []float64, conj bool) {
	spec := rotation.FFT2(src, p.size)
	for i := range spec {
		s := p.spectrum[i]
		if conj {
			s = cmplx.Conj(s)
		}
		spec[i] *= s
	}
	out := rotation.IFFT2(spec, p.size)
	for i := range dst {
		dst[i] = real(out[i])
	}
}
