package regularization

import (
	"fmt"
	"math"
	"strings"

	"mustard/internal/models"
	"mustard/pkg/filters"
)

// R1Mode selects the shape of the first regularization
type R1Mode int

const (
	// Smooth penalizes the squared Sobel gradient magnitude
	Smooth R1Mode = iota
	// SmoothWithEdges is Smooth with an epsilon floor removed per pixel
	SmoothWithEdges
	// PeakPreservation lowers the smoothness penalty on bright pixels
	PeakPreservation
	// Sparse is the l1 norm of the map
	Sparse
)

var r1Names = map[R1Mode]string{
	Smooth:           "smooth",
	SmoothWithEdges:  "smooth_with_edges",
	PeakPreservation: "peak_preservation",
	Sparse:           "l1",
}

// String implements fmt.Stringer
func (m R1Mode) String() string {
	if s, ok := r1Names[m]; ok {
		return s
	}
	return fmt.Sprintf("R1Mode(%d)", int(m))
}

// ParseR1Mode converts a configuration string into an R1Mode
func ParseR1Mode(s string) (R1Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	for m, name := range r1Names {
		if name == key {
			return m, nil
		}
	}
	return Smooth, models.NewConfigurationError("R1 mode", s, "expected smooth, smooth_with_edges, peak_preservation or l1")
}

// R1 is the smoothness or sparsity regularization, evaluated inside the
// regularization mask. It applies to X and, when OnL is set, to L with weight
// LWeight.
type R1 struct {
	Mode    R1Mode
	Size    int
	Mask    []float64
	Epsilon float64
	// XMax is the brightness above which peak preservation stops smoothing
	XMax    float64
	OnL     bool
	LWeight float64

	sx, sy filters.Kernel
}

// NewR1 validates the configuration and prepares the derivative kernels
func NewR1(mode R1Mode, size int, mask []float64) (*R1, error) {
	if len(mask) != size*size {
		return nil, fmt.Errorf("%w: regularization mask has %d pixels for frames of size %d", models.ErrShapeMismatch, len(mask), size)
	}
	if _, ok := r1Names[mode]; !ok {
		return nil, models.NewConfigurationError("R1 mode", int(mode), "unknown mode")
	}
	return &R1{
		Mode:    mode,
		Size:    size,
		Mask:    mask,
		Epsilon: 1e-7,
		XMax:    1,
		OnL:     true,
		LWeight: 1,
		sx:      filters.SobelX(),
		sy:      filters.SobelY(),
	}, nil
}

// Name implements Penalty
func (r *R1) Name() string {
	if r.OnL {
		return r.Mode.String() + " on X and L"
	}
	return r.Mode.String() + " on X"
}

// Eval implements Penalty
func (r *R1) Eval(x, l, gx, gl []float64, scale float64) float64 {
	v := r.term(x, gx, scale)
	if r.OnL {
		v += r.LWeight * r.term(l, gl, scale*r.LWeight)
	}
	return v
}

func (r *R1) term(img, g []float64, scale float64) float64 {
	if r.Mode == Sparse {
		v := 0.0
		for k, p := range img {
			v += r.Mask[k] * math.Abs(p)
			addScaled(g, k, scale*r.Mask[k]*sign(p))
		}
		return v
	}

	n := r.Size
	n2 := n * n
	dy := make([]float64, n2)
	dx := make([]float64, n2)
	filters.Correlate(dy, img, n, r.sy)
	filters.Correlate(dx, img, n, r.sx)

	weight := r.peakWeight(img)
	v := 0.0
	for k := 0; k < n2; k++ {
		e := dy[k]*dy[k] + dx[k]*dx[k]
		v += weight[k] * r.Mask[k] * e
		if g != nil && r.Mode == PeakPreservation && img[k] > 0 && img[k] < r.xmax() {
			g[k] -= scale * r.Mask[k] * e / r.xmax()
		}
	}
	if r.Mode == SmoothWithEdges {
		v -= 2 * float64(n2) * r.Epsilon * r.Epsilon
	}

	if g != nil {
		for k := 0; k < n2; k++ {
			c := 2 * scale * weight[k] * r.Mask[k]
			dy[k] *= c
			dx[k] *= c
		}
		filters.CorrelateAdjoint(g, dy, n, r.sy)
		filters.CorrelateAdjoint(g, dx, n, r.sx)
	}
	return v
}

func (r *R1) xmax() float64 {
	if r.XMax > 0 {
		return r.XMax
	}
	return 1
}

// peakWeight is 1 - min(max(img, 0), xmax)/xmax for peak preservation and 1 otherwise
func (r *R1) peakWeight(img []float64) []float64 {
	w := make([]float64, len(img))
	if r.Mode != PeakPreservation {
		for k := range w {
			w[k] = 1
		}
		return w
	}
	xm := r.xmax()
	for k, p := range img {
		w[k] = 1 - math.Min(math.Max(p, 0), xm)/xm
	}
	return w
}
