// Package rotation implements flux-conserving sub-pixel rotation and rescaling of
// square frames in the Fourier domain.
//
// A rotation by θ is split into an exact quarter-turn permutation and a residual
// angle of at most 45°, which is applied as three successive 1-D shears
// (x by tan(θ/2), y by -sin θ, x by tan(θ/2)). Each shear translates one line at a
// time through a linear phase ramp, so the operation is circular and preserves
// the total flux of the frame.
//
// The rotation center is pixel (n/2, n/2) using integer division. Frames with an
// even size drop their first row and column before rotating, which leaves an odd
// grid centered on that pixel; the dropped row and column come back zero-filled.
package rotation

import (
	"math"

	"mustard/internal/models"
)

// Normalize wraps an angle in degrees into [0, 360)
func Normalize(angle float64) float64 {
	a := math.Mod(angle, 360)
	if a < 0 {
		a += 360
	}
	if a >= 360 {
		a -= 360
	}
	return a
}

// NormalizeAll returns a copy of angles wrapped into [0, 360)
func NormalizeAll(angles []float64) []float64 {
	out := make([]float64, len(angles))
	for i, a := range angles {
		out[i] = Normalize(a)
	}
	return out
}

// Plan is the precomputed decomposition of one rotation for one frame size.
// Plans are immutable and may be shared between goroutines.
type Plan struct {
	size     int
	work     int
	offset   int
	quarter  int
	residual float64
	a, b     float64
}

// NewPlan decomposes a rotation by angle degrees (counter-clockwise as displayed)
// for frames of the given size.
func NewPlan(size int, angle float64) *Plan {
	theta := Normalize(angle)
	q := math.Round(theta / 90)
	residual := theta - 90*q

	p := &Plan{
		size:     size,
		work:     workingSize(size),
		offset:   size - workingSize(size),
		quarter:  int(q) % 4,
		residual: residual,
	}
	if residual != 0 {
		rad := residual * math.Pi / 180
		p.a = math.Tan(rad / 2)
		p.b = -math.Sin(rad)
	}
	return p
}

// Size returns the frame size of the plan
func (p *Plan) Size() int {
	return p.size
}

// Identity reports whether the plan leaves frames untouched
func (p *Plan) Identity() bool {
	return p.quarter == 0 && p.residual == 0
}

func (p *Plan) load(grid []complex128, src []float64) {
	m, o, n := p.work, p.offset, p.size
	for y := 0; y < m; y++ {
		for x := 0; x < m; x++ {
			grid[y*m+x] = complex(src[(y+o)*n+x+o], 0)
		}
	}
}

func (p *Plan) store(dst []float64, grid []complex128) {
	m, o, n := p.work, p.offset, p.size
	if o > 0 {
		for x := 0; x < n; x++ {
			dst[x] = 0
		}
		for y := 0; y < n; y++ {
			dst[y*n] = 0
		}
	}
	for y := 0; y < m; y++ {
		for x := 0; x < m; x++ {
			dst[(y+o)*n+x+o] = real(grid[y*m+x])
		}
	}
}

// Apply writes the rotation of src into dst. dst and src must not alias
// unless the plan is the identity.
func (p *Plan) Apply(ws *Workspace, dst, src []float64) {
	if p.Identity() {
		copy(dst, src)
		return
	}
	m := p.work
	grid := ws.grid[:m*m]
	p.load(grid, src)
	if p.quarter != 0 {
		rot90(grid, ws.tmp, m, p.quarter)
	}
	if p.residual != 0 {
		ws.shearRows(grid, m, p.a)
		ws.shearCols(grid, m, p.b)
		ws.shearRows(grid, m, p.a)
	}
	p.store(dst, grid)
}

// Adjoint writes the transpose of the rotation operator applied to src into dst.
// For odd sizes it is the exact inverse rotation; it is what gradients flow through.
func (p *Plan) Adjoint(ws *Workspace, dst, src []float64) {
	if p.Identity() {
		copy(dst, src)
		return
	}
	m := p.work
	grid := ws.grid[:m*m]
	p.load(grid, src)
	if p.residual != 0 {
		ws.shearRows(grid, m, -p.a)
		ws.shearCols(grid, m, -p.b)
		ws.shearRows(grid, m, -p.a)
	}
	if p.quarter != 0 {
		rot90(grid, ws.tmp, m, 4-p.quarter)
	}
	p.store(dst, grid)
}

// Rotate returns src (a size x size frame) rotated by angle degrees
func Rotate(src []float64, size int, angle float64) []float64 {
	dst := make([]float64, len(src))
	NewPlan(size, angle).Apply(NewWorkspace(size), dst, src)
	return dst
}

// RotateFrame is Rotate for a models.Frame
func RotateFrame(f models.Frame, angle float64) models.Frame {
	return models.Frame{Data: Rotate(f.Data, f.Size, angle), Size: f.Size}
}
