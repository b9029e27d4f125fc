// Package model implements the ADI forward model: the prediction of every frame
// of a cube from a static starlight map L and a sky-fixed circumstellar map X.
//
// The direct way rotates X into each frame orientation and adds L. The reverse
// way works in the derotated space: X stays sky-aligned and L is rotated by the
// opposite angle. Both predictions are multiplied by the coronagraph mask.
package model

import (
	"fmt"
	"runtime"
	"sync"

	"mustard/internal/models"
	"mustard/pkg/filters"
	"mustard/pkg/masks"
	"mustard/pkg/rotation"
)

// Way identifies the direction a frame was modeled in
type Way int

const (
	// Direct models observed frames (X rotated by +angle)
	Direct Way = iota
	// Reverse models derotated frames (L rotated by -angle)
	Reverse
)

// String implements fmt.Stringer
func (w Way) String() string {
	if w == Reverse {
		return "reverse"
	}
	return "direct"
}

// Ways enables each modeling direction
type Ways struct {
	Direct  bool
	Reverse bool
}

// ParseWays converts a pair of 0/1 switches. At least one way must be enabled.
func ParseWays(w [2]int) (Ways, error) {
	for _, v := range w {
		if v != 0 && v != 1 {
			return Ways{}, models.NewConfigurationError("way", w, "switches must be 0 or 1")
		}
	}
	ways := Ways{Direct: w[0] == 1, Reverse: w[1] == 1}
	if !ways.Direct && !ways.Reverse {
		return Ways{}, models.NewConfigurationError("way", w, "at least one way must be enabled")
	}
	return ways, nil
}

// Shape is the geometry of a cube
type Shape struct {
	Frames int
	Size   int
}

// ShapeOf returns the shape of a cube
func ShapeOf(c models.Cube) Shape {
	return Shape{Frames: c.Len(), Size: c.Size()}
}

// Options holds the optional parts of the model
type Options struct {
	// PSF is convolved into the X component when set
	PSF *filters.PSF
	// ConvolveL also convolves the L component with the PSF
	ConvolveL bool
	// Ways selects the modeling directions; the zero value enables Direct only
	Ways Ways
	// Workers bounds the goroutines used per evaluation; 0 uses all cores
	Workers int
}

// Model is the immutable forward model of one run
type Model struct {
	size      int
	frames    int
	angles    []float64
	masks     masks.Set
	psf       *filters.PSF
	convolveL bool
	ways      Ways
	workers   int

	forward []*rotation.Plan
	inverse []*rotation.Plan
	pool    sync.Pool
}

// New builds a forward model for cubes of the given shape. The angle list must
// have one entry per frame and the masks must match the frame size.
func New(shape Shape, angles []float64, set masks.Set, opts Options) (*Model, error) {
	if shape.Frames <= 0 || shape.Size <= 0 {
		return nil, fmt.Errorf("%w: %d frames of size %d", models.ErrShapeMismatch, shape.Frames, shape.Size)
	}
	if len(angles) != shape.Frames {
		return nil, fmt.Errorf("%w: %d angles for %d frames", models.ErrShapeMismatch, len(angles), shape.Frames)
	}
	for name, mask := range map[string]models.Frame{
		"coronagraph":    set.Coronagraph,
		"regularization": set.Regularization,
	} {
		if mask.Size != shape.Size || len(mask.Data) != shape.Size*shape.Size {
			return nil, fmt.Errorf("%w: %s mask of size %d for frames of size %d", models.ErrShapeMismatch, name, mask.Size, shape.Size)
		}
	}
	ways := opts.Ways
	if !ways.Direct && !ways.Reverse {
		ways.Direct = true
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > shape.Frames {
		workers = shape.Frames
	}

	m := &Model{
		size:      shape.Size,
		frames:    shape.Frames,
		angles:    rotation.NormalizeAll(angles),
		masks:     set,
		psf:       opts.PSF,
		convolveL: opts.ConvolveL && opts.PSF != nil,
		ways:      ways,
		workers:   workers,
		forward:   make([]*rotation.Plan, shape.Frames),
		inverse:   make([]*rotation.Plan, shape.Frames),
	}
	for i, a := range m.angles {
		m.forward[i] = rotation.NewPlan(shape.Size, a)
		m.inverse[i] = rotation.NewPlan(shape.Size, -a)
	}
	m.pool.New = func() interface{} { return rotation.NewWorkspace(shape.Size) }
	return m, nil
}

// Size returns the frame size
func (m *Model) Size() int { return m.size }

// Frames returns the number of frames
func (m *Model) Frames() int { return m.frames }

// Ways returns the enabled modeling directions
func (m *Model) Ways() Ways { return m.ways }

// Masks returns the mask set
func (m *Model) Masks() masks.Set { return m.masks }

// Angles returns a copy of the normalized angle list
func (m *Model) Angles() []float64 {
	out := make([]float64, len(m.angles))
	copy(out, m.angles)
	return out
}

// HasPSF reports whether the X component is convolved with a PSF
func (m *Model) HasPSF() bool { return m.psf != nil }

// Params are the model inputs. L and X are rectified before use.
type Params struct {
	L []float64
	X []float64
	// FluxX and FluxL hold the factors of frames 1..N-1; nil means all ones
	FluxX []float64
	FluxL []float64
	// Static is added to the rectified L when set (the fitted stellar halo)
	Static []float64
}

func fluxAt(f []float64, i int) float64 {
	if i == 0 || f == nil {
		return 1
	}
	return f[i-1]
}

func relu(dst, src []float64) {
	for i, v := range src {
		if v > 0 {
			dst[i] = v
		} else {
			dst[i] = 0
		}
	}
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// prepared holds the frame-independent parts of one evaluation
type prepared struct {
	xp     []float64 // ReLU(X)
	static []float64 // P_L(ReLU(L) + Static)
	xconv  []float64 // P(ReLU(X)), reverse way only
}

func (m *Model) prepare(p Params) prepared {
	n2 := m.size * m.size
	pr := prepared{xp: make([]float64, n2)}
	relu(pr.xp, p.X)

	lh := make([]float64, n2)
	relu(lh, p.L)
	if p.Static != nil {
		for i := range lh {
			lh[i] += p.Static[i]
		}
	}
	if m.convolveL {
		pr.static = make([]float64, n2)
		m.psf.Apply(pr.static, lh)
	} else {
		pr.static = lh
	}

	if m.ways.Reverse {
		if m.psf != nil {
			pr.xconv = make([]float64, n2)
			m.psf.Apply(pr.xconv, pr.xp)
		} else {
			pr.xconv = pr.xp
		}
	}
	return pr
}

// Forward returns the direct-way prediction of every frame
func (m *Model) Forward(p Params) models.Cube {
	return m.predict(p, Direct)
}

// Reverse returns the reverse-way prediction of every derotated frame
func (m *Model) Reverse(p Params) models.Cube {
	return m.predict(p, Reverse)
}

func (m *Model) predict(p Params, way Way) models.Cube {
	pr := m.prepare(p)
	if way == Reverse && pr.xconv == nil {
		pr.xconv = pr.xp
		if m.psf != nil {
			pr.xconv = make([]float64, len(pr.xp))
			m.psf.Apply(pr.xconv, pr.xp)
		}
	}
	out := models.NewCube(m.frames, m.size)
	m.parallel(func(w, lo, hi int) {
		ws := m.pool.Get().(*rotation.Workspace)
		defer m.pool.Put(ws)
		buf := newFrameBuffers(m.size * m.size)
		for i := lo; i < hi; i++ {
			if way == Direct {
				m.directFrame(ws, buf, pr, p, i)
			} else {
				m.reverseFrame(ws, buf, pr, p, i)
			}
			copy(out.Frames[i].Data, buf.modeled)
		}
	})
	return out
}

// frameBuffers is the per-worker scratch space
type frameBuffers struct {
	rotated   []float64
	rectified []float64
	conv      []float64
	modeled   []float64
	grad      []float64
	tmp       []float64
	tmp2      []float64
}

func newFrameBuffers(n2 int) *frameBuffers {
	return &frameBuffers{
		rotated:   make([]float64, n2),
		rectified: make([]float64, n2),
		conv:      make([]float64, n2),
		modeled:   make([]float64, n2),
		grad:      make([]float64, n2),
		tmp:       make([]float64, n2),
		tmp2:      make([]float64, n2),
	}
}

// directFrame fills buf.modeled with coro * (fX P(ReLU(R_i Xp)) + fL static)
func (m *Model) directFrame(ws *rotation.Workspace, buf *frameBuffers, pr prepared, p Params, i int) {
	m.forward[i].Apply(ws, buf.rotated, pr.xp)
	relu(buf.rectified, buf.rotated)
	if m.psf != nil {
		m.psf.Apply(buf.conv, buf.rectified)
	} else {
		copy(buf.conv, buf.rectified)
	}
	fx, fl := fluxAt(p.FluxX, i), fluxAt(p.FluxL, i)
	coro := m.masks.Coronagraph.Data
	for k := range buf.modeled {
		buf.modeled[k] = coro[k] * (fx*buf.conv[k] + fl*pr.static[k])
	}
}

// reverseFrame fills buf.modeled with coro * (fX P(Xp) + fL ReLU(R_-i static))
func (m *Model) reverseFrame(ws *rotation.Workspace, buf *frameBuffers, pr prepared, p Params, i int) {
	m.inverse[i].Apply(ws, buf.rotated, pr.static)
	relu(buf.rectified, buf.rotated)
	fx, fl := fluxAt(p.FluxX, i), fluxAt(p.FluxL, i)
	coro := m.masks.Coronagraph.Data
	for k := range buf.modeled {
		buf.modeled[k] = coro[k] * (fx*pr.xconv[k] + fl*buf.rectified[k])
	}
}

// parallel splits the frames into contiguous blocks, one per worker.
// The partition only depends on the frame and worker counts.
func (m *Model) parallel(fn func(worker, lo, hi int)) {
	chunk := (m.frames + m.workers - 1) / m.workers
	var wg sync.WaitGroup
	for w := 0; w < m.workers; w++ {
		lo := w * chunk
		hi := lo + chunk
		if hi > m.frames {
			hi = m.frames
		}
		if lo >= hi {
			continue
		}
		wg.Add(1)
		go func(w, lo, hi int) {
			defer wg.Done()
			fn(w, lo, hi)
		}(w, lo, hi)
	}
	wg.Wait()
}
