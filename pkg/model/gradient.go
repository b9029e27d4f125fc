package model

import (
	"mustard/pkg/rotation"
)

// FrameLoss scores one modeled frame. It returns the loss contribution of the
// frame and writes the derivative of that contribution with respect to every
// modeled pixel into grad.
type FrameLoss func(way Way, frame int, modeled, grad []float64) float64

// Gradient receives the derivatives of the data loss
type Gradient struct {
	L []float64
	X []float64
	// Static is the derivative with respect to the additive static map, which
	// is not rectified
	Static []float64
	FluxX  []float64
	FluxL  []float64
}

// NewGradient allocates a gradient for frames of the given size
func NewGradient(size, frames int) *Gradient {
	n2 := size * size
	nf := frames - 1
	if nf < 0 {
		nf = 0
	}
	return &Gradient{
		L:      make([]float64, n2),
		X:      make([]float64, n2),
		Static: make([]float64, n2),
		FluxX:  make([]float64, nf),
		FluxL:  make([]float64, nf),
	}
}

// accumulator holds the sums of one worker
type accumulator struct {
	dxp    []float64 // d/d ReLU(X), direct way
	dxconv []float64 // d/d P(ReLU(X)), reverse way
	dstat  []float64 // d/d P_L(ReLU(L) + Static)
}

func newAccumulator(n2 int) *accumulator {
	return &accumulator{
		dxp:    make([]float64, n2),
		dxconv: make([]float64, n2),
		dstat:  make([]float64, n2),
	}
}

// Evaluate models every frame in each enabled way, scores it with loss and
// backpropagates the result into g. It returns the total loss.
//
// Frames are split into fixed contiguous blocks per worker and the worker sums
// are reduced in worker order, so the result does not depend on scheduling.
func (m *Model) Evaluate(p Params, loss FrameLoss, g *Gradient) float64 {
	n2 := m.size * m.size
	pr := m.prepare(p)

	frameLoss := make([]float64, m.frames)
	dfx := make([]float64, m.frames)
	dfl := make([]float64, m.frames)
	acc := make([]*accumulator, m.workers)

	m.parallel(func(w, lo, hi int) {
		ws := m.pool.Get().(*rotation.Workspace)
		defer m.pool.Put(ws)
		buf := newFrameBuffers(n2)
		a := newAccumulator(n2)
		acc[w] = a
		for i := lo; i < hi; i++ {
			if m.ways.Direct {
				frameLoss[i] += m.directGrad(ws, buf, a, pr, p, i, loss, dfx, dfl)
			}
			if m.ways.Reverse {
				frameLoss[i] += m.reverseGrad(ws, buf, a, pr, p, i, loss, dfx, dfl)
			}
		}
	})

	total := 0.0
	for _, l := range frameLoss {
		total += l
	}

	dxp := make([]float64, n2)
	dxconv := make([]float64, n2)
	dstat := make([]float64, n2)
	for _, a := range acc {
		if a == nil {
			continue
		}
		for k := 0; k < n2; k++ {
			dxp[k] += a.dxp[k]
			dxconv[k] += a.dxconv[k]
			dstat[k] += a.dstat[k]
		}
	}

	if m.ways.Reverse {
		if m.psf != nil {
			tmp := make([]float64, n2)
			m.psf.Adjoint(tmp, dxconv)
			dxconv = tmp
		}
		for k := range dxp {
			dxp[k] += dxconv[k]
		}
	}
	if m.convolveL {
		tmp := make([]float64, n2)
		m.psf.Adjoint(tmp, dstat)
		dstat = tmp
	}

	for k := 0; k < n2; k++ {
		g.X[k] = 0
		if p.X[k] > 0 {
			g.X[k] = dxp[k]
		}
		g.L[k] = 0
		if p.L[k] > 0 {
			g.L[k] = dstat[k]
		}
		g.Static[k] = dstat[k]
	}
	for i := 1; i < m.frames; i++ {
		g.FluxX[i-1] = dfx[i]
		g.FluxL[i-1] = dfl[i]
	}
	return total
}

func (m *Model) directGrad(ws *rotation.Workspace, buf *frameBuffers, a *accumulator, pr prepared, p Params, i int, loss FrameLoss, dfx, dfl []float64) float64 {
	m.directFrame(ws, buf, pr, p, i)
	for k := range buf.grad {
		buf.grad[k] = 0
	}
	l := loss(Direct, i, buf.modeled, buf.grad)

	coro := m.masks.Coronagraph.Data
	fx, fl := fluxAt(p.FluxX, i), fluxAt(p.FluxL, i)
	for k := range buf.grad {
		buf.grad[k] *= coro[k]
	}
	dfx[i] += dot(buf.grad, buf.conv)
	dfl[i] += dot(buf.grad, pr.static)

	for k, g := range buf.grad {
		a.dstat[k] += fl * g
		buf.tmp[k] = fx * g
	}
	if m.psf != nil {
		m.psf.Adjoint(buf.tmp2, buf.tmp)
	} else {
		copy(buf.tmp2, buf.tmp)
	}
	for k, v := range buf.rotated {
		if v <= 0 {
			buf.tmp2[k] = 0
		}
	}
	m.forward[i].Adjoint(ws, buf.tmp, buf.tmp2)
	for k, v := range buf.tmp {
		a.dxp[k] += v
	}
	return l
}

func (m *Model) reverseGrad(ws *rotation.Workspace, buf *frameBuffers, a *accumulator, pr prepared, p Params, i int, loss FrameLoss, dfx, dfl []float64) float64 {
	m.reverseFrame(ws, buf, pr, p, i)
	for k := range buf.grad {
		buf.grad[k] = 0
	}
	l := loss(Reverse, i, buf.modeled, buf.grad)

	coro := m.masks.Coronagraph.Data
	fx, fl := fluxAt(p.FluxX, i), fluxAt(p.FluxL, i)
	for k := range buf.grad {
		buf.grad[k] *= coro[k]
	}
	dfx[i] += dot(buf.grad, pr.xconv)
	dfl[i] += dot(buf.grad, buf.rectified)

	for k, g := range buf.grad {
		a.dxconv[k] += fx * g
		if buf.rotated[k] > 0 {
			buf.tmp[k] = fl * g
		} else {
			buf.tmp[k] = 0
		}
	}
	m.inverse[i].Adjoint(ws, buf.tmp2, buf.tmp)
	for k, v := range buf.tmp2 {
		a.dstat[k] += v
	}
	return l
}
