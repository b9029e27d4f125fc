package estimator

import (
	"fmt"
	"strings"

	"mustard/internal/models"
	"mustard/pkg/model"
)

// Mode selects the trainable variable groups
type Mode int

const (
	// ModeNone trains L and X
	ModeNone Mode = iota
	// ModeFrame also trains the flux of the rotating component
	ModeFrame
	// ModeStaticFlux also trains the flux of the starlight
	ModeStaticFlux
	// ModeBoth trains both flux vectors
	ModeBoth
	// ModeJustX trains X and the starlight flux with L fixed
	ModeJustX
	// ModeJustL trains L and the starlight flux with X fixed
	ModeJustL
	// ModeHalo trains L, X and a Gaussian stellar halo
	ModeHalo
)

var modeNames = []string{"None", "Frame", "L", "Both", "JustX", "JustL", "Halo"}

// String implements fmt.Stringer
func (m Mode) String() string {
	if int(m) < len(modeNames) {
		return modeNames[m]
	}
	return fmt.Sprintf("Mode(%d)", int(m))
}

// ParseMode converts a configuration string (case-insensitive) into a Mode
func ParseMode(s string) (Mode, error) {
	key := strings.ToLower(strings.TrimSpace(s))
	if key == "" {
		return ModeNone, nil
	}
	for i, name := range modeNames {
		if strings.ToLower(name) == key {
			return Mode(i), nil
		}
	}
	return ModeNone, models.NewConfigurationError("estimation mode", s, "expected None, Frame, L, Both, JustX, JustL or Halo")
}

// layout maps the trainable groups of a mode onto one flat parameter vector
type layout struct {
	l, x, fluxX, fluxL, halo bool
	n2, nf                   int
}

func newLayout(m Mode, size, frames int) layout {
	lay := layout{n2: size * size, nf: frames - 1}
	switch m {
	case ModeFrame:
		lay.l, lay.x, lay.fluxX = true, true, true
	case ModeStaticFlux:
		lay.l, lay.x, lay.fluxL = true, true, true
	case ModeBoth:
		lay.l, lay.x, lay.fluxX, lay.fluxL = true, true, true, true
	case ModeJustX:
		lay.x, lay.fluxL = true, true
	case ModeJustL:
		lay.l, lay.fluxL = true, true
	case ModeHalo:
		lay.l, lay.x, lay.halo = true, true, true
	default:
		lay.l, lay.x = true, true
	}
	return lay
}

func (lay layout) len() int {
	n := 0
	if lay.l {
		n += lay.n2
	}
	if lay.x {
		n += lay.n2
	}
	if lay.fluxX {
		n += lay.nf
	}
	if lay.fluxL {
		n += lay.nf
	}
	if lay.halo {
		n += 4
	}
	return n
}

// pack writes the trainable parts of v into dst
func (lay layout) pack(dst []float64, v variables) {
	off := 0
	put := func(on bool, src []float64) {
		if on {
			off += copy(dst[off:], src)
		}
	}
	h := v.halo.Params()
	put(lay.l, v.l)
	put(lay.x, v.x)
	put(lay.fluxX, v.fluxX)
	put(lay.fluxL, v.fluxL)
	put(lay.halo, h[:])
}

// unpack overwrites the trainable parts of v with src
func (lay layout) unpack(v *variables, src []float64) {
	off := 0
	get := func(on bool, dst []float64) {
		if on {
			off += copy(dst, src[off:off+len(dst)])
		}
	}
	get(lay.l, v.l)
	get(lay.x, v.x)
	get(lay.fluxX, v.fluxX)
	get(lay.fluxL, v.fluxL)
	if lay.halo {
		v.halo = model.HaloFromParams(src[off : off+4])
	}
}

// packGradient writes the gradient of the trainable groups into dst
func (lay layout) packGradient(dst []float64, g *model.Gradient, halo [4]float64) {
	off := 0
	put := func(on bool, src []float64) {
		if on {
			off += copy(dst[off:], src)
		}
	}
	put(lay.l, g.L)
	put(lay.x, g.X)
	put(lay.fluxX, g.FluxX)
	put(lay.fluxL, g.FluxL)
	put(lay.halo, halo[:])
}
