package model

import (
	"math"
)

// Halo is an elliptical 2-D Gaussian centered on the star. Theta is the
// rotation of the X axis of the ellipse in radians.
type Halo struct {
	Amplitude float64
	XStd      float64
	YStd      float64
	Theta     float64
}

// Params returns the halo as a parameter vector
func (h Halo) Params() [4]float64 {
	return [4]float64{h.Amplitude, h.XStd, h.YStd, h.Theta}
}

// HaloFromParams is the inverse of Params
func HaloFromParams(p []float64) Halo {
	return Halo{Amplitude: p[0], XStd: p[1], YStd: p[2], Theta: p[3]}
}

// eval returns the Gaussian at offset (dx, dy) and its rotated coordinates
func (h Halo) eval(dx, dy float64) (g, xr, yr float64) {
	c, s := math.Cos(h.Theta), math.Sin(h.Theta)
	xr = c*dx + s*dy
	yr = -s*dx + c*dy
	q := xr*xr/(2*h.XStd*h.XStd) + yr*yr/(2*h.YStd*h.YStd)
	return h.Amplitude * math.Exp(-q), xr, yr
}

// Render writes the rectified halo into a new size x size frame
func (h Halo) Render(size int) []float64 {
	out := make([]float64, size*size)
	if h.XStd == 0 || h.YStd == 0 {
		return out
	}
	c := float64(size / 2)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			g, _, _ := h.eval(float64(x)-c, float64(y)-c)
			if g > 0 {
				out[y*size+x] = g
			}
		}
	}
	return out
}

// Gradient returns the derivatives of sum(grad * Render(size)) with respect to
// the four halo parameters.
func (h Halo) Gradient(size int, grad []float64) [4]float64 {
	var d [4]float64
	if h.XStd == 0 || h.YStd == 0 {
		return d
	}
	c := float64(size / 2)
	sx3 := h.XStd * h.XStd * h.XStd
	sy3 := h.YStd * h.YStd * h.YStd
	u, v := 1/(h.XStd*h.XStd), 1/(h.YStd*h.YStd)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			g, xr, yr := h.eval(float64(x)-c, float64(y)-c)
			if g <= 0 {
				continue
			}
			w := grad[y*size+x]
			d[0] += w * g / h.Amplitude
			d[1] += w * g * xr * xr / sx3
			d[2] += w * g * yr * yr / sy3
			d[3] -= w * g * xr * yr * (u - v)
		}
	}
	return d
}

// EstimateHalo derives a starting halo from the second moments of the masked
// positive part of frame.
func EstimateHalo(frame, mask []float64, size int) Halo {
	c := float64(size / 2)
	var total, sxx, syy, sxy, peak float64
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			v := frame[y*size+x] * mask[y*size+x]
			if v <= 0 {
				continue
			}
			dx, dy := float64(x)-c, float64(y)-c
			total += v
			sxx += v * dx * dx
			syy += v * dy * dy
			sxy += v * dx * dy
			peak = math.Max(peak, v)
		}
	}
	if total == 0 {
		return Halo{Amplitude: 0, XStd: 1, YStd: 1}
	}
	sxx, syy, sxy = sxx/total, syy/total, sxy/total
	theta := 0.5 * math.Atan2(2*sxy, sxx-syy)
	// Eigenvalues of the covariance
	mean := (sxx + syy) / 2
	diff := math.Sqrt((sxx-syy)*(sxx-syy)/4 + sxy*sxy)
	return Halo{
		Amplitude: peak,
		XStd:      math.Sqrt(math.Max(mean+diff, 1)),
		YStd:      math.Sqrt(math.Max(mean-diff, 1)),
		Theta:     theta,
	}
}
