// Package report draws the diagnostic plots of a run
package report

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	// Liberation fonts register automatically on import
	_ "gonum.org/v1/plot/font/liberation"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	lossColor  = color.RGBA{B: 255, A: 255}
	activColor = color.RGBA{R: 220, A: 255}
	fluxXColor = color.RGBA{R: 30, G: 120, B: 200, A: 255}
	fluxLColor = color.RGBA{R: 230, G: 140, B: 20, A: 255}
)

// Convergence plots the loss trajectory, one point per iteration. The
// activation iteration is marked by a dashed vertical line when kactiv > 0.
// The loss axis is logarithmic when every loss is positive and they differ.
func Convergence(losses []float64, kactiv int) (*plot.Plot, error) {
	if len(losses) == 0 {
		return nil, fmt.Errorf("no loss to plot")
	}
	p := plot.New()
	p.Title.Text = "Convergence"
	p.X.Label.Text = "iteration"
	p.Y.Label.Text = "loss"
	p.Add(plotter.NewGrid())

	pts := make(plotter.XYs, 0, len(losses))
	lo, hi, positive := losses[0], losses[0], true
	for k, v := range losses {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			break
		}
		pts = append(pts, plotter.XY{X: float64(k), Y: v})
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		positive = positive && v > 0
	}
	if len(pts) == 0 {
		return nil, fmt.Errorf("no finite loss to plot")
	}
	if positive && hi > lo {
		p.Y.Scale = plot.LogScale{}
		p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = lossColor
	p.Add(line)
	p.Legend.Add("loss", line)

	if kactiv > 0 && kactiv < len(pts) {
		mark, err := plotter.NewLine(plotter.XYs{
			{X: float64(kactiv), Y: lo},
			{X: float64(kactiv), Y: hi},
		})
		if err != nil {
			return nil, err
		}
		mark.Color = activColor
		mark.Dashes = []vg.Length{vg.Points(6), vg.Points(4)}
		p.Add(mark)
		p.Legend.Add("regularization on", mark)
	}
	p.Legend.Top = true
	return p, nil
}

// Flux draws the flux factors of frames 1..N-1 as bars. Either vector may
// be empty.
func Flux(fluxX, fluxL []float64) (*plot.Plot, error) {
	if len(fluxX) == 0 && len(fluxL) == 0 {
		return nil, fmt.Errorf("no flux to plot")
	}
	p := plot.New()
	p.Title.Text = "Flux variations"
	p.X.Label.Text = "frame"
	p.Y.Label.Text = "flux factor"
	p.Add(plotter.NewGrid())

	width := vg.Points(6)
	series := []struct {
		name  string
		v     []float64
		color color.Color
	}{
		{"X", fluxX, fluxXColor},
		{"L", fluxL, fluxLColor},
	}
	offset := -width / 2
	for _, s := range series {
		if len(s.v) == 0 {
			continue
		}
		bars, err := plotter.NewBarChart(plotter.Values(s.v), width)
		if err != nil {
			return nil, err
		}
		bars.Color = s.color
		bars.LineStyle.Width = vg.Length(0)
		bars.Offset = offset
		bars.XMin = 1
		offset += width
		p.Add(bars)
		p.Legend.Add(s.name, bars)
	}
	p.Legend.Top = true
	return p, nil
}

// Save writes p to path; the format follows the extension (png, svg, pdf)
func Save(p *plot.Plot, path string) error {
	if err := p.Save(8*vg.Inch, 5*vg.Inch, path); err != nil {
		return fmt.Errorf("error saving plot %s: %w", path, err)
	}
	return nil
}
