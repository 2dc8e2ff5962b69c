package report

import (
	"fmt"
	"image/color"
	"math"
	"os"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/jets"
)

const (
	plotWidth  = 24 * vg.Inch
	plotHeight = 8 * vg.Inch
)

// errPoints is a row of bin centres with Clopper-Pearson error bars.
type errPoints struct {
	plotter.XYs
	plotter.YErrors
}

// rowPoints returns the plottable bins of one eta row. Bins with an
// undefined efficiency are skipped.
func rowPoints(row []effmap.EfficiencyBin) errPoints {
	var pts errPoints
	for _, b := range row {
		if math.IsNaN(b.Eff) {
			continue
		}
		lo, hi := b.ErrClopper[0], b.ErrClopper[1]
		if math.IsNaN(lo) || math.IsNaN(hi) {
			lo, hi = 0, 0
		}
		pts.XYs = append(pts.XYs, plotter.XY{X: (b.PtMin + b.PtMax) / 2, Y: b.Eff})
		pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{lo, hi})
	}
	return pts
}

// etaLabel names an eta row in legends.
func etaLabel(eta effmap.EtaBinning, i int) string {
	v := "eta"
	if eta.Abs {
		v = "|eta|"
	}
	return fmt.Sprintf("%s bin [%g, %g)", v, eta.Edges[i], eta.Edges[i+1])
}

// flavourPlot draws one flavour panel with a line per eta row.
func flavourPlot(dataset string, f jets.Flavor, m *effmap.EfficiencyMap, colors []color.Color) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s: %s-jets", dataset, f)
	p.X.Label.Text = "pt"
	p.Y.Label.Text = "efficiency"
	p.Add(plotter.NewGrid())

	g := m.Flavors[f]
	if g == nil {
		return p, nil
	}
	for i, row := range g.Rows {
		pts := rowPoints(row)
		if len(pts.XYs) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts.XYs)
		if err != nil {
			return nil, fmt.Errorf("failed to create line for %s row %d: %w", f, i, err)
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)

		bars, err := plotter.NewYErrorBars(pts)
		if err != nil {
			return nil, fmt.Errorf("failed to create error bars for %s row %d: %w", f, i, err)
		}
		bars.Color = colors[i]

		p.Add(line, bars)
		p.Legend.Add(etaLabel(m.Eta, i), line)
	}
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePlot renders the three flavour panels of a dataset side by side into
// a PNG under the plot directory.
func (n Naming) WritePlot(dataset string, m *effmap.EfficiencyMap) (string, error) {
	path := n.PlotPath(dataset)
	if err := ensureWithin(path, n.OutputDir); err != nil {
		return "", err
	}

	colors := generateColors(m.Eta.Rows())
	row := make([]*plot.Plot, 0, len(jets.Flavors))
	for _, f := range jets.Flavors {
		p, err := flavourPlot(dataset, f, m, colors)
		if err != nil {
			return "", err
		}
		row = append(row, p)
	}
	plots := [][]*plot.Plot{row}

	img := vgimg.New(plotWidth, plotHeight)
	dc := draw.New(img)
	tiles := draw.Tiles{
		Rows:      1,
		Cols:      len(row),
		PadX:      vg.Millimeter * 4,
		PadY:      vg.Millimeter * 4,
		PadTop:    vg.Millimeter * 2,
		PadBottom: vg.Millimeter * 2,
		PadLeft:   vg.Millimeter * 2,
		PadRight:  vg.Millimeter * 2,
	}
	canvases := plot.Align(plots, tiles, dc)
	for j, p := range row {
		p.Draw(canvases[0][j])
	}

	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create plot file: %w", err)
	}
	if _, err := (vgimg.PngCanvas{Canvas: img}).WriteTo(file); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to write plot: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close plot file: %w", err)
	}
	return path, nil
}

// generateColors returns n evenly spaced hues.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.45)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL in [0,1] to 8-bit RGB.
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	if s == 0 {
		v := uint8(l * 255)
		return v, v, v
	}
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
}

func hueToRGB(p, q, t float64) float64 {
	switch {
	case t < 0:
		t++
	case t > 1:
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 1.0/2.0:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
