package report

import (
	"bytes"
	"fmt"
	"math"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/jets"
)

// echartsAssetsPrefix serves the echarts javascript.
const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// flavourChart returns an interactive line chart of one flavour, one series
// per eta row, with x at the bin centres.
func flavourChart(dataset string, f jets.Flavor, m *effmap.EfficiencyMap) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: dataset, Theme: "dark", Width: "100%", Height: "480px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{Title: fmt.Sprintf("%s: %s-jets", dataset, f), Subtitle: fmt.Sprintf("%d eta rows", m.Eta.Rows())}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "5%"}),
		charts.WithXAxisOpts(opts.XAxis{Type: "value", Name: "pt", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "value", Name: "efficiency", NameLocation: "middle", NameGap: 40}),
	)

	g := m.Flavors[f]
	if g == nil {
		return line
	}
	for i, row := range g.Rows {
		data := make([]opts.LineData, 0, len(row))
		for _, b := range row {
			if math.IsNaN(b.Eff) {
				continue
			}
			data = append(data, opts.LineData{
				Name:  fmt.Sprintf("[%g, %g)", b.PtMin, b.PtMax),
				Value: []interface{}{(b.PtMin + b.PtMax) / 2, b.Eff},
			})
		}
		line.AddSeries(etaLabel(m.Eta, i), data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	return line
}

// RenderHTML renders the three flavour charts of a dataset as one page.
func RenderHTML(dataset string, m *effmap.EfficiencyMap) ([]byte, error) {
	page := components.NewPage()
	page.PageTitle = dataset
	page.SetAssetsHost(echartsAssetsPrefix)
	for _, f := range jets.Flavors {
		page.AddCharts(flavourChart(dataset, f, m))
	}
	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		return nil, fmt.Errorf("failed to render charts: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteHTML writes the interactive charts of a dataset next to its PNG.
func (n Naming) WriteHTML(dataset string, m *effmap.EfficiencyMap) (string, error) {
	path := n.HTMLPath(dataset)
	if err := ensureWithin(path, n.OutputDir); err != nil {
		return "", err
	}
	data, err := RenderHTML(dataset, m)
	if err != nil {
		return "", err
	}
	if err := writeAtomic(path, data); err != nil {
		return "", fmt.Errorf("failed to write charts: %w", err)
	}
	return path, nil
}
