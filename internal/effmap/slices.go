package effmap

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/btag-effmaps/internal/calib"
	"github.com/banshee-data/btag-effmaps/internal/effstat"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"gonum.org/v1/gonum/stat"
)

// seedEdges partitions [ptMin, ptMax] into slices of width step. The last
// slice is clipped at ptMax when the range is not a multiple of step.
func seedEdges(ptMin, ptMax, step float64) []float64 {
	n := int(math.Ceil((ptMax-ptMin)/step - 1e-9))
	if n < 1 {
		n = 1
	}
	edges := make([]float64, n+1)
	for i := 0; i < n; i++ {
		edges[i] = ptMin + float64(i)*step
	}
	edges[n] = ptMax
	return edges
}

// column collects one (flavour, eta row) population before histogramming.
type column struct {
	pt, w, w2, wTag, w2Tag []float64
}

func (c *column) add(pt, w float64, tagged bool) {
	c.pt = append(c.pt, pt)
	c.w = append(c.w, w)
	c.w2 = append(c.w2, w*w)
	if tagged {
		c.wTag = append(c.wTag, w)
		c.w2Tag = append(c.w2Tag, w*w)
	} else {
		c.wTag = append(c.wTag, 0)
		c.w2Tag = append(c.w2Tag, 0)
	}
}

// sorted returns a copy of the column ordered by pt.
func (c *column) sorted() *column {
	idx := make([]int, len(c.pt))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return c.pt[idx[a]] < c.pt[idx[b]] })
	out := &column{
		pt:    make([]float64, len(idx)),
		w:     make([]float64, len(idx)),
		w2:    make([]float64, len(idx)),
		wTag:  make([]float64, len(idx)),
		w2Tag: make([]float64, len(idx)),
	}
	for i, k := range idx {
		out.pt[i], out.w[i], out.w2[i] = c.pt[k], c.w[k], c.w2[k]
		out.wTag[i], out.w2Tag[i] = c.wTag[k], c.w2Tag[k]
	}
	return out
}

// counts histograms the column into the seed slices.
func (c *column) counts(edges []float64) []effstat.Counts {
	out := make([]effstat.Counts, len(edges)-1)
	if len(c.pt) == 0 {
		return out
	}
	s := c.sorted()
	// Histogram's top divider is exclusive; nudge it so the last slice is closed.
	dividers := append([]float64(nil), edges...)
	dividers[len(dividers)-1] = math.Nextafter(edges[len(edges)-1], math.Inf(1))
	sumW := stat.Histogram(nil, dividers, s.pt, s.w)
	sumW2 := stat.Histogram(nil, dividers, s.pt, s.w2)
	sumWTag := stat.Histogram(nil, dividers, s.pt, s.wTag)
	sumW2Tag := stat.Histogram(nil, dividers, s.pt, s.w2Tag)

	for i := range out {
		out[i] = effstat.Counts{SumW: sumW[i], SumW2: sumW2[i], SumWTagged: sumWTag[i], SumW2Tagged: sumW2Tag[i]}
	}
	return out
}

// sliceCounts returns the seed-slice counts of every (flavour, eta row).
// Jets outside the eta binning or the [ptMin, ptMax] window are ignored; a
// jet at exactly ptMax falls in the last slice, matching the pt range
// search which only counts jets strictly above the cut as lost.
// The dataset is only read.
func sliceCounts(ds *jets.Dataset, eta EtaBinning, cal calib.Context, edges []float64) (map[jets.Flavor][][]effstat.Counts, error) {
	ptMin, ptMax := edges[0], edges[len(edges)-1]
	cols := make(map[jets.Flavor][]column, len(jets.Flavors))
	for _, f := range jets.Flavors {
		cols[f] = make([]column, eta.Rows())
	}

	for _, j := range ds.Jets {
		if !(j.Pt >= ptMin && j.Pt <= ptMax) {
			continue
		}
		row := eta.Index(j.Eta)
		if row < 0 {
			continue
		}
		f := cal.Flavor(j)
		rows, ok := cols[f]
		if !ok {
			return nil, fmt.Errorf("flavour rule returned unknown flavour %q", f)
		}
		rows[row].add(j.Pt, j.Weight, cal.Tagged(j))
	}

	out := make(map[jets.Flavor][][]effstat.Counts, len(cols))
	for f, rows := range cols {
		out[f] = make([][]effstat.Counts, len(rows))
		for i := range rows {
			out[f][i] = rows[i].counts(edges)
		}
	}
	return out, nil
}
