package effmap

import (
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/btag-effmaps/internal/effstat"
	"github.com/banshee-data/btag-effmaps/internal/jets"
)

// EtaBinning is the fixed set of eta rows shared by every dataset and
// flavour of a run.
type EtaBinning struct {
	Edges []float64
	// Abs bins |eta| instead of eta.
	Abs bool
}

// Validate checks that the edges are finite and strictly increasing.
func (e EtaBinning) Validate() error {
	if len(e.Edges) < 2 {
		return fmt.Errorf("eta binning needs at least two edges, got %d", len(e.Edges))
	}
	for i, v := range e.Edges {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("eta edge %d is not finite", i)
		}
		if i > 0 && v <= e.Edges[i-1] {
			return fmt.Errorf("eta edges must be strictly increasing: %g after %g", v, e.Edges[i-1])
		}
	}
	if e.Abs && e.Edges[0] < 0 {
		return fmt.Errorf("|eta| binning cannot start below zero, got %g", e.Edges[0])
	}
	return nil
}

// Rows returns the number of eta rows.
func (e EtaBinning) Rows() int { return len(e.Edges) - 1 }

// Index returns the row holding eta, or -1 when eta is NaN or outside the
// binning.
// Rows are half-open [lo, hi).
func (e EtaBinning) Index(eta float64) int {
	if e.Abs {
		eta = math.Abs(eta)
	}
	if len(e.Edges) < 2 || math.IsNaN(eta) || eta < e.Edges[0] || eta >= e.Edges[len(e.Edges)-1] {
		return -1
	}
	return sort.SearchFloat64s(e.Edges, math.Nextafter(eta, math.Inf(1))) - 1
}

// rowOf finds the row whose lower edge equals etaMin.
func (e EtaBinning) rowOf(etaMin float64) int {
	for i := 0; i < e.Rows(); i++ {
		if math.Abs(e.Edges[i]-etaMin) < 1e-9 {
			return i
		}
	}
	return -1
}

// EfficiencyBin is one accepted (eta, pt) cell of one flavour.
type EfficiencyBin struct {
	EtaMin     float64
	EtaMax     float64
	PtMin      float64
	PtMax      float64
	Eff        float64
	ErrProp    float64
	ErrClopper [2]float64 // offsets below and above Eff
}

// Contains reports whether pt falls in [PtMin, PtMax).
func (b EfficiencyBin) Contains(pt float64) bool {
	return pt >= b.PtMin && pt < b.PtMax
}

// Grid holds one flavour's bins, Rows[etaIndex][ptIndex]. Rows may have
// different numbers of pt columns.
type Grid struct {
	Rows [][]EfficiencyBin
}

// EfficiencyMap is the per-flavour efficiency table of one dataset.
type EfficiencyMap struct {
	Eta     EtaBinning
	Flavors map[jets.Flavor]*Grid
}

// NewEfficiencyMap allocates an empty map with one row per eta bin for each
// flavour.
func NewEfficiencyMap(eta EtaBinning) *EfficiencyMap {
	m := &EfficiencyMap{Eta: eta, Flavors: make(map[jets.Flavor]*Grid, len(jets.Flavors))}
	for _, f := range jets.Flavors {
		m.Flavors[f] = &Grid{Rows: make([][]EfficiencyBin, eta.Rows())}
	}
	return m
}

// Bin addresses a bin by (flavour, eta index, pt index).
func (m *EfficiencyMap) Bin(f jets.Flavor, etaIdx, ptIdx int) (EfficiencyBin, bool) {
	g, ok := m.Flavors[f]
	if !ok || etaIdx < 0 || etaIdx >= len(g.Rows) || ptIdx < 0 || ptIdx >= len(g.Rows[etaIdx]) {
		return EfficiencyBin{}, false
	}
	return g.Rows[etaIdx][ptIdx], true
}

// Lookup returns the bin containing (eta, pt) for flavour f. Jets beyond
// the last pt edge use the last bin of their row, the usual convention when
// reweighting simulation with a map.
func (m *EfficiencyMap) Lookup(f jets.Flavor, eta, pt float64) (EfficiencyBin, bool) {
	g, ok := m.Flavors[f]
	row := m.Eta.Index(eta)
	if !ok || row < 0 || row >= len(g.Rows) || len(g.Rows[row]) == 0 {
		return EfficiencyBin{}, false
	}
	bins := g.Rows[row]
	if pt < bins[0].PtMin {
		return EfficiencyBin{}, false
	}
	i := sort.Search(len(bins), func(i int) bool { return bins[i].PtMax > pt })
	if i == len(bins) {
		i--
	}
	return bins[i], true
}

// Flatten returns flavour f's bins in row-major order: by eta row, then by
// pt within the row.
func (m *EfficiencyMap) Flatten(f jets.Flavor) []EfficiencyBin {
	g, ok := m.Flavors[f]
	if !ok {
		return nil
	}
	var out []EfficiencyBin
	for _, row := range g.Rows {
		out = append(out, row...)
	}
	return out
}

// FromFlat rebuilds an addressable map from persisted row-major sequences.
// Each bin is placed by its eta_min, so rows may hold any number of columns.
func FromFlat(eta EtaBinning, flat map[jets.Flavor][]EfficiencyBin) (*EfficiencyMap, error) {
	if err := eta.Validate(); err != nil {
		return nil, err
	}
	m := NewEfficiencyMap(eta)
	for f, bins := range flat {
		g, ok := m.Flavors[f]
		if !ok {
			return nil, fmt.Errorf("unknown flavour %q", f)
		}
		for _, b := range bins {
			row := eta.rowOf(b.EtaMin)
			if row < 0 {
				return nil, fmt.Errorf("flavour %s: bin eta_min=%g matches no eta edge", f, b.EtaMin)
			}
			g.Rows[row] = append(g.Rows[row], b)
		}
		for i, row := range g.Rows {
			sort.Slice(row, func(a, b int) bool { return row[a].PtMin < row[b].PtMin })
			for j := 1; j < len(row); j++ {
				if math.Abs(row[j].PtMin-row[j-1].PtMax) > 1e-9 {
					return nil, fmt.Errorf("flavour %s eta row %d: pt bins not contiguous at %g", f, i, row[j].PtMin)
				}
			}
		}
	}
	return m, nil
}

// Flag marks conditions met while building a bin or map.
type Flag uint8

const (
	// FlagDegenerate: the accepted window carries no positive weight.
	FlagDegenerate Flag = 1 << iota
	// FlagTargetMissed: the widest window was accepted above the target.
	FlagTargetMissed
	// FlagRelaxed: the flavour target was relaxed while building the bin.
	FlagRelaxed
	// FlagNonConvergence: the relaxation cap stopped the merge loop.
	FlagNonConvergence
)

// Has reports whether every bit of o is set in f.
func (f Flag) Has(o Flag) bool { return f&o == o }

func (f Flag) String() string {
	if f == 0 {
		return "ok"
	}
	var s string
	for _, n := range []struct {
		f    Flag
		name string
	}{
		{FlagDegenerate, "degenerate"},
		{FlagTargetMissed, "target-missed"},
		{FlagRelaxed, "relaxed"},
		{FlagNonConvergence, "non-convergence"},
	} {
		if f.Has(n.f) {
			if s != "" {
				s += "|"
			}
			s += n.name
		}
	}
	return s
}

// BinDiagnostics carries both uncertainty metrics and the merge history of
// one accepted bin, independent of which metric consumers use.
type BinDiagnostics struct {
	EtaIndex    int
	PtIndex     int
	PtMin       float64
	PtMax       float64
	SeedSlices  int // seed slices merged into the bin
	Summary     effstat.Summary
	Target      float64 // target in force when the bin was accepted
	Relaxations int
	Flags       Flag
}

// Diagnostics parallels EfficiencyMap: Flavors[f][etaIndex][ptIndex].
type Diagnostics struct {
	Flavors map[jets.Flavor][][]BinDiagnostics
}
