// Package effmap builds per-flavour (eta, pt) efficiency maps of a dataset.
// Fixed-width seed slices are merged along pt until the propagated
// uncertainty of the merged window meets the flavour's accepted
// uncertainty, relaxing that target when a row runs out of slices.
package effmap

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/btag-effmaps/internal/calib"
	"github.com/banshee-data/btag-effmaps/internal/effstat"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/banshee-data/btag-effmaps/internal/unctarget"
)

var (
	// ErrDegenerateInput is returned when a dataset carries no positive
	// weight inside the map's pt window.
	ErrDegenerateInput = errors.New("degenerate input")
	// ErrNonConvergence is returned alongside a complete result when the
	// relaxation cap stopped at least one bin.
	ErrNonConvergence = errors.New("efficiency map did not converge")
)

const (
	DefaultStep           = 10.0
	DefaultMaxRelaxations = 1000
	DefaultMaxSeedSlices  = 100000
)

// Builder holds the parameters shared by every dataset of a run. The zero
// values of Step, MaxRelaxations and MaxSeedSlices select the defaults.
type Builder struct {
	Eta   EtaBinning
	Calib calib.Context

	PtMin float64
	PtMax float64
	Step  float64

	// Adaptive merges seed slices until the target is met. When false the
	// seed slices are the final bins.
	Adaptive bool
	// UncStop is the largest target relaxation may reach.
	UncStop float64
	// UncIncrease is added to a flavour's target each time a row runs out
	// of slices. Zero disables relaxation.
	UncIncrease float64

	MaxRelaxations int
	MaxSeedSlices  int
}

// Result is the outcome of building one dataset.
type Result struct {
	Dataset     string
	Map         *EfficiencyMap
	Diagnostics Diagnostics
	// Targets holds each flavour's target after relaxation.
	Targets unctarget.Targets
	// Flags is the union of all bin flags.
	Flags Flag
}

func (b Builder) step() float64 {
	if b.Step == 0 {
		return DefaultStep
	}
	return b.Step
}

func (b Builder) maxRelaxations() int {
	if b.MaxRelaxations == 0 {
		return DefaultMaxRelaxations
	}
	return b.MaxRelaxations
}

func (b Builder) maxSeedSlices() int {
	if b.MaxSeedSlices == 0 {
		return DefaultMaxSeedSlices
	}
	return b.MaxSeedSlices
}

// Validate checks the builder parameters.
func (b Builder) Validate() error {
	if err := b.Eta.Validate(); err != nil {
		return err
	}
	if math.IsNaN(b.PtMin) || math.IsNaN(b.PtMax) || math.IsInf(b.PtMax, 0) {
		return fmt.Errorf("pt window must be finite, got [%g, %g]", b.PtMin, b.PtMax)
	}
	if b.PtMin < 0 || b.PtMax <= b.PtMin {
		return fmt.Errorf("invalid pt window [%g, %g]", b.PtMin, b.PtMax)
	}
	if !(b.step() > 0) {
		return fmt.Errorf("pt step must be positive, got %g", b.Step)
	}
	if n := math.Ceil((b.PtMax - b.PtMin) / b.step()); n > float64(b.maxSeedSlices()) {
		return fmt.Errorf("%g seed slices exceed the limit of %d", n, b.maxSeedSlices())
	}
	if b.UncIncrease < 0 || math.IsNaN(b.UncIncrease) {
		return fmt.Errorf("unc_increase must not be negative, got %g", b.UncIncrease)
	}
	if b.UncIncrease > 0 && !(b.UncStop > 0) {
		return fmt.Errorf("unc_stop must be positive when unc_increase is set, got %g", b.UncStop)
	}
	if b.maxRelaxations() < 0 || b.maxSeedSlices() < 0 {
		return fmt.Errorf("loop caps must not be negative")
	}
	return nil
}

// Build computes the efficiency map of ds. targets is read, never modified;
// the relaxed targets are returned in the Result. A result is returned
// together with ErrNonConvergence when the relaxation cap was hit.
func (b Builder) Build(ds *jets.Dataset, targets unctarget.Targets) (*Result, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if ds == nil {
		return nil, fmt.Errorf("nil dataset")
	}
	if err := ds.Validate(); err != nil {
		return nil, err
	}
	if b.Adaptive {
		if err := targets.Validate(); err != nil {
			return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
		}
	}

	edges := seedEdges(b.PtMin, b.PtMax, b.step())
	counts, err := sliceCounts(ds, b.Eta, b.Calib, edges)
	if err != nil {
		return nil, fmt.Errorf("dataset %s: %w", ds.Name, err)
	}
	var inWindow effstat.Counts
	for _, f := range jets.Flavors {
		for _, row := range counts[f] {
			for _, c := range row {
				inWindow = inWindow.Plus(c)
			}
		}
	}
	if !(inWindow.SumW > 0) {
		opsf("dataset %s: no positive weight in pt [%g, %g]", ds.Name, b.PtMin, b.PtMax)
		return nil, fmt.Errorf("%w: dataset %s has weight %g in pt [%g, %g]",
			ErrDegenerateInput, ds.Name, inWindow.SumW, b.PtMin, b.PtMax)
	}

	res := &Result{
		Dataset:     ds.Name,
		Map:         NewEfficiencyMap(b.Eta),
		Diagnostics: Diagnostics{Flavors: make(map[jets.Flavor][][]BinDiagnostics, len(jets.Flavors))},
		Targets:     targets.Clone(),
	}
	for _, f := range jets.Flavors {
		target := res.Targets[f]
		start := target
		relaxations := 0
		diag := make([][]BinDiagnostics, b.Eta.Rows())
		grid := res.Map.Flavors[f]

		for row := 0; row < b.Eta.Rows(); row++ {
			slices := counts[f][row]
			for s := 0; s < len(slices); {
				w := b.merge(slices, s, &target, &relaxations)
				sum := effstat.Summarize(w.acc)
				flags := w.flags
				if sum.Degenerate {
					flags |= FlagDegenerate
				}
				bin := EfficiencyBin{
					EtaMin:     b.Eta.Edges[row],
					EtaMax:     b.Eta.Edges[row+1],
					PtMin:      edges[s],
					PtMax:      edges[w.end+1],
					Eff:        sum.Eff,
					ErrProp:    sum.Prop,
					ErrClopper: sum.Clopper.Array(),
				}
				grid.Rows[row] = append(grid.Rows[row], bin)
				diag[row] = append(diag[row], BinDiagnostics{
					EtaIndex:    row,
					PtIndex:     len(grid.Rows[row]) - 1,
					PtMin:       bin.PtMin,
					PtMax:       bin.PtMax,
					SeedSlices:  w.end - s + 1,
					Summary:     sum,
					Target:      target,
					Relaxations: w.relaxations,
					Flags:       flags,
				})
				res.Flags |= flags
				if flags.Has(FlagDegenerate) {
					opsf("dataset %s flavour %s eta [%g, %g) pt [%g, %g): no weight, efficiency undefined",
						ds.Name, f, bin.EtaMin, bin.EtaMax, bin.PtMin, bin.PtMax)
				}
				tracef("dataset %s flavour %s row %d: accepted pt [%g, %g) eff=%.4f prop=%.4g target=%g flags=%s",
					ds.Name, f, row, bin.PtMin, bin.PtMax, bin.Eff, bin.ErrProp, target, flags)
				s = w.end + 1
			}
		}
		res.Diagnostics.Flavors[f] = diag
		if b.Adaptive {
			res.Targets[f] = target
		}
		if relaxations > 0 {
			diagf("dataset %s flavour %s: target relaxed %g -> %g after %d relaxations",
				ds.Name, f, start, target, relaxations)
		}
	}

	if res.Flags.Has(FlagNonConvergence) {
		opsf("dataset %s: relaxation cap of %d reached, widest windows accepted", ds.Name, b.maxRelaxations())
		return res, fmt.Errorf("%w: dataset %s", ErrNonConvergence, ds.Name)
	}
	return res, nil
}

// window is one accepted run of seed slices [start, end].
type window struct {
	end         int
	acc         effstat.Counts
	flags       Flag
	relaxations int
}

// merge grows a window from seed slice s. target and total carry the
// flavour's current target and relaxation count across windows.
func (b Builder) merge(slices []effstat.Counts, s int, target *float64, total *int) window {
	last := len(slices) - 1
	if !b.Adaptive {
		return window{end: s, acc: slices[s]}
	}
	var w window
	for {
		w.acc = effstat.Counts{}
		for j := s; j <= last; j++ {
			w.acc = w.acc.Plus(slices[j])
			// NaN never satisfies the comparison.
			if effstat.Propagated(w.acc) <= *target {
				w.end = j
				return w
			}
		}
		w.end = last
		if w.acc.Degenerate() {
			w.flags |= FlagTargetMissed
			return w
		}
		if *target < b.UncStop && b.UncIncrease > 0 {
			if *total >= b.maxRelaxations() {
				w.flags |= FlagNonConvergence | FlagTargetMissed
				return w
			}
			*target = math.Min(*target+b.UncIncrease, b.UncStop)
			*total++
			w.relaxations++
			w.flags |= FlagRelaxed
			continue
		}
		w.flags |= FlagTargetMissed
		return w
	}
}
