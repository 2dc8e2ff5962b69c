// Package ptrange finds the upper pt cut shared by every dataset of a batch:
// the smallest cut, reachable from an initial guess in fixed steps, above
// which no dataset loses more than a tolerated fraction of its weight.
package ptrange

import (
	"errors"
	"fmt"
	"sort"

	"github.com/banshee-data/btag-effmaps/internal/jets"
	"gonum.org/v1/gonum/floats"
)

var (
	// ErrDegenerateInput marks a dataset whose above-cut fraction is undefined.
	ErrDegenerateInput = errors.New("degenerate input")
	// ErrNonConvergence marks a search stopped by its iteration cap.
	ErrNonConvergence = errors.New("pt range search did not converge")
)

// DegenerateDatasetError names the dataset with no positive total weight.
type DegenerateDatasetError struct {
	Dataset string
	Weight  float64
}

func (e *DegenerateDatasetError) Error() string {
	return fmt.Sprintf("dataset %s has total weight %g: above-cut fraction undefined", e.Dataset, e.Weight)
}

func (e *DegenerateDatasetError) Unwrap() error { return ErrDegenerateInput }

const (
	// DefaultStep is the pt increment between trial cuts.
	DefaultStep = 10.0
	// DefaultMaxIterations bounds the number of trial cuts.
	DefaultMaxIterations = 10000
)

// Finder searches for the batch-wide pt cut.
type Finder struct {
	// Threshold is the tolerated weighted fraction of jets above the cut.
	Threshold float64
	// Step is the increment between trial cuts; DefaultStep when zero.
	Step float64
	// MaxIterations caps the number of increments; DefaultMaxIterations when zero.
	MaxIterations int
}

// Result is the outcome of a search.
type Result struct {
	PtMax      float64
	Iterations int
	Converged  bool
	// Fractions holds each dataset's weighted fraction above PtMax.
	Fractions map[string]float64
}

// Find returns the smallest cut initial + n·Step for which every dataset's
// weighted fraction of jets with pt above the cut is at most Threshold.
//
// A dataset without positive total weight yields a *DegenerateDatasetError.
// When the iteration cap is hit the last cut is returned together with an
// error matching ErrNonConvergence.
func (f Finder) Find(datasets map[string]*jets.Dataset, initial float64) (Result, error) {
	step := f.Step
	if step == 0 {
		step = DefaultStep
	}
	if step < 0 {
		return Result{}, fmt.Errorf("pt search step must be positive, got %g", step)
	}
	if f.Threshold < 0 || f.Threshold >= 1 {
		return Result{}, fmt.Errorf("pt search threshold must be in [0,1), got %g", f.Threshold)
	}
	maxIter := f.MaxIterations
	if maxIter <= 0 {
		maxIter = DefaultMaxIterations
	}

	names := jets.Names(datasets)
	tails := make([]*tail, len(names))
	for i, name := range names {
		t := newTail(datasets[name])
		if !(t.total > 0) {
			opsf("dataset %s has total weight %g, cannot compute above-cut fraction", name, t.total)
			return Result{}, &DegenerateDatasetError{Dataset: name, Weight: t.total}
		}
		tails[i] = t
	}

	ptMax := initial
	for iter := 0; ; iter++ {
		fractions := make(map[string]float64, len(names))
		above := false
		for i, name := range names {
			q := tails[i].above(ptMax) / tails[i].total
			fractions[name] = q
			tracef("iter=%d pt_max=%g %s -> %.4f", iter, ptMax, name, q)
			if q > f.Threshold {
				above = true
				diagf("%s -> %.1f%% above pt_max=%g", name, 100*q, ptMax)
			}
		}
		if !above {
			diagf("chosen pt_max = %g after %d iterations", ptMax, iter)
			return Result{PtMax: ptMax, Iterations: iter, Converged: true, Fractions: fractions}, nil
		}
		if iter >= maxIter {
			opsf("pt range search stopped after %d iterations at pt_max=%g", iter, ptMax)
			return Result{PtMax: ptMax, Iterations: iter, Converged: false, Fractions: fractions},
				fmt.Errorf("%w: %d iterations, last pt_max=%g", ErrNonConvergence, iter, ptMax)
		}
		// Computed from the iteration count so the cuts stay exact multiples
		// of the step away from the initial guess.
		ptMax = initial + float64(iter+1)*step
	}
}

// tail answers "weight above cut" queries for one dataset.
type tail struct {
	pts    []float64
	suffix []float64 // suffix[i] = Σ weight of jets i..n-1 in pt order
	total  float64
}

func newTail(ds *jets.Dataset) *tail {
	type pw struct{ pt, w float64 }
	rows := make([]pw, len(ds.Jets))
	for i, j := range ds.Jets {
		rows[i] = pw{j.Pt, j.Weight}
	}
	sort.Slice(rows, func(a, b int) bool { return rows[a].pt < rows[b].pt })

	t := &tail{pts: make([]float64, len(rows)), suffix: make([]float64, len(rows))}
	rev := make([]float64, len(rows))
	for i, r := range rows {
		t.pts[i] = r.pt
		rev[len(rows)-1-i] = r.w
	}
	floats.CumSum(rev, rev)
	for i := range rows {
		t.suffix[i] = rev[len(rows)-1-i]
	}
	if len(rows) > 0 {
		t.total = t.suffix[0]
	}
	return t
}

func (t *tail) above(cut float64) float64 {
	i := sort.SearchFloat64s(t.pts, cut)
	// SearchFloat64s returns the first index with pt >= cut; skip equal values.
	for i < len(t.pts) && t.pts[i] <= cut {
		i++
	}
	if i >= len(t.pts) {
		return 0
	}
	return t.suffix[i]
}
