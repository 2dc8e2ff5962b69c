// Package unctarget keeps the accepted-uncertainty targets of each dataset
// and flavour. Targets are seeded from the previous run's uncertainty map,
// relaxed by the builder during a run and written back as feedback for the
// next run.
package unctarget

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/banshee-data/btag-effmaps/internal/jets"
)

// DefaultTarget is the accepted uncertainty used for datasets the store has
// never seen.
const DefaultTarget = 0.001

// ErrUnknownDataset is returned by Resolve when a pre-existing uncertainty
// map does not list the dataset and defaults may not be used.
var ErrUnknownDataset = errors.New("dataset missing from uncertainty map")

// Targets maps each flavour to its accepted uncertainty.
type Targets map[jets.Flavor]float64

// DefaultTargets returns DefaultTarget for every flavour.
func DefaultTargets() Targets {
	t := make(Targets, len(jets.Flavors))
	for _, f := range jets.Flavors {
		t[f] = DefaultTarget
	}
	return t
}

// Clone returns an independent copy.
func (t Targets) Clone() Targets {
	out := make(Targets, len(t))
	for f, v := range t {
		out[f] = v
	}
	return out
}

// Validate checks that every flavour has a positive finite target.
func (t Targets) Validate() error {
	for _, f := range jets.Flavors {
		v, ok := t[f]
		if !ok {
			return fmt.Errorf("no accepted uncertainty for flavour %s", f)
		}
		if !(v > 0) || math.IsInf(v, 0) {
			return fmt.Errorf("accepted uncertainty for flavour %s must be positive, got %g", f, v)
		}
	}
	return nil
}

// Table is the dataset → Targets mapping of one run.
type Table struct {
	defaults Targets
	entries  map[string]Targets
	// Preexisting is true when the table was read from storage written by an
	// earlier run.
	Preexisting bool
}

// NewTable returns an empty table that seeds unknown datasets with defaults.
func NewTable(defaults Targets) *Table {
	if defaults == nil {
		defaults = DefaultTargets()
	}
	return &Table{defaults: defaults.Clone(), entries: make(map[string]Targets)}
}

// Defaults returns a copy of the seeding targets.
func (t *Table) Defaults() Targets { return t.defaults.Clone() }

// Get returns the dataset's targets and whether the table holds them.
func (t *Table) Get(dataset string) (Targets, bool) {
	v, ok := t.entries[dataset]
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Seed stores the defaults for a dataset that has no entry yet and returns
// the dataset's targets.
func (t *Table) Seed(dataset string) Targets {
	if v, ok := t.entries[dataset]; ok {
		return v.Clone()
	}
	v := t.defaults.Clone()
	t.entries[dataset] = v
	return v.Clone()
}

// Update replaces the dataset's targets. Flavours missing from targets keep
// their previous value.
func (t *Table) Update(dataset string, targets Targets) {
	cur, ok := t.entries[dataset]
	if !ok {
		cur = t.defaults.Clone()
	}
	for f, v := range targets {
		cur[f] = v
	}
	t.entries[dataset] = cur
}

// Resolve returns the targets a run should start from. A dataset missing
// from a pre-existing table is an error when adaptive widening is disabled,
// because the targets can then never be derived; otherwise the defaults are
// seeded.
func (t *Table) Resolve(dataset string, adaptive bool) (Targets, error) {
	if v, ok := t.Get(dataset); ok {
		return v, nil
	}
	if t.Preexisting && !adaptive {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
	}
	return t.Seed(dataset), nil
}

// Datasets returns the dataset names in sorted order.
func (t *Table) Datasets() []string {
	names := make([]string, 0, len(t.entries))
	for n := range t.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a deep copy of all entries.
func (t *Table) Snapshot() map[string]Targets {
	out := make(map[string]Targets, len(t.entries))
	for n, v := range t.entries {
		out[n] = v.Clone()
	}
	return out
}

// Store persists a Table between runs. The store is read once at the start
// of a run and written once at the end; it is not safe for concurrent runs
// against the same storage.
type Store interface {
	// Load reads the stored table. A missing store yields an empty table
	// with Preexisting false.
	Load(defaults Targets) (*Table, error)
	// Save writes the whole table.
	Save(t *Table) error
}
