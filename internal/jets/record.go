// Package jets holds the weighted jet tables the efficiency maps are built
// from, and the catalog that supplies them.
package jets

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// Flavor is the simulation-truth origin of a jet.
type Flavor string

const (
	FlavorB    Flavor = "b"
	FlavorC    Flavor = "c"
	FlavorUDSG Flavor = "udsg"
)

// Flavors lists the flavours in the order maps are built and persisted.
var Flavors = []Flavor{FlavorB, FlavorC, FlavorUDSG}

// ParseFlavor accepts the persisted flavour keys.
func ParseFlavor(s string) (Flavor, error) {
	switch Flavor(s) {
	case FlavorB, FlavorC, FlavorUDSG:
		return Flavor(s), nil
	}
	return "", fmt.Errorf("unknown jet flavour %q", s)
}

// HadronFlavor maps a hadron-flavour truth label to a Flavor:
// 5 is b, 4 is c, everything else (light quarks, gluons, unmatched) is udsg.
func HadronFlavor(label int) Flavor {
	switch label {
	case 5:
		return FlavorB
	case 4:
		return FlavorC
	default:
		return FlavorUDSG
	}
}

// JetRecord is one selected jet of one event.
type JetRecord struct {
	EventID       int64
	JetID         int
	Pt            float64
	Eta           float64
	Weight        float64
	HadronFlavour int
	DeepCSV       float64 // btagDeepB
	DeepJet       float64 // btagDeepFlavB
}

// Dataset is a named, weighted jet table for one simulated process.
// Consumers must treat Jets as read-only.
type Dataset struct {
	Name string
	Jets []JetRecord
}

// TotalWeight returns the summed event weight of all jets.
func (d *Dataset) TotalWeight() float64 {
	return floats.Sum(d.weights(func(JetRecord) bool { return true }))
}

// WeightAbove returns the summed weight of jets with pt strictly above cut.
func (d *Dataset) WeightAbove(cut float64) float64 {
	return floats.Sum(d.weights(func(j JetRecord) bool { return j.Pt > cut }))
}

func (d *Dataset) weights(keep func(JetRecord) bool) []float64 {
	w := make([]float64, 0, len(d.Jets))
	for _, j := range d.Jets {
		if keep(j) {
			w = append(w, j.Weight)
		}
	}
	return w
}

// Len returns the number of jets.
func (d *Dataset) Len() int { return len(d.Jets) }

// Names returns the dataset names of a batch in sorted order.
func Names(datasets map[string]*Dataset) []string {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks the per-record constraints of the input table.
func (d *Dataset) Validate() error {
	for i, j := range d.Jets {
		if !(j.Pt >= 0) || math.IsInf(j.Pt, 1) {
			return fmt.Errorf("dataset %s: jet %d has invalid pt %g", d.Name, i, j.Pt)
		}
		if math.IsNaN(j.Eta) || math.IsInf(j.Eta, 0) {
			return fmt.Errorf("dataset %s: jet %d has invalid eta %g", d.Name, i, j.Eta)
		}
		if math.IsNaN(j.Weight) || math.IsInf(j.Weight, 0) {
			return fmt.Errorf("dataset %s: jet %d has invalid weight %g", d.Name, i, j.Weight)
		}
	}
	return nil
}
