// Package calib resolves a data-taking period, tagging algorithm and working
// point to the discriminant threshold and flavour-labelling rule used to
// decide whether a jet is tagged.
//
// Resolution happens once per run; the returned Context is immutable and is
// passed explicitly to every stage that needs it.
package calib

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/banshee-data/btag-effmaps/internal/jets"
)

// ErrUnknownCalibration is returned for any (year, apv, algorithm, working
// point) combination the resolver does not know. Callers treat it as a fatal
// configuration error.
var ErrUnknownCalibration = errors.New("unknown calibration")

// Tagger selects which discriminant column a calibration applies to.
type Tagger string

const (
	DeepCSV Tagger = "deepcsv"
	DeepJet Tagger = "deepjet"
)

// Score returns the jet's discriminant value for this tagger.
func (t Tagger) Score(j jets.JetRecord) float64 {
	if t == DeepJet {
		return j.DeepJet
	}
	return j.DeepCSV
}

// WorkingPoint is a named discriminant operating point.
type WorkingPoint string

const (
	Loose  WorkingPoint = "loose"
	Medium WorkingPoint = "medium"
	Tight  WorkingPoint = "tight"
)

// FlavorRule labels a jet with its truth flavour.
type FlavorRule func(jets.JetRecord) jets.Flavor

// HadronFlavourRule labels jets from the hadron-flavour truth column.
func HadronFlavourRule(j jets.JetRecord) jets.Flavor {
	return jets.HadronFlavor(j.HadronFlavour)
}

// Context is a resolved calibration.
type Context struct {
	Year         string
	APV          bool
	Algorithm    Tagger
	WorkingPoint WorkingPoint
	Threshold    float64
	Rule         FlavorRule
}

// Tagged reports whether the jet passes the working point.
func (c Context) Tagged(j jets.JetRecord) bool {
	return c.Algorithm.Score(j) > c.Threshold
}

// Flavor returns the truth flavour of the jet.
func (c Context) Flavor(j jets.JetRecord) jets.Flavor {
	if c.Rule == nil {
		return HadronFlavourRule(j)
	}
	return c.Rule(j)
}

// Period returns the period label used in file and directory names,
// "2016" or "APV_2016".
func (c Context) Period() string {
	if c.APV {
		return "APV_" + c.Year
	}
	return c.Year
}

func (c Context) String() string {
	return fmt.Sprintf("%s %s wp=%s thr=%g", c.Period(), c.Algorithm, c.WorkingPoint, c.Threshold)
}

// Entry is one row of the threshold table.
type Entry struct {
	Year         string       `json:"year" yaml:"year"`
	APV          bool         `json:"apv" yaml:"apv"`
	Algorithm    Tagger       `json:"algo" yaml:"algo"`
	WorkingPoint WorkingPoint `json:"working_point" yaml:"working_point"`
	Threshold    float64      `json:"threshold" yaml:"threshold"`
}

type key struct {
	year string
	apv  bool
	algo Tagger
	wp   WorkingPoint
}

// Resolver maps calibration keys to thresholds.
type Resolver struct {
	table map[key]float64
}

// NewResolver returns a resolver holding the given entries only.
func NewResolver(entries ...Entry) (*Resolver, error) {
	r := &Resolver{table: make(map[key]float64, len(entries))}
	for _, e := range entries {
		if err := r.Add(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultResolver returns a resolver loaded with the Ultra-Legacy Run-2
// DeepCSV and DeepJet working points.
func DefaultResolver() *Resolver {
	r, err := NewResolver(ultraLegacy...)
	if err != nil {
		panic(err)
	}
	return r
}

// Add inserts or replaces an entry. Names are normalised the same way as
// Resolve arguments.
func (r *Resolver) Add(e Entry) error {
	algo, err := ParseTagger(string(e.Algorithm))
	if err != nil {
		return err
	}
	wp, err := ParseWorkingPoint(string(e.WorkingPoint))
	if err != nil {
		return err
	}
	year := normaliseYear(e.Year)
	if year == "" {
		return fmt.Errorf("calibration entry has no year")
	}
	if !(e.Threshold >= 0 && e.Threshold <= 1) {
		return fmt.Errorf("threshold for %s %s %s must be in [0,1], got %g", year, algo, wp, e.Threshold)
	}
	r.table[key{year, e.APV, algo, wp}] = e.Threshold
	return nil
}

// Resolve returns the calibration for a period, algorithm and working point.
// Unknown combinations fail with ErrUnknownCalibration; there is no default.
func (r *Resolver) Resolve(year string, apv bool, algo, wp string) (Context, error) {
	tagger, err := ParseTagger(algo)
	if err != nil {
		return Context{}, err
	}
	point, err := ParseWorkingPoint(wp)
	if err != nil {
		return Context{}, err
	}
	y := normaliseYear(year)
	thr, ok := r.table[key{y, apv, tagger, point}]
	if !ok {
		return Context{}, fmt.Errorf("%w: year=%s apv=%t algo=%s wp=%s", ErrUnknownCalibration, y, apv, tagger, point)
	}
	return Context{
		Year:         y,
		APV:          apv,
		Algorithm:    tagger,
		WorkingPoint: point,
		Threshold:    thr,
		Rule:         HadronFlavourRule,
	}, nil
}

// Entries returns the table sorted by year, apv, algorithm and working point.
func (r *Resolver) Entries() []Entry {
	out := make([]Entry, 0, len(r.table))
	for k, thr := range r.table {
		out = append(out, Entry{Year: k.year, APV: k.apv, Algorithm: k.algo, WorkingPoint: k.wp, Threshold: thr})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.APV != b.APV {
			return a.APV
		}
		if a.Algorithm != b.Algorithm {
			return a.Algorithm < b.Algorithm
		}
		return a.Threshold < b.Threshold
	})
	return out
}

// ParseTagger accepts the algorithm names and their ntuple branch aliases.
func ParseTagger(s string) (Tagger, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deepcsv", "deepb", "btagdeepb":
		return DeepCSV, nil
	case "deepjet", "deepflavb", "btagdeepflavb", "deepflavour":
		return DeepJet, nil
	}
	return "", fmt.Errorf("%w: algorithm %q", ErrUnknownCalibration, s)
}

// ParseWorkingPoint accepts "loose"/"medium"/"tight" and their initials.
func ParseWorkingPoint(s string) (WorkingPoint, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "loose", "l":
		return Loose, nil
	case "medium", "m":
		return Medium, nil
	case "tight", "t":
		return Tight, nil
	}
	return "", fmt.Errorf("%w: working point %q", ErrUnknownCalibration, s)
}

// normaliseYear accepts "16" as well as "2016".
func normaliseYear(y string) string {
	y = strings.TrimSpace(y)
	if len(y) == 2 {
		return "20" + y
	}
	return y
}
