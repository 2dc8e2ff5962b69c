// Package run drives one generator invocation: it resolves the calibration
// and uncertainty targets up front, then searches the pt range and builds,
// writes and records a map per dataset.
package run

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/btag-effmaps/internal/calib"
	"github.com/banshee-data/btag-effmaps/internal/config"
	"github.com/banshee-data/btag-effmaps/internal/db"
	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/banshee-data/btag-effmaps/internal/ptrange"
	"github.com/banshee-data/btag-effmaps/internal/report"
	"github.com/banshee-data/btag-effmaps/internal/unctarget"
)

var (
	// ErrFatalConfig aborts a run before any output is written.
	ErrFatalConfig = errors.New("fatal configuration error")
	// ErrDegenerateInput marks a dataset without usable weight.
	ErrDegenerateInput = errors.New("degenerate input")
	// ErrNonConvergence marks a result accepted after a loop cap was hit.
	ErrNonConvergence = errors.New("non-convergence")
)

// classify tags err with the run-level class of its cause, keeping the
// cause matchable.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, effmap.ErrDegenerateInput), errors.Is(err, ptrange.ErrDegenerateInput):
		return fmt.Errorf("%w: %w", ErrDegenerateInput, err)
	case errors.Is(err, effmap.ErrNonConvergence), errors.Is(err, ptrange.ErrNonConvergence):
		return fmt.Errorf("%w: %w", ErrNonConvergence, err)
	}
	return err
}

func fatalf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %w", ErrFatalConfig, fmt.Errorf(format, args...))
}

// Context is everything a run resolves before touching the data: it is
// built once by Init and passed to every stage.
type Context struct {
	Config   *config.RunConfig
	Calib    calib.Context
	Eta      effmap.EtaBinning
	Naming   report.Naming
	Datasets map[string]*jets.Dataset

	Store   unctarget.Store
	Targets *unctarget.Table

	// History is nil unless history_db is configured.
	History *db.DB
}

// Init validates cfg, resolves the calibration, loads and merges the
// datasets and resolves every dataset's uncertainty targets. Any failure
// matches ErrFatalConfig.
func Init(cfg *config.RunConfig, catalog jets.Catalog) (*Context, error) {
	if err := cfg.Require(); err != nil {
		return nil, fatalf("%v", err)
	}
	c, err := InitStores(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.loadDatasets(catalog); err != nil {
		c.Close()
		return nil, err
	}
	if err := c.resolveTargets(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// InitStores resolves the calibration and opens the target store and run
// history, without touching any dataset.
func InitStores(cfg *config.RunConfig) (*Context, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fatalf("%v", err)
	}
	resolver := calib.DefaultResolver()
	for _, e := range cfg.Calibrations {
		if err := resolver.Add(e); err != nil {
			return nil, fatalf("calibration entry: %v", err)
		}
	}
	cal, err := resolver.Resolve(cfg.GetYear(), cfg.GetAPV(), cfg.GetAlgo(), cfg.GetWorkingPoint())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFatalConfig, err)
	}
	opsf("calibration %s", cal)

	c := &Context{
		Config: cfg,
		Calib:  cal,
		Eta:    effmap.EtaBinning{Edges: cfg.GetEtaBins(), Abs: cfg.GetAbsEta()},
		Naming: report.NewNaming(cfg.GetOutputPath(), cal),
	}
	if err := c.openStores(); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (c *Context) loadDatasets(catalog jets.Catalog) error {
	loaded, err := jets.LoadAll(catalog, c.Config.Datasets)
	if err != nil {
		if errors.Is(err, jets.ErrDatasetNotFound) {
			return fmt.Errorf("%w: %w", ErrFatalConfig, err)
		}
		return err
	}
	if len(loaded) == 0 {
		return fatalf("no datasets to process")
	}
	merged, err := jets.MergeGroups(loaded, c.Config.Merge)
	if err != nil {
		return fatalf("%v", err)
	}
	c.Datasets = merged
	diagf("loaded %d datasets (%d after merging)", len(loaded), len(merged))
	return nil
}

// defaultTargets returns the accepted_unc targets of the config.
func (c *Context) defaultTargets() unctarget.Targets {
	t := make(unctarget.Targets, len(jets.Flavors))
	for _, f := range jets.Flavors {
		t[f] = c.Config.GetAcceptedUnc(f)
	}
	return t
}

func (c *Context) openStores() error {
	if path := c.Config.GetHistoryDB(); path != "" {
		h, err := db.NewDB(path)
		if err != nil {
			return fmt.Errorf("failed to open history database: %w", err)
		}
		c.History = h
	}

	switch c.Config.GetTargetStore() {
	case config.TargetStoreSQLite:
		if c.History == nil {
			return fatalf("target_store sqlite requires history_db")
		}
		c.Store = c.History.NewTargetStore(c.Calib.Period(), string(c.Calib.Algorithm), string(c.Calib.WorkingPoint))
	default:
		c.Store = c.Naming.UncMapStore()
	}

	tbl, err := c.Store.Load(c.defaultTargets())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFatalConfig, err)
	}
	c.Targets = tbl
	if tbl.Preexisting {
		diagf("loaded uncertainty targets for %d datasets", len(tbl.Datasets()))
	}
	return nil
}

// resolveTargets fails when adaptive merging is off, a previous uncertainty
// map exists and a dataset is missing from it.
func (c *Context) resolveTargets() error {
	adaptive := c.Config.GetAdaptive()
	for _, name := range jets.Names(c.Datasets) {
		if _, err := c.Targets.Resolve(name, adaptive); err != nil {
			return fmt.Errorf("%w: %w", ErrFatalConfig, err)
		}
	}
	return nil
}

// Builder returns the map builder for the given upper pt edge.
func (c *Context) Builder(ptMax float64) effmap.Builder {
	return effmap.Builder{
		Eta:         c.Eta,
		Calib:       c.Calib,
		PtMin:       c.Config.GetPtMin(),
		PtMax:       ptMax,
		Step:        c.Config.GetStepSize(),
		Adaptive:    c.Config.GetAdaptive(),
		UncStop:     c.Config.GetUncStop(),
		UncIncrease: c.Config.GetUncIncrease(),
	}
}

// FindPtMax runs the batch-wide pt range search. Datasets without positive
// total weight are left out of the search and returned in excluded. With
// pt_search disabled the configured pt_max is used as is.
func (c *Context) FindPtMax() (res ptrange.Result, excluded []string, err error) {
	initial := c.Config.GetPtMax()
	if !c.Config.GetPtSearch() {
		return ptrange.Result{PtMax: initial, Converged: true}, nil, nil
	}

	included := make(map[string]*jets.Dataset, len(c.Datasets))
	for _, name := range jets.Names(c.Datasets) {
		ds := c.Datasets[name]
		if w := ds.TotalWeight(); !(w > 0) || math.IsInf(w, 0) {
			opsf("dataset %s has total weight %g, excluded from the pt range search", name, w)
			excluded = append(excluded, name)
			continue
		}
		included[name] = ds
	}
	if len(included) == 0 {
		opsf("no dataset with positive weight, keeping pt_max=%g", initial)
		return ptrange.Result{PtMax: initial, Converged: true}, excluded, nil
	}

	finder := ptrange.Finder{Threshold: c.Config.GetPtMaxThr(), Step: c.Config.GetPtSearchStep()}
	res, err = finder.Find(included, initial)
	if err == nil || errors.Is(err, ptrange.ErrNonConvergence) {
		opsf("chosen pt_max = %g", res.PtMax)
	}
	return res, excluded, classify(err)
}

// Close releases the history database.
func (c *Context) Close() error {
	if c.History == nil {
		return nil
	}
	err := c.History.Close()
	c.History = nil
	return err
}
