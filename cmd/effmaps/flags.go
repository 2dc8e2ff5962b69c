package main

import (
	"fmt"

	"github.com/spf13/pflag"

	"github.com/banshee-data/btag-effmaps/internal/config"
	"github.com/banshee-data/btag-effmaps/internal/jets"
)

// addRunFlags registers the run config overrides shared by generate and
// ptmax. Only flags set on the command line override the config file.
func addRunFlags(fs *pflag.FlagSet) {
	fs.StringP("input", "i", "", "Directory of <dataset>.csv jet tables")
	fs.StringSliceP("datasets", "d", nil, "Datasets to process (default: every table in --input)")
	fs.StringP("year", "y", "", "Data-taking year (2016, 2017, 2018)")
	fs.Bool("apv", false, "Use the 2016 APV (preVFP) calibration")
	fs.StringP("algo", "a", "", "Tagging algorithm (deepcsv, deepjet)")
	fs.StringP("wp", "w", "", "Working point (L, M, T)")
	fs.Float64Slice("eta-bins", nil, "Eta bin edges")
	fs.Bool("signed-eta", false, "Bin eta instead of |eta|")
	fs.Float64("pt-min", 0, "Lower pt edge of the maps")
	fs.Float64("step", 0, "Seed slice width in pt")
	fs.Float64("pt-max", 0, "Initial upper pt edge for the range search")
	fs.Float64("pt-max-thr", 0, "Tolerated weighted fraction of jets above pt_max")
	fs.Float64("pt-search-step", 0, "pt_max increment of the range search")
	fs.Bool("no-pt-search", false, "Use --pt-max as is")
	fs.Float64("unc-b", 0, "Accepted uncertainty for b jets")
	fs.Float64("unc-c", 0, "Accepted uncertainty for c jets")
	fs.Float64("unc-udsg", 0, "Accepted uncertainty for udsg jets")
	fs.Bool("not-find-best-unc", false, "Disable adaptive bin merging; seed slices are final bins")
	fs.Float64("unc-stop", 0, "Upper limit for relaxing an unmet uncertainty target")
	fs.Float64("unc-increase", 0, "Relaxation step for an unmet uncertainty target")
	fs.StringP("output", "o", "", "Output directory")
	fs.String("history-db", "", "SQLite run history database")
	fs.String("target-store", "", "Uncertainty target store (json, sqlite)")
	fs.Bool("no-plots", false, "Skip PNG plots")
	fs.Bool("no-html", false, "Skip interactive HTML charts")
}

// applyRunFlags copies every changed flag into cfg.
func applyRunFlags(fs *pflag.FlagSet, cfg *config.RunConfig) error {
	var firstErr error
	fs.Visit(func(f *pflag.Flag) {
		if firstErr != nil {
			return
		}
		if err := applyRunFlag(fs, f.Name, cfg); err != nil {
			firstErr = fmt.Errorf("--%s: %w", f.Name, err)
		}
	})
	return firstErr
}

func applyRunFlag(fs *pflag.FlagSet, name string, cfg *config.RunConfig) error {
	str := func(dst **string) error {
		v, err := fs.GetString(name)
		*dst = config.PtrString(v)
		return err
	}
	num := func(dst **float64) error {
		v, err := fs.GetFloat64(name)
		*dst = config.PtrFloat64(v)
		return err
	}
	// negated sets dst to the opposite of a --no-style flag.
	negated := func(dst **bool) error {
		v, err := fs.GetBool(name)
		*dst = config.PtrBool(!v)
		return err
	}
	unc := func(f jets.Flavor) error {
		v, err := fs.GetFloat64(name)
		if cfg.AcceptedUnc == nil {
			cfg.AcceptedUnc = make(map[string]float64)
		}
		cfg.AcceptedUnc[string(f)] = v
		return err
	}

	switch name {
	case "input":
		return str(&cfg.InputDir)
	case "datasets":
		v, err := fs.GetStringSlice(name)
		cfg.Datasets = v
		return err
	case "year":
		return str(&cfg.Year)
	case "apv":
		v, err := fs.GetBool(name)
		cfg.APV = config.PtrBool(v)
		return err
	case "algo":
		return str(&cfg.Algo)
	case "wp":
		return str(&cfg.WorkingPoint)
	case "eta-bins":
		v, err := fs.GetFloat64Slice(name)
		cfg.EtaBins = v
		return err
	case "signed-eta":
		return negated(&cfg.AbsEta)
	case "pt-min":
		return num(&cfg.PtMin)
	case "step":
		return num(&cfg.StepSize)
	case "pt-max":
		return num(&cfg.PtMax)
	case "pt-max-thr":
		return num(&cfg.PtMaxThr)
	case "pt-search-step":
		return num(&cfg.PtSearchStep)
	case "no-pt-search":
		return negated(&cfg.PtSearch)
	case "unc-b":
		return unc(jets.FlavorB)
	case "unc-c":
		return unc(jets.FlavorC)
	case "unc-udsg":
		return unc(jets.FlavorUDSG)
	case "not-find-best-unc":
		return negated(&cfg.Adaptive)
	case "unc-stop":
		return num(&cfg.UncStop)
	case "unc-increase":
		return num(&cfg.UncIncrease)
	case "output":
		return str(&cfg.OutputPath)
	case "history-db":
		return str(&cfg.HistoryDB)
	case "target-store":
		return str(&cfg.TargetStore)
	case "no-plots":
		return negated(&cfg.Plots)
	case "no-html":
		return negated(&cfg.HTML)
	}
	return nil
}
