package main

import (
	"io"
	"log"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btag-effmaps/internal/config"
	"github.com/banshee-data/btag-effmaps/internal/effmap"
	"github.com/banshee-data/btag-effmaps/internal/ptrange"
	"github.com/banshee-data/btag-effmaps/internal/run"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "effmaps",
		Short:        "Build b-tagging efficiency maps",
		Long:         "effmaps derives per-process b-tagging efficiency maps in (|eta|, pt) from weighted simulated jets.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbose, _ := cmd.Flags().GetBool("verbose")
			trace, _ := cmd.Flags().GetBool("trace")
			setLogWriters(cmd.ErrOrStderr(), verbose, trace)
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to a run config (.json, .yaml or .yml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "Log per-dataset summaries and relaxations")
	root.PersistentFlags().Bool("trace", false, "Log every merge step and search iteration")

	root.AddCommand(newGenerateCmd())
	root.AddCommand(newPtMaxCmd())
	root.AddCommand(newTargetsCmd())
	root.AddCommand(newMigrateCmd())
	root.AddCommand(newServeCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// setLogWriters routes the ops stream to w always, the diag stream with
// --verbose and the trace stream with --trace.
func setLogWriters(w io.Writer, verbose, trace bool) {
	var diag, tr io.Writer
	if verbose || trace {
		diag = w
	}
	if trace {
		tr = w
	}
	effmap.SetLogWriters(w, diag, tr)
	ptrange.SetLogWriters(w, diag, tr)
	run.SetLogWriters(w, diag, tr)
	log.SetOutput(w)
}

// loadConfig reads --config when given, then applies the command's changed
// flags on top.
func loadConfig(cmd *cobra.Command) (*config.RunConfig, error) {
	cfg := config.EmptyRunConfig()
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		loaded, err := config.LoadRunConfig(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := applyRunFlags(cmd.Flags(), cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
