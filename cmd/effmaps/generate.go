package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btag-effmaps/internal/config"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/banshee-data/btag-effmaps/internal/run"
)

func newGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Search the pt range, then build and write the efficiency maps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			c, err := initRun(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			rep, err := c.Run()
			if err != nil {
				return err
			}
			printReport(cmd, rep)
			if rep.Status() == run.StatusFailed {
				return fmt.Errorf("no efficiency map could be built")
			}
			return nil
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}

func initRun(cfg *config.RunConfig) (*run.Context, error) {
	return run.Init(cfg, jets.NewCSVCatalog(cfg.GetInputDir()))
}

func printReport(cmd *cobra.Command, rep *run.Report) {
	out := cmd.OutOrStdout()
	if rep.RunID != "" {
		fmt.Fprintf(out, "run %s\n", rep.RunID)
	}
	fmt.Fprintf(out, "pt_max = %g (%d iterations, converged=%t)\n",
		rep.Search.PtMax, rep.Search.Iterations, rep.Search.Converged)
	for _, name := range rep.Excluded {
		fmt.Fprintf(out, "excluded from pt search: %s\n", name)
	}
	for _, o := range rep.Outcomes {
		flags := "-"
		if o.Result != nil {
			flags = o.Result.Flags.String()
		}
		fmt.Fprintf(out, "%-30s %-16s %s\n", o.Dataset, o.Status(), flags)
		if o.Err != nil {
			log.Printf("%s: %v", o.Dataset, o.Err)
		}
	}
	for _, f := range rep.Files {
		fmt.Fprintf(out, "wrote %s\n", f)
	}
}
