package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btag-effmaps/internal/jets"
	"github.com/banshee-data/btag-effmaps/internal/run"
)

func newTargetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect or seed the per-dataset uncertainty targets",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the stored targets of the configured calibration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openTargets(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "dataset\tb\tc\tudsg")
			for _, name := range c.Targets.Datasets() {
				t, _ := c.Targets.Get(name)
				fmt.Fprintf(tw, "%s", name)
				for _, f := range jets.Flavors {
					fmt.Fprintf(tw, "\t%g", t[f])
				}
				fmt.Fprintln(tw)
			}
			return tw.Flush()
		},
	}

	seed := &cobra.Command{
		Use:   "seed DATASET...",
		Short: "Add datasets with the default targets, keeping existing entries",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := openTargets(cmd)
			if err != nil {
				return err
			}
			defer c.Close()

			for _, name := range args {
				if _, ok := c.Targets.Get(name); ok {
					continue
				}
				c.Targets.Seed(name)
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %s\n", name)
			}
			return c.Store.Save(c.Targets)
		},
	}

	for _, sub := range []*cobra.Command{show, seed} {
		addRunFlags(sub.Flags())
		cmd.AddCommand(sub)
	}
	return cmd
}

func openTargets(cmd *cobra.Command) (*run.Context, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return run.InitStores(cfg)
}
