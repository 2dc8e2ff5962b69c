package main

import (
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/banshee-data/btag-effmaps/internal/run"
)

func newPtMaxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ptmax",
		Short: "Run only the batch-wide pt range search",
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

			res, excluded, err := c.FindPtMax()
			if err != nil && !errors.Is(err, run.ErrNonConvergence) {
				return err
			}
			out := cmd.OutOrStdout()
			names := make([]string, 0, len(res.Fractions))
			for name := range res.Fractions {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(out, "%-30s %.4f%% above\n", name, 100*res.Fractions[name])
			}
			for _, name := range excluded {
				fmt.Fprintf(out, "%-30s excluded (no positive weight)\n", name)
			}
			fmt.Fprintf(out, "Chosen pt_max = %g\n", res.PtMax)
			return err
		},
	}
	addRunFlags(cmd.Flags())
	return cmd
}
