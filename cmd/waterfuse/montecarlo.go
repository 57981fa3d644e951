package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func montecarloCommand(g *globals) *cobra.Command {
	var isIndex bool

	cmd := &cobra.Command{
		Use:   "montecarlo <input.tif> <probability.tif>",
		Short: "Turn a band stack or MNDWI raster into a water probability raster",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}

			runErr := a.RunMonteCarlo(args[0], args[1], isIndex)
			if runErr == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "probability: %s\n", args[1])
			}
			return errors.Join(runErr, a.Close())
		},
	}

	cmd.Flags().BoolVar(&isIndex, "index", false, "Input band 1 is already an MNDWI raster")
	return cmd
}
