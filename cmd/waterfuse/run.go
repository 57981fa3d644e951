package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func runCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Process every configured scene and write the report",
		Long: `Align each scene, sweep MNDWI thresholds, fuse with the model probability,
write <scene>_ensemble_prob.tif and <scene>_ensemble_mask.tif and evaluate
them against the configured references. Failed scenes are reported as
skipped; the run carries on with the rest.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}

			doc, path, runErr := a.RunBatch()
			if path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d results, %d skipped, %d scenes written\nreport: %s\n",
					doc.RunID, doc.Results.Len(), len(doc.Skipped), len(doc.Outputs), path)
			}
			return errors.Join(runErr, a.Close())
		},
	}
}
