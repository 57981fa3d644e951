package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

func evaluateCommand(g *globals) *cobra.Command {
	var prediction string

	cmd := &cobra.Command{
		Use:   "evaluate <scene-id>",
		Short: "Score a prediction raster against the references of a configured scene",
		Long: `Evaluate a prediction against every reference configured for the scene at
each evaluation threshold. Without --prediction the ensemble probability
written by a previous run is used.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}

			doc, path, evalErr := a.Evaluate(args[0], prediction)
			if path != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "%d results, %d skipped\nreport: %s\n",
					doc.Results.Len(), len(doc.Skipped), path)
				for _, b := range doc.Best {
					fmt.Fprintf(cmd.OutOrStdout(), "best %s/%s: %s (F1 %.4f, accuracy %.4f)\n",
						b.Scene, b.Reference, b.Threshold, b.F1, b.Accuracy)
				}
			}
			return errors.Join(evalErr, a.Close())
		},
	}

	cmd.Flags().StringVarP(&prediction, "prediction", "p", "", "Prediction raster, defaults to <output_dir>/<scene>_ensemble_prob.tif")
	return cmd
}
