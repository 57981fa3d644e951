package main

import (
	"fmt"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/app"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// globals is shared by every subcommand: the config file path and the viper
// instance the persistent flags are bound to.
type globals struct {
	configPath string
	v          *viper.Viper
}

// boundFlags maps persistent flag names onto configuration keys.
var boundFlags = map[string]string{
	"log-level":          "log_level",
	"output-dir":         "output_dir",
	"workers":            "workers",
	"scene-workers":      "scene_workers",
	"n-samples":          "n_samples",
	"threshold-min":      "threshold_min",
	"threshold-max":      "threshold_max",
	"fusion-rule":        "fusion_rule",
	"decision-threshold": "decision_threshold",
	"target-resolution":  "target_resolution",
	"report-format":      "report_format",
	"metrics-textfile":   "metrics_textfile",
	"aoi":                "aoi",
	"aoi-crs":            "aoi_crs",
}

// RootCommand creates the waterfuse command tree.
func RootCommand() *cobra.Command {
	g := &globals{v: viper.New()}

	rootCmd := &cobra.Command{
		Use:           app.AppName,
		Short:         "Monte Carlo MNDWI and model probability fusion for surface water mapping",
		Version:       app.AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd.PersistentFlags(), g); err != nil {
		// Only reachable if a flag name in boundFlags is misspelt.
		panic(err)
	}

	rootCmd.AddCommand(
		runCommand(g),
		montecarloCommand(g),
		evaluateCommand(g),
		configCommand(g),
	)
	return rootCmd
}

func setupFlags(flags *pflag.FlagSet, g *globals) error {
	flags.StringVarP(&g.configPath, "config", "c", "", "Path to the YAML configuration file")
	flags.String("log-level", "info", "Log level: debug, info, warn, error or off")
	flags.StringP("output-dir", "o", "out", "Directory for rasters and reports")
	flags.Int("workers", 0, "Goroutines per threshold sweep, 0 for one per CPU")
	flags.Int("scene-workers", 1, "Scenes processed concurrently")
	flags.Int("n-samples", 1000, "Number of Monte Carlo thresholds")
	flags.Float64("threshold-min", 0.2, "Lowest MNDWI threshold")
	flags.Float64("threshold-max", 0.4, "Highest MNDWI threshold")
	flags.String("fusion-rule", "max", "Fusion rule: max, mean or min")
	flags.Float64("decision-threshold", 0.5, "Probability at which a fused pixel counts as water")
	flags.Float64("target-resolution", 0, "Output pixel size in CRS units, 0 keeps the index grid")
	flags.String("report-format", "json", "Report format: json or yaml")
	flags.String("metrics-textfile", "", "Write Prometheus metrics to this file")
	flags.String("aoi", "", "Area of interest (.shp or .geojson)")
	flags.String("aoi-crs", "", "Reference system of the AOI file, EPSG:<code> or PROJ.4")

	for name, key := range boundFlags {
		if err := g.v.BindPFlag(key, flags.Lookup(name)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", name, err)
		}
	}
	return nil
}

// load resolves defaults, the config file, WATERFUSE_* variables and flags.
func (g *globals) load() (*config.Config, error) {
	return config.Load(g.configPath, g.v)
}

func (g *globals) open(cmd *cobra.Command) (*app.Application, error) {
	cfg, err := g.load()
	if err != nil {
		return nil, err
	}
	return app.NewApplication(cmd.Context(), cfg, app.Options{})
}
