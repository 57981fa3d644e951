// Package config loads and validates run configuration from YAML files,
// WATERFUSE_* environment variables and command-line flags.
package config

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/evaluation"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/fusion"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/logger"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/montecarlo"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/nodata"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/raster"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/report"
	"github.com/EqUaL90/DL-MC-MNDWI-Ensemble/internal/threshold"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. WATERFUSE_N_SAMPLES.
const EnvPrefix = "WATERFUSE"

// DefaultWaterCode is used for categorical references without an entry in
// reference_class_codes.
const DefaultWaterCode = 1.0

type Config struct {
	ThresholdMin        float64            `mapstructure:"threshold_min" yaml:"threshold_min"`
	ThresholdMax        float64            `mapstructure:"threshold_max" yaml:"threshold_max"`
	NSamples            int                `mapstructure:"n_samples" yaml:"n_samples"`
	FusionRule          string             `mapstructure:"fusion_rule" yaml:"fusion_rule"`
	DecisionThreshold   float64            `mapstructure:"decision_threshold" yaml:"decision_threshold"`
	SentinelValues      []float64          `mapstructure:"sentinel_values" yaml:"sentinel_values"`
	ZeroIsNodata        bool               `mapstructure:"zero_is_nodata" yaml:"zero_is_nodata"`
	ReferenceClassCodes map[string]float64 `mapstructure:"reference_class_codes" yaml:"reference_class_codes"`
	EvalThresholds      []float64          `mapstructure:"eval_thresholds" yaml:"eval_thresholds"`
	GreenBand           int                `mapstructure:"green_band" yaml:"green_band"`
	SwirBand            int                `mapstructure:"swir_band" yaml:"swir_band"`
	TargetResolution    float64            `mapstructure:"target_resolution" yaml:"target_resolution"`
	AOI                 string             `mapstructure:"aoi" yaml:"aoi"`
	AOICRS              string             `mapstructure:"aoi_crs" yaml:"aoi_crs"`
	Workers             int                `mapstructure:"workers" yaml:"workers"`
	SceneWorkers        int                `mapstructure:"scene_workers" yaml:"scene_workers"`
	OutputDir           string             `mapstructure:"output_dir" yaml:"output_dir"`
	ReportFormat        string             `mapstructure:"report_format" yaml:"report_format"`
	MetricsTextfile     string             `mapstructure:"metrics_textfile" yaml:"metrics_textfile"`
	LogLevel            string             `mapstructure:"log_level" yaml:"log_level"`
	Scenes              []Scene            `mapstructure:"scenes" yaml:"scenes"`
}

// Scene names the inputs of one acquisition.
type Scene struct {
	ID               string      `mapstructure:"id" yaml:"id"`
	Bands            string      `mapstructure:"bands" yaml:"bands"`
	ModelProbability string      `mapstructure:"model_probability" yaml:"model_probability"`
	References       []Reference `mapstructure:"references" yaml:"references"`
}

// Reference names one ground-truth raster of a scene.
type Reference struct {
	Name       string `mapstructure:"name" yaml:"name"`
	Path       string `mapstructure:"path" yaml:"path"`
	Semantics  string `mapstructure:"semantics" yaml:"semantics"`
	ExtentPath string `mapstructure:"extent_path" yaml:"extent_path,omitempty"`
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("threshold_min", 0.2)
	v.SetDefault("threshold_max", 0.4)
	v.SetDefault("n_samples", 1000)
	v.SetDefault("fusion_rule", string(fusion.Max))
	v.SetDefault("decision_threshold", fusion.DefaultDecisionThreshold)
	v.SetDefault("sentinel_values", []float64{nodata.DefaultSentinel})
	v.SetDefault("zero_is_nodata", false)
	v.SetDefault("reference_class_codes", map[string]float64{"iso": 1})
	v.SetDefault("eval_thresholds", []float64{0.10, 0.20, 0.22, 0.40, 0.90})
	v.SetDefault("green_band", 3)
	v.SetDefault("swir_band", 6)
	v.SetDefault("target_resolution", 0.0)
	v.SetDefault("aoi", "")
	v.SetDefault("aoi_crs", "")
	v.SetDefault("workers", 0)
	v.SetDefault("scene_workers", 1)
	v.SetDefault("output_dir", "out")
	v.SetDefault("report_format", string(report.JSON))
	v.SetDefault("metrics_textfile", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("scenes", []Scene{})
}

// Load reads path (optional) over the defaults, applies environment
// overrides and validates the result. Pass the viper instance flags were
// bound to, or nil for a fresh one.
func Load(path string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every parameter before any raster is touched. All problems
// are reported together.
func (c *Config) Validate() error {
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	_, err := montecarlo.New(c.MonteCarlo(), nil)
	check(err)
	_, err = fusion.ParseRule(c.FusionRule)
	check(err)
	if c.DecisionThreshold < 0 || c.DecisionThreshold > 1 {
		check(invalid("decision_threshold %g outside [0, 1]", c.DecisionThreshold))
	}
	_, err = c.EvalThresholdSet()
	check(err)
	if c.GreenBand < 1 || c.SwirBand < 1 {
		check(invalid("band numbers start at 1 (green %d, swir %d)", c.GreenBand, c.SwirBand))
	}
	if c.TargetResolution < 0 {
		check(invalid("target_resolution %g is negative", c.TargetResolution))
	}
	if c.AOICRS != "" && c.AOI == "" {
		check(invalid("aoi_crs %q given without aoi", c.AOICRS))
	}
	if c.SceneWorkers < 1 {
		check(invalid("scene_workers %d must be at least 1", c.SceneWorkers))
	}
	_, err = report.ParseFormat(c.ReportFormat)
	check(err)
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		check(fmt.Errorf("%w: %w", err, raster.ErrInvalidParameter))
	}

	seen := map[string]bool{}
	for i, s := range c.Scenes {
		if s.ID == "" {
			check(invalid("scene %d has no id", i))
			continue
		}
		if seen[s.ID] {
			check(invalid("duplicate scene id %q", s.ID))
		}
		seen[s.ID] = true
		refs := map[string]bool{}
		for _, r := range s.References {
			if r.Name == "" {
				check(invalid("scene %q has a reference without name", s.ID))
				continue
			}
			if refs[r.Name] {
				check(invalid("scene %q lists reference %q twice", s.ID, r.Name))
			}
			refs[r.Name] = true
			_, err := c.Semantics(r)
			check(err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// MonteCarlo returns the sweep parameters.
func (c *Config) MonteCarlo() montecarlo.Config {
	return montecarlo.Config{Min: c.ThresholdMin, Max: c.ThresholdMax, Samples: c.NSamples, Workers: c.Workers}
}

// Policy returns the nodata policy of probability, reference and extent
// rasters. Zero is a valid sample there, so zero_is_nodata is not part of it.
func (c *Config) Policy() nodata.Policy {
	return nodata.Policy{Sentinels: append([]float64(nil), c.SentinelValues...)}
}

// BandPolicy returns the policy for reflectance band stacks, where
// zero_is_nodata applies.
func (c *Config) BandPolicy() nodata.Policy {
	p := c.Policy()
	p.ZeroIsNodata = c.ZeroIsNodata
	return p
}

func (c *Config) Rule() (fusion.Rule, error) {
	return fusion.ParseRule(c.FusionRule)
}

func (c *Config) Format() (report.Format, error) {
	return report.ParseFormat(c.ReportFormat)
}

func (c *Config) EvalThresholdSet() (threshold.Set, error) {
	return threshold.Discrete(c.EvalThresholds...)
}

// Semantics resolves how a reference is binarised. Categorical references
// take their water code from reference_class_codes, keyed by reference name.
func (c *Config) Semantics(r Reference) (evaluation.Semantics, error) {
	code, ok := c.ReferenceClassCodes[strings.ToLower(r.Name)]
	if !ok {
		code = DefaultWaterCode
	}
	kind := r.Semantics
	if kind == "" && ok {
		kind = "categorical"
	}
	return evaluation.ParseSemantics(kind, code)
}

// Write dumps the effective configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, raster.ErrInvalidParameter)...)
}
