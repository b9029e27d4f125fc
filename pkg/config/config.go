// Package config provides configuration loading and management for mustard.
// It handles loading configuration from YAML or JSON5 files and provides
// default values.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	json5 "github.com/KevinWang15/go-json5"
	"gopkg.in/yaml.v3"

	"mustard/internal/models"
	"mustard/pkg/estimator"
	"mustard/pkg/initguess"
	"mustard/pkg/logging"
	"mustard/pkg/masks"
	"mustard/pkg/model"
	"mustard/pkg/regularization"
	"mustard/pkg/rotation"
)

// ConvergeKeyword is the iteration trigger that fires at convergence
const ConvergeKeyword = "converg"

// IterationTrigger is an iteration index or the "converg" keyword
type IterationTrigger struct {
	Iteration     int
	AtConvergence bool
}

// Resolve returns the iteration index of the trigger. "converg" maps to
// maxIter so that it only fires early through a convergence.
func (t IterationTrigger) Resolve(maxIter int) int {
	if t.AtConvergence {
		return maxIter
	}
	return t.Iteration
}

func (t IterationTrigger) String() string {
	if t.AtConvergence {
		return ConvergeKeyword
	}
	return strconv.Itoa(t.Iteration)
}

func (t *IterationTrigger) parse(s string) error {
	s = strings.Trim(strings.TrimSpace(s), `"'`)
	switch strings.ToLower(s) {
	case "", "null", "none":
		*t = IterationTrigger{}
		return nil
	case ConvergeKeyword:
		*t = IterationTrigger{AtConvergence: true}
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return models.NewConfigurationError("iteration trigger", s, `expected an integer or "converg"`)
	}
	*t = IterationTrigger{Iteration: n}
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (t *IterationTrigger) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return models.NewConfigurationError("iteration trigger", value.Value, "expected a scalar")
	}
	return t.parse(value.Value)
}

// MarshalYAML implements yaml.Marshaler
func (t IterationTrigger) MarshalYAML() (interface{}, error) {
	if t.AtConvergence {
		return ConvergeKeyword, nil
	}
	return t.Iteration, nil
}

// UnmarshalJSON accepts a number or a quoted keyword
func (t *IterationTrigger) UnmarshalJSON(data []byte) error {
	return t.parse(string(data))
}

// MarshalJSON is the inverse of UnmarshalJSON
func (t IterationTrigger) MarshalJSON() ([]byte, error) {
	if t.AtConvergence {
		return []byte(`"` + ConvergeKeyword + `"`), nil
	}
	return []byte(strconv.Itoa(t.Iteration)), nil
}

// Config represents the run configuration
type Config struct {
	// Forward model parameters
	Model struct {
		// CoroRadius is the radius in pixels of the occulted disk, 0 disables it
		CoroRadius float64 `yaml:"coroRadius" json:"coroRadius"`

		// Pupil is "edge", "none" or a radius in pixels
		Pupil string `yaml:"pupil" json:"pupil"`

		// PSF is the path of a FITS PSF convolved into X; empty disables it
		PSF string `yaml:"psf" json:"psf"`

		// ConvolveL also convolves L with the PSF
		ConvolveL bool `yaml:"convolveL" json:"convolveL"`

		// Ways enables the direct and the reverse way, as 0/1 flags
		Ways [2]int `yaml:"ways" json:"ways"`

		// WeightedRotation weights each frame by the sampling of its angle
		WeightedRotation bool `yaml:"weightedRotation" json:"weightedRotation"`

		// AngleShift is subtracted from every angle and restored on output
		AngleShift float64 `yaml:"angleShift" json:"angleShift"`

		// Workers bounds the goroutines of one evaluation, 0 uses all cores
		Workers int `yaml:"workers" json:"workers"`

		// Border is the edge handling of derotated cubes, "wrap" or "zero"
		Border string `yaml:"border" json:"border"`
	} `yaml:"model" json:"model"`

	// Regularization parameters
	Regularization struct {
		// R1 is smooth, smooth_with_edges, peak_preservation, l1 or none
		R1 string `yaml:"r1" json:"r1"`

		// SmoothL also applies R1 to L, weighted by PL
		SmoothL bool    `yaml:"smoothL" json:"smoothL"`
		PL      float64 `yaml:"pL" json:"pL"`
		Epsilon float64 `yaml:"epsilon" json:"epsilon"`

		// R2 is mask, dist, l1 or none
		R2 string `yaml:"r2" json:"r2"`

		// Penalize selects the R2 target: X, L, B or TB
		Penalize string  `yaml:"penalize" json:"penalize"`
		Invert   bool    `yaml:"invert" json:"invert"`
		PW       float64 `yaml:"pw" json:"pw"`

		// Mask is the path of the FITS prior mask used by R2
		Mask string `yaml:"mask" json:"mask"`

		WR  float64 `yaml:"wR" json:"wR"`
		WR2 float64 `yaml:"wR2" json:"wR2"`

		// Percent makes WR and WR2 fractions of the data loss
		Percent    bool `yaml:"percent" json:"percent"`
		Positivity bool `yaml:"positivity" json:"positivity"`
	} `yaml:"regularization" json:"regularization"`

	// Optimization parameters
	Optimization struct {
		MaxIter int     `yaml:"maxIter" json:"maxIter"`
		Gtol    float64 `yaml:"gtol" json:"gtol"`

		KActiv  IterationTrigger `yaml:"kactiv" json:"kactiv"`
		KDActiv IterationTrigger `yaml:"kdactiv" json:"kdactiv"`

		// Estimation is None, Frame, L, Both, JustX, JustL or Halo
		Estimation string `yaml:"estimation" json:"estimation"`

		InnerIterations int `yaml:"innerIterations" json:"innerIterations"`
		History         int `yaml:"history" json:"history"`
	} `yaml:"optimization" json:"optimization"`

	// Initial guess parameters
	Init struct {
		// Mode is max_common, pca, pcait or pca_annular
		Mode         string `yaml:"mode" json:"mode"`
		Components   int    `yaml:"components" json:"components"`
		Iterations   int    `yaml:"iterations" json:"iterations"`
		AnnulusWidth int    `yaml:"annulusWidth" json:"annulusWidth"`

		// L0 and X0 are optional FITS starting maps
		L0 string `yaml:"l0" json:"l0"`
		X0 string `yaml:"x0" json:"x0"`
	} `yaml:"init" json:"init"`

	// Preprocessing of the cube
	Preprocess struct {
		MedianSubtract bool  `yaml:"medianSubtract" json:"medianSubtract"`
		BadFrames      []int `yaml:"badFrames,omitempty" json:"badFrames,omitempty"`
	} `yaml:"preprocess" json:"preprocess"`

	// Output parameters
	Output struct {
		Dir    string `yaml:"dir" json:"dir"`
		Suffix string `yaml:"suffix" json:"suffix"`

		// Previews saves JPEG previews of the maps and the residuals
		Previews bool `yaml:"previews" json:"previews"`

		// Plots saves the convergence and flux plots
		Plots bool `yaml:"plots" json:"plots"`
	} `yaml:"output" json:"output"`

	Logging logging.Config `yaml:"logging" json:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Model.CoroRadius = 6
	cfg.Model.Pupil = "edge"
	cfg.Model.Ways = [2]int{1, 0}
	cfg.Model.Border = "wrap"

	cfg.Regularization.R1 = "smooth"
	cfg.Regularization.SmoothL = true
	cfg.Regularization.PL = 1
	cfg.Regularization.Epsilon = 1e-7
	cfg.Regularization.R2 = "none"
	cfg.Regularization.Penalize = "X"
	cfg.Regularization.PW = 2
	cfg.Regularization.WR = 0.03
	cfg.Regularization.Percent = true

	cfg.Optimization.MaxIter = 10
	cfg.Optimization.Gtol = 1e-10
	cfg.Optimization.Estimation = "None"
	cfg.Optimization.InnerIterations = 20
	cfg.Optimization.History = 100

	cfg.Init.Mode = "max_common"
	cfg.Init.Components = 1
	cfg.Init.Iterations = 3
	cfg.Init.AnnulusWidth = 4

	cfg.Output.Dir = "."
	cfg.Output.Previews = true
	cfg.Output.Plots = true

	cfg.Logging = logging.DefaultConfig()

	return cfg
}

// LoadConfig loads configuration from a YAML or JSON5 file, chosen by the
// extension. If the file doesn't exist, it returns the default configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(configPath)) {
	case ".json", ".json5":
		err = decodeJSON5(data, cfg)
	default:
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// decodeJSON5 parses the relaxed JSON5 syntax into generic values and decodes
// them with encoding/json, which honors the json.Unmarshaler fields.
func decodeJSON5(data []byte, cfg *Config) error {
	var raw interface{}
	if err := json5.Unmarshal(data, &raw); err != nil {
		return err
	}
	strict, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return json.Unmarshal(strict, cfg)
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks every enumerated option and numeric range. The first
// problem is returned as a ConfigurationError.
func (c *Config) Validate() error {
	if c.Model.CoroRadius < 0 {
		return models.NewConfigurationError("model.coroRadius", c.Model.CoroRadius, "must not be negative")
	}
	if _, err := masks.ParsePupil(c.Model.Pupil); err != nil {
		return err
	}
	if _, err := model.ParseWays(c.Model.Ways); err != nil {
		return err
	}
	if c.Model.Workers < 0 {
		return models.NewConfigurationError("model.workers", c.Model.Workers, "must not be negative")
	}
	if _, err := rotation.ParseBorder(c.Model.Border); err != nil {
		return err
	}

	if _, _, err := c.R1Mode(); err != nil {
		return err
	}
	if _, _, err := c.R2Mode(); err != nil {
		return err
	}
	if _, err := regularization.ParseTarget(c.Regularization.Penalize); err != nil {
		return err
	}
	if c.Regularization.WR < 0 || c.Regularization.WR2 < 0 {
		return models.NewConfigurationError("regularization weights", [2]float64{c.Regularization.WR, c.Regularization.WR2}, "must not be negative")
	}

	if c.Optimization.MaxIter <= 0 {
		return models.NewConfigurationError("optimization.maxIter", c.Optimization.MaxIter, "must be positive")
	}
	if c.Optimization.Gtol < 0 {
		return models.NewConfigurationError("optimization.gtol", c.Optimization.Gtol, "must not be negative")
	}
	if c.Optimization.KActiv.Iteration < 0 || c.Optimization.KDActiv.Iteration < 0 {
		return models.NewConfigurationError("optimization.kactiv", c.Optimization.KActiv, "must not be negative")
	}
	if _, err := estimator.ParseMode(c.Optimization.Estimation); err != nil {
		return err
	}

	if _, err := initguess.ParseMode(c.Init.Mode); err != nil {
		return err
	}
	if c.Init.Components < 0 || c.Init.Iterations < 0 || c.Init.AnnulusWidth < 0 {
		return models.NewConfigurationError("init", c.Init, "counts must not be negative")
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return models.NewConfigurationError("logging.level", c.Logging.Level, err.Error())
	}
	return nil
}

// R1Mode returns the parsed R1 mode; ok is false when R1 is disabled
func (c *Config) R1Mode() (mode regularization.R1Mode, ok bool, err error) {
	if isNone(c.Regularization.R1) {
		return 0, false, nil
	}
	mode, err = regularization.ParseR1Mode(c.Regularization.R1)
	return mode, err == nil, err
}

// R2Mode returns the parsed R2 mode; ok is false when R2 is disabled
func (c *Config) R2Mode() (mode regularization.R2Mode, ok bool, err error) {
	if isNone(c.Regularization.R2) {
		return 0, false, nil
	}
	mode, err = regularization.ParseR2Mode(c.Regularization.R2)
	return mode, err == nil, err
}

func isNone(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "off":
		return true
	}
	return false
}
