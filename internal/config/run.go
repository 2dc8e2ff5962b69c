// Package config loads and validates run configurations.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/banshee-data/btag-effmaps/internal/calib"
	"github.com/banshee-data/btag-effmaps/internal/jets"
	"gopkg.in/yaml.v3"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Target store backends.
const (
	TargetStoreJSON   = "json"
	TargetStoreSQLite = "sqlite"
)

// RunConfig is one generator run. Nil fields take the defaults returned by
// the Get* accessors, so partial configs are safe.
type RunConfig struct {
	// Inputs
	InputDir *string             `json:"input_dir,omitempty" yaml:"input_dir,omitempty"`
	Datasets []string            `json:"datasets,omitempty" yaml:"datasets,omitempty"`
	Merge    map[string][]string `json:"merge,omitempty" yaml:"merge,omitempty"`

	// Calibration
	Year         *string       `json:"year,omitempty" yaml:"year,omitempty"`
	APV          *bool         `json:"apv,omitempty" yaml:"apv,omitempty"`
	Algo         *string       `json:"algo,omitempty" yaml:"algo,omitempty"`
	WorkingPoint *string       `json:"working_point,omitempty" yaml:"working_point,omitempty"`
	Calibrations []calib.Entry `json:"calibrations,omitempty" yaml:"calibrations,omitempty"`

	// Binning
	EtaBins  []float64 `json:"eta_bins,omitempty" yaml:"eta_bins,omitempty"`
	AbsEta   *bool     `json:"abs_eta,omitempty" yaml:"abs_eta,omitempty"`
	PtMin    *float64  `json:"pt_min,omitempty" yaml:"pt_min,omitempty"`
	StepSize *float64  `json:"step_size,omitempty" yaml:"step_size,omitempty"`

	// pt range search
	PtMax        *float64 `json:"pt_max,omitempty" yaml:"pt_max,omitempty"`
	PtMaxThr     *float64 `json:"pt_max_thr,omitempty" yaml:"pt_max_thr,omitempty"`
	PtSearch     *bool    `json:"pt_search,omitempty" yaml:"pt_search,omitempty"`
	PtSearchStep *float64 `json:"pt_search_step,omitempty" yaml:"pt_search_step,omitempty"`

	// Adaptive merging
	AcceptedUnc map[string]float64 `json:"accepted_unc,omitempty" yaml:"accepted_unc,omitempty"`
	Adaptive    *bool              `json:"adaptive,omitempty" yaml:"adaptive,omitempty"`
	UncStop     *float64           `json:"unc_stop,omitempty" yaml:"unc_stop,omitempty"`
	UncIncrease *float64           `json:"unc_increase,omitempty" yaml:"unc_increase,omitempty"`

	// Outputs
	OutputPath  *string `json:"output_path,omitempty" yaml:"output_path,omitempty"`
	HistoryDB   *string `json:"history_db,omitempty" yaml:"history_db,omitempty"`
	TargetStore *string `json:"target_store,omitempty" yaml:"target_store,omitempty"`
	Plots       *bool   `json:"plots,omitempty" yaml:"plots,omitempty"`
	HTML        *bool   `json:"html,omitempty" yaml:"html,omitempty"`
}

// Helper functions to create pointers
func PtrFloat64(v float64) *float64 { return &v }
func PtrBool(v bool) *bool          { return &v }
func PtrString(v string) *string    { return &v }

// EmptyRunConfig returns a RunConfig with all fields unset.
func EmptyRunConfig() *RunConfig {
	return &RunConfig{}
}

// LoadRunConfig loads a RunConfig from a .json, .yaml or .yml file. The
// document is checked against the embedded schema before decoding, then
// validated.
func LoadRunConfig(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if ext != ".json" {
		if data, err = yamlToJSON(data); err != nil {
			return nil, fmt.Errorf("failed to parse config YAML: %w", err)
		}
	}
	return ParseRunConfig(data)
}

// ParseRunConfig decodes and validates a JSON document.
func ParseRunConfig(data []byte) (*RunConfig, error) {
	if err := validateSchema(data); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfg := EmptyRunConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// yamlToJSON re-encodes a YAML document so that a single schema and decoder
// serve both formats.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(doc)
}

// Validate checks that the configuration values are valid. Required
// calibration fields are checked by Require.
func (c *RunConfig) Validate() error {
	if c.EtaBins != nil {
		if len(c.EtaBins) < 2 {
			return fmt.Errorf("eta_bins needs at least two edges, got %d", len(c.EtaBins))
		}
		for i := 1; i < len(c.EtaBins); i++ {
			if !(c.EtaBins[i] > c.EtaBins[i-1]) {
				return fmt.Errorf("eta_bins must be strictly increasing: %g after %g", c.EtaBins[i], c.EtaBins[i-1])
			}
		}
		if c.GetAbsEta() && c.EtaBins[0] < 0 {
			return fmt.Errorf("eta_bins must start at or above 0 when abs_eta is set, got %g", c.EtaBins[0])
		}
	}
	if c.PtMin != nil && (*c.PtMin < 0 || math.IsNaN(*c.PtMin)) {
		return fmt.Errorf("pt_min must be non-negative, got %g", *c.PtMin)
	}
	if c.GetPtMax() <= c.GetPtMin() {
		return fmt.Errorf("pt_max (%g) must be above pt_min (%g)", c.GetPtMax(), c.GetPtMin())
	}
	if thr := c.GetPtMaxThr(); thr <= 0 || thr >= 1 {
		return fmt.Errorf("pt_max_thr must be between 0 and 1, got %g", thr)
	}
	if c.GetStepSize() <= 0 {
		return fmt.Errorf("step_size must be positive, got %g", c.GetStepSize())
	}
	if c.GetPtSearchStep() <= 0 {
		return fmt.Errorf("pt_search_step must be positive, got %g", c.GetPtSearchStep())
	}
	for k, v := range c.AcceptedUnc {
		if _, err := jets.ParseFlavor(k); err != nil {
			return fmt.Errorf("accepted_unc: %w", err)
		}
		if v <= 0 {
			return fmt.Errorf("accepted_unc[%s] must be positive, got %g", k, v)
		}
	}
	if c.GetUncIncrease() < 0 {
		return fmt.Errorf("unc_increase must be non-negative, got %g", c.GetUncIncrease())
	}
	if c.GetUncIncrease() > 0 && c.GetUncStop() <= 0 {
		return fmt.Errorf("unc_stop must be positive when unc_increase is set")
	}
	switch c.GetTargetStore() {
	case TargetStoreJSON:
	case TargetStoreSQLite:
		if c.GetHistoryDB() == "" {
			return fmt.Errorf("target_store %q needs history_db", TargetStoreSQLite)
		}
	default:
		return fmt.Errorf("unknown target_store %q", c.GetTargetStore())
	}
	if c.APV != nil && *c.APV && c.Year != nil && *c.Year != "2016" && *c.Year != "16" {
		return fmt.Errorf("apv is only valid for 2016, got year %s", *c.Year)
	}
	return nil
}

// Require checks the fields a generator run cannot default.
func (c *RunConfig) Require() error {
	var missing []string
	if c.GetYear() == "" {
		missing = append(missing, "year")
	}
	if c.GetAlgo() == "" {
		missing = append(missing, "algo")
	}
	if c.GetWorkingPoint() == "" {
		missing = append(missing, "working_point")
	}
	if c.GetInputDir() == "" {
		missing = append(missing, "input_dir")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required settings: %s", strings.Join(missing, ", "))
	}
	return nil
}

// GetInputDir returns the input_dir value or "".
func (c *RunConfig) GetInputDir() string {
	if c.InputDir == nil {
		return ""
	}
	return *c.InputDir
}

// GetYear returns the year value or "".
func (c *RunConfig) GetYear() string {
	if c.Year == nil {
		return ""
	}
	return *c.Year
}

// GetAPV returns the apv value or the default.
func (c *RunConfig) GetAPV() bool {
	if c.APV == nil {
		return false
	}
	return *c.APV
}

// GetAlgo returns the algo value or "".
func (c *RunConfig) GetAlgo() string {
	if c.Algo == nil {
		return ""
	}
	return *c.Algo
}

// GetWorkingPoint returns the working_point value or "".
func (c *RunConfig) GetWorkingPoint() string {
	if c.WorkingPoint == nil {
		return ""
	}
	return *c.WorkingPoint
}

// GetEtaBins returns the eta edges or the default |eta| binning.
func (c *RunConfig) GetEtaBins() []float64 {
	if len(c.EtaBins) == 0 {
		return []float64{0, 0.8, 1.6, 2.4}
	}
	return append([]float64(nil), c.EtaBins...)
}

// GetAbsEta returns the abs_eta value or the default.
func (c *RunConfig) GetAbsEta() bool {
	if c.AbsEta == nil {
		return true
	}
	return *c.AbsEta
}

// GetPtMin returns the pt_min value or the default.
func (c *RunConfig) GetPtMin() float64 {
	if c.PtMin == nil {
		return 20
	}
	return *c.PtMin
}

// GetStepSize returns the step_size value or the default.
func (c *RunConfig) GetStepSize() float64 {
	if c.StepSize == nil {
		return 10
	}
	return *c.StepSize
}

// GetPtMax returns the pt_max value or the default. With pt_search enabled
// it is the initial guess of the range search.
func (c *RunConfig) GetPtMax() float64 {
	if c.PtMax == nil {
		return 1000
	}
	return *c.PtMax
}

// GetPtMaxThr returns the pt_max_thr value or the default.
func (c *RunConfig) GetPtMaxThr() float64 {
	if c.PtMaxThr == nil {
		return 0.001
	}
	return *c.PtMaxThr
}

// GetPtSearch returns the pt_search value or the default.
func (c *RunConfig) GetPtSearch() bool {
	if c.PtSearch == nil {
		return true
	}
	return *c.PtSearch
}

// GetPtSearchStep returns the pt_search_step value or the default.
func (c *RunConfig) GetPtSearchStep() float64 {
	if c.PtSearchStep == nil {
		return 10
	}
	return *c.PtSearchStep
}

// GetAcceptedUnc returns the seeding target of flavour f.
func (c *RunConfig) GetAcceptedUnc(f jets.Flavor) float64 {
	if v, ok := c.AcceptedUnc[string(f)]; ok {
		return v
	}
	return 0.001
}

// GetAdaptive returns the adaptive value or the default.
func (c *RunConfig) GetAdaptive() bool {
	if c.Adaptive == nil {
		return true
	}
	return *c.Adaptive
}

// GetUncStop returns the unc_stop value or the default (no relaxation).
func (c *RunConfig) GetUncStop() float64 {
	if c.UncStop == nil {
		return 0
	}
	return *c.UncStop
}

// GetUncIncrease returns the unc_increase value or the default (no relaxation).
func (c *RunConfig) GetUncIncrease() float64 {
	if c.UncIncrease == nil {
		return 0
	}
	return *c.UncIncrease
}

// GetOutputPath returns the output_path value or the default.
func (c *RunConfig) GetOutputPath() string {
	if c.OutputPath == nil || *c.OutputPath == "" {
		return "./output"
	}
	return *c.OutputPath
}

// GetHistoryDB returns the history_db path or "" when history is disabled.
func (c *RunConfig) GetHistoryDB() string {
	if c.HistoryDB == nil {
		return ""
	}
	return *c.HistoryDB
}

// GetTargetStore returns the target_store value or the default.
func (c *RunConfig) GetTargetStore() string {
	if c.TargetStore == nil || *c.TargetStore == "" {
		return TargetStoreJSON
	}
	return *c.TargetStore
}

// GetPlots returns the plots value or the default.
func (c *RunConfig) GetPlots() bool {
	if c.Plots == nil {
		return true
	}
	return *c.Plots
}

// GetHTML returns the html value or the default.
func (c *RunConfig) GetHTML() bool {
	if c.HTML == nil {
		return true
	}
	return *c.HTML
}
