package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/murtazakamran18/count-steps/internal/steps"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
// This is the single source of truth for all default tuning values.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig represents the root configuration for tuning parameters.
// The schema matches the /api/classifier/config endpoint so the same JSON
// can be used for both startup configuration and runtime updates. Pointer
// fields distinguish "not set" from an explicit zero; the Get* methods
// supply defaults for unset fields.
type TuningConfig struct {
	// Classifier params
	CooldownMillis      *int64   `json:"cooldown_millis,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	MovementThreshold   *float64 `json:"movement_threshold,omitempty"`
	VerticalThreshold   *float64 `json:"vertical_threshold,omitempty"`
	MovementWeight      *float64 `json:"movement_weight,omitempty"`
	IntervalWeight      *float64 `json:"interval_weight,omitempty"`
	VerticalWeight      *float64 `json:"vertical_weight,omitempty"`

	// Walk sessionization params
	WalkGapSeconds     *float64 `json:"walk_gap_seconds,omitempty"`
	WalkMinSteps       *int     `json:"walk_min_steps,omitempty"`
	WalkWorkerInterval *string  `json:"walk_worker_interval,omitempty"` // duration string like "60s"
	WalkWindow         *string  `json:"walk_window,omitempty"`          // duration string like "30m"

	// Retention params
	SampleRetentionDays *int `json:"sample_retention_days,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrInt64(v int64) *int64       { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
// Use LoadTuningConfig to load actual values from the defaults file.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a TuningConfig with every field explicitly set
// to its default value. Mostly useful for writing out a complete defaults
// file and in tests.
func DefaultTuningConfig() *TuningConfig {
	def := steps.DefaultConfig()
	return &TuningConfig{
		CooldownMillis:      ptrInt64(def.CooldownMillis),
		ConfidenceThreshold: ptrFloat64(def.ConfidenceThreshold),
		MovementThreshold:   ptrFloat64(def.MovementThreshold),
		VerticalThreshold:   ptrFloat64(def.VerticalThreshold),
		MovementWeight:      ptrFloat64(def.MovementWeight),
		IntervalWeight:      ptrFloat64(def.IntervalWeight),
		VerticalWeight:      ptrFloat64(def.VerticalWeight),
		WalkGapSeconds:      ptrFloat64(20),
		WalkMinSteps:        ptrInt(10),
		WalkWorkerInterval:  ptrString("60s"),
		WalkWindow:          ptrString("30m"),
		SampleRetentionDays: ptrInt(14),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
// Fields omitted from the JSON file retain their default values, so
// partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	// Validate the config file path.
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse JSON into empty config. The Get* methods provide fallback
	// defaults for any fields not specified in the JSON.
	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches for the file in the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	// Try paths from current dir up to repo root
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // deeper packages
		"../../../../" + DefaultConfigPath,
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid. Classifier fields
// are checked by assembling the resulting classifier config, so a tuning file
// can never pass validation here and then fail classifier construction.
func (c *TuningConfig) Validate() error {
	if err := c.ApplyClassifier(steps.DefaultConfig()).Validate(); err != nil {
		return err
	}

	if c.WalkGapSeconds != nil && *c.WalkGapSeconds <= 0 {
		return fmt.Errorf("walk_gap_seconds must be positive, got %f", *c.WalkGapSeconds)
	}

	if c.WalkMinSteps != nil && *c.WalkMinSteps < 1 {
		return fmt.Errorf("walk_min_steps must be at least 1, got %d", *c.WalkMinSteps)
	}

	// Validate WalkWorkerInterval can be parsed if set
	if c.WalkWorkerInterval != nil && *c.WalkWorkerInterval != "" {
		if _, err := time.ParseDuration(*c.WalkWorkerInterval); err != nil {
			return fmt.Errorf("invalid walk_worker_interval '%s': %w", *c.WalkWorkerInterval, err)
		}
	}

	// Validate WalkWindow can be parsed if set
	if c.WalkWindow != nil && *c.WalkWindow != "" {
		if _, err := time.ParseDuration(*c.WalkWindow); err != nil {
			return fmt.Errorf("invalid walk_window '%s': %w", *c.WalkWindow, err)
		}
	}

	if c.SampleRetentionDays != nil && *c.SampleRetentionDays < 0 {
		return fmt.Errorf("sample_retention_days must be non-negative, got %d", *c.SampleRetentionDays)
	}

	return nil
}

// ApplyClassifier overlays the set classifier fields onto base and returns
// the result. Unset fields keep the base value, which makes the same struct
// usable both for startup (base = stock defaults) and for partial runtime
// updates (base = the currently active config).
func (c *TuningConfig) ApplyClassifier(base steps.Config) steps.Config {
	out := base
	if c.CooldownMillis != nil {
		out.CooldownMillis = *c.CooldownMillis
	}
	if c.ConfidenceThreshold != nil {
		out.ConfidenceThreshold = *c.ConfidenceThreshold
	}
	if c.MovementThreshold != nil {
		out.MovementThreshold = *c.MovementThreshold
	}
	if c.VerticalThreshold != nil {
		out.VerticalThreshold = *c.VerticalThreshold
	}
	if c.MovementWeight != nil {
		out.MovementWeight = *c.MovementWeight
	}
	if c.IntervalWeight != nil {
		out.IntervalWeight = *c.IntervalWeight
	}
	if c.VerticalWeight != nil {
		out.VerticalWeight = *c.VerticalWeight
	}
	return out
}

// ClassifierConfig assembles the classifier configuration: stock defaults
// overlaid with whatever this tuning config sets.
func (c *TuningConfig) ClassifierConfig() steps.Config {
	return c.ApplyClassifier(steps.DefaultConfig())
}

// GetWalkGap returns the walk gap as a time.Duration.
func (c *TuningConfig) GetWalkGap() time.Duration {
	if c.WalkGapSeconds == nil || *c.WalkGapSeconds <= 0 {
		return 20 * time.Second // default
	}
	return time.Duration(*c.WalkGapSeconds * float64(time.Second))
}

// GetWalkMinSteps returns the walk_min_steps value or the default.
func (c *TuningConfig) GetWalkMinSteps() int {
	if c.WalkMinSteps == nil {
		return 10 // default
	}
	return *c.WalkMinSteps
}

// GetWalkWorkerInterval parses and returns the WalkWorkerInterval as a time.Duration.
func (c *TuningConfig) GetWalkWorkerInterval() time.Duration {
	if c.WalkWorkerInterval == nil || *c.WalkWorkerInterval == "" {
		return 60 * time.Second // default
	}
	d, err := time.ParseDuration(*c.WalkWorkerInterval)
	if err != nil {
		return 60 * time.Second // default on parse error
	}
	return d
}

// GetWalkWindow parses and returns the WalkWindow as a time.Duration.
func (c *TuningConfig) GetWalkWindow() time.Duration {
	if c.WalkWindow == nil || *c.WalkWindow == "" {
		return 30 * time.Minute // default
	}
	d, err := time.ParseDuration(*c.WalkWindow)
	if err != nil {
		return 30 * time.Minute // default on parse error
	}
	return d
}

// GetSampleRetentionDays returns the sample_retention_days value or the default.
func (c *TuningConfig) GetSampleRetentionDays() int {
	if c.SampleRetentionDays == nil {
		return 14 // default
	}
	return *c.SampleRetentionDays
}
