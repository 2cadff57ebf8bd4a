// Package config loads steward's runtime configuration. Every tuning knob
// of the execution loop is named here so nothing in the runtime carries a
// magic number.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// LoopConfig tunes the execution-loop controller.
type LoopConfig struct {
	// MaxSteps is the iteration ceiling per task.
	MaxSteps int `yaml:"max_steps"`

	// LoopWindow is the number of identical consecutive failure
	// signatures that counts as a loop.
	LoopWindow int `yaml:"loop_window"`

	// LastErrorsCap bounds the per-task rolling error-signature log.
	LastErrorsCap int `yaml:"last_errors_cap"`

	// ConfidenceInterval is the number of steps between confidence checks.
	ConfidenceInterval int `yaml:"confidence_interval"`

	// ConfidenceThreshold escalates the task when a confidence score
	// falls below it. Negative values disable the escalation; scores are
	// still evaluated and recorded.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
}

// RetryConfig tunes the retry and replanning engine.
type RetryConfig struct {
	// MaxRetries bounds both execution attempts per step and replanning
	// tries between attempts.
	MaxRetries int `yaml:"max_retries"`

	// BackoffBase is the unit of the exponential backoff between
	// attempts (base * 2^attempt).
	BackoffBase time.Duration `yaml:"backoff_base"`
}

// ProgressConfig names the validator's score ceilings.
type ProgressConfig struct {
	// TestTierCap bounds the score reported for a failing test run.
	TestTierCap float64 `yaml:"test_tier_cap"`

	// ArtifactTierScore is the fixed score of artifact-backed progress,
	// deliberately below the test-verified ceiling.
	ArtifactTierScore float64 `yaml:"artifact_tier_score"`
}

// Config represents steward configuration options.
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level"`

	// HistoryDir is the directory of the audit history store. Empty
	// disables persistence.
	HistoryDir string `yaml:"history_dir"`

	Loop     LoopConfig     `yaml:"loop"`
	Retry    RetryConfig    `yaml:"retry"`
	Progress ProgressConfig `yaml:"progress"`
}

// DefaultConfig returns a Config with the standard defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:   "info",
		HistoryDir: "",
		Loop: LoopConfig{
			MaxSteps:            20,
			LoopWindow:          3,
			LastErrorsCap:       10,
			ConfidenceInterval:  5,
			ConfidenceThreshold: 0.5,
		},
		Retry: RetryConfig{
			MaxRetries:  3,
			BackoffBase: time.Second,
		},
		Progress: ProgressConfig{
			TestTierCap:       0.9,
			ArtifactTierScore: 0.7,
		},
	}
}

// LoadConfig loads configuration from the given file path, merging file
// values over defaults. A missing file returns the defaults without
// error; a malformed file returns an error.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations arrive as strings in YAML; parse through a shadow struct.
	type yamlRetry struct {
		MaxRetries  int    `yaml:"max_retries"`
		BackoffBase string `yaml:"backoff_base"`
	}
	type yamlConfig struct {
		LogLevel   string         `yaml:"log_level"`
		HistoryDir string         `yaml:"history_dir"`
		Loop       LoopConfig     `yaml:"loop"`
		Retry      yamlRetry      `yaml:"retry"`
		Progress   ProgressConfig `yaml:"progress"`
	}

	var fileCfg yamlConfig
	if err := yaml.Unmarshal(data, &fileCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if fileCfg.LogLevel != "" {
		cfg.LogLevel = fileCfg.LogLevel
	}
	if fileCfg.HistoryDir != "" {
		cfg.HistoryDir = fileCfg.HistoryDir
	}
	if fileCfg.Loop.MaxSteps > 0 {
		cfg.Loop.MaxSteps = fileCfg.Loop.MaxSteps
	}
	if fileCfg.Loop.LoopWindow > 0 {
		cfg.Loop.LoopWindow = fileCfg.Loop.LoopWindow
	}
	if fileCfg.Loop.LastErrorsCap > 0 {
		cfg.Loop.LastErrorsCap = fileCfg.Loop.LastErrorsCap
	}
	if fileCfg.Loop.ConfidenceInterval > 0 {
		cfg.Loop.ConfidenceInterval = fileCfg.Loop.ConfidenceInterval
	}
	if fileCfg.Loop.ConfidenceThreshold != 0 {
		cfg.Loop.ConfidenceThreshold = fileCfg.Loop.ConfidenceThreshold
	}
	if fileCfg.Retry.MaxRetries > 0 {
		cfg.Retry.MaxRetries = fileCfg.Retry.MaxRetries
	}
	if fileCfg.Retry.BackoffBase != "" {
		backoff, err := time.ParseDuration(fileCfg.Retry.BackoffBase)
		if err != nil {
			return nil, fmt.Errorf("invalid backoff_base %q: %w", fileCfg.Retry.BackoffBase, err)
		}
		cfg.Retry.BackoffBase = backoff
	}
	if fileCfg.Progress.TestTierCap > 0 {
		cfg.Progress.TestTierCap = fileCfg.Progress.TestTierCap
	}
	if fileCfg.Progress.ArtifactTierScore > 0 {
		cfg.Progress.ArtifactTierScore = fileCfg.Progress.ArtifactTierScore
	}

	return cfg, nil
}
