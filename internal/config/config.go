// Package config holds promptsynth configuration: evolution parameters,
// evaluator settings, storage paths and logging. Config lives in
// .promptsynth/config.yaml; environment variables override secrets.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all promptsynth configuration.
type Config struct {
	Name string `yaml:"name"`

	// Evolutionary parameters
	Evolution EvolutionConfig `yaml:"evolution"`

	// Fitness evaluation
	Evaluator EvaluatorConfig `yaml:"evaluator"`

	// Run history and snapshots
	Storage StorageConfig `yaml:"storage"`

	// Optional gene pool override file (YAML); empty means built-in pool
	PoolFile string `yaml:"pool_file"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// EvolutionConfig configures the evolutionary engine.
type EvolutionConfig struct {
	PopulationSize int     `yaml:"population_size"`
	CommonsSize    int     `yaml:"commons_size"`
	SurvivalRate   float64 `yaml:"survival_rate"`
	SharingProb    float64 `yaml:"sharing_probability"`
	MutationRate   float64 `yaml:"mutation_rate"`
	Generations    int     `yaml:"generations"`
	ModeThreshold  int     `yaml:"mode_threshold"`
	Seed           int64   `yaml:"seed"`  // 0 means time-seeded
	Phase          string  `yaml:"phase"` // auto, darwin, kropotkin, alternate
	Task           string  `yaml:"task"`
}

// EvaluatorConfig configures fitness evaluation.
type EvaluatorConfig struct {
	Mode        string `yaml:"mode"` // mock, gemini, semantic
	APIKey      string `yaml:"api_key"`
	Model       string `yaml:"model"`
	BaseURL     string `yaml:"base_url"`
	Timeout     string `yaml:"timeout"`
	Reference   string `yaml:"reference"` // semantic mode reference text
	Parallelism int    `yaml:"parallelism"`
}

// StorageConfig configures run persistence.
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// LoggingConfig configures categorized file logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"` // debug, info, warn, error
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "promptsynth",

		Evolution: EvolutionConfig{
			PopulationSize: 5,
			CommonsSize:    10,
			SurvivalRate:   0.5,
			SharingProb:    0.5,
			MutationRate:   0.2,
			Generations:    10,
			ModeThreshold:  5,
			Phase:          "auto",
			Task:           "Explain the concept of recursion in Python",
		},

		Evaluator: EvaluatorConfig{
			Mode:        "mock",
			Model:       "gemini-2.5-flash",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta",
			Timeout:     "120s",
			Parallelism: 4,
		},

		Storage: StorageConfig{
			DatabasePath: filepath.Join(".promptsynth", "runs.db"),
			SnapshotPath: filepath.Join(".promptsynth", "fallback.json"),
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults. Environment variables override after parsing.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Evaluator.APIKey = key
	}
	if db := os.Getenv("PROMPTSYNTH_DB"); db != "" {
		c.Storage.DatabasePath = db
	}
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	ev := c.Evolution
	if ev.PopulationSize < 2 {
		return fmt.Errorf("population_size must be at least 2, got %d", ev.PopulationSize)
	}
	if ev.CommonsSize < 1 {
		return fmt.Errorf("commons_size must be at least 1, got %d", ev.CommonsSize)
	}
	for name, rate := range map[string]float64{
		"survival_rate":       ev.SurvivalRate,
		"sharing_probability": ev.SharingProb,
		"mutation_rate":       ev.MutationRate,
	} {
		if rate < 0 || rate > 1 {
			return fmt.Errorf("%s must be within [0, 1], got %v", name, rate)
		}
	}
	switch ev.Phase {
	case "auto", "darwin", "kropotkin", "alternate":
	default:
		return fmt.Errorf("unknown phase policy %q", ev.Phase)
	}

	switch c.Evaluator.Mode {
	case "mock", "gemini", "semantic":
	default:
		return fmt.Errorf("unknown evaluator mode %q", c.Evaluator.Mode)
	}
	if _, err := c.EvaluatorTimeout(); err != nil {
		return err
	}
	return nil
}

// EvaluatorTimeout parses the evaluator timeout string.
func (c *Config) EvaluatorTimeout() (time.Duration, error) {
	if c.Evaluator.Timeout == "" {
		return 2 * time.Minute, nil
	}
	d, err := time.ParseDuration(c.Evaluator.Timeout)
	if err != nil {
		return 0, fmt.Errorf("invalid evaluator timeout %q: %w", c.Evaluator.Timeout, err)
	}
	return d, nil
}

// DefaultPath returns the config path under the given workspace.
func DefaultPath(workspace string) string {
	return filepath.Join(workspace, ".promptsynth", "config.yaml")
}

// DefaultPoolPath returns the fragment pool path under the given workspace.
func DefaultPoolPath(workspace string) string {
	return filepath.Join(workspace, ".promptsynth", "pool.yaml")
}
