package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/23skdu/longbow-circuit/internal/errs"
)

type VerifyConfig struct {
	Enabled bool    `yaml:"enabled"`
	Strict  bool    `yaml:"strict"`
	RTol    float64 `yaml:"rtol"`
	ATol    float64 `yaml:"atol"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ExportConfig struct {
	// Path is a directory that receives one Arrow IPC stream per record
	// kind; empty disables file export.
	Path string `yaml:"path"`
	// FlightAddr is a Flight endpoint to push records to; empty disables it.
	FlightAddr string `yaml:"flight_addr"`
}

// Config describes one experiment run.
type Config struct {
	Task   string `yaml:"task"`
	Metric string `yaml:"metric"`

	// NumExamples is nil when the task default should be used. An explicit
	// count, zero included, is checked against the task's rules.
	NumExamples *int   `yaml:"num_examples,omitempty"`
	Seed        int64  `yaml:"seed"`
	Device      string `yaml:"device"`

	// DerangePatches stops a row from being paired with itself as its own
	// patch in randomly drawn datasets.
	DerangePatches bool `yaml:"derange_patches"`

	Verify      VerifyConfig  `yaml:"verify"`
	Logging     LoggingConfig `yaml:"logging"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Export      ExportConfig  `yaml:"export"`
}

func Default() *Config {
	return &Config{
		Task:   "reverse",
		Metric: "l2",
		Seed:   0,
		Device: "cpu",
		Verify: VerifyConfig{
			Enabled: true,
			Strict:  true,
			RTol:    1e-5,
			ATol:    1e-8,
		},
		Logging: LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads a YAML config over the defaults. A missing file yields the
// defaults. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SetNumExamples requests an explicit example count.
func (c *Config) SetNumExamples(n int) {
	c.NumExamples = &n
}

// Examples returns the requested example count, or def when none was set.
func (c *Config) Examples(def int) int {
	if c.NumExamples == nil {
		return def
	}
	return *c.NumExamples
}

// Save writes the config as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
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

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("CIRCUIT_TASK"); v != "" {
		c.Task = v
	}
	if v := os.Getenv("CIRCUIT_METRIC"); v != "" {
		c.Metric = v
	}
	if v := os.Getenv("CIRCUIT_NUM_EXAMPLES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return errs.Configf("num_examples", "CIRCUIT_NUM_EXAMPLES=%q is not an integer", v)
		}
		c.SetNumExamples(n)
	}
	if v := os.Getenv("CIRCUIT_SEED"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return errs.Configf("seed", "CIRCUIT_SEED=%q is not an integer", v)
		}
		c.Seed = n
	}
	if v := os.Getenv("CIRCUIT_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("CIRCUIT_FLIGHT_ADDR"); v != "" {
		c.Export.FlightAddr = v
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Task == "" {
		return errs.Configf("task", "must be set")
	}
	if c.Metric == "" {
		return errs.Configf("metric", "must be set")
	}
	if c.NumExamples != nil && *c.NumExamples < 0 {
		return errs.Configf("num_examples", "invalid num_examples: %d (must be non-negative)", *c.NumExamples)
	}
	if c.Device != "" && strings.ToLower(c.Device) != "cpu" {
		return errs.Configf("device", "unsupported device %q (only cpu)", c.Device)
	}
	if c.Verify.RTol < 0 || c.Verify.ATol < 0 {
		return errs.Configf("verify", "invalid tolerances rtol=%g atol=%g (must be non-negative)", c.Verify.RTol, c.Verify.ATol)
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return errs.Configf("logging.level", "unknown level %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "console", "json":
	default:
		return errs.Configf("logging.format", "unknown format %q", c.Logging.Format)
	}
	return nil
}
