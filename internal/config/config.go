// Package config loads the user configuration file. Every value has a
// default; command-line flags override whatever the file says.
package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schedtools/schedtools/internal/shell"
)

// Config holds application configuration.
type Config struct {
	// Host is the default cluster to connect to (ssh alias or URL).
	Host string `yaml:"host"`

	// RerunIntervalHours is how often the supervisor sweeps the queue.
	RerunIntervalHours float64 `yaml:"rerun_interval_hours"`
	// Threshold is the percent-completion at which a job is requeued.
	Threshold float64 `yaml:"threshold"`
	// ContinueOnRerun leaves the original job running after a resubmission.
	ContinueOnRerun bool `yaml:"continue_on_rerun"`

	// ExpectedWalltimeHours and SafeBuffer feed the threshold safety check.
	ExpectedWalltimeHours float64 `yaml:"expected_walltime_hours"`
	SafeBuffer            float64 `yaml:"safe_buffer"`

	// StorageThreshold is the quota percentage above which the storage
	// watch raises errors. StorageIntervalDays is how often it checks.
	StorageThreshold    float64 `yaml:"storage_threshold"`
	StorageIntervalDays float64 `yaml:"storage_interval_days"`

	// TrackingDB overrides the tracking database path.
	TrackingDB string `yaml:"tracking_db"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		RerunIntervalHours:    2,
		Threshold:             90,
		ExpectedWalltimeHours: 72,
		SafeBuffer:            1.5,
		StorageThreshold:      90,
		StorageIntervalDays:   1,
	}
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(shell.ConfigPath())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// RerunInterval is the sweep interval as a duration.
func (c *Config) RerunInterval() time.Duration {
	return time.Duration(c.RerunIntervalHours * float64(time.Hour))
}

// ExpectedWalltime is the assumed job walltime as a duration.
func (c *Config) ExpectedWalltime() time.Duration {
	return time.Duration(c.ExpectedWalltimeHours * float64(time.Hour))
}

// StorageInterval is the storage-watch interval as a duration.
func (c *Config) StorageInterval() time.Duration {
	return time.Duration(c.StorageIntervalDays * 24 * float64(time.Hour))
}

// DBPath is the tracking database location, config value first, then the
// environment override, then the default.
func (c *Config) DBPath() string {
	if os.Getenv(shell.TrackingDBEnv) == "" && c.TrackingDB != "" {
		return c.TrackingDB
	}
	return shell.DBPath()
}
