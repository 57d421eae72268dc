// Package config loads engine configuration with viper: file search paths,
// SCANFORGE_* environment overrides and safe defaults for every knob.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete engine configuration.
type Config struct {
	Pools    PoolsConfig    `mapstructure:"pools"`
	Timeouts TimeoutsConfig `mapstructure:"timeouts"`
	Limits   LimitsConfig   `mapstructure:"limits"`
	Output   OutputConfig   `mapstructure:"output"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Log      LogConfig      `mapstructure:"log"`
}

// PoolsConfig sizes the per-class concurrency pools.
type PoolsConfig struct {
	Discovery   int `mapstructure:"discovery"`
	Enumeration int `mapstructure:"enumeration"`
}

// TimeoutsConfig holds the run-wide levels of the timeout hierarchy.
// Per-definition timeouts come from the plan; these only tighten them.
type TimeoutsConfig struct {
	GlobalSeconds     int `mapstructure:"global_seconds"`
	TargetSeconds     int `mapstructure:"target_seconds"`
	StreamReadSeconds int `mapstructure:"stream_read_seconds"`
	GraceSeconds      int `mapstructure:"grace_seconds"`
}

func (t TimeoutsConfig) Global() time.Duration {
	return time.Duration(t.GlobalSeconds) * time.Second
}

func (t TimeoutsConfig) Target() time.Duration {
	return time.Duration(t.TargetSeconds) * time.Second
}

func (t TimeoutsConfig) StreamRead() time.Duration {
	return time.Duration(t.StreamReadSeconds) * time.Second
}

func (t TimeoutsConfig) Grace() time.Duration {
	return time.Duration(t.GraceSeconds) * time.Second
}

// LimitsConfig holds the soft resource ceilings for admission.
type LimitsConfig struct {
	MaxCPUPercent    float64 `mapstructure:"max_cpu_percent"`
	MaxMemoryPercent float64 `mapstructure:"max_memory_percent"`
}

// OutputConfig locates the run workspace.
type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

// EngineConfig holds behavior switches.
type EngineConfig struct {
	// ContinueOnDiscoveryFailure degrades a failed discovery task to
	// "skip its dependents" instead of aborting the run.
	ContinueOnDiscoveryFailure bool `mapstructure:"continue_on_discovery_failure"`
}

// LogConfig controls engine logging.
type LogConfig struct {
	Level   string `mapstructure:"level"`
	Verbose bool   `mapstructure:"verbose"`
}

// Load reads configuration from an explicit path or the default search
// locations. A missing file is not an error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("SCANFORGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("scanforge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/scanforge")
		v.AddConfigPath("/etc/scanforge")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("reading config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("pools.discovery", 10)
	v.SetDefault("pools.enumeration", 40)
	v.SetDefault("timeouts.global_seconds", 0)
	v.SetDefault("timeouts.target_seconds", 0)
	v.SetDefault("timeouts.stream_read_seconds", 30)
	v.SetDefault("timeouts.grace_seconds", 5)
	v.SetDefault("limits.max_cpu_percent", 0)
	v.SetDefault("limits.max_memory_percent", 0)
	v.SetDefault("output.dir", "results")
	v.SetDefault("engine.continue_on_discovery_failure", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.verbose", false)
}

func validate(cfg *Config) error {
	if cfg.Pools.Discovery < 1 {
		return fmt.Errorf("pools.discovery must be at least 1, got %d", cfg.Pools.Discovery)
	}
	if cfg.Pools.Enumeration < 1 {
		return fmt.Errorf("pools.enumeration must be at least 1, got %d", cfg.Pools.Enumeration)
	}
	if cfg.Timeouts.StreamReadSeconds < 1 {
		return fmt.Errorf("timeouts.stream_read_seconds must be at least 1")
	}
	return nil
}
