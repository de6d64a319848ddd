package config

import (
	"math"
	"os"
	"time"

	"codeberg.org/mutker/nvidiamon/internal/alert"
	"codeberg.org/mutker/nvidiamon/internal/errors"
	"codeberg.org/mutker/nvidiamon/internal/logger"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	DefaultInterval         = 1
	DefaultCooldown         = 30
	DefaultFailureThreshold = 3
	DefaultLogLevel         = "info"

	configEnvVar = "NVIDIAMON_CONFIG"
	envPrefix    = "NVIDIAMON"
)

type Config struct {
	Interval          int     `mapstructure:"interval"`
	Temperature       float64 `mapstructure:"temperature"`
	Utilization       float64 `mapstructure:"utilization"`
	MemoryUtilization float64 `mapstructure:"memory_utilization"`
	Power             float64 `mapstructure:"power"`
	Cooldown          int     `mapstructure:"cooldown"`
	FailureThreshold  int     `mapstructure:"failure_threshold"`
	Sound             bool    `mapstructure:"sound"`
	SoundFile         string  `mapstructure:"sound_file"`
	Telemetry         bool    `mapstructure:"telemetry"`
	TelemetryDB       string  `mapstructure:"database"`
	LogLevel          string  `mapstructure:"log_level"`

	v *viper.Viper
}

// Flag names to viper keys; pflag uses dashes, the TOML file underscores
var flagKeys = map[string]string{
	"interval":           "interval",
	"temperature":        "temperature",
	"utilization":        "utilization",
	"memory-utilization": "memory_utilization",
	"power":              "power",
	"cooldown":           "cooldown",
	"failure-threshold":  "failure_threshold",
	"sound":              "sound",
	"sound-file":         "sound_file",
	"telemetry":          "telemetry",
	"database":           "database",
	"log-level":          "log_level",
}

func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	errFactory := errors.New()

	v := viper.New()
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("temperature", alert.DefaultTemperatureC)
	v.SetDefault("utilization", alert.DefaultUtilizationPct)
	v.SetDefault("memory_utilization", alert.DefaultMemoryUtilizationPct)
	v.SetDefault("power", alert.DefaultPowerDrawW)
	v.SetDefault("cooldown", DefaultCooldown)
	v.SetDefault("failure_threshold", DefaultFailureThreshold)
	v.SetDefault("sound", false)
	v.SetDefault("sound_file", "")
	v.SetDefault("telemetry", false)
	v.SetDefault("database", "/var/lib/nvidiamon/telemetry.db")
	v.SetDefault("log_level", DefaultLogLevel)

	fs := pflag.NewFlagSet("nvidiamon", pflag.ContinueOnError)
	fs.Int("interval", DefaultInterval, "Seconds between polls")
	fs.Float64("temperature", alert.DefaultTemperatureC, "Temperature threshold in °C")
	fs.Float64("utilization", alert.DefaultUtilizationPct, "GPU utilization threshold in %")
	fs.Float64("memory-utilization", alert.DefaultMemoryUtilizationPct, "Memory utilization threshold in %")
	fs.Float64("power", alert.DefaultPowerDrawW, "Power draw threshold in watts")
	fs.Int("cooldown", DefaultCooldown, "Seconds between repeated notifications for an ongoing alert")
	fs.Int("failure-threshold", DefaultFailureThreshold, "Consecutive failed polls before reporting degraded monitoring")
	fs.Bool("sound", false, "Enable sound alerts")
	fs.String("sound-file", "", "Path to WAV file for sound alerts")
	fs.Bool("telemetry", false, "Enable telemetry history recording")
	fs.String("database", "", "Path to telemetry database")
	fs.String("log-level", DefaultLogLevel, "Log level (debug, info, warning, error)")

	if err := fs.Parse(args); err != nil {
		return nil, errFactory.Wrap(errors.ErrBindFlags, err)
	}

	// Explicit config file via environment beats the search path
	if path := os.Getenv(configEnvVar); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("nvidiamon")
		v.SetConfigType("toml")
		v.AddConfigPath("/etc")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.WithMessage(errors.ErrReadConfig, "Failed to read config file").WithData(err.Error())
		}
	}

	// Flags set on the command line override file and environment
	fs.Visit(func(f *pflag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			v.Set(key, f.Value.String())
		}
	})

	config := &Config{v: v}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate rejects malformed values at the configuration boundary so
// they never reach the evaluator
func (c *Config) Validate() error {
	errFactory := errors.New()

	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, c.Interval)
	}

	if c.Cooldown <= 0 {
		return errFactory.WithData(errors.ErrInvalidCooldown, c.Cooldown)
	}

	if c.FailureThreshold <= 0 {
		return errFactory.WithData(errors.ErrInvalidArgument, "failure_threshold must be positive")
	}

	for name, limit := range map[string]float64{
		"temperature":        c.Temperature,
		"utilization":        c.Utilization,
		"memory_utilization": c.MemoryUtilization,
		"power":              c.Power,
	} {
		if limit < 0 || math.IsNaN(limit) || math.IsInf(limit, 0) {
			return errFactory.WithData(errors.ErrInvalidThreshold, name)
		}
	}

	if !isValidLogLevel(c.LogLevel) {
		return errFactory.WithMessage(errors.ErrInvalidLogLevel, "invalid_log_level").WithData(c.LogLevel)
	}

	return nil
}

func isValidLogLevel(level string) bool {
	switch level {
	case "debug", "info", "warning", "warn", "error":
		return true
	default:
		return false
	}
}

// Thresholds returns the limit set for the evaluator. A zero limit
// disables its metric.
func (c *Config) Thresholds() alert.ThresholdConfig {
	return alert.ThresholdConfig{
		TemperatureC:         c.Temperature,
		UtilizationPct:       c.Utilization,
		MemoryUtilizationPct: c.MemoryUtilization,
		PowerDrawW:           c.Power,
	}
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Interval) * time.Second
}

func (c *Config) CooldownPeriod() time.Duration {
	return time.Duration(c.Cooldown) * time.Second
}

// Watch re-reads the config file on change and hands each valid result
// to onChange. An invalid or unreadable file keeps the last-known-good
// configuration in effect. No-op when no config file is in use.
func (c *Config) Watch(onChange func(Config)) {
	if c.v == nil || c.v.ConfigFileUsed() == "" {
		return
	}

	c.v.OnConfigChange(func(_ fsnotify.Event) {
		if err := c.v.ReadInConfig(); err != nil {
			logger.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
			return
		}

		updated := Config{v: c.v}
		if err := c.v.Unmarshal(&updated); err != nil {
			logger.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
			return
		}

		if err := updated.Validate(); err != nil {
			logger.Warn().Err(err).Msg("Rejected invalid config update, keeping previous configuration")
			return
		}

		logger.Info().Msg("Configuration reloaded")
		onChange(updated)
	})
	c.v.WatchConfig()
}
