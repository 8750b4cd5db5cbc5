// Package config loads canids settings from an optional config file,
// CANIDS_* environment variables and built-in defaults.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/Zerofisher/canids/capture"
	"github.com/Zerofisher/canids/decode"
	"github.com/Zerofisher/canids/features"
)

// Config is the top-level configuration struct for the application.
// Tags are used by Viper to map file keys to struct fields.
type Config struct {
	LogLevel     string         `mapstructure:"log_level"`
	LogFormat    string         `mapstructure:"log_format"` // console or json
	Variant      string         `mapstructure:"variant"`
	VariantsFile string         `mapstructure:"variants_file"`
	Features     FeaturesConfig `mapstructure:"features"`
	Decode       DecodeConfig   `mapstructure:"decode"`
	Cache        CacheConfig    `mapstructure:"cache"`
	Model        ModelConfig    `mapstructure:"model"`
	MetricsFile  string         `mapstructure:"metrics_file"` // Prometheus textfile output
}

// FeaturesConfig selects the feature set and its window parameters.
type FeaturesConfig struct {
	Set                  string  `mapstructure:"set"`
	WindowSize           int     `mapstructure:"window_size"`
	TimeSize             float64 `mapstructure:"time_size"`
	RollingWindow        float64 `mapstructure:"rolling_window"`
	PartitionByInterface bool    `mapstructure:"partition_by_interface"`
	Workers              int     `mapstructure:"workers"`
}

// DecodeConfig controls input normalisation.
type DecodeConfig struct {
	LabelColumn  string `mapstructure:"label_column"`
	OnMalformed  string `mapstructure:"on_malformed"`
	DefaultLabel string `mapstructure:"default_label"`
}

// CacheConfig controls the feature cache.
type CacheConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ModelConfig configures the external model backend.
type ModelConfig struct {
	Backend      string         `mapstructure:"backend"`
	Command      string         `mapstructure:"command"`
	Args         []string       `mapstructure:"args"`
	WorkDir      string         `mapstructure:"work_dir"`
	Scale        bool           `mapstructure:"scale"`
	Validation   float64        `mapstructure:"validation"`
	Seed         int64          `mapstructure:"seed"`
	ShortCircuit bool           `mapstructure:"short_circuit"`
	Binary       map[string]any `mapstructure:"binary"` // Stage-1 parameter overrides
	Multi        map[string]any `mapstructure:"multi"`  // Stage-2 parameter overrides
}

// SetDefaults registers the default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
	v.SetDefault("variant", DefaultVariant)

	v.SetDefault("features.set", features.SetExtended)
	v.SetDefault("features.window_size", features.DefaultWindowSize)
	v.SetDefault("features.time_size", features.DefaultTimeSize)
	v.SetDefault("features.rolling_window", features.DefaultRollingWindow)
	v.SetDefault("features.partition_by_interface", true)
	v.SetDefault("features.workers", 0)

	v.SetDefault("decode.label_column", capture.DefaultLabelColumn)
	v.SetDefault("decode.on_malformed", string(decode.PolicyDefault))
	v.SetDefault("decode.default_label", "")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.path", "canids-cache.db")

	v.SetDefault("model.backend", "xgboost")
	v.SetDefault("model.scale", false)
	v.SetDefault("model.validation", 0.0)
	v.SetDefault("model.seed", 42)
	v.SetDefault("model.short_circuit", false)
}

// LoadConfig reads the configuration file at path, or searches for
// canids.{yaml,toml,json} in the working directory and $HOME/.config/canids
// when path is empty. Environment variables with the CANIDS_ prefix override
// file values.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("canids")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/canids")
	}

	SetDefaults(v)

	v.SetEnvPrefix("CANIDS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		log.Debug().Msg("Config file not found, using defaults and environment variables")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// FeatureConfig converts the feature settings.
func (c *Config) FeatureConfig() features.Config {
	return features.Config{
		Set:           c.Features.Set,
		WindowSize:    c.Features.WindowSize,
		TimeSize:      c.Features.TimeSize,
		RollingWindow: c.Features.RollingWindow,
	}
}

// DecodeOptions converts the decode settings.
func (c *Config) DecodeOptions() (decode.Options, error) {
	p, err := decode.ParsePolicy(c.Decode.OnMalformed)
	if err != nil {
		return decode.Options{}, err
	}
	return decode.Options{OnMalformed: p, DefaultLabel: c.Decode.DefaultLabel}, nil
}

// Validate checks the settings that have a closed set of values.
func (c *Config) Validate() error {
	if err := c.FeatureConfig().Validate(); err != nil {
		return err
	}
	if _, err := c.DecodeOptions(); err != nil {
		return err
	}
	if c.Features.Workers < 0 {
		return fmt.Errorf("features.workers must not be negative")
	}
	if c.Model.Validation < 0 || c.Model.Validation >= 1 {
		return fmt.Errorf("model.validation must be in [0,1), got %g", c.Model.Validation)
	}
	switch c.LogFormat {
	case "console", "json", "":
	default:
		return fmt.Errorf("unknown log format %q (use: console, json)", c.LogFormat)
	}
	return nil
}
