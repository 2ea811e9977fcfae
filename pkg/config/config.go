// Package config loads skillbook settings from flags, SKILLBOOK_* environment
// variables, an optional .env file and config.yaml, in that order of precedence.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides
const EnvPrefix = "SKILLBOOK"

// Config is the typed view of the viper settings
type Config struct {
	SkillDirs []string      `mapstructure:"skill_dirs"`
	NoBuiltin bool          `mapstructure:"no_builtin"`
	Allowed   []string      `mapstructure:"allowed"`
	Watch     bool          `mapstructure:"watch"`
	Log       LogConfig     `mapstructure:"log"`
	Server    ServerConfig  `mapstructure:"server"`
	Tracing   TracingConfig `mapstructure:"tracing"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ServerConfig holds the HTTP API listen address
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled bool    `mapstructure:"enabled"`
	Sampler string  `mapstructure:"sampler"`
	Ratio   float64 `mapstructure:"ratio"`
}

// SetDefaults registers default values on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("skill_dirs", []string{})
	v.SetDefault("no_builtin", false)
	v.SetDefault("allowed", []string{})
	v.SetDefault("watch", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "fmt")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8765)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.sampler", "ratio")
	v.SetDefault("tracing.ratio", 1.0)
}

// Init prepares v for use: defaults, environment binding, .env loading and the
// optional config file. A missing config file is not an error.
func Init(v *viper.Viper) error {
	// .env values never override variables that are already set
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "failed to load .env file")
	}

	SetDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".skillbook"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.Wrap(err, "failed to read config file")
		}
	}
	return nil
}

// Load decodes the current viper state into a Config and validates it
func Load(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, errors.Wrap(err, "failed to unmarshal configuration")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

// Validate checks value ranges
func (c Config) Validate() error {
	switch c.Log.Format {
	case "", "fmt", "text", "json":
	default:
		return errors.Errorf("unknown log format '%s'", c.Log.Format)
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return errors.Errorf("port must be between 0 and 65535, got %d", c.Server.Port)
	}
	switch c.Tracing.Sampler {
	case "", "always", "never", "ratio":
	default:
		return errors.Errorf("unknown tracing sampler '%s'", c.Tracing.Sampler)
	}
	if c.Tracing.Ratio < 0 || c.Tracing.Ratio > 1 {
		return errors.Errorf("tracing ratio must be between 0 and 1, got %v", c.Tracing.Ratio)
	}
	return nil
}
