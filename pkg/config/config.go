// Package config loads and validates filedrop configuration.
//
// Configuration sources, in order of precedence:
//  1. Environment variables (FILEDROP_*)
//  2. Configuration file (YAML)
//  3. Default values
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/filedrop-dev/filedrop/internal/bytesize"
)

// Config is the root filedrop configuration, covering both the server
// (filedropd) and the client (filedropctl).
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server configures the filedropd listener and served directory
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Metrics configures the Prometheus metrics endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Client configures filedropctl's connection defaults
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: DEBUG, INFO, WARN, ERROR
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path
	Output string `mapstructure:"output" yaml:"output"`
}

// ServerConfig configures the filedropd server.
type ServerConfig struct {
	// BindAddress is the IP address to bind. Empty binds all interfaces.
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the TCP port to listen on
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// Directory is the filesystem location served to clients.
	// Created on startup if absent (best effort).
	Directory string `mapstructure:"directory" validate:"required" yaml:"directory"`

	// ShutdownTimeout is the maximum wait for active sessions on shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// MaxConnections limits concurrent client sessions. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0" yaml:"max_connections"`

	// ChunkSize is the transfer chunk size for GET/PUT payload copies.
	// Supports human-readable formats: "64Ki", "1Mi", "8192".
	ChunkSize bytesize.ByteSize `mapstructure:"chunk_size" yaml:"chunk_size,omitempty"`
}

// MetricsConfig configures the Prometheus metrics HTTP endpoint.
// When Enabled is false no metrics are collected.
type MetricsConfig struct {
	// Enabled controls metrics collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the /metrics endpoint
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ClientConfig configures filedropctl's defaults.
type ClientConfig struct {
	// Host is the server host to connect to
	Host string `mapstructure:"host" validate:"required" yaml:"host"`

	// Port is the server port to connect to
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// DialTimeout bounds connection establishment
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"required,gt=0" yaml:"dial_timeout"`
}

// Load loads configuration from file, environment, and defaults.
// An empty configPath uses the default location; a missing file is not an
// error and yields defaults plus environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		applyEnvOverrides(v, cfg)
		if err := Validate(cfg); err != nil {
			return nil, fmt.Errorf("configuration validation failed: %w", err)
		}
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration, requiring the config file to exist when a
// path was given explicitly.
func MustLoad(configPath string) (*Config, error) {
	if configPath != "" {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Create one with:\n"+
				"  filedropd init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func Validate(cfg *Config) error {
	return validator.New().Struct(cfg)
}

// SaveConfig writes the configuration to path in YAML format, creating
// parent directories as needed.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// setupViper configures environment variable support and the config file
// search path. Environment variables use the FILEDROP_ prefix with
// underscores, e.g. FILEDROP_LOGGING_LEVEL=DEBUG.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("FILEDROP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the config file if present. Returns whether a file
// was found; a missing file is not an error.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// applyEnvOverrides folds FILEDROP_* environment values into a default
// config when no file was found. Viper only reports env keys it has seen,
// so each known key is probed explicitly.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	if s := v.GetString("logging.level"); s != "" {
		cfg.Logging.Level = s
	}
	if s := v.GetString("logging.format"); s != "" {
		cfg.Logging.Format = s
	}
	if s := v.GetString("logging.output"); s != "" {
		cfg.Logging.Output = s
	}
	if s := v.GetString("server.bind_address"); s != "" {
		cfg.Server.BindAddress = s
	}
	if n := v.GetInt("server.port"); n != 0 {
		cfg.Server.Port = n
	}
	if s := v.GetString("server.directory"); s != "" {
		cfg.Server.Directory = s
	}
	if d := v.GetDuration("server.shutdown_timeout"); d != 0 {
		cfg.Server.ShutdownTimeout = d
	}
	if n := v.GetInt("server.max_connections"); n != 0 {
		cfg.Server.MaxConnections = n
	}
	if s := v.GetString("server.chunk_size"); s != "" {
		if size, err := bytesize.Parse(s); err == nil {
			cfg.Server.ChunkSize = size
		}
	}
	if s := v.GetString("metrics.enabled"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			cfg.Metrics.Enabled = b
		}
	}
	if n := v.GetInt("metrics.port"); n != 0 {
		cfg.Metrics.Port = n
	}
	if s := v.GetString("client.host"); s != "" {
		cfg.Client.Host = s
	}
	if n := v.GetInt("client.port"); n != 0 {
		cfg.Client.Port = n
	}
	if d := v.GetDuration("client.dial_timeout"); d != 0 {
		cfg.Client.DialTimeout = d
	}
}

// configDecodeHooks returns the combined decode hook for custom types:
// time.Duration strings and bytesize.ByteSize strings.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		byteSizeDecodeHook(),
	)
}

// byteSizeDecodeHook converts strings and numbers to bytesize.ByteSize.
func byteSizeDecodeHook() mapstructure.DecodeHookFuncType {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}

		switch value := data.(type) {
		case string:
			return bytesize.Parse(value)
		case int:
			return bytesize.ByteSize(value), nil
		case int64:
			return bytesize.ByteSize(value), nil
		case uint64:
			return bytesize.ByteSize(value), nil
		case float64:
			return bytesize.ByteSize(value), nil
		default:
			return data, nil
		}
	}
}
