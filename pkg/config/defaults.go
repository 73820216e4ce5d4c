package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/filedrop-dev/filedrop/internal/bytesize"
)

// Default values applied when the config file or a section omits them.
const (
	DefaultLogLevel  = "INFO"
	DefaultLogFormat = "text"
	DefaultLogOutput = "stdout"

	DefaultServerPort      = 12345
	DefaultServerDirectory = "./files"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultChunkSize       = 64 * bytesize.KiB

	DefaultMetricsPort = 9090

	DefaultClientHost        = "127.0.0.1"
	DefaultClientDialTimeout = 10 * time.Second
)

// GetDefaultConfig returns a fully populated default configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
			Output: DefaultLogOutput,
		},
		Server: ServerConfig{
			BindAddress:     "",
			Port:            DefaultServerPort,
			Directory:       DefaultServerDirectory,
			ShutdownTimeout: DefaultShutdownTimeout,
			MaxConnections:  0,
			ChunkSize:       DefaultChunkSize,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Port:    DefaultMetricsPort,
		},
		Client: ClientConfig{
			Host:        DefaultClientHost,
			Port:        DefaultServerPort,
			DialTimeout: DefaultClientDialTimeout,
		},
	}
}

// ApplyDefaults fills any zero-valued fields with defaults. Called after
// unmarshaling a config file so partial files remain valid.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = DefaultLogLevel
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = DefaultLogFormat
	}
	if cfg.Logging.Output == "" {
		cfg.Logging.Output = DefaultLogOutput
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultServerPort
	}
	if cfg.Server.Directory == "" {
		cfg.Server.Directory = DefaultServerDirectory
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Server.ChunkSize == 0 {
		cfg.Server.ChunkSize = DefaultChunkSize
	}

	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = DefaultMetricsPort
	}

	if cfg.Client.Host == "" {
		cfg.Client.Host = DefaultClientHost
	}
	if cfg.Client.Port == 0 {
		cfg.Client.Port = DefaultServerPort
	}
	if cfg.Client.DialTimeout == 0 {
		cfg.Client.DialTimeout = DefaultClientDialTimeout
	}
}

// GetDefaultConfigPath returns the default config file location:
// $XDG_CONFIG_HOME/filedrop/config.yaml, falling back to ~/.config.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "filedrop")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "filedrop")
}
