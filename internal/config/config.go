// Package config handles the configuration directory, settings file and paths.
package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// AppName is the application directory name.
	AppName = "taskchat"

	// ConfigFile is the settings filename inside the config directory.
	ConfigFile = "config.yaml"

	// CredentialFile is the default file-backed credential store filename.
	CredentialFile = "credentials.json"

	// CredentialDB is the default sqlite credential store filename.
	CredentialDB = "credentials.sqlite"

	// DefaultBaseURL is used when no base_url is configured.
	DefaultBaseURL = "http://localhost:8000"

	// EnvPrefix prefixes environment overrides, e.g. TASKCHAT_BASE_URL.
	EnvPrefix = "TASKCHAT"
)

// Store drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverMemory = "memory"
)

// Config holds configuration paths and settings.
type Config struct {
	// Dir is the configuration directory path.
	Dir string `yaml:"-" mapstructure:"-"`

	// BaseURL is the remote service root.
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	Store StoreConfig `yaml:"store" mapstructure:"store"`
	HTTP  HTTPConfig  `yaml:"http" mapstructure:"http"`

	// Debug enables debug logging.
	Debug bool `yaml:"-" mapstructure:"-"`

	// Quiet suppresses informational output.
	Quiet bool `yaml:"-" mapstructure:"-"`
}

// StoreConfig selects the credential store backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	Path   string `yaml:"path,omitempty" mapstructure:"path"`
}

// HTTPConfig tunes the HTTP client.
type HTTPConfig struct {
	// TimeoutSeconds of 0 leaves requests without a client timeout.
	TimeoutSeconds int `yaml:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Default returns the default settings rooted at dir.
func Default(dir string) Config {
	return Config{
		Dir:     dir,
		BaseURL: DefaultBaseURL,
		Store:   StoreConfig{Driver: DriverFile},
	}
}

// DefaultConfigDir returns the default configuration directory.
// Uses XDG_CONFIG_HOME if set, otherwise $HOME/.config.
func DefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, AppName)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current directory if home can't be determined
		return AppName
	}
	return filepath.Join(home, ".config", AppName)
}

// ConfigPath returns the path to the settings file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.Dir, ConfigFile)
}

// StorePath returns the credential store location for the configured driver.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	if c.Store.Driver == DriverSQLite {
		return filepath.Join(c.Dir, CredentialDB)
	}
	return filepath.Join(c.Dir, CredentialFile)
}

// Timeout returns the HTTP client timeout; zero means none.
func (c *Config) Timeout() time.Duration {
	if c.HTTP.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// EnsureDir creates the config directory if it doesn't exist.
// Directory is created with mode 0700.
func (c *Config) EnsureDir() error {
	return os.MkdirAll(c.Dir, 0700)
}

// HasConfigFile checks if the settings file exists.
func (c *Config) HasConfigFile() bool {
	_, err := os.Stat(c.ConfigPath())
	return err == nil
}
