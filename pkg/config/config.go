// Package config loads, validates and persists the waypost server
// configuration.
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/waypost-dev/waypost/pkg/api"
)

// Config represents the waypost server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (WAYPOST_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
//
// Two legacy environment variables are honored for compatibility with
// older deployments:
//   - TCP_LISTEN_ADDR overrides the relay listen address ("host:port")
//   - API_LISTEN_PORT overrides the API server port
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`

	// Signal configures the TLS control port where endpoints register
	// device IDs and exchange connection offers.
	Signal SignalConfig `mapstructure:"signal" yaml:"signal"`

	// Relay configures the plain TCP port where endpoint pairs exchange
	// payload bytes.
	Relay RelayConfig `mapstructure:"relay" yaml:"relay"`

	// API contains the statistics HTTP server configuration
	API api.APIConfig `mapstructure:"api" yaml:"api"`

	// Directory configures the device ID store backend.
	Directory DirectoryConfig `mapstructure:"directory" yaml:"directory"`

	// Metrics contains Prometheus metrics configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// SignalConfig configures the TLS control port.
type SignalConfig struct {
	// BindAddress is the interface to listen on.
	// Default: "" (all interfaces)
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the control port.
	// Default: 45555
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// MaxConnections caps concurrent control sessions. Zero means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=0" yaml:"max_connections"`

	// CertFile is the PEM server certificate chain.
	// Default: cert/example.com.crt
	CertFile string `mapstructure:"cert_file" validate:"required" yaml:"cert_file"`

	// KeyFile is the PEM private key.
	// Default: cert/example.com.key
	KeyFile string `mapstructure:"key_file" validate:"required" yaml:"key_file"`

	// HandshakeTimeout bounds the TLS handshake with a new endpoint.
	// Default: 10s
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`

	// CallTimeout is the deadline for proxied peer calls.
	// Default: 10s
	CallTimeout time.Duration `mapstructure:"call_timeout" yaml:"call_timeout"`
}

// RelayConfig configures the relay port.
type RelayConfig struct {
	// BindAddress is the interface to listen on.
	// Default: "" (all interfaces)
	BindAddress string `mapstructure:"bind_address" yaml:"bind_address"`

	// Port is the relay port.
	// Default: 45556
	Port int `mapstructure:"port" validate:"required,min=1,max=65535" yaml:"port"`

	// MaxConnections caps concurrent relay connections. Zero means
	// unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"omitempty,min=0" yaml:"max_connections"`

	// HandshakeTimeout bounds the wait for an endpoint's handshake frame.
	// Default: 10s
	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout" yaml:"handshake_timeout"`

	// WaitTTL is how long a lone endpoint may wait for its partner.
	// Default: 120s
	WaitTTL time.Duration `mapstructure:"wait_ttl" yaml:"wait_ttl"`
}

// DirectoryConfig configures the device ID store.
type DirectoryConfig struct {
	// Backend selects the store implementation.
	// Valid values: badger, memory
	// Default: badger
	Backend string `mapstructure:"backend" validate:"required,oneof=badger memory" yaml:"backend"`

	// Path is the on-disk location for the badger backend.
	// Default: $XDG_DATA_HOME/waypost/directory (or ~/.local/share/waypost/directory)
	Path string `mapstructure:"path" yaml:"path"`
}

// MetricsConfig configures Prometheus metrics collection.
// When Enabled is false, no metrics are collected (zero overhead).
// Metrics are exposed on the API server at /metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is enabled
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	var cfg *Config
	if !configFileFound {
		cfg = GetDefaultConfig()
	} else {
		cfg = &Config{}
		if err := v.Unmarshal(cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
			return nil, fmt.Errorf("failed to unmarshal config: %w", err)
		}
		ApplyDefaults(cfg)
	}

	if err := applyLegacyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// MustLoad loads configuration with helpful error messages.
// It checks if the config file exists and provides user-friendly
// instructions if not.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  waypost init\n\n"+
				"Or specify a custom config file:\n"+
				"  waypost <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else {
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("configuration file not found: %s\n\n"+
				"Please create the configuration file:\n"+
				"  waypost init --config %s",
				configPath, configPath)
		}
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML
// format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Use yaml.Marshal directly to respect yaml tags
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variables and config file
// settings.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the WAYPOST_ prefix and underscores.
	// Example: WAYPOST_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("WAYPOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// Use default location: $XDG_CONFIG_HOME/waypost/config.yaml
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error) where fileFound indicates if a config file
// was found.
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		// Also check for os.PathError when an explicit config file
		// doesn't exist
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}

	return true, nil
}

// applyLegacyEnvOverrides honors the environment variables older
// deployments configured the server with.
func applyLegacyEnvOverrides(cfg *Config) error {
	if addr := os.Getenv("TCP_LISTEN_ADDR"); addr != "" {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			return fmt.Errorf("invalid TCP_LISTEN_ADDR %q: %w", addr, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid TCP_LISTEN_ADDR port %q: %w", portStr, err)
		}
		cfg.Relay.BindAddress = host
		cfg.Relay.Port = port
	}

	if portStr := os.Getenv("API_LISTEN_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("invalid API_LISTEN_PORT %q: %w", portStr, err)
		}
		cfg.API.Port = port
	}

	return nil
}

// configDecodeHooks returns a combined decode hook for all custom types.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		durationDecodeHook(),
	)
}

// durationDecodeHook returns a mapstructure decode hook that converts
// strings to time.Duration. This enables config files to use
// human-readable durations like "30s", "5m", "1h".
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}

		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			// Assume nanoseconds for raw integers
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			// YAML often deserializes numbers as float64
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to
// the current directory if the home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "waypost")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "waypost")
}

// getDataDir returns the data directory path for on-disk state.
func getDataDir() string {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "waypost")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".local", "share", "waypost")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default
// location.
func DefaultConfigExists() bool {
	path := GetDefaultConfigPath()
	_, err := os.Stat(path)
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the
// init command).
func GetConfigDir() string {
	return getConfigDir()
}
