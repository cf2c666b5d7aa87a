package config

import (
	"path/filepath"
	"strings"
	"time"
)

// ApplyDefaults sets default values for any unspecified configuration
// fields.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyShutdownTimeoutDefaults(cfg)
	applySignalDefaults(&cfg.Signal)
	applyRelayDefaults(&cfg.Relay)
	applyDirectoryDefaults(&cfg.Directory)
	// API defaults are applied by the api package itself when the
	// server is constructed.
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyShutdownTimeoutDefaults sets shutdown timeout defaults.
func applyShutdownTimeoutDefaults(cfg *Config) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

// applySignalDefaults sets control port defaults.
func applySignalDefaults(cfg *SignalConfig) {
	if cfg.Port == 0 {
		cfg.Port = 45555
	}
	if cfg.CertFile == "" {
		cfg.CertFile = filepath.Join("cert", "example.com.crt")
	}
	if cfg.KeyFile == "" {
		cfg.KeyFile = filepath.Join("cert", "example.com.key")
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = 10 * time.Second
	}
}

// applyRelayDefaults sets relay port defaults.
func applyRelayDefaults(cfg *RelayConfig) {
	if cfg.Port == 0 {
		cfg.Port = 45556
	}
	if cfg.HandshakeTimeout == 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.WaitTTL == 0 {
		cfg.WaitTTL = 120 * time.Second
	}
}

// applyDirectoryDefaults sets device ID store defaults.
func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.Backend == "" {
		cfg.Backend = "badger"
	}
	if cfg.Path == "" {
		cfg.Path = filepath.Join(getDataDir(), "directory")
	}
}

// GetDefaultConfig returns a configuration populated entirely from
// defaults. Used when no config file exists.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
