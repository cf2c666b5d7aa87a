package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration against its struct tags.
//
// Validation covers the static constraints: required fields, port
// ranges, and enumerated values such as log level and directory
// backend. Cross-field consistency (for example, certificate files
// actually existing on disk) is checked at startup by the components
// that consume the values.
func Validate(cfg *Config) error {
	validate := validator.New()

	if err := validate.Struct(cfg); err != nil {
		if invalid, ok := err.(*validator.InvalidValidationError); ok {
			return fmt.Errorf("invalid configuration structure: %w", invalid)
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Signal.Port == cfg.Relay.Port {
		return fmt.Errorf("signal and relay ports must differ (both %d)", cfg.Signal.Port)
	}

	return nil
}
