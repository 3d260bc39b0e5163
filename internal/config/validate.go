package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateRegistry(); err != nil {
		return err
	}
	if err := c.validateSteps(); err != nil {
		return err
	}
	if c.Notifications.RequestTimeoutSeconds <= 0 {
		return errors.New("notifications.request_timeout_seconds must be positive")
	}
	return c.validateLogging()
}

func (c *Config) validateRegistry() error {
	if c.Paths.RegistryFile == "" {
		return errors.New("paths.registry_file must be set")
	}
	if c.Registry.LockTimeoutSeconds <= 0 {
		return errors.New("registry.lock_timeout_seconds must be positive")
	}
	if c.Registry.LockRetryMillis <= 0 {
		return errors.New("registry.lock_retry_millis must be positive")
	}
	return nil
}

func (c *Config) validateSteps() error {
	if c.Steps.TimeoutSeconds <= 0 {
		return errors.New("steps.timeout_seconds must be positive")
	}
	if c.Steps.HTTPTimeoutSeconds <= 0 {
		return errors.New("steps.http_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
}
