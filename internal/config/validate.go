package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateAPI(); err != nil {
		return err
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if err := c.validateRemote(); err != nil {
		return err
	}
	if err := ensurePositiveMap(map[string]int{
		"worker.stop_grace_seconds":     c.Worker.StopGraceSeconds,
		"remote.timeout_seconds":        c.Remote.TimeoutSeconds,
		"remote.deferred_horizon_hours": c.Remote.DeferredHorizonHours,
		"scheduler.max_log_entries":     c.Scheduler.MaxLogEntries,
		"notifications.request_timeout": c.Notifications.RequestTimeout,
	}); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateAPI() error {
	if _, _, err := net.SplitHostPort(c.API.Bind); err != nil {
		return fmt.Errorf("api.bind %q must be host:port: %w", c.API.Bind, err)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	switch c.Scheduler.Primary {
	case PrimaryProcess:
		if strings.TrimSpace(c.Worker.Command) == "" {
			return errors.New("worker.command must be set when scheduler.primary is \"process\"")
		}
	case PrimaryRemote:
	default:
		return fmt.Errorf("scheduler.primary must be %q or %q, got %q", PrimaryProcess, PrimaryRemote, c.Scheduler.Primary)
	}
	return nil
}

func (c *Config) validateRemote() error {
	if c.Remote.URL == "" {
		return nil
	}
	parsed, err := url.Parse(c.Remote.URL)
	if err != nil {
		return fmt.Errorf("remote.url: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("remote.url must use http or https, got %q", c.Remote.URL)
	}
	if parsed.Host == "" {
		return fmt.Errorf("remote.url must include a host, got %q", c.Remote.URL)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error":
		return nil
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
