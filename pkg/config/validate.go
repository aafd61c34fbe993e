package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/modoterra/panelctl/pkg/logging"
)

// Validate checks the config for structural correctness.
func Validate(c *Config) []error {
	var errs []error

	if c.Version != 1 {
		errs = append(errs, fmt.Errorf("version must be 1, got %d", c.Version))
	}

	switch {
	case c.BaseAPI == "":
		errs = append(errs, fmt.Errorf("base_api is required"))
	case strings.HasPrefix(c.BaseAPI, "/"):
		if c.Origin == "" {
			errs = append(errs, fmt.Errorf("origin is required when base_api is relative (%q)", c.BaseAPI))
		} else if err := checkAbsolute(c.Origin); err != nil {
			errs = append(errs, fmt.Errorf("origin: %w", err))
		}
	default:
		if err := checkAbsolute(c.BaseAPI); err != nil {
			errs = append(errs, fmt.Errorf("base_api: %w", err))
		}
	}

	if c.Token != "" && c.TokenFile != "" {
		errs = append(errs, fmt.Errorf("token and token_file are mutually exclusive"))
	}

	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	l := c.Logs
	if l.MaxLines < 1 {
		errs = append(errs, fmt.Errorf("logs.max_lines must be positive, got %d", l.MaxLines))
	}
	if l.Interval < 0 || l.Interval > MaxInterval {
		errs = append(errs, fmt.Errorf("logs.interval must be between 0 and %d seconds, got %d", MaxInterval, l.Interval))
	}
	if l.ReconnectAttempts < 0 {
		errs = append(errs, fmt.Errorf("logs.reconnect_attempts must not be negative, got %d", l.ReconnectAttempts))
	}
	if l.ReconnectInterval <= 0 {
		errs = append(errs, fmt.Errorf("logs.reconnect_interval must be positive"))
	}
	if l.FlushWindow <= 0 {
		errs = append(errs, fmt.Errorf("logs.flush_window must be positive"))
	}
	if l.PinTolerance < 0 {
		errs = append(errs, fmt.Errorf("logs.pin_tolerance must not be negative, got %d", l.PinTolerance))
	}

	return errs
}

func checkAbsolute(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required in %q", raw)
	}
	return nil
}
