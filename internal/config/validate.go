package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateParser(); err != nil {
		return err
	}
	if err := c.validateBilling(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.APIBind) == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateParser() error {
	if !c.Parser.MockEnabled {
		// base_url and secret are checked lazily by the client so the CLI can
		// run without a gateway configured; only sanity-check shapes here.
		if c.Parser.BaseURL != "" && !strings.HasPrefix(c.Parser.BaseURL, "http") {
			return fmt.Errorf("parser.base_url must be an http(s) URL, got %q", c.Parser.BaseURL)
		}
	}
	if c.Parser.TimeoutSeconds <= 0 {
		return errors.New("parser.timeout_seconds must be positive")
	}
	if c.Parser.ConnectTimeoutSeconds <= 0 {
		return errors.New("parser.connect_timeout_seconds must be positive")
	}
	if c.Parser.RetryTimes < 0 {
		return errors.New("parser.retry_times must not be negative")
	}
	if c.Parser.RetrySleepMS < 0 {
		return errors.New("parser.retry_sleep_ms must not be negative")
	}
	return nil
}

func (c *Config) validateBilling() error {
	if c.Billing.Timezone == "" {
		return errors.New("billing.timezone must be set")
	}
	if _, err := time.LoadLocation(c.Billing.Timezone); err != nil {
		return fmt.Errorf("billing.timezone %q is not a valid location: %w", c.Billing.Timezone, err)
	}
	if strings.TrimSpace(c.Billing.SubscriptionName) == "" {
		return errors.New("billing.subscription_name must be set")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.Workers <= 0 {
		return errors.New("workflow.workers must be positive")
	}
	if c.Workflow.QueuePollInterval <= 0 {
		return errors.New("workflow.queue_poll_interval must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	if c.Workflow.HeartbeatInterval <= 0 {
		return errors.New("workflow.heartbeat_interval must be positive")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
		return nil
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
}

// ReferenceLocation returns the fixed timezone used for daily quota windows.
// Validate guarantees the location parses; the fallback is defensive only.
func (c *Config) ReferenceLocation() *time.Location {
	loc, err := time.LoadLocation(c.Billing.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
