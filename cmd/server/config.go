// Package main provides the Relay server CLI.
package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config represents the server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Email    EmailConfig    `yaml:"email"`
	Alerting AlertingConfig `yaml:"alerting"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Verbose  bool           `yaml:"-"` // set via CLI flag
}

// ServerConfig contains HTTP listener settings.
type ServerConfig struct {
	HTTPAddress    string `yaml:"http_address"`    // API listen address (default: :8080)
	MetricsAddress string `yaml:"metrics_address"` // Prometheus listen address (default: :9090)
}

// DatabaseConfig contains storage settings.
type DatabaseConfig struct {
	Path               string `yaml:"path"`                 // SQLite database path
	EventRetentionDays int    `yaml:"event_retention_days"` // prune audit events older than this (default: 90)
}

// EmailConfig contains SMTP settings for the direct-message channel.
// Email notifications are disabled when the host is empty.
type EmailConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"-"` // from RELAY_SMTP_PASSWORD
	From     string `yaml:"from"`
	Domain   string `yaml:"domain"` // recipient domain for tenant addresses
}

// AlertingConfig contains alert evaluation and notification settings.
type AlertingConfig struct {
	WebhookTimeoutSeconds int `yaml:"webhook_timeout_seconds"` // rule webhook POST timeout (default: 30)
	RateLimitPerMinute    int `yaml:"rate_limit_per_minute"`   // email notifications per minute (default: 10)
}

// WebhooksConfig contains delivery engine settings.
type WebhooksConfig struct {
	Workers                  int     `yaml:"workers"`                     // delivery workers (default: NumCPU)
	QueueSize                int     `yaml:"queue_size"`                  // delivery queue buffer
	DeliveryTimeoutSeconds   int     `yaml:"delivery_timeout_seconds"`    // per-attempt timeout (default: 30)
	TestTimeoutSeconds       int     `yaml:"test_timeout_seconds"`        // test delivery timeout (default: 10)
	RetryPollIntervalSeconds int     `yaml:"retry_poll_interval_seconds"` // retry sweep interval (default: 15)
	RetrySweepLimit          int     `yaml:"retry_sweep_limit"`           // due deliveries per sweep (default: 100)
	MaxPerSecond             float64 `yaml:"max_per_second"`              // outbound rate limit, 0 disables
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns a configuration with default values.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

// setDefaults sets default values for missing config fields.
func (c *Config) setDefaults() {
	if c.Server.HTTPAddress == "" {
		c.Server.HTTPAddress = ":8080"
	}
	if c.Server.MetricsAddress == "" {
		c.Server.MetricsAddress = ":9090"
	}
	if c.Database.Path == "" {
		c.Database.Path = "data/relay.db"
	}
	if c.Database.EventRetentionDays == 0 {
		c.Database.EventRetentionDays = 90
	}
	if c.Email.Port == 0 {
		c.Email.Port = 587
	}
	if c.Alerting.WebhookTimeoutSeconds == 0 {
		c.Alerting.WebhookTimeoutSeconds = 30
	}
	if c.Alerting.RateLimitPerMinute == 0 {
		c.Alerting.RateLimitPerMinute = 10
	}
	if c.Webhooks.DeliveryTimeoutSeconds == 0 {
		c.Webhooks.DeliveryTimeoutSeconds = 30
	}
	if c.Webhooks.TestTimeoutSeconds == 0 {
		c.Webhooks.TestTimeoutSeconds = 10
	}
	if c.Webhooks.RetryPollIntervalSeconds == 0 {
		c.Webhooks.RetryPollIntervalSeconds = 15
	}
	if c.Webhooks.RetrySweepLimit == 0 {
		c.Webhooks.RetrySweepLimit = 100
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.HTTPAddress == "" {
		return fmt.Errorf("server.http_address is required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.EventRetentionDays < 1 {
		return fmt.Errorf("database.event_retention_days must be at least 1")
	}
	if c.Email.Host != "" {
		if c.Email.From == "" {
			return fmt.Errorf("email.from is required when email is configured")
		}
		if c.Email.Domain == "" {
			return fmt.Errorf("email.domain is required when email is configured")
		}
	}
	if c.Webhooks.MaxPerSecond < 0 {
		return fmt.Errorf("webhooks.max_per_second must not be negative")
	}
	return nil
}
