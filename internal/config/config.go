// Package config provides configuration management for the Duo API client.
// It handles loading and parsing a YAML configuration file and layers
// environment variable overrides on top, so the secret key never has to be
// written to disk.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variables recognized as overrides for the credential fields.
const (
	EnvAPIDomain      = "DUO_API_DOMAIN"
	EnvIntegrationKey = "DUO_IKEY"
	EnvSecretKey      = "DUO_SKEY"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// APIDomain is the base URL of the Duo API deployment, e.g.
	// "https://api-xxxxxxxx.duosecurity.com". It must include a host.
	APIDomain string `yaml:"api-domain" json:"api-domain"`

	// IntegrationKey is the public identifier of the Duo integration.
	IntegrationKey string `yaml:"integration-key" json:"integration-key"`

	// SecretKey is the signing secret of the integration. It is excluded
	// from JSON serialization and must never be logged.
	SecretKey string `yaml:"secret-key" json:"-"`

	// ProxyURL is the URL of an optional proxy server to use for outbound
	// requests. Supports http, https and socks5 schemes.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// RequestTimeoutSeconds bounds each individual API call. <= 0 means no
	// per-request timeout. It does not bound the overall polling duration.
	RequestTimeoutSeconds int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`

	// LoggingToFile redirects logs to a rotating file instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for log files when LoggingToFile is set.
	// Defaults to "logs".
	LogDir string `yaml:"log-dir,omitempty" json:"log-dir,omitempty"`

	// Debug enables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`
}

// LoadConfig reads the configuration from the given YAML file, applies
// environment overrides and validates the result. An empty path skips the
// file and builds the configuration from the environment alone.
func LoadConfig(configFile string) (*Config, error) {
	var cfg Config
	if configFile != "" {
		data, err := os.ReadFile(configFile)
		if err != nil {
			return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
		}
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: failed to parse %s: %w", configFile, err)
		}
	}

	cfg.applyEnvOverrides()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvAPIDomain); v != "" {
		c.APIDomain = v
	}
	if v := os.Getenv(EnvIntegrationKey); v != "" {
		c.IntegrationKey = v
	}
	if v := os.Getenv(EnvSecretKey); v != "" {
		c.SecretKey = v
	}
}

func (c *Config) applyDefaults() {
	if c.LogDir == "" {
		c.LogDir = "logs"
	}
}

func (c *Config) validate() error {
	if c.APIDomain == "" {
		return fmt.Errorf("config: api-domain is required (or set %s)", EnvAPIDomain)
	}
	if c.IntegrationKey == "" {
		return fmt.Errorf("config: integration-key is required (or set %s)", EnvIntegrationKey)
	}
	if c.SecretKey == "" {
		return fmt.Errorf("config: secret-key is required (or set %s)", EnvSecretKey)
	}
	return nil
}
