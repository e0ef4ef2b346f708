// Package config provides configuration loading for embedgate.
//
// Configuration is loaded from a YAML file, then overridden by environment
// variables, with hardcoded defaults for anything left unset.
package config

import (
	"errors"
	"fmt"
	"time"
)

// Config holds the complete embedgate configuration.
type Config struct {
	Server   ServerConfig    `koanf:"server"`
	Logging  LoggingConfig   `koanf:"logging"`
	Auth     AuthConfig      `koanf:"auth"`
	Engine   EngineConfig    `koanf:"engine"`
	Backends []BackendConfig `koanf:"backends"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	AuthRatePerSec  float64       `koanf:"auth_rate_per_sec"`
	AuthRateBurst   int           `koanf:"auth_rate_burst"`
}

// LoggingConfig holds structured logging configuration.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// AuthConfig holds the credential store configuration.
//
// SeedUser/SeedOTP create an initial credential when the store file does not
// exist yet, so a fresh deployment can authenticate without hand-editing the
// store.
type AuthConfig struct {
	StorePath string `koanf:"store_path"`
	SeedUser  string `koanf:"seed_user"`
	SeedOTP   Secret `koanf:"seed_otp"`
}

// EngineConfig selects and configures the vector engine.
type EngineConfig struct {
	Provider string         `koanf:"provider"`
	Qdrant   QdrantConfig   `koanf:"qdrant"`
	Embedded EmbeddedConfig `koanf:"embedded"`
}

// QdrantConfig holds Qdrant gRPC connection settings.
type QdrantConfig struct {
	Host           string        `koanf:"host"`
	Port           int           `koanf:"port"`
	UseTLS         bool          `koanf:"use_tls"`
	MaxRetries     int           `koanf:"max_retries"`
	RetryBackoff   time.Duration `koanf:"retry_backoff"`
	MaxMessageSize int           `koanf:"max_message_size"`
}

// EmbeddedConfig holds the embedded engine's persistence settings. An empty
// path keeps everything in memory.
type EmbeddedConfig struct {
	Path     string `koanf:"path"`
	Compress bool   `koanf:"compress"`
}

// BackendConfig describes one extraction backend. Name is the algorithm name
// the backend serves ("face", "reid", ...).
type BackendConfig struct {
	Name    string        `koanf:"name"`
	BaseURL string        `koanf:"base_url"`
	Model   string        `koanf:"model"`
	Timeout time.Duration `koanf:"timeout"`
}

// Engine provider names.
const (
	ProviderQdrant   = "qdrant"
	ProviderEmbedded = "embedded"
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.AuthRatePerSec <= 0 {
		return errors.New("auth rate must be positive")
	}
	if c.Server.AuthRateBurst < 1 {
		return errors.New("auth rate burst must be at least 1")
	}

	if c.Auth.StorePath == "" {
		return errors.New("auth store path is required")
	}
	if (c.Auth.SeedUser != "") != c.Auth.SeedOTP.IsSet() {
		return errors.New("auth seed_user and seed_otp must be set together")
	}

	switch c.Engine.Provider {
	case ProviderQdrant:
		if c.Engine.Qdrant.Host == "" {
			return errors.New("qdrant host is required")
		}
		if c.Engine.Qdrant.Port < 1 || c.Engine.Qdrant.Port > 65535 {
			return fmt.Errorf("invalid qdrant port: %d (must be 1-65535)", c.Engine.Qdrant.Port)
		}
	case ProviderEmbedded:
		// any path, including empty, is valid
	default:
		return fmt.Errorf("unknown engine provider: %q (must be %q or %q)",
			c.Engine.Provider, ProviderQdrant, ProviderEmbedded)
	}

	seen := make(map[string]bool, len(c.Backends))
	for i, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend %d: name is required", i)
		}
		if seen[b.Name] {
			return fmt.Errorf("backend %d: duplicate name %q", i, b.Name)
		}
		seen[b.Name] = true
		if b.BaseURL == "" {
			return fmt.Errorf("backend %q: base_url is required", b.Name)
		}
		if b.Model == "" {
			return fmt.Errorf("backend %q: model is required", b.Name)
		}
	}

	return nil
}
