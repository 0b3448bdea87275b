// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/absmach/fluxgate/ratelimit"
	"gopkg.in/yaml.v3"
)

// StorageType selects a storage backend.
type StorageType string

// Storage backends.
const (
	StorageMemory   StorageType = "memory"
	StorageRedis    StorageType = "redis"
	StorageDocument StorageType = "document"
	StorageBadger   StorageType = "badger"
)

// AuthType selects an authenticator.
type AuthType string

// Authenticators.
const (
	AuthStatic AuthType = "static"
	AuthRemote AuthType = "remote"
	AuthFile   AuthType = "file"
)

// Config holds all configuration for the broker.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	Persistence PersistenceConfig `yaml:"persistence"`
	Auth        AuthConfig        `yaml:"auth"`
	RateLimit   ratelimit.Config  `yaml:"rate_limit"`
	Webhook     WebhookConfig     `yaml:"webhook"`
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	BrokerID        string        `yaml:"broker_id"`
	TCPAddr         string        `yaml:"tcp_addr"`
	WSAddr          string        `yaml:"ws_addr"`
	HealthAddr      string        `yaml:"health_addr"`
	MetricsAddr     string        `yaml:"metrics_addr"` // OTLP gRPC endpoint
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	WSEnabled       bool          `yaml:"ws_enabled"`
	HealthEnabled   bool          `yaml:"health_enabled"`
	MetricsEnabled  bool          `yaml:"metrics_enabled"` // Enables OTel

	// OpenTelemetry configuration
	OtelServiceName     string  `yaml:"otel_service_name"`
	OtelServiceVersion  string  `yaml:"otel_service_version"`
	OtelTracesEnabled   bool    `yaml:"otel_traces_enabled"`
	OtelMetricsEnabled  bool    `yaml:"otel_metrics_enabled"`
	OtelTraceSampleRate float64 `yaml:"otel_trace_sample_rate"` // 0.0 to 1.0
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// PersistenceConfig selects and configures the message store.
type PersistenceConfig struct {
	Enabled        bool           `yaml:"enabled"`
	Type           StorageType    `yaml:"type"`
	Limit          int            `yaml:"limit"`            // Default GetMessages limit
	WriteQueueSize int            `yaml:"write_queue_size"` // Pending publish writes
	Redis          RedisConfig    `yaml:"redis"`
	Document       DocumentConfig `yaml:"document"`
	Badger         BadgerConfig   `yaml:"badger"`
}

// RedisConfig holds key-value backend settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// DocumentConfig holds document backend settings.
type DocumentConfig struct {
	Driver     string `yaml:"driver"` // sqlite, postgres
	DSN        string `yaml:"dsn"`
	Collection string `yaml:"collection"`
}

// BadgerConfig holds embedded backend settings.
type BadgerConfig struct {
	Dir           string `yaml:"dir"`
	InMemory      bool   `yaml:"in_memory"`
	EncryptionKey string `yaml:"encryption_key"` // Passphrase for encryption at rest
}

// AuthConfig selects and configures the authenticator.
type AuthConfig struct {
	Enabled bool             `yaml:"enabled"`
	Type    AuthType         `yaml:"type"`
	Static  StaticAuthConfig `yaml:"static"`
	Remote  RemoteAuthConfig `yaml:"remote"`
	File    FileAuthConfig   `yaml:"file"`
}

// StaticAuthConfig lists fixed credentials.
type StaticAuthConfig struct {
	Users []StaticUser `yaml:"users"`
}

// StaticUser is one fixed credential. ClientID optionally binds it to a client.
type StaticUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// RemoteAuthConfig configures delegation to an HTTP auth service.
type RemoteAuthConfig struct {
	AuthURL        string               `yaml:"auth_url"`
	ACLURL         string               `yaml:"acl_url"`
	Method         string               `yaml:"method"`
	Timeout        time.Duration        `yaml:"timeout"`
	Headers        map[string]string    `yaml:"headers"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// FileAuthConfig points at a credential file.
type FileAuthConfig struct {
	Path          string `yaml:"path"`
	UnifiedErrors bool   `yaml:"unified_errors"`
}

// WebhookConfig holds webhook notification configuration.
type WebhookConfig struct {
	Enabled         bool              `yaml:"enabled"`
	QueueSize       int               `yaml:"queue_size"`
	DropPolicy      string            `yaml:"drop_policy"`      // "oldest" or "newest"
	Workers         int               `yaml:"workers"`          // Number of worker goroutines
	IncludePayload  bool              `yaml:"include_payload"`  // Include message payload in events
	ShutdownTimeout time.Duration     `yaml:"shutdown_timeout"` // Graceful shutdown timeout
	Defaults        WebhookDefaults   `yaml:"defaults"`
	Endpoints       []WebhookEndpoint `yaml:"endpoints"`
}

// WebhookDefaults holds default settings for webhook endpoints.
type WebhookDefaults struct {
	Timeout        time.Duration        `yaml:"timeout"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig holds retry configuration for webhook delivery.
type RetryConfig struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	Multiplier      float64       `yaml:"multiplier"`
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// WebhookEndpoint defines a single webhook endpoint configuration.
type WebhookEndpoint struct {
	Name         string            `yaml:"name"`
	Type         string            `yaml:"type"` // "http"
	URL          string            `yaml:"url"`
	Events       []string          `yaml:"events"`        // Event type filter (empty = all)
	TopicFilters []string          `yaml:"topic_filters"` // Topic pattern filter (empty = all)
	Headers      map[string]string `yaml:"headers"`
	Timeout      time.Duration     `yaml:"timeout,omitempty"` // Override default
	Retry        *RetryConfig      `yaml:"retry,omitempty"`   // Override default
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BrokerID:        "fluxgate-1",
			TCPAddr:         ":1883",
			WSAddr:          ":8083",
			WSEnabled:       false,
			HealthAddr:      ":8081",
			HealthEnabled:   true,
			MetricsAddr:     "localhost:4317",
			MetricsEnabled:  false,
			ShutdownTimeout: 30 * time.Second,

			// OpenTelemetry defaults
			OtelServiceName:     "fluxgate",
			OtelServiceVersion:  "1.0.0",
			OtelMetricsEnabled:  true,
			OtelTracesEnabled:   false,
			OtelTraceSampleRate: 0.1,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Persistence: PersistenceConfig{
			Enabled:        false,
			Type:           StorageMemory,
			Limit:          100,
			WriteQueueSize: 1024,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "mqtt:messages:",
			},
			Document: DocumentConfig{
				Driver:     "sqlite",
				DSN:        "/tmp/fluxgate/messages.db",
				Collection: "mqtt_messages",
			},
			Badger: BadgerConfig{
				Dir: "/tmp/fluxgate/data",
			},
		},
		Auth: AuthConfig{
			Enabled: false,
			Type:    AuthStatic,
			Remote: RemoteAuthConfig{
				Method:  "POST",
				Timeout: 5 * time.Second,
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     30 * time.Second,
				},
			},
		},
		RateLimit: ratelimit.DefaultConfig(),
		Webhook: WebhookConfig{
			Enabled:         false,
			QueueSize:       10000,
			DropPolicy:      "oldest",
			Workers:         5,
			IncludePayload:  false,
			ShutdownTimeout: 30 * time.Second,
			Defaults: WebhookDefaults{
				Timeout: 5 * time.Second,
				Retry: RetryConfig{
					MaxAttempts:     3,
					InitialInterval: 1 * time.Second,
					MaxInterval:     30 * time.Second,
					Multiplier:      2.0,
				},
				CircuitBreaker: CircuitBreakerConfig{
					FailureThreshold: 5,
					ResetTimeout:     60 * time.Second,
				},
			},
			Endpoints: []WebhookEndpoint{},
		},
	}
}

// Load loads configuration from a YAML file.
// If the file doesn't exist, returns default configuration.
func Load(filename string) (*Config, error) {
	if filename == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.TCPAddr == "" {
		return fmt.Errorf("server.tcp_addr cannot be empty")
	}
	if c.Server.WSEnabled && c.Server.WSAddr == "" {
		return fmt.Errorf("server.ws_addr required when websocket is enabled")
	}
	if c.Server.ShutdownTimeout < 0 {
		return fmt.Errorf("server.shutdown_timeout cannot be negative")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("log.format must be one of: text, json")
	}

	if err := c.Persistence.validate(); err != nil {
		return err
	}
	if err := c.Auth.validate(); err != nil {
		return err
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.Rate <= 0 {
			return fmt.Errorf("rate_limit.rate must be positive")
		}
		if c.RateLimit.Burst < 1 {
			return fmt.Errorf("rate_limit.burst must be at least 1")
		}
	}

	// OpenTelemetry validation (only if metrics enabled)
	if c.Server.MetricsEnabled {
		if c.Server.OtelServiceName == "" {
			return fmt.Errorf("server.otel_service_name cannot be empty when metrics enabled")
		}
		if c.Server.OtelTraceSampleRate < 0.0 || c.Server.OtelTraceSampleRate > 1.0 {
			return fmt.Errorf("server.otel_trace_sample_rate must be between 0.0 and 1.0")
		}
	}

	return c.Webhook.validate()
}

func (p PersistenceConfig) validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Limit < 0 {
		return fmt.Errorf("persistence.limit cannot be negative")
	}
	if p.WriteQueueSize < 1 {
		return fmt.Errorf("persistence.write_queue_size must be at least 1")
	}

	switch p.Type {
	case StorageMemory:
	case StorageRedis:
		if p.Redis.Addr == "" {
			return fmt.Errorf("persistence.redis.addr required when type is redis")
		}
	case StorageDocument:
		if p.Document.Driver != "sqlite" && p.Document.Driver != "postgres" {
			return fmt.Errorf("persistence.document.driver must be one of: sqlite, postgres")
		}
		if p.Document.DSN == "" {
			return fmt.Errorf("persistence.document.dsn required when type is document")
		}
	case StorageBadger:
		if p.Badger.Dir == "" && !p.Badger.InMemory {
			return fmt.Errorf("persistence.badger.dir required when type is badger")
		}
		if p.Badger.EncryptionKey != "" && p.Badger.InMemory {
			return fmt.Errorf("persistence.badger.encryption_key requires an on-disk store")
		}
	default:
		return fmt.Errorf("persistence.type must be one of: memory, redis, document, badger")
	}
	return nil
}

func (a AuthConfig) validate() error {
	if !a.Enabled {
		return nil
	}

	switch a.Type {
	case AuthStatic:
		for i, u := range a.Static.Users {
			if u.Username == "" {
				return fmt.Errorf("auth.static.users[%d].username cannot be empty", i)
			}
		}
	case AuthRemote:
		if a.Remote.AuthURL == "" {
			return fmt.Errorf("auth.remote.auth_url required when type is remote")
		}
		if a.Remote.Timeout < 0 {
			return fmt.Errorf("auth.remote.timeout cannot be negative")
		}
	case AuthFile:
		if a.File.Path == "" {
			return fmt.Errorf("auth.file.path required when type is file")
		}
	default:
		return fmt.Errorf("auth.type must be one of: static, remote, file")
	}
	return nil
}

func (w WebhookConfig) validate() error {
	if !w.Enabled {
		return nil
	}
	if w.QueueSize < 100 {
		return fmt.Errorf("webhook.queue_size must be at least 100")
	}
	if w.DropPolicy != "oldest" && w.DropPolicy != "newest" {
		return fmt.Errorf("webhook.drop_policy must be 'oldest' or 'newest'")
	}
	if w.Workers < 1 {
		return fmt.Errorf("webhook.workers must be at least 1")
	}
	if w.ShutdownTimeout < time.Second {
		return fmt.Errorf("webhook.shutdown_timeout must be at least 1 second")
	}
	if w.Defaults.Timeout < time.Second {
		return fmt.Errorf("webhook.defaults.timeout must be at least 1 second")
	}
	if w.Defaults.Retry.MaxAttempts < 1 {
		return fmt.Errorf("webhook.defaults.retry.max_attempts must be at least 1")
	}
	if w.Defaults.Retry.Multiplier < 1.0 {
		return fmt.Errorf("webhook.defaults.retry.multiplier must be at least 1.0")
	}
	if w.Defaults.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("webhook.defaults.circuit_breaker.failure_threshold must be at least 1")
	}

	for i, endpoint := range w.Endpoints {
		if endpoint.Name == "" {
			return fmt.Errorf("webhook.endpoints[%d].name cannot be empty", i)
		}
		if endpoint.Type != "http" {
			return fmt.Errorf("webhook.endpoints[%d].type must be 'http'", i)
		}
		if endpoint.URL == "" {
			return fmt.Errorf("webhook.endpoints[%d].url cannot be empty", i)
		}
	}
	return nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
