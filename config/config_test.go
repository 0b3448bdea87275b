// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.TCPAddr != ":1883" {
		t.Errorf("expected default TCP addr :1883, got %s", cfg.Server.TCPAddr)
	}
	if cfg.Persistence.Type != StorageMemory {
		t.Errorf("expected default storage memory, got %s", cfg.Persistence.Type)
	}
	if cfg.Persistence.Limit != 100 {
		t.Errorf("expected default limit 100, got %d", cfg.Persistence.Limit)
	}
	if cfg.Auth.Remote.Timeout != 5*time.Second {
		t.Errorf("expected remote timeout 5s, got %v", cfg.Auth.Remote.Timeout)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected log level info, got %s", cfg.Log.Level)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{
			name:   "default config is valid",
			modify: func(c *Config) {},
		},
		{
			name:    "no TCP listener",
			modify:  func(c *Config) { c.Server.TCPAddr = "" },
			wantErr: "server.tcp_addr",
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.Log.Level = "invalid" },
			wantErr: "log.level",
		},
		{
			name: "unknown storage type",
			modify: func(c *Config) {
				c.Persistence.Enabled = true
				c.Persistence.Type = "mongo"
			},
			wantErr: "persistence.type",
		},
		{
			name: "unknown storage type ignored when disabled",
			modify: func(c *Config) {
				c.Persistence.Type = "mongo"
			},
		},
		{
			name: "redis without addr",
			modify: func(c *Config) {
				c.Persistence.Enabled = true
				c.Persistence.Type = StorageRedis
				c.Persistence.Redis.Addr = ""
			},
			wantErr: "persistence.redis.addr",
		},
		{
			name: "document with unknown driver",
			modify: func(c *Config) {
				c.Persistence.Enabled = true
				c.Persistence.Type = StorageDocument
				c.Persistence.Document.Driver = "oracle"
			},
			wantErr: "persistence.document.driver",
		},
		{
			name: "badger in memory without dir",
			modify: func(c *Config) {
				c.Persistence.Enabled = true
				c.Persistence.Type = StorageBadger
				c.Persistence.Badger = BadgerConfig{InMemory: true}
			},
		},
		{
			name: "badger encryption in memory",
			modify: func(c *Config) {
				c.Persistence.Enabled = true
				c.Persistence.Type = StorageBadger
				c.Persistence.Badger = BadgerConfig{InMemory: true, EncryptionKey: "k"}
			},
			wantErr: "persistence.badger.encryption_key",
		},
		{
			name: "zero write queue",
			modify: func(c *Config) {
				c.Persistence.Enabled = true
				c.Persistence.WriteQueueSize = 0
			},
			wantErr: "persistence.write_queue_size",
		},
		{
			name: "unknown auth type",
			modify: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Type = "ldap"
			},
			wantErr: "auth.type",
		},
		{
			name: "remote auth without url",
			modify: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Type = AuthRemote
			},
			wantErr: "auth.remote.auth_url",
		},
		{
			name: "file auth without path",
			modify: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Type = AuthFile
			},
			wantErr: "auth.file.path",
		},
		{
			name: "static user without name",
			modify: func(c *Config) {
				c.Auth.Enabled = true
				c.Auth.Static.Users = []StaticUser{{Password: "p"}}
			},
			wantErr: "auth.static.users[0]",
		},
		{
			name: "rate limit without burst",
			modify: func(c *Config) {
				c.RateLimit.Enabled = true
				c.RateLimit.Burst = 0
			},
			wantErr: "rate_limit.burst",
		},
		{
			name: "webhook endpoint without url",
			modify: func(c *Config) {
				c.Webhook.Enabled = true
				c.Webhook.Endpoints = []WebhookEndpoint{{Name: "a", Type: "http"}}
			},
			wantErr: "webhook.endpoints[0].url",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() unexpected error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if err != nil {
		t.Fatalf("Load() should return default config and no error when file doesn't exist, got error: %v", err)
	}
	if cfg.Server.TCPAddr != ":1883" {
		t.Errorf("expected default config, got TCP addr %s", cfg.Server.TCPAddr)
	}
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
persistence:
  enabled: true
  type: redis
  limit: 25
  redis:
    addr: "redis:6379"
    prefix: "test:"
auth:
  enabled: true
  type: remote
  remote:
    auth_url: "http://auth.local/check"
    timeout: 2s
    headers:
      X-Api-Key: secret
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Persistence.Type != StorageRedis || cfg.Persistence.Redis.Addr != "redis:6379" {
		t.Errorf("unexpected persistence config: %+v", cfg.Persistence)
	}
	if cfg.Persistence.Limit != 25 {
		t.Errorf("expected limit 25, got %d", cfg.Persistence.Limit)
	}
	if cfg.Persistence.WriteQueueSize != 1024 {
		t.Errorf("expected default write queue to survive, got %d", cfg.Persistence.WriteQueueSize)
	}
	if cfg.Auth.Remote.Timeout != 2*time.Second {
		t.Errorf("expected timeout 2s, got %v", cfg.Auth.Remote.Timeout)
	}
	if cfg.Auth.Remote.Headers["X-Api-Key"] != "secret" {
		t.Errorf("expected header to be loaded, got %v", cfg.Auth.Remote.Headers)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("persistence:\n  enabled: true\n  type: mongo\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected validation error")
	}
}

func TestSaveLoad(t *testing.T) {
	tmpfile := filepath.Join(t.TempDir(), "config.yaml")

	cfg := Default()
	cfg.Server.TCPAddr = ":8883"
	cfg.Persistence.Enabled = true
	cfg.Persistence.Type = StorageBadger
	cfg.Log.Level = "debug"

	if err := cfg.Save(tmpfile); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(tmpfile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if loaded.Server.TCPAddr != ":8883" {
		t.Errorf("expected TCP addr :8883, got %s", loaded.Server.TCPAddr)
	}
	if loaded.Persistence.Type != StorageBadger {
		t.Errorf("expected storage badger, got %s", loaded.Persistence.Type)
	}
	if loaded.Server.ShutdownTimeout != 30*time.Second {
		t.Errorf("expected shutdown timeout 30s, got %v", loaded.Server.ShutdownTimeout)
	}
	if loaded.Log.Level != "debug" {
		t.Errorf("expected log level debug, got %s", loaded.Log.Level)
	}
}
