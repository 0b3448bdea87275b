// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package wiring builds the configured storage backend, authenticator and
// observers.
package wiring

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/absmach/fluxgate/auth"
	"github.com/absmach/fluxgate/broker/webhook"
	"github.com/absmach/fluxgate/config"
	"github.com/absmach/fluxgate/storage"
	"github.com/absmach/fluxgate/storage/badger"
	"github.com/absmach/fluxgate/storage/document"
	"github.com/absmach/fluxgate/storage/memory"
	"github.com/absmach/fluxgate/storage/redis"
)

var (
	ErrUnknownStorage = errors.New("unknown storage type")
	ErrUnknownAuth    = errors.New("unknown auth type")
)

// NewStore returns the configured backend, or nil when persistence is
// disabled. The store is not connected.
func NewStore(cfg config.PersistenceConfig, logger *slog.Logger) (storage.Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("storage", string(cfg.Type)))

	switch cfg.Type {
	case config.StorageMemory:
		return memory.New(cfg.Limit), nil
	case config.StorageRedis:
		return redis.New(redis.Config{
			Addr:     cfg.Redis.Addr,
			Username: cfg.Redis.Username,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
			Limit:    cfg.Limit,
		}, logger), nil
	case config.StorageDocument:
		return document.New(document.Config{
			Driver:     cfg.Document.Driver,
			DSN:        cfg.Document.DSN,
			Collection: cfg.Document.Collection,
			Limit:      cfg.Limit,
		}, logger), nil
	case config.StorageBadger:
		return badger.New(badger.Config{
			Dir:           cfg.Badger.Dir,
			InMemory:      cfg.Badger.InMemory,
			Limit:         cfg.Limit,
			EncryptionKey: cfg.Badger.EncryptionKey,
		}, logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownStorage, cfg.Type)
	}
}

// NewAuthenticator returns the configured authenticator, or nil when
// authentication is disabled.
func NewAuthenticator(cfg config.AuthConfig, logger *slog.Logger) (auth.Authenticator, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	switch cfg.Type {
	case config.AuthStatic:
		users := make([]auth.StaticUser, 0, len(cfg.Static.Users))
		for _, u := range cfg.Static.Users {
			users = append(users, auth.StaticUser{Username: u.Username, Password: u.Password, ClientID: u.ClientID})
		}
		return auth.NewStatic(users), nil
	case config.AuthRemote:
		remote, err := auth.NewRemote(auth.RemoteConfig{
			AuthURL: cfg.Remote.AuthURL,
			ACLURL:  cfg.Remote.ACLURL,
			Method:  cfg.Remote.Method,
			Timeout: cfg.Remote.Timeout,
			Headers: cfg.Remote.Headers,
			CircuitBreaker: auth.BreakerConfig{
				FailureThreshold: cfg.Remote.CircuitBreaker.FailureThreshold,
				ResetTimeout:     cfg.Remote.CircuitBreaker.ResetTimeout,
			},
		}, logger)
		if err != nil {
			return nil, err
		}
		return remote, nil
	case config.AuthFile:
		var opts []auth.FileOption
		if cfg.File.UnifiedErrors {
			opts = append(opts, auth.WithUnifiedErrors())
		}
		file, err := auth.LoadFile(cfg.File.Path, opts...)
		if err != nil {
			return nil, err
		}
		return file, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAuth, cfg.Type)
	}
}

// NewWebhook returns the webhook notifier, or nil when webhooks are disabled.
func NewWebhook(cfg config.WebhookConfig, brokerID string, logger *slog.Logger) (*webhook.GenericNotifier, error) {
	if !cfg.Enabled || len(cfg.Endpoints) == 0 {
		return nil, nil
	}
	return webhook.NewNotifier(cfg, brokerID, webhook.NewHTTPSender(), logger)
}
