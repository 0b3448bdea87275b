// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package mochi runs the MQTT protocol engine and reports its activity to
// the broker adapter.
package mochi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxgate/auth"
	"github.com/absmach/fluxgate/broker"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/listeners"
)

var (
	_ broker.Listener = (*Engine)(nil)

	// ErrNoListeners is returned when neither TCP nor WebSocket is configured.
	ErrNoListeners = errors.New("no listeners configured")
	// ErrClosed is returned by Serve after Close.
	ErrClosed = errors.New("engine closed")
)

// Adapter receives the engine's notifications. *broker.Adapter implements it.
type Adapter interface {
	Authenticate(ctx context.Context, c auth.Credentials) bool
	Authorize(ctx context.Context, clientID, topic string, action auth.Action) bool
	ClientConnected(clientID, remoteAddr string)
	ClientDisconnected(clientID, remoteAddr string)
	Published(p broker.Publish)
	Subscribed(clientID string, subs []broker.Subscription)
	Error(clientID string, err error)
}

// Config holds the listener configuration.
type Config struct {
	TCPAddr   string
	WSAddr    string
	WSEnabled bool
}

// Engine owns a mochi-mqtt server wired to an Adapter.
type Engine struct {
	server    *mqtt.Server
	closeOnce sync.Once
	mu        sync.Mutex
	closed    bool
}

// New creates the server, registers the adapter hook and binds listeners.
func New(cfg Config, a Adapter, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.TCPAddr == "" && (!cfg.WSEnabled || cfg.WSAddr == "") {
		return nil, ErrNoListeners
	}

	server := mqtt.New(&mqtt.Options{
		InlineClient: true,
		Logger:       logger,
	})
	if err := server.AddHook(&hook{adapter: a, logger: logger}, nil); err != nil {
		return nil, fmt.Errorf("failed to add adapter hook: %w", err)
	}

	if cfg.TCPAddr != "" {
		tcp := listeners.NewTCP(listeners.Config{
			ID:      "tcp",
			Address: cfg.TCPAddr,
		})
		if err := server.AddListener(tcp); err != nil {
			_ = server.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.TCPAddr, err)
		}
	}
	if cfg.WSEnabled && cfg.WSAddr != "" {
		ws := listeners.NewWebsocket(listeners.Config{
			ID:      "ws",
			Address: cfg.WSAddr,
		})
		if err := server.AddListener(ws); err != nil {
			_ = server.Close()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.WSAddr, err)
		}
	}

	return &Engine{server: server}, nil
}

// Serve starts accepting clients and returns.
func (e *Engine) Serve() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}
	return e.server.Serve()
}

// Close stops the listeners and disconnects every client. Calling it twice
// is a no-op.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		err = e.server.Close()
	})
	return err
}

// Publish injects a message as the broker itself. It goes through the same
// hooks as client publishes.
func (e *Engine) Publish(topic string, payload []byte, retain bool, qos byte) error {
	return e.server.Publish(topic, payload, retain, qos)
}
