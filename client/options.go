// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import (
	"log/slog"
	"time"
)

// Default values.
const (
	DefaultKeepAlive      = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
	DefaultReconnectMax   = 2 * time.Minute
)

// Options configures the MQTT client.
type Options struct {
	// Connection
	Servers        []string      // Broker URLs, e.g. tcp://localhost:1883
	ClientID       string        // Client identifier
	Username       string        // Optional username
	Password       string        // Optional password
	ConnectTimeout time.Duration // Timeout for connection attempts
	KeepAlive      time.Duration // Keep-alive interval

	// Session
	CleanSession bool

	// Reconnection
	AutoReconnect    bool
	MaxReconnectWait time.Duration

	// Callbacks
	OnConnect        func()      // Called on every successful connection
	OnConnectionLost func(error) // Called when connection is lost

	Logger *slog.Logger
}

// NewOptions returns options with defaults applied.
func NewOptions() *Options {
	return &Options{
		ConnectTimeout:   DefaultConnectTimeout,
		KeepAlive:        DefaultKeepAlive,
		CleanSession:     true,
		AutoReconnect:    true,
		MaxReconnectWait: DefaultReconnectMax,
	}
}

// SetServers sets the broker URLs.
func (o *Options) SetServers(servers ...string) *Options {
	o.Servers = servers
	return o
}

// SetClientID sets the client identifier.
func (o *Options) SetClientID(id string) *Options {
	o.ClientID = id
	return o
}

// SetCredentials sets username and password.
func (o *Options) SetCredentials(username, password string) *Options {
	o.Username = username
	o.Password = password
	return o
}

// SetAutoReconnect enables or disables automatic reconnection.
func (o *Options) SetAutoReconnect(enabled bool) *Options {
	o.AutoReconnect = enabled
	return o
}

// SetOnConnect sets the connection callback.
func (o *Options) SetOnConnect(fn func()) *Options {
	o.OnConnect = fn
	return o
}

// SetOnConnectionLost sets the connection lost callback.
func (o *Options) SetOnConnectionLost(fn func(error)) *Options {
	o.OnConnectionLost = fn
	return o
}

// SetLogger sets the logger.
func (o *Options) SetLogger(l *slog.Logger) *Options {
	o.Logger = l
	return o
}

// Validate checks the options for errors.
func (o *Options) Validate() error {
	if len(o.Servers) == 0 {
		return ErrNoServers
	}
	if o.ClientID == "" {
		return ErrEmptyClientID
	}
	return nil
}
