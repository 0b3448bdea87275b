// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package client is an MQTT client that routes incoming messages to
// handlers registered per topic filter.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/absmach/fluxgate/topics"
	paho "github.com/eclipse/paho.mqtt.golang"
)

type route struct {
	filter  string
	handler MessageHandler
}

// Client wraps a paho client. Every message received on any subscription is
// dispatched to each handler whose filter matches the message topic.
type Client struct {
	opts   *Options
	conn   paho.Client
	logger *slog.Logger

	mu     sync.RWMutex
	routes []route
}

// New creates a client. It does not connect.
func New(opts *Options) (*Client, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		opts:   opts,
		logger: opts.Logger,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	po := paho.NewClientOptions().
		SetClientID(opts.ClientID).
		SetUsername(opts.Username).
		SetPassword(opts.Password).
		SetCleanSession(opts.CleanSession).
		SetAutoReconnect(opts.AutoReconnect).
		SetDefaultPublishHandler(func(_ paho.Client, m paho.Message) {
			c.dispatch(&Message{
				Topic:    m.Topic(),
				Payload:  m.Payload(),
				QoS:      m.Qos(),
				Retain:   m.Retained(),
				Dup:      m.Duplicate(),
				PacketID: m.MessageID(),
			})
		}).
		SetOnConnectHandler(func(paho.Client) {
			c.logger.Debug("mqtt client connected", slog.String("client_id", opts.ClientID))
			if opts.OnConnect != nil {
				opts.OnConnect()
			}
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			c.logger.Warn("mqtt connection lost",
				slog.String("client_id", opts.ClientID),
				slog.String("error", err.Error()))
			if opts.OnConnectionLost != nil {
				opts.OnConnectionLost(err)
			}
		})
	for _, s := range opts.Servers {
		po.AddBroker(s)
	}
	if opts.ConnectTimeout > 0 {
		po.SetConnectTimeout(opts.ConnectTimeout)
	}
	if opts.KeepAlive > 0 {
		po.SetKeepAlive(opts.KeepAlive)
	}
	if opts.MaxReconnectWait > 0 {
		po.SetMaxReconnectInterval(opts.MaxReconnectWait)
	}

	c.conn = paho.NewClient(po)
	return c, nil
}

// Connect dials the broker and waits for CONNACK.
func (c *Client) Connect(ctx context.Context) error {
	if err := wait(ctx, c.conn.Connect()); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	return nil
}

// Disconnect closes the connection, waiting up to quiesceMs for in-flight work.
func (c *Client) Disconnect(quiesceMs uint) {
	c.conn.Disconnect(quiesceMs)
}

// IsConnected reports whether the client has a live connection.
func (c *Client) IsConnected() bool {
	return c.conn.IsConnectionOpen()
}

// Publish sends a message and waits for the acknowledgement its QoS requires.
func (c *Client) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if err := topics.ValidateTopicName(topic); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidTopic, topic)
	}
	if qos > 2 {
		return ErrInvalidQoS
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(ctx, c.conn.Publish(topic, qos, retain, payload))
}

// Subscribe subscribes to filters at qos. Messages are delivered to the
// handlers registered with OnMessage.
func (c *Client) Subscribe(ctx context.Context, qos byte, filters ...string) error {
	if qos > 2 {
		return ErrInvalidQoS
	}
	if len(filters) == 0 {
		return ErrInvalidFilter
	}
	subs := make(map[string]byte, len(filters))
	for _, f := range filters {
		if err := topics.ValidateFilter(f); err != nil {
			return fmt.Errorf("%w: %q", ErrInvalidFilter, f)
		}
		subs[f] = qos
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(ctx, c.conn.SubscribeMultiple(subs, nil))
}

// Unsubscribe removes subscriptions. Registered handlers stay in place.
func (c *Client) Unsubscribe(ctx context.Context, filters ...string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return wait(ctx, c.conn.Unsubscribe(filters...))
}

// OnMessage registers handler for messages whose topic matches filter.
// Several handlers may share a filter; all of them are called.
func (c *Client) OnMessage(filter string, handler MessageHandler) error {
	if handler == nil {
		return ErrNilHandler
	}
	if err := topics.ValidateFilter(filter); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidFilter, filter)
	}

	c.mu.Lock()
	c.routes = append(c.routes, route{filter: filter, handler: handler})
	c.mu.Unlock()
	return nil
}

// dispatch calls every handler whose filter matches, in registration order.
func (c *Client) dispatch(msg *Message) {
	c.mu.RLock()
	routes := c.routes
	c.mu.RUnlock()

	matched := false
	for _, r := range routes {
		if topics.Matches(r.filter, msg.Topic) {
			matched = true
			r.handler(msg)
		}
	}
	if !matched {
		c.logger.Debug("no handler for message", slog.String("topic", msg.Topic))
	}
}

func wait(ctx context.Context, tok paho.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return fmt.Errorf("%w: %w", ErrTimeout, ctx.Err())
	}
}
