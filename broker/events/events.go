// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package events

import (
	"encoding/base64"
	"time"

	"github.com/google/uuid"
)

// Event type constants.
const (
	TypeClientConnected    = "client.connected"
	TypeClientDisconnected = "client.disconnected"
	TypeClientRejected     = "client.rejected"
	TypeClientSubscribe    = "client.subscribe"
	TypeMessagePublished   = "message.published"
	TypeBrokerError        = "broker.error"
)

// Types lists every event type the broker emits.
var Types = []string{
	TypeClientConnected,
	TypeClientDisconnected,
	TypeClientRejected,
	TypeClientSubscribe,
	TypeMessagePublished,
	TypeBrokerError,
}

// Event is the common interface for all broker events.
type Event interface {
	// Type returns the event type identifier (e.g., "client.connected")
	Type() string

	// Topic returns the MQTT topic for message events, empty for others
	Topic() string

	// Wrap wraps the event in a common envelope with metadata
	Wrap(brokerID string) *Envelope
}

// Envelope is the common wrapper for all delivered events.
type Envelope struct {
	EventType string `json:"event_type"`
	EventID   string `json:"event_id"`
	Timestamp string `json:"timestamp"`
	BrokerID  string `json:"broker_id"`
	Data      any    `json:"data"`
}

func wrap(e Event, brokerID string) *Envelope {
	return &Envelope{
		EventType: e.Type(),
		EventID:   uuid.New().String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		BrokerID:  brokerID,
		Data:      e,
	}
}

// ClientConnected is emitted when a client session is established.
type ClientConnected struct {
	ClientID   string `json:"client_id"`
	RemoteAddr string `json:"remote_addr"`
}

func (e ClientConnected) Type() string                   { return TypeClientConnected }
func (e ClientConnected) Topic() string                  { return "" }
func (e ClientConnected) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// ClientDisconnected is emitted when a client disconnects.
type ClientDisconnected struct {
	ClientID   string `json:"client_id"`
	RemoteAddr string `json:"remote_addr"`
}

func (e ClientDisconnected) Type() string                   { return TypeClientDisconnected }
func (e ClientDisconnected) Topic() string                  { return "" }
func (e ClientDisconnected) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// ClientRejected is emitted when a connection attempt is refused.
type ClientRejected struct {
	ClientID   string `json:"client_id"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Reason     string `json:"reason"`
}

func (e ClientRejected) Type() string                   { return TypeClientRejected }
func (e ClientRejected) Topic() string                  { return "" }
func (e ClientRejected) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// Subscription is one filter of a subscribe request.
type Subscription struct {
	Topic string `json:"topic"`
	QoS   byte   `json:"qos"`
}

// ClientSubscribe is emitted when a client subscribes to one or more filters.
type ClientSubscribe struct {
	ClientID      string         `json:"client_id"`
	Subscriptions []Subscription `json:"subscriptions"`
}

func (e ClientSubscribe) Type() string                   { return TypeClientSubscribe }
func (e ClientSubscribe) Topic() string                  { return "" }
func (e ClientSubscribe) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// MessagePublished is emitted when a message is published to the broker.
type MessagePublished struct {
	ClientID     string `json:"client_id"`
	MessageTopic string `json:"topic"`
	QoS          byte   `json:"qos"`
	Retained     bool   `json:"retained"`
	PayloadSize  int    `json:"payload_size"`
	Payload      string `json:"payload"` // base64 encoded
}

// NewMessagePublished builds the event, encoding payload as base64.
func NewMessagePublished(clientID, topic string, payload []byte, qos byte, retained bool) MessagePublished {
	return MessagePublished{
		ClientID:     clientID,
		MessageTopic: topic,
		QoS:          qos,
		Retained:     retained,
		PayloadSize:  len(payload),
		Payload:      base64.StdEncoding.EncodeToString(payload),
	}
}

func (e MessagePublished) Type() string                   { return TypeMessagePublished }
func (e MessagePublished) Topic() string                  { return e.MessageTopic }
func (e MessagePublished) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }

// BrokerError is emitted when the engine reports an error.
type BrokerError struct {
	ClientID string `json:"client_id,omitempty"`
	Error    string `json:"error"`
}

func (e BrokerError) Type() string                   { return TypeBrokerError }
func (e BrokerError) Topic() string                  { return "" }
func (e BrokerError) Wrap(brokerID string) *Envelope { return wrap(e, brokerID) }
