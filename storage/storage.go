// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultLimit is the number of messages GetMessages returns when the caller
// passes a non-positive limit and the backend has no configured default.
const DefaultLimit = 100

// Error kinds shared by every backend. Backend causes are wrapped so that
// both the kind and the cause satisfy errors.Is.
var (
	ErrNotConnected     = errors.New("storage not connected")
	ErrConnectionFailed = errors.New("storage connection failed")
	ErrWriteFailed      = errors.New("storage write failed")
	ErrReadFailed       = errors.New("storage read failed")
)

// Store persists published messages per topic.
type Store interface {
	// Connect establishes readiness. Calling it on a connected store is a no-op.
	Connect(ctx context.Context) error

	// StoreMessage appends a message for the topic stamped with the current instant.
	StoreMessage(ctx context.Context, topic string, payload []byte, opts ...MessageOption) error

	// GetMessages returns the messages stored under exactly this topic,
	// most recent first, at most limit of them. A non-positive limit selects
	// the backend default.
	GetMessages(ctx context.Context, topic string, limit int) ([]*Message, error)

	// ClearMessages removes the messages of one topic, or of every topic
	// when topic is empty.
	ClearMessages(ctx context.Context, topic string) error

	// Disconnect releases resources. Calling it twice is a no-op; any other
	// call afterwards fails with ErrNotConnected.
	Disconnect(ctx context.Context) error
}

// Message represents a stored MQTT message. It is never modified after creation.
type Message struct {
	Timestamp time.Time
	ID        string
	Topic     string
	Payload   []byte
	QoS       byte
	Retain    bool
}

// MessageOption sets optional message metadata.
type MessageOption func(*Message)

// WithQoS records the QoS the message was published with.
func WithQoS(qos byte) MessageOption {
	return func(m *Message) {
		m.QoS = qos
	}
}

// WithRetain records the retain flag the message was published with.
func WithRetain(retain bool) MessageOption {
	return func(m *Message) {
		m.Retain = retain
	}
}

// NewMessage builds a message for the topic, copying the payload and
// stamping it with Now.
func NewMessage(topic string, payload []byte, opts ...MessageOption) *Message {
	m := &Message{
		ID:        uuid.NewString(),
		Topic:     topic,
		Payload:   append([]byte{}, payload...),
		Timestamp: Now(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limit resolves the effective result size for GetMessages.
func Limit(limit, fallback int) int {
	if limit > 0 {
		return limit
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultLimit
}

var clock struct {
	mu   sync.Mutex
	last time.Time
}

// Now returns the current UTC time, strictly later than any value it
// returned before in this process. Backends that key records by timestamp
// rely on this to never collide.
func Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()

	now := time.Now().UTC()
	if !now.After(clock.last) {
		now = clock.last.Add(time.Nanosecond)
	}
	clock.last = now
	return now
}
