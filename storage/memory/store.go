// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"context"
	"sync"

	"github.com/absmach/fluxgate/storage"
)

var _ storage.Store = (*Store)(nil)

// Store is an in-memory implementation of storage.Store.
// Messages live only as long as the connection: Disconnect drops them.
type Store struct {
	mu        sync.RWMutex
	data      map[string][]*storage.Message // per topic, oldest first
	limit     int
	connected bool
}

// New creates a new in-memory store. A non-positive limit selects storage.DefaultLimit.
func New(limit int) *Store {
	return &Store{
		data:  make(map[string][]*storage.Message),
		limit: limit,
	}
}

// Connect marks the store ready.
func (s *Store) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = true
	return nil
}

// Disconnect drops every message and marks the store unusable.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.connected = false
	s.data = make(map[string][]*storage.Message)
	return nil
}

// StoreMessage appends a message to the topic.
func (s *Store) StoreMessage(_ context.Context, topic string, payload []byte, opts ...storage.MessageOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return storage.ErrNotConnected
	}

	s.data[topic] = append(s.data[topic], storage.NewMessage(topic, payload, opts...))
	return nil
}

// GetMessages returns the newest messages of the topic first.
func (s *Store) GetMessages(_ context.Context, topic string, limit int) ([]*storage.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.connected {
		return nil, storage.ErrNotConnected
	}

	stored := s.data[topic]
	n := min(storage.Limit(limit, s.limit), len(stored))

	result := make([]*storage.Message, 0, n)
	for i := len(stored) - 1; i >= 0 && len(result) < n; i-- {
		result = append(result, copyMessage(stored[i]))
	}
	return result, nil
}

// ClearMessages removes the messages of a topic, or all of them for an empty topic.
func (s *Store) ClearMessages(_ context.Context, topic string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return storage.ErrNotConnected
	}

	if topic == "" {
		s.data = make(map[string][]*storage.Message)
		return nil
	}
	delete(s.data, topic)
	return nil
}

func copyMessage(m *storage.Message) *storage.Message {
	cp := *m
	cp.Payload = append([]byte{}, m.Payload...)
	return &cp
}
