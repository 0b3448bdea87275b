// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/absmach/fluxgate/storage"
	goredis "github.com/redis/go-redis/v9"
)

var _ storage.Store = (*Store)(nil)

// DefaultPrefix namespaces every hash this backend writes.
const DefaultPrefix = "mqtt:messages:"

const scanBatch = 100

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Username string
	Password string
	DB       int
	Prefix   string // Key namespace, DefaultPrefix when empty
	Limit    int    // Default GetMessages limit
}

// Store implements storage.Store on Redis hashes.
//
// Key layout: one hash per topic at {prefix}{topic}; each field is the
// message timestamp (RFC3339Nano) and each value a JSON storage.Record
// carrying the payload as base64.
type Store struct {
	cfg    Config
	prefix string
	logger *slog.Logger

	mu     sync.RWMutex
	client *goredis.Client
}

// New creates a Redis store. Connect must be called before use.
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{
		cfg:    cfg,
		prefix: prefix,
		logger: logger,
	}
}

func (s *Store) key(topic string) string {
	return s.prefix + topic
}

// Connect dials Redis and verifies it answers PING.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != nil {
		return nil
	}

	client := goredis.NewClient(&goredis.Options{
		Addr:     s.cfg.Addr,
		Username: s.cfg.Username,
		Password: s.cfg.Password,
		DB:       s.cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("%w: redis ping %s: %w", storage.ErrConnectionFailed, s.cfg.Addr, err)
	}

	s.client = client
	s.logger.Info("redis message store connected",
		slog.String("addr", s.cfg.Addr),
		slog.String("prefix", s.prefix))
	return nil
}

// Disconnect closes the client.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client == nil {
		return nil
	}
	err := s.client.Close()
	s.client = nil
	return err
}

func (s *Store) conn() (*goredis.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.client == nil {
		return nil, storage.ErrNotConnected
	}
	return s.client, nil
}

// StoreMessage writes the message into the topic hash.
func (s *Store) StoreMessage(ctx context.Context, topic string, payload []byte, opts ...storage.MessageOption) error {
	client, err := s.conn()
	if err != nil {
		return err
	}

	msg := storage.NewMessage(topic, payload, opts...)
	data, err := storage.EncodeRecord(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
	}

	if err := client.HSet(ctx, s.key(topic), storage.FormatTimestamp(msg.Timestamp), data).Err(); err != nil {
		return fmt.Errorf("%w: hset %s: %w", storage.ErrWriteFailed, topic, err)
	}
	return nil
}

// GetMessages reads the topic hash and orders it newest first.
func (s *Store) GetMessages(ctx context.Context, topic string, limit int) ([]*storage.Message, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}

	fields, err := client.HGetAll(ctx, s.key(topic)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: hgetall %s: %w", storage.ErrReadFailed, topic, err)
	}

	msgs := make([]*storage.Message, 0, len(fields))
	for field, value := range fields {
		msg, err := storage.DecodeRecord([]byte(value))
		if err != nil {
			s.logger.Warn("skipping undecodable message record",
				slog.String("topic", topic),
				slog.String("field", field),
				slog.String("error", err.Error()))
			continue
		}
		// Records written by older clients may omit the topic.
		msg.Topic = topic
		msgs = append(msgs, msg)
	}

	sort.Slice(msgs, func(i, j int) bool {
		return msgs[i].Timestamp.After(msgs[j].Timestamp)
	})

	if n := storage.Limit(limit, s.cfg.Limit); len(msgs) > n {
		msgs = msgs[:n]
	}
	return msgs, nil
}

// ClearMessages deletes the topic hash, or sweeps every hash under the
// prefix when topic is empty.
func (s *Store) ClearMessages(ctx context.Context, topic string) error {
	client, err := s.conn()
	if err != nil {
		return err
	}

	if topic != "" {
		if err := client.Del(ctx, s.key(topic)).Err(); err != nil {
			return fmt.Errorf("%w: del %s: %w", storage.ErrWriteFailed, topic, err)
		}
		return nil
	}

	var cursor uint64
	pattern := s.prefix + "*"
	for {
		keys, next, err := client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fmt.Errorf("%w: scan %s: %w", storage.ErrWriteFailed, pattern, err)
		}
		if len(keys) > 0 {
			if err := client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("%w: del: %w", storage.ErrWriteFailed, err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
