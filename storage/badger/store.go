// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxgate/storage"
	"github.com/dgraph-io/badger/v4"
	"golang.org/x/crypto/scrypt"
)

var _ storage.Store = (*Store)(nil)

const (
	keyPrefix  = "msg/"
	gcInterval = 5 * time.Minute

	// Index cache used when encryption is on.
	encryptedIndexCache = 64 << 20
)

// Key derivation parameters. Changing them makes existing data unreadable.
var (
	kdfSalt = []byte("fluxgate/storage/badger")
	kdfN    = 1 << 15
)

// Config holds BadgerDB configuration.
type Config struct {
	Dir      string // Directory for BadgerDB data
	InMemory bool   // Keep everything in memory; Dir is ignored
	Limit    int    // Default GetMessages limit

	// EncryptionKey is a passphrase. When set, data on disk is encrypted
	// with AES-256 under a key derived from it. Ignored in memory.
	EncryptionKey string
}

func deriveKey(passphrase string) ([]byte, error) {
	return scrypt.Key([]byte(passphrase), kdfSalt, kdfN, 8, 1, 32)
}

// Store implements storage.Store on an embedded BadgerDB.
//
// Key format: msg/{topic}\x00{unix nanos, 8 bytes big-endian}. Topic names
// cannot contain NUL, so a topic's keys form one contiguous, time-ordered run.
type Store struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.RWMutex
	db       *badger.DB
	gcStopCh chan struct{}
	gcDone   chan struct{}
}

// New creates a BadgerDB-backed store. The database is opened by Connect.
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		cfg:    cfg,
		logger: logger,
	}
}

func topicPrefix(topic string) []byte {
	p := make([]byte, 0, len(keyPrefix)+len(topic)+1)
	p = append(p, keyPrefix...)
	p = append(p, topic...)
	return append(p, 0)
}

func messageKey(topic string, ts time.Time) []byte {
	p := topicPrefix(topic)
	return binary.BigEndian.AppendUint64(p, uint64(ts.UnixNano()))
}

// Connect opens the database and starts value log GC.
func (s *Store) Connect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	opts := badger.DefaultOptions(s.cfg.Dir)
	if s.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil // Disable BadgerDB's internal logging
	opts.SyncWrites = false
	opts.NumVersionsToKeep = 1
	if s.cfg.EncryptionKey != "" && !s.cfg.InMemory {
		key, err := deriveKey(s.cfg.EncryptionKey)
		if err != nil {
			return fmt.Errorf("%w: derive encryption key: %w", storage.ErrConnectionFailed, err)
		}
		opts = opts.WithEncryptionKey(key).WithIndexCacheSize(encryptedIndexCache)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("%w: open badger %q: %w", storage.ErrConnectionFailed, s.cfg.Dir, err)
	}

	s.db = db
	s.gcStopCh = make(chan struct{})
	s.gcDone = make(chan struct{})
	go s.runGC(db, s.gcStopCh, s.gcDone)

	s.logger.Info("badger message store opened",
		slog.String("dir", s.cfg.Dir),
		slog.Bool("in_memory", s.cfg.InMemory),
		slog.Bool("encrypted", s.cfg.EncryptionKey != "" && !s.cfg.InMemory))
	return nil
}

// Disconnect stops GC and closes the database.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}

	close(s.gcStopCh)
	<-s.gcDone

	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) conn() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, storage.ErrNotConnected
	}
	return s.db, nil
}

// StoreMessage writes one record keyed by topic and timestamp.
func (s *Store) StoreMessage(_ context.Context, topic string, payload []byte, opts ...storage.MessageOption) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	msg := storage.NewMessage(topic, payload, opts...)
	data, err := storage.EncodeRecord(msg)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
	}

	err = db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(topic, msg.Timestamp), data)
	})
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrWriteFailed, err)
	}
	return nil
}

// GetMessages iterates the topic's keys in reverse so the newest come first.
func (s *Store) GetMessages(_ context.Context, topic string, limit int) ([]*storage.Message, error) {
	db, err := s.conn()
	if err != nil {
		return nil, err
	}

	n := storage.Limit(limit, s.cfg.Limit)
	prefix := topicPrefix(topic)
	msgs := make([]*storage.Message, 0)

	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the largest possible key under the prefix.
		seek := append(bytes.Clone(prefix), bytes.Repeat([]byte{0xFF}, 9)...)
		for it.Seek(seek); it.Valid() && len(msgs) < n; it.Next() {
			err := it.Item().Value(func(val []byte) error {
				msg, err := storage.DecodeRecord(val)
				if err != nil {
					return err
				}
				msgs = append(msgs, msg)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to decode message: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", storage.ErrReadFailed, err)
	}
	return msgs, nil
}

// ClearMessages drops one topic's keys, or every message key when topic is empty.
func (s *Store) ClearMessages(_ context.Context, topic string) error {
	db, err := s.conn()
	if err != nil {
		return err
	}

	prefix := []byte(keyPrefix)
	if topic != "" {
		prefix = topicPrefix(topic)
	}
	if err := db.DropPrefix(prefix); err != nil {
		return fmt.Errorf("%w: drop prefix: %w", storage.ErrWriteFailed, err)
	}
	return nil
}

// runGC runs BadgerDB's value log garbage collection periodically.
func (s *Store) runGC(db *badger.DB, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Returns an error when nothing was rewritten, which is fine.
			_ = db.RunValueLogGC(0.5)
		case <-stop:
			// No final GC: running it during close can corrupt the value log.
			return
		}
	}
}
