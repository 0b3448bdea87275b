// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package document stores messages as rows of a single collection through
// gorm. SQLite and PostgreSQL are supported.
package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fluxgate/storage"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

var _ storage.Store = (*Store)(nil)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// DefaultCollection is the table messages are written to.
const DefaultCollection = "mqtt_messages"

// Config holds database settings.
type Config struct {
	Driver     string // DriverSQLite or DriverPostgres
	DSN        string
	Collection string // Table name, DefaultCollection when empty
	Limit      int    // Default GetMessages limit
}

// document is one stored message. Its indexes are created per table by
// migrate, since gorm would name tag-declared indexes after the model.
type document struct {
	ID        string `gorm:"primaryKey;size:36"`
	Topic     string `gorm:"not null"`
	Payload   []byte
	Timestamp int64 `gorm:"not null"` // Unix nanoseconds, UTC
	QoS       uint8
	Retain    bool
}

// Store implements storage.Store on a gorm database.
type Store struct {
	cfg        Config
	collection string
	logger     *slog.Logger

	mu sync.RWMutex
	db *gorm.DB
}

// New creates a document store. Connect opens the database.
func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	collection := cfg.Collection
	if collection == "" {
		collection = DefaultCollection
	}
	return &Store{
		cfg:        cfg,
		collection: collection,
		logger:     logger,
	}
}

func dialector(driver, dsn string) (gorm.Dialector, error) {
	switch driver {
	case DriverSQLite, "":
		return sqlite.Open(dsn), nil
	case DriverPostgres:
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported document driver %q", driver)
	}
}

// Connect opens the database and migrates the collection.
func (s *Store) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	d, err := dialector(s.cfg.Driver, s.cfg.DSN)
	if err != nil {
		return fmt.Errorf("%w: %w", storage.ErrConnectionFailed, err)
	}

	db, err := gorm.Open(d, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", storage.ErrConnectionFailed, s.cfg.Driver, err)
	}

	if err := migrate(db.WithContext(ctx), s.collection); err != nil {
		closeDB(db)
		return fmt.Errorf("%w: migrate %s: %w", storage.ErrConnectionFailed, s.collection, err)
	}

	s.db = db
	s.logger.Info("document message store connected",
		slog.String("driver", s.cfg.Driver),
		slog.String("collection", s.collection))
	return nil
}

// indexedColumns are indexed as idx_<table>_<column>.
var indexedColumns = []string{"topic", "timestamp"}

func indexName(table, column string) string {
	return "idx_" + table + "_" + column
}

func migrate(db *gorm.DB, table string) error {
	if err := db.Table(table).AutoMigrate(&document{}); err != nil {
		return err
	}
	for _, col := range indexedColumns {
		err := db.Exec("CREATE INDEX IF NOT EXISTS ? ON ? (?)",
			clause.Table{Name: indexName(table, col)},
			clause.Table{Name: table},
			clause.Column{Name: col}).Error
		if err != nil {
			return fmt.Errorf("create index on %s: %w", col, err)
		}
	}
	return nil
}

func closeDB(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Disconnect closes the underlying connection pool.
func (s *Store) Disconnect(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := closeDB(s.db)
	s.db = nil
	return err
}

func (s *Store) table(ctx context.Context) (*gorm.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, storage.ErrNotConnected
	}
	return s.db.WithContext(ctx).Table(s.collection), nil
}

// StoreMessage inserts one document.
func (s *Store) StoreMessage(ctx context.Context, topic string, payload []byte, opts ...storage.MessageOption) error {
	tx, err := s.table(ctx)
	if err != nil {
		return err
	}

	msg := storage.NewMessage(topic, payload, opts...)
	doc := &document{
		ID:        msg.ID,
		Topic:     msg.Topic,
		Payload:   msg.Payload,
		Timestamp: msg.Timestamp.UnixNano(),
		QoS:       msg.QoS,
		Retain:    msg.Retain,
	}
	if err := tx.Create(doc).Error; err != nil {
		return fmt.Errorf("%w: insert: %w", storage.ErrWriteFailed, err)
	}
	return nil
}

// GetMessages queries documents for the topic sorted by timestamp descending.
func (s *Store) GetMessages(ctx context.Context, topic string, limit int) ([]*storage.Message, error) {
	tx, err := s.table(ctx)
	if err != nil {
		return nil, err
	}

	var docs []document
	err = tx.Where("topic = ?", topic).
		Order("timestamp desc").
		Limit(storage.Limit(limit, s.cfg.Limit)).
		Find(&docs).Error
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", storage.ErrReadFailed, err)
	}

	msgs := make([]*storage.Message, 0, len(docs))
	for _, d := range docs {
		payload := d.Payload
		if payload == nil {
			payload = []byte{}
		}
		msgs = append(msgs, &storage.Message{
			ID:        d.ID,
			Topic:     d.Topic,
			Payload:   payload,
			Timestamp: time.Unix(0, d.Timestamp).UTC(),
			QoS:       d.QoS,
			Retain:    d.Retain,
		})
	}
	return msgs, nil
}

// ClearMessages deletes a topic's documents, or all of them when topic is empty.
func (s *Store) ClearMessages(ctx context.Context, topic string) error {
	tx, err := s.table(ctx)
	if err != nil {
		return err
	}

	if topic == "" {
		tx = tx.Where("1 = 1")
	} else {
		tx = tx.Where("topic = ?", topic)
	}
	if err := tx.Delete(&document{}).Error; err != nil {
		return fmt.Errorf("%w: delete: %w", storage.ErrWriteFailed, err)
	}
	return nil
}
