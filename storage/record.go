// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

// Record is the wire form of a Message for backends that store text.
// The payload travels as standard base64 so arbitrary bytes survive
// string-only media.
type Record struct {
	ID        string `json:"id,omitempty"`
	Topic     string `json:"topic"`
	Payload   string `json:"payload"`
	Timestamp string `json:"timestamp"`
	QoS       byte   `json:"qos,omitempty"`
	Retain    bool   `json:"retain,omitempty"`
}

// EncodeRecord marshals a message into its JSON record form.
func EncodeRecord(m *Message) ([]byte, error) {
	rec := Record{
		ID:        m.ID,
		Topic:     m.Topic,
		Payload:   base64.StdEncoding.EncodeToString(m.Payload),
		Timestamp: FormatTimestamp(m.Timestamp),
		QoS:       m.QoS,
		Retain:    m.Retain,
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a JSON record back into a message.
func DecodeRecord(data []byte) (*Message, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}

	payload, err := base64.StdEncoding.DecodeString(rec.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode payload: %w", err)
	}

	ts, err := time.Parse(time.RFC3339Nano, rec.Timestamp)
	if err != nil {
		return nil, fmt.Errorf("failed to parse timestamp: %w", err)
	}

	return &Message{
		ID:        rec.ID,
		Topic:     rec.Topic,
		Payload:   payload,
		Timestamp: ts.UTC(),
		QoS:       rec.QoS,
		Retain:    rec.Retain,
	}, nil
}

// FormatTimestamp renders a timestamp the way records and hash fields carry it.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
