// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package storage_test

import (
	"testing"

	"github.com/absmach/fluxgate/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNowStrictlyIncreasing(t *testing.T) {
	prev := storage.Now()
	for i := 0; i < 10000; i++ {
		next := storage.Now()
		require.True(t, next.After(prev), "iteration %d: %v not after %v", i, next, prev)
		prev = next
	}
}

func TestNewMessageCopiesPayload(t *testing.T) {
	payload := []byte("original")
	msg := storage.NewMessage("a/b", payload, storage.WithQoS(2), storage.WithRetain(true))
	payload[0] = 'X'

	assert.Equal(t, "original", string(msg.Payload))
	assert.Equal(t, "a/b", msg.Topic)
	assert.Equal(t, byte(2), msg.QoS)
	assert.True(t, msg.Retain)
	assert.NotEmpty(t, msg.ID)
}

func TestRecordPreservesBinaryPayload(t *testing.T) {
	payload := []byte{0x00, 0xFF, 0x10, '"', '\\', 0x80, 0xC3, 0x28}
	msg := storage.NewMessage("bin/topic", payload, storage.WithQoS(1))

	data, err := storage.EncodeRecord(msg)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"payload":"AP8QIlyAwyg="`)

	decoded, err := storage.DecodeRecord(data)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded.Payload)
	assert.Equal(t, msg.ID, decoded.ID)
	assert.Equal(t, msg.Topic, decoded.Topic)
	assert.Equal(t, byte(1), decoded.QoS)
	assert.True(t, msg.Timestamp.Equal(decoded.Timestamp))
}

func TestDecodeRecordRejectsMalformedInput(t *testing.T) {
	cases := []string{
		`not json`,
		`{"topic":"a","payload":"***","timestamp":"2024-01-01T00:00:00Z"}`,
		`{"topic":"a","payload":"","timestamp":"yesterday"}`,
	}
	for _, c := range cases {
		_, err := storage.DecodeRecord([]byte(c))
		assert.Error(t, err, c)
	}
}

func TestLimit(t *testing.T) {
	assert.Equal(t, 5, storage.Limit(5, 10))
	assert.Equal(t, 10, storage.Limit(0, 10))
	assert.Equal(t, storage.DefaultLimit, storage.Limit(-1, 0))
}
