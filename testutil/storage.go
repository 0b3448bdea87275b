// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/absmach/fluxgate/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// StoreFactory returns a fresh, not yet connected store for one test.
type StoreFactory func(t *testing.T) storage.Store

// RunStoreSuite runs the behaviour every storage backend must share.
func RunStoreSuite(t *testing.T, newStore StoreFactory) {
	t.Run("RejectsBeforeConnect", func(t *testing.T) { testRejectsBeforeConnect(t, newStore(t)) })
	t.Run("ConnectIdempotent", func(t *testing.T) { testConnectIdempotent(t, newStore(t)) })
	t.Run("PayloadRoundTrip", func(t *testing.T) { testPayloadRoundTrip(t, newStore(t)) })
	t.Run("MostRecentFirst", func(t *testing.T) { testMostRecentFirst(t, newStore(t)) })
	t.Run("Limit", func(t *testing.T) { testLimit(t, newStore(t)) })
	t.Run("ExactTopicOnly", func(t *testing.T) { testExactTopicOnly(t, newStore(t)) })
	t.Run("ClearTopic", func(t *testing.T) { testClearTopic(t, newStore(t)) })
	t.Run("EndToEnd", func(t *testing.T) { testEndToEnd(t, newStore(t)) })
	t.Run("RejectsAfterDisconnect", func(t *testing.T) { testRejectsAfterDisconnect(t, newStore(t)) })
}

func connect(t *testing.T, s storage.Store) {
	t.Helper()
	require.NoError(t, s.Connect(context.Background()))
	t.Cleanup(func() {
		_ = s.Disconnect(context.Background())
	})
}

func testRejectsBeforeConnect(t *testing.T, s storage.Store) {
	ctx := context.Background()

	assert.ErrorIs(t, s.StoreMessage(ctx, "a/b", []byte("x")), storage.ErrNotConnected)
	_, err := s.GetMessages(ctx, "a/b", 0)
	assert.ErrorIs(t, err, storage.ErrNotConnected)
	assert.ErrorIs(t, s.ClearMessages(ctx, "a/b"), storage.ErrNotConnected)
	assert.ErrorIs(t, s.ClearMessages(ctx, ""), storage.ErrNotConnected)
}

func testConnectIdempotent(t *testing.T, s storage.Store) {
	connect(t, s)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, "a/b", []byte("kept")))
	require.NoError(t, s.Connect(ctx))

	msgs, err := s.GetMessages(ctx, "a/b", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testPayloadRoundTrip(t *testing.T, s storage.Store) {
	connect(t, s)
	ctx := context.Background()

	binary := make([]byte, 256)
	for i := range binary {
		binary[i] = byte(i)
	}
	payloads := map[string][]byte{
		"rt/binary": binary,
		"rt/text":   []byte(`{"sensor":"temp-1","value":22.5}`),
		"rt/empty":  {},
	}

	for topic, payload := range payloads {
		require.NoError(t, s.StoreMessage(ctx, topic, payload, storage.WithQoS(1), storage.WithRetain(true)))
	}

	for topic, payload := range payloads {
		msgs, err := s.GetMessages(ctx, topic, 0)
		require.NoError(t, err)
		require.Len(t, msgs, 1, topic)
		assert.True(t, bytes.Equal(payload, msgs[0].Payload), "payload mismatch on %s", topic)
		assert.Equal(t, topic, msgs[0].Topic)
		assert.Equal(t, byte(1), msgs[0].QoS)
		assert.True(t, msgs[0].Retain)
		assert.NotEmpty(t, msgs[0].ID)
		assert.False(t, msgs[0].Timestamp.IsZero())
	}
}

func testMostRecentFirst(t *testing.T, s storage.Store) {
	connect(t, s)
	ctx := context.Background()

	for _, p := range []string{"first", "second", "third", "fourth"} {
		require.NoError(t, s.StoreMessage(ctx, "order/topic", []byte(p)))
	}

	msgs, err := s.GetMessages(ctx, "order/topic", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 4)

	assert.Equal(t, []string{"fourth", "third", "second", "first"}, payloadStrings(msgs))
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i-1].Timestamp.After(msgs[i].Timestamp))
	}
}

func testLimit(t *testing.T, s storage.Store) {
	connect(t, s)
	ctx := context.Background()

	for _, p := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, s.StoreMessage(ctx, "limit/topic", []byte(p)))
	}

	msgs, err := s.GetMessages(ctx, "limit/topic", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"5", "4"}, payloadStrings(msgs))

	msgs, err = s.GetMessages(ctx, "limit/topic", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 5)
}

func testExactTopicOnly(t *testing.T, s storage.Store) {
	connect(t, s)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, "a", []byte("parent")))
	require.NoError(t, s.StoreMessage(ctx, "a/b", []byte("child")))
	require.NoError(t, s.StoreMessage(ctx, "a/b/c", []byte("grandchild")))

	msgs, err := s.GetMessages(ctx, "a/b", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"child"}, payloadStrings(msgs))

	msgs, err = s.GetMessages(ctx, "a/+", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.GetMessages(ctx, "missing", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func testClearTopic(t *testing.T, s storage.Store) {
	connect(t, s)
	ctx := context.Background()

	require.NoError(t, s.StoreMessage(ctx, "a/b", []byte("1")))
	require.NoError(t, s.StoreMessage(ctx, "a/b/c", []byte("2")))
	require.NoError(t, s.StoreMessage(ctx, "a/c", []byte("3")))

	require.NoError(t, s.ClearMessages(ctx, "a/b"))

	msgs, err := s.GetMessages(ctx, "a/b", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.GetMessages(ctx, "a/b/c", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)

	msgs, err = s.GetMessages(ctx, "a/c", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func testEndToEnd(t *testing.T, s storage.Store) {
	connect(t, s)
	ctx := context.Background()

	for _, p := range []string{"m1", "m2", "m3"} {
		require.NoError(t, s.StoreMessage(ctx, "a/b", []byte(p)))
	}
	require.NoError(t, s.StoreMessage(ctx, "a/c", []byte("other")))

	msgs, err := s.GetMessages(ctx, "a/b", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"m3", "m2", "m1"}, payloadStrings(msgs))

	msgs, err = s.GetMessages(ctx, "a/c", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"other"}, payloadStrings(msgs))

	require.NoError(t, s.ClearMessages(ctx, ""))

	for _, topic := range []string{"a/b", "a/c"} {
		msgs, err = s.GetMessages(ctx, topic, 0)
		require.NoError(t, err)
		assert.Empty(t, msgs, topic)
	}
}

func testRejectsAfterDisconnect(t *testing.T, s storage.Store) {
	ctx := context.Background()
	require.NoError(t, s.Connect(ctx))
	require.NoError(t, s.StoreMessage(ctx, "a/b", []byte("x")))

	require.NoError(t, s.Disconnect(ctx))
	require.NoError(t, s.Disconnect(ctx))

	assert.ErrorIs(t, s.StoreMessage(ctx, "a/b", []byte("y")), storage.ErrNotConnected)
	_, err := s.GetMessages(ctx, "a/b", 0)
	assert.ErrorIs(t, err, storage.ErrNotConnected)
	assert.ErrorIs(t, s.ClearMessages(ctx, ""), storage.ErrNotConnected)
}

func payloadStrings(msgs []*storage.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, string(m.Payload))
	}
	return out
}
