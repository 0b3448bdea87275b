// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package badger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/absmach/fluxgate/storage"
	"github.com/absmach/fluxgate/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSuite_InMemory(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) storage.Store {
		return New(Config{InMemory: true}, nil)
	})
}

func TestStoreSuite_OnDisk(t *testing.T) {
	testutil.RunStoreSuite(t, func(t *testing.T) storage.Store {
		return New(Config{Dir: t.TempDir()}, nil)
	})
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store := New(Config{Dir: dir}, nil)
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.StoreMessage(ctx, "plant/line1", []byte("first"), storage.WithQoS(1)))
	require.NoError(t, store.StoreMessage(ctx, "plant/line1", []byte("second"), storage.WithRetain(true)))
	require.NoError(t, store.Disconnect(ctx))

	store = New(Config{Dir: dir}, nil)
	require.NoError(t, store.Connect(ctx))
	defer store.Disconnect(ctx)

	msgs, err := store.GetMessages(ctx, "plant/line1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", string(msgs[0].Payload))
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, "first", string(msgs[1].Payload))
	assert.Equal(t, byte(1), msgs[1].QoS)
}

func TestStore_TopicPrefixIsolation(t *testing.T) {
	ctx := context.Background()
	store := New(Config{InMemory: true}, nil)
	require.NoError(t, store.Connect(ctx))
	defer store.Disconnect(ctx)

	// "a" is a byte prefix of "a/b" and "ab" but not a topic prefix.
	require.NoError(t, store.StoreMessage(ctx, "a", []byte("1")))
	require.NoError(t, store.StoreMessage(ctx, "a/b", []byte("2")))
	require.NoError(t, store.StoreMessage(ctx, "ab", []byte("3")))

	msgs, err := store.GetMessages(ctx, "a", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "1", string(msgs[0].Payload))

	require.NoError(t, store.ClearMessages(ctx, "a"))

	msgs, err = store.GetMessages(ctx, "ab", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
	msgs, err = store.GetMessages(ctx, "a/b", 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestStore_OpenFailure(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o600))

	store := New(Config{Dir: file}, nil)
	err := store.Connect(context.Background())
	assert.ErrorIs(t, err, storage.ErrConnectionFailed)
}

func TestStore_Reconnect(t *testing.T) {
	ctx := context.Background()
	store := New(Config{Dir: t.TempDir()}, nil)

	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.Disconnect(ctx))
	require.NoError(t, store.Connect(ctx))
	defer store.Disconnect(ctx)

	assert.NoError(t, store.StoreMessage(ctx, "x", []byte("y")))
}

func TestStore_Encryption(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	secret := []byte("reactor core temperature 912C")

	store := New(Config{Dir: dir, EncryptionKey: "correct horse"}, nil)
	require.NoError(t, store.Connect(ctx))
	require.NoError(t, store.StoreMessage(ctx, "plant/reactor", secret))
	require.NoError(t, store.Disconnect(ctx))

	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		assert.NotContains(t, string(data), string(secret), "plaintext in %s", d.Name())
		return nil
	})
	require.NoError(t, err)

	wrong := New(Config{Dir: dir, EncryptionKey: "battery staple"}, nil)
	assert.ErrorIs(t, wrong.Connect(ctx), storage.ErrConnectionFailed)

	store = New(Config{Dir: dir, EncryptionKey: "correct horse"}, nil)
	require.NoError(t, store.Connect(ctx))
	defer store.Disconnect(ctx)

	msgs, err := store.GetMessages(ctx, "plant/reactor", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, secret, msgs[0].Payload)
}

func TestStore_EncryptionIgnoredInMemory(t *testing.T) {
	ctx := context.Background()
	store := New(Config{InMemory: true, EncryptionKey: "unused"}, nil)
	require.NoError(t, store.Connect(ctx))
	defer store.Disconnect(ctx)

	assert.NoError(t, store.StoreMessage(ctx, "x", []byte("y")))
}
