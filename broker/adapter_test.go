// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/absmach/fluxgate/auth"
	"github.com/absmach/fluxgate/broker/events"
	"github.com/absmach/fluxgate/ratelimit"
	"github.com/absmach/fluxgate/storage"
	"github.com/absmach/fluxgate/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeListener struct {
	mu       sync.Mutex
	serveErr error
	served   int
	closed   int
	onServe  func()
}

func (l *fakeListener) Serve() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.served++
	if l.onServe != nil {
		l.onServe()
	}
	return l.serveErr
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed++
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
	closed bool
	err    error
}

func (r *recorder) Notify(_ context.Context, e events.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return r.err
}

func (r *recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *recorder) last() events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.events) == 0 {
		return nil
	}
	return r.events[len(r.events)-1]
}

// stubStore wraps the memory store and lets tests inject failures or block writes.
type stubStore struct {
	*memory.Store
	connectErr error
	release    chan struct{}
}

func (s *stubStore) Connect(ctx context.Context) error {
	if s.connectErr != nil {
		return s.connectErr
	}
	return s.Store.Connect(ctx)
}

func (s *stubStore) StoreMessage(ctx context.Context, topic string, payload []byte, opts ...storage.MessageOption) error {
	if s.release != nil {
		<-s.release
	}
	return s.Store.StoreMessage(ctx, topic, payload, opts...)
}

func startAdapter(t *testing.T, opts ...Option) (*Adapter, *fakeListener) {
	t.Helper()
	a := New(Config{}, opts...)
	l := &fakeListener{}
	require.NoError(t, a.Start(context.Background(), l))
	t.Cleanup(func() { _ = a.Stop(context.Background()) })
	return a, l
}

func TestLifecycle(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	a := New(Config{}, WithStorage(memory.New(0)), WithObserver(rec))
	l := &fakeListener{}

	assert.Equal(t, StateStopped, a.State())
	assert.NoError(t, a.Stop(ctx))

	require.NoError(t, a.Start(ctx, l))
	assert.Equal(t, StateListening, a.State())
	assert.Equal(t, 1, l.served)
	assert.ErrorIs(t, a.Start(ctx, l), ErrNotStopped)

	require.NoError(t, a.Stop(ctx))
	assert.Equal(t, StateStopped, a.State())
	assert.Equal(t, 1, l.closed)
	assert.True(t, rec.closed)

	_, err := a.Storage().GetMessages(ctx, "a", 0)
	assert.ErrorIs(t, err, storage.ErrNotConnected)

	require.NoError(t, a.Stop(ctx))

	require.NoError(t, a.Start(ctx, l))
	assert.Equal(t, StateListening, a.State())
	require.NoError(t, a.Stop(ctx))
}

func TestStartStorageFailure(t *testing.T) {
	connErr := errors.New("boom")
	a := New(Config{}, WithStorage(&stubStore{Store: memory.New(0), connectErr: connErr}))
	l := &fakeListener{}

	err := a.Start(context.Background(), l)
	assert.ErrorIs(t, err, connErr)
	assert.Equal(t, StateStopped, a.State())
	assert.Zero(t, l.served)
}

func TestStartListenerFailure(t *testing.T) {
	ctx := context.Background()
	serveErr := errors.New("address in use")
	a := New(Config{}, WithStorage(memory.New(0)))

	err := a.Start(ctx, &fakeListener{serveErr: serveErr})
	assert.ErrorIs(t, err, serveErr)
	assert.Equal(t, StateStopped, a.State())

	_, err = a.Storage().GetMessages(ctx, "a", 0)
	assert.ErrorIs(t, err, storage.ErrNotConnected)
}

func TestClientsAdmittedWhileServeStarts(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	a := New(Config{}, WithObserver(rec))

	var admitted bool
	l := &fakeListener{onServe: func() {
		admitted = a.Authenticate(ctx, auth.Credentials{ClientID: "early"})
	}}
	require.NoError(t, a.Start(ctx, l))
	defer a.Stop(ctx)

	assert.True(t, admitted)
	assert.Empty(t, rec.types())
}

func TestAuthenticate(t *testing.T) {
	users := []auth.StaticUser{{Username: "alice", Password: "secret"}}

	t.Run("refused when not listening", func(t *testing.T) {
		rec := &recorder{}
		a := New(Config{}, WithObserver(rec))
		ok := a.Authenticate(context.Background(), auth.Credentials{ClientID: "c1"})
		assert.False(t, ok)
		require.IsType(t, events.ClientRejected{}, rec.last())
		assert.Equal(t, ErrNotListening.Error(), rec.last().(events.ClientRejected).Reason)
	})

	t.Run("admits without authenticator", func(t *testing.T) {
		a, _ := startAdapter(t)
		assert.True(t, a.Authenticate(context.Background(), auth.Credentials{ClientID: "c1"}))
	})

	t.Run("static credentials", func(t *testing.T) {
		rec := &recorder{}
		a, _ := startAdapter(t, WithAuthenticator(auth.NewStatic(users)), WithObserver(rec))
		ctx := context.Background()

		assert.True(t, a.Authenticate(ctx, auth.Credentials{ClientID: "c1", Username: "alice", Password: []byte("secret")}))
		assert.Empty(t, rec.types())

		assert.False(t, a.Authenticate(ctx, auth.Credentials{ClientID: "c2", Username: "alice", Password: []byte("wrong"), RemoteAddr: "10.0.0.1:5000"}))
		require.IsType(t, events.ClientRejected{}, rec.last())
		rejected := rec.last().(events.ClientRejected)
		assert.Equal(t, "c2", rejected.ClientID)
		assert.Equal(t, "10.0.0.1:5000", rejected.RemoteAddr)
		assert.Equal(t, auth.ErrInvalidCredentials.Error(), rejected.Reason)
		assert.Equal(t, uint64(1), a.Stats().Snapshot().Rejections)
	})

	t.Run("rate limited", func(t *testing.T) {
		limiter := ratelimit.New(ratelimit.Config{Enabled: true, Rate: 0.001, Burst: 1, CleanupInterval: time.Minute})
		defer limiter.Stop()
		rec := &recorder{}
		a, _ := startAdapter(t, WithRateLimiter(limiter), WithObserver(rec))
		ctx := context.Background()

		assert.True(t, a.Authenticate(ctx, auth.Credentials{ClientID: "c1", RemoteAddr: "10.0.0.2:1000"}))
		assert.False(t, a.Authenticate(ctx, auth.Credentials{ClientID: "c1", RemoteAddr: "10.0.0.2:1001"}))
		assert.Equal(t, ErrRateLimited.Error(), rec.last().(events.ClientRejected).Reason)
		assert.True(t, a.Authenticate(ctx, auth.Credentials{ClientID: "c2", RemoteAddr: "10.0.0.3:1000"}))
	})
}

func TestAuthorize(t *testing.T) {
	ctx := context.Background()

	a := New(Config{})
	assert.True(t, a.Authorize(ctx, "c1", "any/topic", auth.ActionPublish))

	file := auth.NewFile([]auth.UserRecord{{
		Username: "sensor1",
		Password: auth.HashPassword([]byte("pw")),
		ACL:      auth.ACL{Publish: []string{"sensors/+/temperature"}},
	}})
	a = New(Config{}, WithAuthenticator(file))
	assert.True(t, a.Authorize(ctx, "sensor1", "sensors/kitchen/temperature", auth.ActionPublish))
	assert.False(t, a.Authorize(ctx, "sensor1", "sensors/kitchen/humidity", auth.ActionPublish))
	assert.Equal(t, uint64(1), a.Stats().Snapshot().AuthzDenials)

	// Static authenticators carry no ACL.
	a = New(Config{}, WithAuthenticator(auth.NewStatic(nil)))
	assert.True(t, a.Authorize(ctx, "c1", "x", auth.ActionSubscribe))
}

func TestPublishedPersists(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	a, _ := startAdapter(t, WithStorage(memory.New(0)), WithObserver(rec))

	a.Published(Publish{ClientID: "c1", Topic: "sensors/kitchen/temperature", Payload: "21.5", QoS: 1})
	a.Published(Publish{ClientID: "c1", Topic: "sensors/kitchen/temperature", Payload: map[string]int{"t": 22}, Retain: true})

	require.Eventually(t, func() bool {
		msgs, err := a.Storage().GetMessages(ctx, "sensors/kitchen/temperature", 0)
		return err == nil && len(msgs) == 2
	}, time.Second, 5*time.Millisecond)

	msgs, err := a.Storage().GetMessages(ctx, "sensors/kitchen/temperature", 0)
	require.NoError(t, err)
	assert.Equal(t, `{"t":22}`, string(msgs[0].Payload))
	assert.True(t, msgs[0].Retain)
	assert.Equal(t, "21.5", string(msgs[1].Payload))
	assert.Equal(t, byte(1), msgs[1].QoS)

	require.IsType(t, events.MessagePublished{}, rec.last())
	pub := rec.last().(events.MessagePublished)
	assert.Equal(t, "sensors/kitchen/temperature", pub.MessageTopic)
	assert.Equal(t, 8, pub.PayloadSize)
	assert.True(t, pub.Retained)

	snap := a.Stats().Snapshot()
	assert.Equal(t, uint64(2), snap.PublishReceived)
	assert.Equal(t, uint64(2), snap.Persisted)
}

func TestPublishedInvalidTopicNotPersisted(t *testing.T) {
	ctx := context.Background()
	rec := &recorder{}
	a, _ := startAdapter(t, WithStorage(memory.New(0)), WithObserver(rec))

	a.Published(Publish{ClientID: "c1", Topic: "bad/+/topic", Payload: "x"})
	a.Published(Publish{ClientID: "c1", Topic: "good", Payload: "y"})

	require.Eventually(t, func() bool {
		return a.Stats().Snapshot().Persisted == 1
	}, time.Second, 5*time.Millisecond)

	msgs, err := a.Storage().GetMessages(ctx, "bad/+/topic", 0)
	require.NoError(t, err)
	assert.Empty(t, msgs)
	assert.Equal(t, []string{events.TypeMessagePublished, events.TypeMessagePublished}, rec.types())
}

func TestPublishedWithoutStorage(t *testing.T) {
	rec := &recorder{}
	a, _ := startAdapter(t, WithObserver(rec))

	a.Published(Publish{ClientID: "c1", Topic: "a/b", Payload: []byte("x")})
	assert.Equal(t, []string{events.TypeMessagePublished}, rec.types())
	assert.Zero(t, a.Stats().Snapshot().WritesDropped)
}

func TestWriteQueueOverflowDrops(t *testing.T) {
	release := make(chan struct{})
	store := &stubStore{Store: memory.New(0), release: release}
	a := New(Config{WriteQueueSize: 1}, WithStorage(store))
	require.NoError(t, a.Start(context.Background(), &fakeListener{}))

	// The writer blocks on the first message; the queue holds one more.
	for i := 0; i < 10; i++ {
		a.Published(Publish{Topic: "a", Payload: fmt.Sprint(i)})
	}
	dropped := a.Stats().Snapshot().WritesDropped
	assert.GreaterOrEqual(t, dropped, uint64(8))

	close(release)
	require.NoError(t, a.Stop(context.Background()))
	assert.Equal(t, uint64(10), a.Stats().Snapshot().Persisted+dropped)
}

func TestStopHonorsShutdownTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	store := &stubStore{Store: memory.New(0), release: release}
	a := New(Config{ShutdownTimeout: 50 * time.Millisecond}, WithStorage(store))
	require.NoError(t, a.Start(context.Background(), &fakeListener{}))

	a.Published(Publish{Topic: "a", Payload: "stuck"})

	start := time.Now()
	require.NoError(t, a.Stop(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StateStopped, a.State())
}

func TestObserverOrdering(t *testing.T) {
	failing := &recorder{err: errors.New("observer down")}
	rec := &recorder{}
	a, _ := startAdapter(t, WithObserver(failing, rec))

	a.ClientConnected("c1", "10.0.0.1:1")
	a.Subscribed("c1", []Subscription{{Topic: "a/#", QoS: 1}})
	a.Published(Publish{ClientID: "c1", Topic: "a/b", Payload: "x"})
	a.Error("c1", errors.New("protocol violation"))
	a.ClientDisconnected("c1", "10.0.0.1:1")

	want := []string{
		events.TypeClientConnected,
		events.TypeClientSubscribe,
		events.TypeMessagePublished,
		events.TypeBrokerError,
		events.TypeClientDisconnected,
	}
	assert.Equal(t, want, rec.types())
	assert.Equal(t, want, failing.types())

	snap := a.Stats().Snapshot()
	assert.Equal(t, uint64(1), snap.TotalConnections)
	assert.Zero(t, snap.CurrentConnections)
	assert.Equal(t, uint64(1), snap.Subscriptions)
	assert.Equal(t, uint64(1), snap.BrokerErrors)
}

func TestConcurrentPublishOrderPerObserver(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	obs := ObserverFunc(func(_ context.Context, e events.Event) error {
		mu.Lock()
		seen = append(seen, e.Topic())
		mu.Unlock()
		return nil
	})
	other := &recorder{}
	a, _ := startAdapter(t, WithObserver(obs, other))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				a.Published(Publish{Topic: fmt.Sprintf("c%d/%d", i, j)})
			}
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 400)
	otherTopics := make([]string, 0, 400)
	for _, e := range other.events {
		otherTopics = append(otherTopics, e.Topic())
	}
	assert.Equal(t, seen, otherTopics)
}

func TestSubscribedIgnoresEmpty(t *testing.T) {
	rec := &recorder{}
	a, _ := startAdapter(t, WithObserver(rec))
	a.Subscribed("c1", nil)
	a.Error("c1", nil)
	assert.Empty(t, rec.types())
}

func TestEndToEnd(t *testing.T) {
	ctx := context.Background()
	file := auth.NewFile([]auth.UserRecord{{
		Username: "sensor1",
		Password: auth.HashPassword([]byte("pw")),
		ACL: auth.ACL{
			Publish:   []string{"sensors/+/temperature"},
			Subscribe: []string{"alerts/#"},
		},
	}})
	rec := &recorder{}
	store := memory.New(0)
	a := New(Config{}, WithStorage(store), WithAuthenticator(file), WithObserver(rec))
	l := &fakeListener{}
	require.NoError(t, a.Start(ctx, l))

	creds := auth.Credentials{ClientID: "sensor1", Username: "sensor1", Password: []byte("pw"), RemoteAddr: "10.1.1.1:40000"}
	require.True(t, a.Authenticate(ctx, creds))
	a.ClientConnected(creds.ClientID, creds.RemoteAddr)

	require.True(t, a.Authorize(ctx, "sensor1", "alerts/fire", auth.ActionSubscribe))
	a.Subscribed("sensor1", []Subscription{{Topic: "alerts/#"}})

	require.True(t, a.Authorize(ctx, "sensor1", "sensors/kitchen/temperature", auth.ActionPublish))
	a.Published(Publish{ClientID: "sensor1", Topic: "sensors/kitchen/temperature", Payload: []byte("21")})
	require.False(t, a.Authorize(ctx, "sensor1", "sensors/kitchen/humidity", auth.ActionPublish))

	require.Eventually(t, func() bool {
		msgs, err := store.GetMessages(ctx, "sensors/kitchen/temperature", 0)
		return err == nil && len(msgs) == 1
	}, time.Second, 5*time.Millisecond)

	a.ClientDisconnected(creds.ClientID, creds.RemoteAddr)
	require.NoError(t, a.Stop(ctx))

	assert.Equal(t, []string{
		events.TypeClientConnected,
		events.TypeClientSubscribe,
		events.TypeMessagePublished,
		events.TypeClientDisconnected,
	}, rec.types())
	assert.True(t, rec.closed)
	assert.Equal(t, 1, l.closed)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "listening", StateListening.String())
	assert.Equal(t, "state(9)", State(9).String())
}
