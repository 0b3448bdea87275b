// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package broker connects a protocol engine to storage, authentication and
// event observers.
package broker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/absmach/fluxgate/auth"
	"github.com/absmach/fluxgate/broker/events"
	"github.com/absmach/fluxgate/ratelimit"
	"github.com/absmach/fluxgate/storage"
	"github.com/absmach/fluxgate/topics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// DefaultWriteQueueSize bounds pending storage writes.
	DefaultWriteQueueSize = 1024
	// DefaultShutdownTimeout is how long Stop waits for pending writes.
	DefaultShutdownTimeout = 5 * time.Second

	tracerName = "github.com/absmach/fluxgate/broker"
)

var (
	ErrNotStopped   = errors.New("adapter is not stopped")
	ErrNotListening = errors.New("adapter is not listening")
	ErrRateLimited  = errors.New("connection rate limit exceeded")
)

// State is the adapter lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateListening
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateListening:
		return "listening"
	case StateStopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Listener is the protocol engine's network side. Serve starts accepting
// connections and returns; Close stops accepting and drops clients.
type Listener interface {
	Serve() error
	Close() error
}

// Subscription is one granted filter of a subscribe request.
type Subscription = events.Subscription

// Publish describes a message accepted by the engine.
type Publish struct {
	ClientID string
	Topic    string
	Payload  any
	QoS      byte
	Retain   bool
}

// Config holds adapter settings.
type Config struct {
	WriteQueueSize  int
	ShutdownTimeout time.Duration
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithStorage persists every accepted publish to s.
func WithStorage(s storage.Store) Option {
	return func(a *Adapter) { a.store = s }
}

// WithAuthenticator admits clients through authn.
func WithAuthenticator(authn auth.Authenticator) Option {
	return func(a *Adapter) { a.authn = authn }
}

// WithRateLimiter throttles connection attempts per remote host.
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(a *Adapter) { a.limiter = l }
}

// WithTracer overrides the global tracer.
func WithTracer(t trace.Tracer) Option {
	return func(a *Adapter) { a.tracer = t }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithObserver registers observers at construction.
func WithObserver(obs ...Observer) Option {
	return func(a *Adapter) { a.observers = append(a.observers, obs...) }
}

type write struct {
	topic   string
	payload []byte
	qos     byte
	retain  bool
}

// Adapter receives engine notifications, persists publishes and fans events
// out to observers.
type Adapter struct {
	cfg     Config
	store   storage.Store
	authn   auth.Authenticator
	limiter *ratelimit.Limiter
	tracer  trace.Tracer
	logger  *slog.Logger
	stats   *Stats

	state    atomic.Int32
	mu       sync.Mutex // serializes Start and Stop
	listener Listener

	writesMu   sync.RWMutex
	writes     chan write
	writerDone chan struct{}

	obsMu     sync.Mutex // held for the whole emission so order is preserved
	observers []Observer
}

// New creates a stopped adapter.
func New(cfg Config, opts ...Option) *Adapter {
	if cfg.WriteQueueSize <= 0 {
		cfg.WriteQueueSize = DefaultWriteQueueSize
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	a := &Adapter{
		cfg:    cfg,
		logger: slog.Default(),
		stats:  NewStats(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.tracer == nil {
		a.tracer = otel.Tracer(tracerName)
	}
	return a
}

// AddObserver registers an observer. Events already emitted are not replayed.
func (a *Adapter) AddObserver(o Observer) {
	a.obsMu.Lock()
	a.observers = append(a.observers, o)
	a.obsMu.Unlock()
}

// State returns the current lifecycle state.
func (a *Adapter) State() State {
	return State(a.state.Load())
}

// Storage returns the configured store, or nil.
func (a *Adapter) Storage() storage.Store {
	return a.store
}

// Stats returns the adapter counters.
func (a *Adapter) Stats() *Stats {
	return a.stats
}

// Start connects storage, starts the writer and then the listener.
func (a *Adapter) Start(ctx context.Context, l Listener) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		return ErrNotStopped
	}

	if a.store != nil {
		if err := a.store.Connect(ctx); err != nil {
			a.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to connect storage: %w", err)
		}
		a.startWriter()
	}

	// Clients may connect as soon as Serve binds, so admission opens first.
	a.state.Store(int32(StateListening))
	if l != nil {
		if err := l.Serve(); err != nil {
			a.state.Store(int32(StateStopping))
			a.stopWriter(ctx)
			a.disconnectStorage(ctx)
			a.state.Store(int32(StateStopped))
			return fmt.Errorf("failed to start listener: %w", err)
		}
	}
	a.listener = l

	a.logger.Info("broker adapter listening",
		slog.Bool("storage", a.store != nil),
		slog.Bool("auth", a.authn != nil))
	return nil
}

// Stop closes the listener, drains pending writes until the shutdown
// timeout, disconnects storage and closes observers. Stopping a stopped
// adapter is a no-op.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.CompareAndSwap(int32(StateListening), int32(StateStopping)) {
		if a.State() == StateStopped {
			return nil
		}
		return ErrNotListening
	}

	var errs []error
	if a.listener != nil {
		if err := a.listener.Close(); err != nil {
			a.logger.Error("failed to close listener", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.listener = nil
	}

	a.stopWriter(ctx)
	if err := a.disconnectStorage(ctx); err != nil {
		errs = append(errs, err)
	}
	a.closeObservers()

	a.state.Store(int32(StateStopped))
	a.logger.Info("broker adapter stopped")
	return errors.Join(errs...)
}

// Authenticate decides whether a connecting client is admitted.
func (a *Adapter) Authenticate(ctx context.Context, c auth.Credentials) bool {
	if a.State() != StateListening {
		a.reject(c, ErrNotListening)
		return false
	}
	if !a.limiter.Allow(c.RemoteAddr) {
		a.reject(c, ErrRateLimited)
		return false
	}
	if a.authn == nil {
		return true
	}

	ctx, span := a.tracer.Start(ctx, "broker.authenticate",
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("mqtt.client_id", c.ClientID),
			attribute.String("mqtt.username", c.Username),
		))
	defer span.End()

	res := a.authn.Authenticate(ctx, c)
	span.SetAttributes(attribute.Bool("auth.success", res.Success))
	if !res.Success {
		err := res.Err
		if err == nil {
			err = auth.ErrInvalidCredentials
		}
		span.SetStatus(codes.Error, err.Error())
		a.reject(c, err)
		return false
	}
	return true
}

// Authorize checks a publish or subscribe against the authenticator's ACL.
func (a *Adapter) Authorize(ctx context.Context, clientID, topic string, action auth.Action) bool {
	if a.authn == nil {
		return true
	}
	if auth.Authorize(ctx, a.authn, clientID, topic, action) {
		return true
	}
	a.stats.IncrementAuthzDenials()
	a.logger.Debug("topic access denied",
		slog.String("client_id", clientID),
		slog.String("topic", topic),
		slog.String("action", string(action)))
	return false
}

// ClientConnected records an admitted client.
func (a *Adapter) ClientConnected(clientID, remoteAddr string) {
	a.stats.IncrementConnections()
	a.logger.Debug("client connected", slog.String("client_id", clientID), slog.String("remote_addr", remoteAddr))
	a.emit(events.ClientConnected{ClientID: clientID, RemoteAddr: remoteAddr})
}

// ClientDisconnected records a client leaving.
func (a *Adapter) ClientDisconnected(clientID, remoteAddr string) {
	a.stats.DecrementConnections()
	a.logger.Debug("client disconnected", slog.String("client_id", clientID), slog.String("remote_addr", remoteAddr))
	a.emit(events.ClientDisconnected{ClientID: clientID, RemoteAddr: remoteAddr})
}

// Published emits the message and queues it for storage. It never blocks
// on storage.
func (a *Adapter) Published(p Publish) {
	payload, err := NormalizePayload(p.Payload)
	if err != nil {
		a.logger.Error("failed to normalize payload",
			slog.String("client_id", p.ClientID),
			slog.String("topic", p.Topic),
			slog.String("error", err.Error()))
		a.Error(p.ClientID, err)
		return
	}

	a.stats.IncrementPublishReceived(len(payload))
	a.emit(events.NewMessagePublished(p.ClientID, p.Topic, payload, p.QoS, p.Retain))

	if a.store == nil {
		return
	}
	if err := topics.ValidateTopicName(p.Topic); err != nil {
		a.logger.Warn("not persisting message with invalid topic",
			slog.String("topic", p.Topic),
			slog.String("error", err.Error()))
		return
	}
	a.enqueue(write{topic: p.Topic, payload: payload, qos: p.QoS, retain: p.Retain})
}

// Subscribed emits the granted subscriptions of a client.
func (a *Adapter) Subscribed(clientID string, subs []Subscription) {
	if len(subs) == 0 {
		return
	}
	a.stats.AddSubscriptions(len(subs))
	a.emit(events.ClientSubscribe{ClientID: clientID, Subscriptions: append([]Subscription(nil), subs...)})
}

// Error reports an engine error. clientID may be empty.
func (a *Adapter) Error(clientID string, err error) {
	if err == nil {
		return
	}
	a.stats.IncrementBrokerErrors()
	a.logger.Warn("broker error", slog.String("client_id", clientID), slog.String("error", err.Error()))
	a.emit(events.BrokerError{ClientID: clientID, Error: err.Error()})
}

func (a *Adapter) reject(c auth.Credentials, reason error) {
	a.stats.IncrementRejections()
	a.logger.Warn("client rejected",
		slog.String("client_id", c.ClientID),
		slog.String("remote_addr", c.RemoteAddr),
		slog.String("reason", reason.Error()))
	a.emit(events.ClientRejected{ClientID: c.ClientID, RemoteAddr: c.RemoteAddr, Reason: reason.Error()})
}

func (a *Adapter) emit(e events.Event) {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()

	ctx := context.Background()
	for _, o := range a.observers {
		if err := o.Notify(ctx, e); err != nil {
			a.logger.Warn("observer failed",
				slog.String("event", e.Type()),
				slog.String("error", err.Error()))
		}
	}
}

func (a *Adapter) closeObservers() {
	a.obsMu.Lock()
	defer a.obsMu.Unlock()

	for _, o := range a.observers {
		c, ok := o.(io.Closer)
		if !ok {
			continue
		}
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close observer", slog.String("error", err.Error()))
		}
	}
}

func (a *Adapter) disconnectStorage(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Disconnect(ctx); err != nil {
		a.logger.Error("failed to disconnect storage", slog.String("error", err.Error()))
		return err
	}
	return nil
}

func (a *Adapter) startWriter() {
	ch := make(chan write, a.cfg.WriteQueueSize)
	done := make(chan struct{})

	a.writesMu.Lock()
	a.writes = ch
	a.writerDone = done
	a.writesMu.Unlock()

	go a.runWriter(ch, done)
}

// stopWriter closes the queue and waits for the writer to drain it, at most
// ShutdownTimeout or until ctx is done.
func (a *Adapter) stopWriter(ctx context.Context) {
	a.writesMu.Lock()
	ch, done := a.writes, a.writerDone
	a.writes, a.writerDone = nil, nil
	a.writesMu.Unlock()

	if ch == nil {
		return
	}
	close(ch)

	timer := time.NewTimer(a.cfg.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		a.logger.Warn("shutdown timeout reached with pending writes", slog.Int("pending", len(ch)))
	case <-ctx.Done():
		a.logger.Warn("shutdown cancelled with pending writes", slog.Int("pending", len(ch)))
	}
}

func (a *Adapter) enqueue(w write) {
	a.writesMu.RLock()
	defer a.writesMu.RUnlock()

	if a.writes == nil {
		a.stats.IncrementWritesDropped()
		a.logger.Debug("storage writer not running, dropping message", slog.String("topic", w.topic))
		return
	}
	select {
	case a.writes <- w:
	default:
		a.stats.IncrementWritesDropped()
		a.logger.Warn("storage write queue full, dropping message", slog.String("topic", w.topic))
	}
}

func (a *Adapter) runWriter(ch <-chan write, done chan<- struct{}) {
	defer close(done)

	for w := range ch {
		err := a.store.StoreMessage(context.Background(), w.topic, w.payload,
			storage.WithQoS(w.qos), storage.WithRetain(w.retain))
		if err != nil {
			a.stats.IncrementWriteErrors()
			a.logger.Error("failed to persist message",
				slog.String("topic", w.topic),
				slog.String("error", err.Error()))
			continue
		}
		a.stats.IncrementPersisted()
	}
}
