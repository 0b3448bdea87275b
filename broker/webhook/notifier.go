// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/absmach/fluxgate/broker/events"
	"github.com/absmach/fluxgate/config"
	"github.com/absmach/fluxgate/topics"
	"github.com/sony/gobreaker"
)

// ErrClosed is returned by Notify after Close.
var ErrClosed = errors.New("webhook notifier closed")

// GenericNotifier delivers events through a worker pool with a circuit
// breaker per endpoint. It is a broker observer.
type GenericNotifier struct {
	cfg            config.WebhookConfig
	brokerID       string
	endpoints      []endpointConfig
	eventQueue     chan eventJob
	breakers       map[string]*gobreaker.CircuitBreaker
	sender         Sender
	logger         *slog.Logger
	wg             sync.WaitGroup
	ctx            context.Context
	cancel         context.CancelFunc
	closeOnce      sync.Once
	includePayload bool
}

type endpointConfig struct {
	name         string
	url          string
	eventFilters map[string]bool // event type filters
	topicFilters []string        // topic pattern filters
	headers      map[string]string
	timeout      time.Duration
	retryConfig  config.RetryConfig
}

type eventJob struct {
	event    events.Event
	endpoint endpointConfig
	attempt  int
}

// NewNotifier creates a new generic webhook notifier and starts its workers.
func NewNotifier(cfg config.WebhookConfig, brokerID string, sender Sender, logger *slog.Logger) (*GenericNotifier, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sender == nil {
		return nil, fmt.Errorf("sender cannot be nil")
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	endpoints := make([]endpointConfig, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		eventFilters := make(map[string]bool, len(ep.Events))
		for _, eventType := range ep.Events {
			eventFilters[eventType] = true
		}

		timeout := cfg.Defaults.Timeout
		if ep.Timeout > 0 {
			timeout = ep.Timeout
		}

		retryConfig := cfg.Defaults.Retry
		if ep.Retry != nil {
			retryConfig = *ep.Retry
		}

		endpoints = append(endpoints, endpointConfig{
			name:         ep.Name,
			url:          ep.URL,
			eventFilters: eventFilters,
			topicFilters: ep.TopicFilters,
			headers:      ep.Headers,
			timeout:      timeout,
			retryConfig:  retryConfig,
		})
	}

	threshold := uint32(cfg.Defaults.CircuitBreaker.FailureThreshold)
	breakers := make(map[string]*gobreaker.CircuitBreaker, len(endpoints))
	for _, ep := range endpoints {
		breakers[ep.name] = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        ep.name,
			MaxRequests: 1,
			Timeout:     cfg.Defaults.CircuitBreaker.ResetTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
				logger.Warn("webhook circuit breaker state changed",
					slog.String("endpoint", name),
					slog.String("from", from.String()),
					slog.String("to", to.String()))
			},
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	n := &GenericNotifier{
		cfg:            cfg,
		brokerID:       brokerID,
		endpoints:      endpoints,
		eventQueue:     make(chan eventJob, cfg.QueueSize),
		breakers:       breakers,
		sender:         sender,
		logger:         logger,
		ctx:            ctx,
		cancel:         cancel,
		includePayload: cfg.IncludePayload,
	}

	for i := 0; i < cfg.Workers; i++ {
		n.wg.Add(1)
		go n.worker()
	}

	logger.Info("webhook notifier started",
		slog.Int("workers", cfg.Workers),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Int("endpoints", len(endpoints)))

	return n, nil
}

// Notify queues the event for every matching endpoint. It never blocks.
func (n *GenericNotifier) Notify(_ context.Context, event events.Event) error {
	if n.ctx.Err() != nil {
		return ErrClosed
	}

	if !n.includePayload {
		if mp, ok := event.(events.MessagePublished); ok {
			mp.Payload = ""
			event = mp
		}
	}

	for _, endpoint := range n.endpoints {
		if !shouldNotify(endpoint, event) {
			continue
		}
		n.enqueue(eventJob{event: event, endpoint: endpoint})
	}

	return nil
}

func (n *GenericNotifier) enqueue(job eventJob) {
	select {
	case n.eventQueue <- job:
		return
	default:
	}

	if n.cfg.DropPolicy == "oldest" {
		select {
		case <-n.eventQueue: // drop oldest
		default:
		}
		select {
		case n.eventQueue <- job:
			return
		default:
		}
	}

	n.logger.Error("webhook queue full, event dropped",
		slog.String("event_type", job.event.Type()),
		slog.String("endpoint", job.endpoint.name))
}

// shouldNotify checks if an endpoint should be notified for this event.
func shouldNotify(endpoint endpointConfig, event events.Event) bool {
	if len(endpoint.eventFilters) > 0 && !endpoint.eventFilters[event.Type()] {
		return false
	}

	// Topic filters only apply to message events.
	if event.Topic() == "" || len(endpoint.topicFilters) == 0 {
		return true
	}
	for _, filter := range endpoint.topicFilters {
		if topics.Matches(filter, event.Topic()) {
			return true
		}
	}
	return false
}

// worker processes events from the queue.
func (n *GenericNotifier) worker() {
	defer n.wg.Done()

	for {
		select {
		case <-n.ctx.Done():
			return
		case job := <-n.eventQueue:
			n.processJob(job)
		}
	}
}

// processJob sends a webhook with retry logic.
func (n *GenericNotifier) processJob(job eventJob) {
	breaker := n.breakers[job.endpoint.name]

	_, err := breaker.Execute(func() (any, error) {
		return nil, n.sendWebhook(job)
	})
	if err == nil {
		return
	}

	if job.attempt >= job.endpoint.retryConfig.MaxAttempts-1 {
		n.logger.Error("webhook delivery failed after max retries",
			slog.String("endpoint", job.endpoint.name),
			slog.String("event_type", job.event.Type()),
			slog.Int("attempts", job.attempt+1),
			slog.String("error", err.Error()))
		return
	}

	job.attempt++
	delay := retryDelay(job.attempt, job.endpoint.retryConfig)

	n.logger.Debug("webhook delivery failed, retrying",
		slog.String("endpoint", job.endpoint.name),
		slog.String("event_type", job.event.Type()),
		slog.Int("attempt", job.attempt),
		slog.Duration("retry_after", delay),
		slog.String("error", err.Error()))

	time.AfterFunc(delay, func() {
		if n.ctx.Err() != nil {
			return
		}
		select {
		case n.eventQueue <- job:
		default:
			n.logger.Error("failed to requeue event for retry",
				slog.String("endpoint", job.endpoint.name),
				slog.String("event_type", job.event.Type()))
		}
	})
}

// sendWebhook marshals the event and delegates to the protocol-specific sender.
func (n *GenericNotifier) sendWebhook(job eventJob) error {
	payload, err := json.Marshal(job.event.Wrap(n.brokerID))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(n.ctx, job.endpoint.timeout)
	defer cancel()

	if err := n.sender.Send(ctx, job.endpoint.url, job.endpoint.headers, payload, job.endpoint.timeout); err != nil {
		return err
	}

	n.logger.Debug("webhook delivered successfully",
		slog.String("endpoint", job.endpoint.name),
		slog.String("event_type", job.event.Type()))

	return nil
}

// retryDelay calculates exponential backoff delay.
func retryDelay(attempt int, cfg config.RetryConfig) time.Duration {
	delay := float64(cfg.InitialInterval) * math.Pow(cfg.Multiplier, float64(attempt))
	if cfg.MaxInterval > 0 && delay > float64(cfg.MaxInterval) {
		delay = float64(cfg.MaxInterval)
	}
	return time.Duration(delay)
}

// Close stops the workers, waiting up to the shutdown timeout.
func (n *GenericNotifier) Close() error {
	n.closeOnce.Do(func() {
		n.logger.Info("shutting down webhook notifier")
		n.cancel()

		done := make(chan struct{})
		go func() {
			n.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			n.logger.Info("webhook notifier stopped gracefully")
		case <-time.After(n.cfg.ShutdownTimeout):
			n.logger.Warn("webhook notifier shutdown timeout, some events may be lost",
				slog.Int("queue_depth", len(n.eventQueue)))
		}
	})
	return nil
}
