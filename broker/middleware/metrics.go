// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package middleware

import (
	"context"
	"time"

	"github.com/absmach/fluxgate/storage"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var _ storage.Store = (*metricsStore)(nil)

type metricsStore struct {
	store    storage.Store
	ops      metric.Int64Counter
	duration metric.Float64Histogram
}

// NewMetricsStore records the count and latency of every storage operation.
func NewMetricsStore(store storage.Store, meter metric.Meter) (storage.Store, error) {
	ops, err := meter.Int64Counter("fluxgate.storage.operations",
		metric.WithDescription("Storage operations by name and outcome"))
	if err != nil {
		return nil, err
	}
	duration, err := meter.Float64Histogram("fluxgate.storage.duration",
		metric.WithDescription("Storage operation latency"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, err
	}
	return &metricsStore{store: store, ops: ops, duration: duration}, nil
}

func (ms *metricsStore) record(ctx context.Context, op string, begin time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("op", op), attribute.String("status", status))
	ms.ops.Add(ctx, 1, attrs)
	ms.duration.Record(ctx, time.Since(begin).Seconds(), attrs)
}

// Connect wraps the call with operation metrics.
func (ms *metricsStore) Connect(ctx context.Context) (err error) {
	defer func(begin time.Time) { ms.record(ctx, "connect", begin, err) }(time.Now())
	return ms.store.Connect(ctx)
}

// StoreMessage wraps the call with operation metrics.
func (ms *metricsStore) StoreMessage(ctx context.Context, topic string, payload []byte, opts ...storage.MessageOption) (err error) {
	defer func(begin time.Time) { ms.record(ctx, "store", begin, err) }(time.Now())
	return ms.store.StoreMessage(ctx, topic, payload, opts...)
}

// GetMessages wraps the call with operation metrics.
func (ms *metricsStore) GetMessages(ctx context.Context, topic string, limit int) (msgs []*storage.Message, err error) {
	defer func(begin time.Time) { ms.record(ctx, "get", begin, err) }(time.Now())
	return ms.store.GetMessages(ctx, topic, limit)
}

// ClearMessages wraps the call with operation metrics.
func (ms *metricsStore) ClearMessages(ctx context.Context, topic string) (err error) {
	defer func(begin time.Time) { ms.record(ctx, "clear", begin, err) }(time.Now())
	return ms.store.ClearMessages(ctx, topic)
}

// Disconnect wraps the call with operation metrics.
func (ms *metricsStore) Disconnect(ctx context.Context) (err error) {
	defer func(begin time.Time) { ms.record(ctx, "disconnect", begin, err) }(time.Now())
	return ms.store.Disconnect(ctx)
}
