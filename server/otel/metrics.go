// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package otel

import (
	"context"
	"fmt"

	"github.com/absmach/fluxgate/broker"
	"github.com/absmach/fluxgate/broker/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var _ broker.Observer = (*Metrics)(nil)

// Metrics turns broker events into OpenTelemetry instruments.
type Metrics struct {
	connectionsTotal    metric.Int64Counter
	connectionsCurrent  metric.Int64UpDownCounter
	disconnectionsTotal metric.Int64Counter
	rejectionsTotal     metric.Int64Counter
	messagesReceived    metric.Int64Counter
	bytesReceived       metric.Int64Counter
	messageSize         metric.Int64Histogram
	subscriptionsTotal  metric.Int64Counter
	errorsTotal         metric.Int64Counter
}

// NewMetrics creates every instrument on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.connectionsTotal, "mqtt.connections.total", "Total number of admitted MQTT connections"},
		{&m.disconnectionsTotal, "mqtt.disconnections.total", "Total number of MQTT disconnections"},
		{&m.rejectionsTotal, "mqtt.rejections.total", "Connection attempts refused by authentication or rate limiting"},
		{&m.messagesReceived, "mqtt.messages.received.total", "Total messages published by clients"},
		{&m.bytesReceived, "mqtt.bytes.received.total", "Total payload bytes published by clients"},
		{&m.subscriptionsTotal, "mqtt.subscriptions.total", "Total granted subscription filters"},
		{&m.errorsTotal, "mqtt.errors.total", "Total errors reported by the engine"},
	}
	for _, c := range counters {
		if *c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, fmt.Errorf("failed to create %s counter: %w", c.name, err)
		}
	}

	m.connectionsCurrent, err = meter.Int64UpDownCounter(
		"mqtt.connections.current",
		metric.WithDescription("Current number of connected MQTT clients"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create connectionsCurrent gauge: %w", err)
	}

	m.messageSize, err = meter.Int64Histogram(
		"mqtt.message.size.bytes",
		metric.WithDescription("Message payload size distribution"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create messageSize histogram: %w", err)
	}

	return m, nil
}

// Notify records the event.
func (m *Metrics) Notify(ctx context.Context, e events.Event) error {
	switch ev := e.(type) {
	case events.ClientConnected:
		m.connectionsTotal.Add(ctx, 1)
		m.connectionsCurrent.Add(ctx, 1)
	case events.ClientDisconnected:
		m.disconnectionsTotal.Add(ctx, 1)
		m.connectionsCurrent.Add(ctx, -1)
	case events.ClientRejected:
		m.rejectionsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", ev.Reason)))
	case events.MessagePublished:
		m.messagesReceived.Add(ctx, 1, metric.WithAttributes(attribute.Int("qos", int(ev.QoS))))
		m.bytesReceived.Add(ctx, int64(ev.PayloadSize))
		m.messageSize.Record(ctx, int64(ev.PayloadSize))
	case events.ClientSubscribe:
		m.subscriptionsTotal.Add(ctx, int64(len(ev.Subscriptions)))
	case events.BrokerError:
		m.errorsTotal.Add(ctx, 1)
	}
	return nil
}
