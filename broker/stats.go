// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"sync/atomic"
	"time"
)

// Stats tracks adapter statistics.
type Stats struct {
	startTime time.Time

	// Connection stats
	totalConnections   atomic.Uint64
	currentConnections atomic.Int64
	disconnections     atomic.Uint64
	rejections         atomic.Uint64

	// Message stats
	publishReceived atomic.Uint64
	bytesReceived   atomic.Uint64
	subscriptions   atomic.Uint64

	// Persistence stats
	persisted     atomic.Uint64
	writeErrors   atomic.Uint64
	writesDropped atomic.Uint64

	// Error stats
	authzDenials atomic.Uint64
	brokerErrors atomic.Uint64
}

// StatsSnapshot is a point-in-time copy of Stats.
type StatsSnapshot struct {
	UptimeSeconds      float64 `json:"uptime_seconds"`
	TotalConnections   uint64  `json:"total_connections"`
	CurrentConnections int64   `json:"current_connections"`
	Disconnections     uint64  `json:"disconnections"`
	Rejections         uint64  `json:"rejections"`
	PublishReceived    uint64  `json:"publish_received"`
	BytesReceived      uint64  `json:"bytes_received"`
	Subscriptions      uint64  `json:"subscriptions"`
	Persisted          uint64  `json:"persisted"`
	WriteErrors        uint64  `json:"write_errors"`
	WritesDropped      uint64  `json:"writes_dropped"`
	AuthzDenials       uint64  `json:"authz_denials"`
	BrokerErrors       uint64  `json:"broker_errors"`
}

// NewStats creates a new Stats instance.
func NewStats() *Stats {
	return &Stats{
		startTime: time.Now(),
	}
}

// Connection tracking.
func (s *Stats) IncrementConnections() {
	s.totalConnections.Add(1)
	s.currentConnections.Add(1)
}

func (s *Stats) DecrementConnections() {
	s.currentConnections.Add(-1)
	s.disconnections.Add(1)
}

func (s *Stats) IncrementRejections() {
	s.rejections.Add(1)
}

// Message tracking.
func (s *Stats) IncrementPublishReceived(bytes int) {
	s.publishReceived.Add(1)
	s.bytesReceived.Add(uint64(bytes))
}

func (s *Stats) AddSubscriptions(n int) {
	s.subscriptions.Add(uint64(n))
}

// Persistence tracking.
func (s *Stats) IncrementPersisted() {
	s.persisted.Add(1)
}

func (s *Stats) IncrementWriteErrors() {
	s.writeErrors.Add(1)
}

func (s *Stats) IncrementWritesDropped() {
	s.writesDropped.Add(1)
}

// Error tracking.
func (s *Stats) IncrementAuthzDenials() {
	s.authzDenials.Add(1)
}

func (s *Stats) IncrementBrokerErrors() {
	s.brokerErrors.Add(1)
}

// Uptime.
func (s *Stats) GetUptime() time.Duration {
	return time.Since(s.startTime)
}

// Snapshot copies the current counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		UptimeSeconds:      s.GetUptime().Seconds(),
		TotalConnections:   s.totalConnections.Load(),
		CurrentConnections: s.currentConnections.Load(),
		Disconnections:     s.disconnections.Load(),
		Rejections:         s.rejections.Load(),
		PublishReceived:    s.publishReceived.Load(),
		BytesReceived:      s.bytesReceived.Load(),
		Subscriptions:      s.subscriptions.Load(),
		Persisted:          s.persisted.Load(),
		WriteErrors:        s.writeErrors.Load(),
		WritesDropped:      s.writesDropped.Load(),
		AuthzDenials:       s.authzDenials.Load(),
		BrokerErrors:       s.brokerErrors.Load(),
	}
}
