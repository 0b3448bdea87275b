// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package ratelimit throttles connection attempts per remote host.
package ratelimit

import (
	"net"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config holds connection rate limiting settings.
type Config struct {
	Enabled         bool          `yaml:"enabled"`
	Rate            float64       `yaml:"rate"`             // attempts per second per host
	Burst           int           `yaml:"burst"`            // burst allowance
	CleanupInterval time.Duration `yaml:"cleanup_interval"` // cleanup interval for stale entries
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:         false,
		Rate:            100.0 / 60.0, // 100 attempts per minute per host
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
	}
}

// Limiter keeps a token bucket per remote host.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*hostEntry
	rate     rate.Limit
	burst    int
	cleanup  time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
}

type hostEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// New creates a Limiter. It returns nil when cfg is disabled; a nil
// Limiter allows everything.
func New(cfg Config) *Limiter {
	if !cfg.Enabled {
		return nil
	}
	cleanup := cfg.CleanupInterval
	if cleanup <= 0 {
		cleanup = DefaultConfig().CleanupInterval
	}
	l := &Limiter{
		limiters: make(map[string]*hostEntry),
		rate:     rate.Limit(cfg.Rate),
		burst:    cfg.Burst,
		cleanup:  cleanup,
		stopCh:   make(chan struct{}),
	}
	go l.cleanupLoop()
	return l
}

// Allow reports whether another attempt from addr is allowed. addr is a
// host or host:port; the port is ignored.
func (l *Limiter) Allow(addr string) bool {
	if l == nil {
		return true
	}
	host := Host(addr)
	if host == "" {
		return true // Allow if we can't tell who is connecting
	}

	l.mu.Lock()
	entry, exists := l.limiters[host]
	if !exists {
		entry = &hostEntry{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.limiters[host] = entry
	}
	entry.lastSeen = time.Now()
	limiter := entry.limiter
	l.mu.Unlock()

	return limiter.Allow()
}

// cleanupLoop periodically removes stale entries.
func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cleanup)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.removeStale(time.Now().Add(-l.cleanup * 2))
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) removeStale(threshold time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for host, entry := range l.limiters {
		if entry.lastSeen.Before(threshold) {
			delete(l.limiters, host)
		}
	}
}

func (l *Limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (l *Limiter) Stop() {
	if l == nil {
		return
	}
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Host strips the port from a host:port address.
func Host(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
