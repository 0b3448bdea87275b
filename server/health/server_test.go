// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/absmach/fluxgate/broker"
)

type fakeBroker struct {
	state broker.State
	stats *broker.Stats
}

func (f *fakeBroker) State() broker.State  { return f.state }
func (f *fakeBroker) Stats() *broker.Stats { return f.stats }

func TestAddrWithoutListener(t *testing.T) {
	server := New(Config{}, nil, slog.Default())
	if server.Addr() != "" {
		t.Fatalf("expected empty address before listen, got %q", server.Addr())
	}
}

func TestHealthEndpoint(t *testing.T) {
	server := New(Config{}, nil, slog.Default())

	tests := []struct {
		name           string
		method         string
		expectedStatus int
	}{
		{
			name:           "GET request returns healthy",
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "POST request not allowed",
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "http://test/health", nil)
			rec := httptest.NewRecorder()

			server.handleHealth(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}

			if tt.expectedStatus == http.StatusOK {
				var response HealthResponse
				if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
					t.Fatalf("failed to decode response: %v", err)
				}
				if response.Status != "healthy" {
					t.Errorf("expected status %q, got %q", "healthy", response.Status)
				}
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	tests := []struct {
		name           string
		broker         Broker
		method         string
		expectedStatus int
		expectedReason string
	}{
		{
			name:           "broker nil - not ready",
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "broker not initialized",
		},
		{
			name:           "listening - ready",
			broker:         &fakeBroker{state: broker.StateListening},
			method:         http.MethodGet,
			expectedStatus: http.StatusOK,
		},
		{
			name:           "starting - not ready",
			broker:         &fakeBroker{state: broker.StateStarting},
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "broker starting",
		},
		{
			name:           "stopping - not ready",
			broker:         &fakeBroker{state: broker.StateStopping},
			method:         http.MethodGet,
			expectedStatus: http.StatusServiceUnavailable,
			expectedReason: "broker stopping",
		},
		{
			name:           "POST request not allowed",
			broker:         &fakeBroker{state: broker.StateListening},
			method:         http.MethodPost,
			expectedStatus: http.StatusMethodNotAllowed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := New(Config{}, tt.broker, slog.Default())

			req := httptest.NewRequest(tt.method, "http://test/ready", nil)
			rec := httptest.NewRecorder()

			server.handleReady(rec, req)

			if rec.Code != tt.expectedStatus {
				t.Errorf("expected status %d, got %d", tt.expectedStatus, rec.Code)
			}
			if tt.expectedStatus == http.StatusMethodNotAllowed {
				return
			}

			var response ReadyResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}

			ready := tt.expectedStatus == http.StatusOK
			if ready && response.Status != "ready" {
				t.Errorf("expected ready status, got %q", response.Status)
			}
			if !ready && response.Status != "not_ready" {
				t.Errorf("expected not_ready status, got %q", response.Status)
			}
			if response.Details != tt.expectedReason {
				t.Errorf("expected details %q, got %q", tt.expectedReason, response.Details)
			}
		})
	}
}

func TestReadyFollowsAdapterLifecycle(t *testing.T) {
	a := broker.New(broker.Config{})
	server := New(Config{}, a, slog.Default())

	readyCode := func() int {
		rec := httptest.NewRecorder()
		server.handleReady(rec, httptest.NewRequest(http.MethodGet, "http://test/ready", nil))
		return rec.Code
	}

	if code := readyCode(); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 before start, got %d", code)
	}
	if err := a.Start(context.Background(), nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if code := readyCode(); code != http.StatusOK {
		t.Fatalf("expected 200 while listening, got %d", code)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if code := readyCode(); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after stop, got %d", code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	stats := broker.NewStats()
	stats.IncrementConnections()
	stats.IncrementPublishReceived(42)
	server := New(Config{}, &fakeBroker{state: broker.StateListening, stats: stats}, slog.Default())

	rec := httptest.NewRecorder()
	server.handleStats(rec, httptest.NewRequest(http.MethodGet, "http://test/stats", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	var response StatsResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.State != "listening" {
		t.Errorf("expected state listening, got %q", response.State)
	}
	if response.CurrentConnections != 1 || response.BytesReceived != 42 {
		t.Errorf("unexpected counters: %+v", response.StatsSnapshot)
	}
}

func TestContentTypeHeaders(t *testing.T) {
	server := New(Config{}, &fakeBroker{state: broker.StateListening, stats: broker.NewStats()}, slog.Default())

	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{name: "/health", handler: server.handleHealth},
		{name: "/ready", handler: server.handleReady},
		{name: "/stats", handler: server.handleStats},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://test"+tt.name, nil)
			rec := httptest.NewRecorder()

			tt.handler(rec, req)

			contentType := rec.Header().Get("Content-Type")
			if contentType != "application/json" {
				t.Errorf("expected Content-Type application/json, got %q", contentType)
			}

			body, err := io.ReadAll(rec.Body)
			if err != nil {
				t.Fatalf("failed to read body: %v", err)
			}

			var data map[string]any
			if err := json.Unmarshal(body, &data); err != nil {
				t.Errorf("response is not valid JSON: %v", err)
			}
		})
	}
}

func TestListenShutsDownOnCancel(t *testing.T) {
	server := New(Config{Address: "127.0.0.1:0", ShutdownTimeout: time.Second}, nil, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- server.Listen(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for server.Addr() == "" && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if server.Addr() == "" {
		t.Fatal("server did not start listening")
	}

	resp, err := http.Get("http://" + server.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Listen returned error: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Listen did not return after cancel")
	}
}
