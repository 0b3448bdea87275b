// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/absmach/fluxgate/broker"
	"github.com/absmach/fluxgate/broker/middleware"
	"github.com/absmach/fluxgate/config"
	"github.com/absmach/fluxgate/internal/wiring"
	"github.com/absmach/fluxgate/ratelimit"
	"github.com/absmach/fluxgate/server/health"
	"github.com/absmach/fluxgate/server/mochi"
	"github.com/absmach/fluxgate/server/otel"
	gootel "go.opentelemetry.io/otel"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logLevel := slog.LevelInfo
	switch cfg.Log.Level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Log.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)

	slog.Info("Starting fluxgate", "broker_id", cfg.Server.BrokerID)
	slog.Info("Configuration loaded",
		"tcp_addr", cfg.Server.TCPAddr,
		"ws_enabled", cfg.Server.WSEnabled,
		"persistence", cfg.Persistence.Enabled,
		"storage_type", cfg.Persistence.Type,
		"auth", cfg.Auth.Enabled,
		"auth_type", cfg.Auth.Type,
		"log_level", cfg.Log.Level)

	var otelShutdown otel.ShutdownFunc
	if cfg.Server.MetricsEnabled {
		shutdown, err := otel.InitProvider(context.Background(), otel.Config{
			ServiceName:    cfg.Server.OtelServiceName,
			ServiceVersion: cfg.Server.OtelServiceVersion,
			InstanceID:     cfg.Server.BrokerID,
			Endpoint:       cfg.Server.MetricsAddr,
			TracesEnabled:  cfg.Server.OtelTracesEnabled,
			MetricsEnabled: cfg.Server.OtelMetricsEnabled,
			SampleRate:     cfg.Server.OtelTraceSampleRate,
			Insecure:       true,
		})
		if err != nil {
			slog.Error("Failed to initialize OpenTelemetry", "error", err)
			os.Exit(1)
		}
		otelShutdown = shutdown
		slog.Info("OpenTelemetry initialized", "endpoint", cfg.Server.MetricsAddr)
	}

	opts := []broker.Option{broker.WithLogger(logger)}

	store, err := wiring.NewStore(cfg.Persistence, logger)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}
	if store != nil {
		if cfg.Server.MetricsEnabled && cfg.Server.OtelMetricsEnabled {
			store, err = middleware.NewMetricsStore(store, gootel.Meter("fluxgate/storage"))
			if err != nil {
				slog.Error("Failed to create storage metrics", "error", err)
				os.Exit(1)
			}
		}
		opts = append(opts, broker.WithStorage(store))
		slog.Info("Persistence enabled", "type", cfg.Persistence.Type)
	}

	authn, err := wiring.NewAuthenticator(cfg.Auth, logger)
	if err != nil {
		slog.Error("Failed to initialize authentication", "error", err)
		os.Exit(1)
	}
	if authn != nil {
		if logLevel == slog.LevelDebug {
			authn = middleware.NewLoggingAuthenticator(authn, logger)
		}
		opts = append(opts, broker.WithAuthenticator(authn))
		slog.Info("Authentication enabled", "type", cfg.Auth.Type)
	}

	limiter := ratelimit.New(cfg.RateLimit)
	if limiter != nil {
		defer limiter.Stop()
		opts = append(opts, broker.WithRateLimiter(limiter))
		slog.Info("Connection rate limiting enabled", "rate", cfg.RateLimit.Rate, "burst", cfg.RateLimit.Burst)
	}

	notifier, err := wiring.NewWebhook(cfg.Webhook, cfg.Server.BrokerID, logger)
	if err != nil {
		slog.Error("Failed to initialize webhook notifier", "error", err)
		os.Exit(1)
	}
	if notifier != nil {
		opts = append(opts, broker.WithObserver(middleware.NewLoggingObserver("webhook", notifier, logger)))
		slog.Info("Webhooks enabled",
			"endpoints", len(cfg.Webhook.Endpoints),
			"workers", cfg.Webhook.Workers,
			"queue_size", cfg.Webhook.QueueSize)
	} else {
		slog.Info("Webhooks disabled")
	}

	if cfg.Server.MetricsEnabled && cfg.Server.OtelMetricsEnabled {
		metrics, err := otel.NewMetrics(gootel.Meter("fluxgate/broker"))
		if err != nil {
			slog.Error("Failed to create metrics", "error", err)
			os.Exit(1)
		}
		opts = append(opts, broker.WithObserver(metrics))
	}

	adapter := broker.New(broker.Config{
		WriteQueueSize:  cfg.Persistence.WriteQueueSize,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, opts...)

	engine, err := mochi.New(mochi.Config{
		TCPAddr:   cfg.Server.TCPAddr,
		WSAddr:    cfg.Server.WSAddr,
		WSEnabled: cfg.Server.WSEnabled,
	}, adapter, logger)
	if err != nil {
		slog.Error("Failed to create MQTT engine", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := adapter.Start(ctx, engine); err != nil {
		slog.Error("Failed to start broker", "error", err)
		os.Exit(1)
	}

	var wg sync.WaitGroup
	serverErr := make(chan error, 1)

	if cfg.Server.HealthEnabled {
		healthServer := health.New(health.Config{
			Address:         cfg.Server.HealthAddr,
			ShutdownTimeout: cfg.Server.ShutdownTimeout,
		}, adapter, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := healthServer.Listen(ctx); err != nil {
				serverErr <- err
			}
		}()
	}

	slog.Info("fluxgate started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := adapter.Stop(shutdownCtx); err != nil {
		slog.Error("Error during shutdown", "error", err)
	}

	if otelShutdown != nil {
		otelShutdownCtx, otelCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer otelCancel()
		if err := otelShutdown(otelShutdownCtx); err != nil {
			slog.Error("Failed to shutdown OpenTelemetry", "error", err)
		} else {
			slog.Info("OpenTelemetry shutdown complete")
		}
	}

	cancel()

	wg.Wait()
	slog.Info("fluxgate stopped")
}
