// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package middleware decorates broker collaborators with logging and metrics.
package middleware

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/absmach/fluxgate/auth"
	"github.com/absmach/fluxgate/broker"
	"github.com/absmach/fluxgate/broker/events"
)

var (
	_ broker.Observer    = (*loggingObserver)(nil)
	_ io.Closer          = (*loggingObserver)(nil)
	_ auth.Authenticator = (*loggingAuthenticator)(nil)
)

type loggingObserver struct {
	logger *slog.Logger
	name   string
	next   broker.Observer
}

// NewLoggingObserver logs every event delivered to next.
func NewLoggingObserver(name string, next broker.Observer, logger *slog.Logger) broker.Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &loggingObserver{logger: logger, name: name, next: next}
}

// Notify logs event delivery details.
func (lo *loggingObserver) Notify(ctx context.Context, e events.Event) (err error) {
	defer func(begin time.Time) {
		lo.logger.Debug("Notify",
			slog.String("observer", lo.name),
			slog.String("event", e.Type()),
			slog.String("topic", e.Topic()),
			slog.String("duration", time.Since(begin).String()),
			slog.Any("error", err),
		)
	}(time.Now())

	return lo.next.Notify(ctx, e)
}

// Close closes the wrapped observer when it is closable.
func (lo *loggingObserver) Close() error {
	if c, ok := lo.next.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

type loggingAuthenticator struct {
	logger *slog.Logger
	next   auth.Authenticator
}

// NewLoggingAuthenticator logs every authentication attempt. Passwords are
// never logged.
func NewLoggingAuthenticator(next auth.Authenticator, logger *slog.Logger) auth.Authenticator {
	if logger == nil {
		logger = slog.Default()
	}
	la := &loggingAuthenticator{logger: logger, next: next}
	if authz, ok := next.(auth.Authorizer); ok {
		return &loggingAuthorizer{loggingAuthenticator: la, authz: authz}
	}
	return la
}

// Authenticate logs the outcome of an authentication attempt.
func (la *loggingAuthenticator) Authenticate(ctx context.Context, c auth.Credentials) (res auth.Result) {
	defer func(begin time.Time) {
		la.logger.Info("Authenticate",
			slog.String("client_id", c.ClientID),
			slog.String("username", c.Username),
			slog.String("remote_addr", c.RemoteAddr),
			slog.Bool("success", res.Success),
			slog.String("reason", res.Reason()),
			slog.String("duration", time.Since(begin).String()),
		)
	}(time.Now())

	return la.next.Authenticate(ctx, c)
}

// loggingAuthorizer keeps the Authorizer side visible through the decorator.
type loggingAuthorizer struct {
	*loggingAuthenticator
	authz auth.Authorizer
}

// Authorize logs topic permission checks.
func (la *loggingAuthorizer) Authorize(ctx context.Context, clientID, topic string, action auth.Action) (allowed bool) {
	defer func(begin time.Time) {
		la.logger.Debug("Authorize",
			slog.String("client_id", clientID),
			slog.String("topic", topic),
			slog.String("action", string(action)),
			slog.Bool("allowed", allowed),
			slog.String("duration", time.Since(begin).String()),
		)
	}(time.Now())

	return la.authz.Authorize(ctx, clientID, topic, action)
}
