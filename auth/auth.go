// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package auth admits MQTT clients and checks their topic permissions.
package auth

import (
	"context"
	"errors"
)

// Authentication failures. The engine is only told whether a client was
// admitted; these reasons go to logs and observers.
var (
	ErrUserNotFound        = errors.New("User not found")
	ErrInvalidPassword     = errors.New("Invalid password")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrCredentialsRequired = errors.New("Username and password required")
	ErrRemoteUnreachable   = errors.New("remote auth service unreachable")
	ErrRemoteTimeout       = errors.New("remote auth service timed out")
	ErrRemoteRejected      = errors.New("remote auth service rejected request")

	// ErrMalformedCredentialSource is a configuration error raised while
	// loading users, never during authentication.
	ErrMalformedCredentialSource = errors.New("malformed credential source")
)

// Action is the operation a client asks permission for.
type Action string

// Actions checked by Authorizer.
const (
	ActionPublish   Action = "publish"
	ActionSubscribe Action = "subscribe"
)

// Credentials are presented by a connecting client. They are never persisted.
type Credentials struct {
	ClientID   string
	Username   string
	Password   []byte
	RemoteAddr string
}

// Result is the outcome of an authentication attempt.
type Result struct {
	Success bool
	Err     error
}

// Allow is a successful Result.
func Allow() Result {
	return Result{Success: true}
}

// Deny is a failed Result carrying its reason.
func Deny(err error) Result {
	return Result{Err: err}
}

// Reason returns the failure text, empty on success.
func (r Result) Reason() string {
	if r.Success || r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Authenticator validates client credentials.
type Authenticator interface {
	Authenticate(ctx context.Context, c Credentials) Result
}

// Authorizer checks topic permissions of an authenticated client.
type Authorizer interface {
	Authorize(ctx context.Context, clientID, topic string, action Action) bool
}

// Authorize checks the action against a when it is also an Authorizer.
// Authenticators without authorization allow everything.
func Authorize(ctx context.Context, a Authenticator, clientID, topic string, action Action) bool {
	authz, ok := a.(Authorizer)
	if !ok {
		return true
	}
	return authz.Authorize(ctx, clientID, topic, action)
}
