// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

import "errors"

// Client errors.
var (
	// Configuration errors.
	ErrNoServers     = errors.New("no servers configured")
	ErrEmptyClientID = errors.New("client ID cannot be empty")

	// Connection errors.
	ErrNotConnected  = errors.New("client not connected")
	ErrConnectFailed = errors.New("connection failed")

	// Operation errors.
	ErrTimeout       = errors.New("operation timed out")
	ErrInvalidQoS    = errors.New("invalid QoS level (must be 0, 1, or 2)")
	ErrInvalidTopic  = errors.New("invalid topic")
	ErrInvalidFilter = errors.New("invalid topic filter")
	ErrNilHandler    = errors.New("message handler cannot be nil")
)
