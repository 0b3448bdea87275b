// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"context"

	"github.com/absmach/fluxgate/broker/events"
)

// Observer receives broker events in the order the adapter accepted them.
// Notify must not block; errors are logged and otherwise ignored.
// Observers that also implement io.Closer are closed when the adapter stops.
type Observer interface {
	Notify(ctx context.Context, event events.Event) error
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, event events.Event) error

// Notify calls f.
func (f ObserverFunc) Notify(ctx context.Context, event events.Event) error {
	return f(ctx, event)
}
