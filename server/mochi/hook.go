// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package mochi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/absmach/fluxgate/auth"
	"github.com/absmach/fluxgate/broker"
	mqtt "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/packets"
)

// hook forwards mochi callbacks to the adapter.
type hook struct {
	mqtt.HookBase
	adapter Adapter
	logger  *slog.Logger
}

func (h *hook) ID() string {
	return "fluxgate-adapter"
}

func (h *hook) Provides(b byte) bool {
	return bytes.Contains([]byte{
		mqtt.OnConnectAuthenticate,
		mqtt.OnACLCheck,
		mqtt.OnSessionEstablished,
		mqtt.OnDisconnect,
		mqtt.OnPublished,
		mqtt.OnSubscribed,
	}, []byte{b})
}

func (h *hook) OnConnectAuthenticate(cl *mqtt.Client, pk packets.Packet) bool {
	return h.adapter.Authenticate(context.Background(), auth.Credentials{
		ClientID:   cl.ID,
		Username:   string(pk.Connect.Username),
		Password:   pk.Connect.Password,
		RemoteAddr: cl.Net.Remote,
	})
}

func (h *hook) OnACLCheck(cl *mqtt.Client, topic string, write bool) bool {
	action := auth.ActionSubscribe
	if write {
		action = auth.ActionPublish
	}
	return h.adapter.Authorize(context.Background(), cl.ID, topic, action)
}

func (h *hook) OnSessionEstablished(cl *mqtt.Client, _ packets.Packet) {
	h.adapter.ClientConnected(cl.ID, cl.Net.Remote)
}

func (h *hook) OnDisconnect(cl *mqtt.Client, err error, _ bool) {
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, packets.CodeDisconnect) {
		h.adapter.Error(cl.ID, err)
	}
	h.adapter.ClientDisconnected(cl.ID, cl.Net.Remote)
}

func (h *hook) OnPublished(cl *mqtt.Client, pk packets.Packet) {
	h.adapter.Published(broker.Publish{
		ClientID: cl.ID,
		Topic:    pk.TopicName,
		Payload:  pk.Payload,
		QoS:      pk.FixedHeader.Qos,
		Retain:   pk.FixedHeader.Retain,
	})
}

// OnSubscribed reports only the filters the engine granted.
func (h *hook) OnSubscribed(cl *mqtt.Client, pk packets.Packet, reasonCodes []byte) {
	subs := make([]broker.Subscription, 0, len(pk.Filters))
	for i, f := range pk.Filters {
		if i < len(reasonCodes) && reasonCodes[i] >= packets.ErrUnspecifiedError.Code {
			continue
		}
		subs = append(subs, broker.Subscription{Topic: f.Filter, QoS: f.Qos})
	}
	h.adapter.Subscribed(cl.ID, subs)
}
