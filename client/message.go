// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package client

// Message represents a received MQTT message.
type Message struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	Dup      bool
	PacketID uint16
}

// MessageHandler processes a message delivered to a matching filter.
type MessageHandler func(msg *Message)
