// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"crypto/subtle"
)

var _ Authenticator = (*Static)(nil)

// StaticUser is one entry of a fixed credential list. A non-empty ClientID
// binds the entry to that client.
type StaticUser struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	ClientID string `yaml:"client_id"`
}

// Static admits clients from a fixed list. It performs no authorization.
type Static struct {
	users []StaticUser
}

// NewStatic creates a Static authenticator over a copy of users.
func NewStatic(users []StaticUser) *Static {
	return &Static{users: append([]StaticUser(nil), users...)}
}

// Authenticate succeeds when an entry matches username and password and,
// if the entry names a client, the client id.
func (s *Static) Authenticate(_ context.Context, c Credentials) Result {
	for _, u := range s.users {
		if u.ClientID != "" && u.ClientID != c.ClientID {
			continue
		}
		userOK := subtle.ConstantTimeCompare([]byte(u.Username), []byte(c.Username)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(u.Password), c.Password) == 1
		if userOK && passOK {
			return Allow()
		}
	}
	return Deny(ErrInvalidCredentials)
}
