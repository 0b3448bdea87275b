// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"

	"github.com/absmach/fluxgate/topics"
)

var (
	_ Authenticator = (*File)(nil)
	_ Authorizer    = (*File)(nil)
)

// IdentityResolver maps a client id to the username whose ACL applies.
type IdentityResolver func(clientID string) (username string, ok bool)

// FileOption configures a File authenticator.
type FileOption func(*File)

// WithUnifiedErrors reports unknown users and wrong passwords alike as
// ErrInvalidCredentials.
func WithUnifiedErrors() FileOption {
	return func(f *File) {
		f.unified = true
	}
}

// WithIdentityResolver replaces the default resolver, which treats the
// client id as the username.
func WithIdentityResolver(r IdentityResolver) FileOption {
	return func(f *File) {
		f.resolve = r
	}
}

// File authenticates against digested credentials and enforces per-user ACLs.
type File struct {
	users   map[string]UserRecord
	unified bool
	resolve IdentityResolver
}

// NewFile creates a File authenticator from loaded user records.
func NewFile(users []UserRecord, opts ...FileOption) *File {
	f := &File{
		users: make(map[string]UserRecord, len(users)),
	}
	for _, u := range users {
		f.users[u.Username] = u
	}
	f.resolve = func(clientID string) (string, bool) {
		return clientID, true
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// LoadFile reads the credential file at path and creates a File authenticator.
func LoadFile(path string, opts ...FileOption) (*File, error) {
	users, err := LoadUsers(path)
	if err != nil {
		return nil, err
	}
	return NewFile(users, opts...), nil
}

// Authenticate checks the password against the stored digest.
func (f *File) Authenticate(_ context.Context, c Credentials) Result {
	if c.Username == "" || len(c.Password) == 0 {
		return Deny(ErrCredentialsRequired)
	}

	u, ok := f.users[c.Username]
	if !ok {
		return Deny(f.failure(ErrUserNotFound))
	}
	if !VerifyPassword(u.Password, c.Password) {
		return Deny(f.failure(ErrInvalidPassword))
	}
	return Allow()
}

func (f *File) failure(err error) error {
	if f.unified {
		return ErrInvalidCredentials
	}
	return err
}

// Authorize checks the topic against the resolved user's ACL for the action.
// Subscribe requests are checked without their $share/{group}/ prefix, and a
// wildcard request must fall entirely inside a granted filter.
func (f *File) Authorize(_ context.Context, clientID, topic string, action Action) bool {
	username, ok := f.resolve(clientID)
	if !ok {
		return false
	}
	u, ok := f.users[username]
	if !ok {
		return false
	}

	switch action {
	case ActionPublish:
		for _, filter := range u.ACL.Publish {
			if topics.Matches(filter, topic) {
				return true
			}
		}
	case ActionSubscribe:
		_, topic, _ = topics.ParseShared(topic)
		for _, filter := range u.ACL.Subscribe {
			if topics.Covers(filter, topic) {
				return true
			}
		}
	}
	return false
}
