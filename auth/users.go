// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ACL lists the filters a user may publish and subscribe to.
type ACL struct {
	Publish   []string `yaml:"publish"   json:"publish"`
	Subscribe []string `yaml:"subscribe" json:"subscribe"`
}

// UserRecord is one credential file entry. Password holds a digest, never
// the clear text.
type UserRecord struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
	ACL      ACL    `yaml:"acl"      json:"acl"`
}

type usersFile struct {
	Users []UserRecord `yaml:"users"`
}

// LoadUsers reads a YAML or JSON credential file.
func LoadUsers(path string) ([]UserRecord, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credential file: %w", err)
	}
	return ParseUsers(data)
}

// ParseUsers decodes a credential document of the form
// {users: [{username, password, acl: {publish, subscribe}}]}.
func ParseUsers(data []byte) ([]UserRecord, error) {
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedCredentialSource, err)
	}
	if f.Users == nil {
		return nil, fmt.Errorf("%w: missing users list", ErrMalformedCredentialSource)
	}

	seen := make(map[string]struct{}, len(f.Users))
	for i, u := range f.Users {
		if u.Username == "" {
			return nil, fmt.Errorf("%w: users[%d]: empty username", ErrMalformedCredentialSource, i)
		}
		if u.Password == "" {
			return nil, fmt.Errorf("%w: users[%d]: empty password digest", ErrMalformedCredentialSource, i)
		}
		if _, ok := seen[u.Username]; ok {
			return nil, fmt.Errorf("%w: duplicate username %q", ErrMalformedCredentialSource, u.Username)
		}
		seen[u.Username] = struct{}{}
	}
	return f.Users, nil
}
