// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// HashPassword returns the lowercase hex SHA-256 digest of password.
func HashPassword(password []byte) string {
	sum := sha256.Sum256(password)
	return hex.EncodeToString(sum[:])
}

// HashPasswordBcrypt returns a bcrypt digest of password.
func HashPasswordBcrypt(password []byte, cost int) (string, error) {
	h, err := bcrypt.GenerateFromPassword(password, cost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

func isBcrypt(digest string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(digest, p) {
			return true
		}
	}
	return false
}

// VerifyPassword checks password against a SHA-256 hex or bcrypt digest.
func VerifyPassword(digest string, password []byte) bool {
	if isBcrypt(digest) {
		return bcrypt.CompareHashAndPassword([]byte(digest), password) == nil
	}
	got := HashPassword(password)
	return subtle.ConstantTimeCompare([]byte(strings.ToLower(digest)), []byte(got)) == 1
}
