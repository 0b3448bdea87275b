// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import (
	"errors"
	"strings"
	"unicode/utf8"
)

// Common validation errors.
var (
	ErrInvalidTopicName = errors.New("invalid topic name: contains wildcards or illegal characters")
	ErrInvalidFilter    = errors.New("invalid topic filter")
)

// ValidateTopicName checks if the topic name is valid for PUBLISH (no wildcards).
func ValidateTopicName(topic string) error {
	if topic == "" {
		return ErrInvalidTopicName
	}
	// "The Topic Name ... MUST NOT contain wildcard characters"
	if HasWildcard(topic) {
		return ErrInvalidTopicName
	}
	if !utf8.ValidString(topic) {
		return ErrInvalidTopicName
	}
	if strings.Contains(topic, "\u0000") {
		return ErrInvalidTopicName
	}
	return nil
}

// ValidateFilter checks that a subscription or ACL filter is well formed:
// '+' and '#' must occupy a whole level and '#' must be the last level.
func ValidateFilter(filter string) error {
	if filter == "" || !utf8.ValidString(filter) || strings.Contains(filter, "\u0000") {
		return ErrInvalidFilter
	}

	levels := strings.Split(filter, separator)
	for i, level := range levels {
		switch {
		case level == multiWildcard:
			if i != len(levels)-1 {
				return ErrInvalidFilter
			}
		case level == singleWildcard:
		case strings.ContainsAny(level, "+#"):
			return ErrInvalidFilter
		}
	}
	return nil
}
