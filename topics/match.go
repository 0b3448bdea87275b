// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

const (
	separator      = "/"
	singleWildcard = "+"
	multiWildcard  = "#"
)

// Matches reports whether the topic matches the given filter according to MQTT wildcard rules.
// Rules:
// - filter can contain '+' (exactly one level) and '#' (any number of levels, including none).
// - '#' is only valid as the last level; a filter with '#' elsewhere never matches.
// - a level mixing a wildcard with other characters ("a+", "b#") is invalid and never matches.
// - topic is always literal.
// - '$' prefix topics are not matched by a filter starting with a wildcard.
func Matches(filter, topic string) bool {
	if filter == topic {
		return !strings.ContainsAny(topic, "+#")
	}

	filterLevels := strings.Split(filter, separator)
	topicLevels := strings.Split(topic, separator)

	if strings.HasPrefix(topic, "$") {
		if filterLevels[0] == singleWildcard || filterLevels[0] == multiWildcard {
			return false
		}
	}

	for i, fLevel := range filterLevels {
		if fLevel == multiWildcard {
			// Matches the parent level and everything below it.
			return i == len(filterLevels)-1
		}

		if i >= len(topicLevels) {
			// Filter is longer than topic and the remaining level is not a trailing '#'.
			return false
		}

		if fLevel == singleWildcard {
			continue
		}

		if strings.ContainsAny(fLevel, "+#") || fLevel != topicLevels[i] {
			return false
		}
	}

	// All filter levels consumed without '#': the topic must be consumed too.
	return len(filterLevels) == len(topicLevels)
}

// HasWildcard returns true if the filter contains a wildcard character.
func HasWildcard(filter string) bool {
	return strings.ContainsAny(filter, "+#")
}

// Covers reports whether every topic matched by requested is also matched by
// granted. A requested '+' needs '+' or '#' at that level in granted, and a
// requested '#' needs '#' at the same or an earlier level.
func Covers(granted, requested string) bool {
	if !HasWildcard(requested) {
		return Matches(granted, requested)
	}

	grantedLevels := strings.Split(granted, separator)
	requestedLevels := strings.Split(requested, separator)

	if strings.HasPrefix(requested, "$") {
		if grantedLevels[0] == singleWildcard || grantedLevels[0] == multiWildcard {
			return false
		}
	}

	for i, rLevel := range requestedLevels {
		if i >= len(grantedLevels) {
			return false
		}
		gLevel := grantedLevels[i]
		if gLevel == multiWildcard {
			return i == len(grantedLevels)-1
		}
		if strings.ContainsAny(gLevel, "+#") && gLevel != singleWildcard {
			return false
		}

		switch {
		case rLevel == multiWildcard:
			// Only a '#' in granted, handled above, covers a requested '#'.
			return false
		case rLevel == singleWildcard:
			if gLevel != singleWildcard {
				return false
			}
		case strings.ContainsAny(rLevel, "+#"):
			return false
		case gLevel != singleWildcard && gLevel != rLevel:
			return false
		}
	}

	if len(grantedLevels) == len(requestedLevels) {
		return true
	}
	// "a/#" also matches "a".
	return len(grantedLevels) == len(requestedLevels)+1 && grantedLevels[len(grantedLevels)-1] == multiWildcard
}
