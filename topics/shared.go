// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics

import "strings"

const sharePrefix = "$share/"

// ParseShared splits a "$share/{group}/{filter}" subscription into its group
// and filter. Anything that is not a well-formed shared subscription comes
// back unchanged with ok set to false.
func ParseShared(filter string) (group, topicFilter string, ok bool) {
	rest, found := strings.CutPrefix(filter, sharePrefix)
	if !found {
		return "", filter, false
	}
	group, topicFilter, found = strings.Cut(rest, separator)
	if !found || group == "" || topicFilter == "" || strings.ContainsAny(group, "+#") {
		return "", filter, false
	}
	return group, topicFilter, true
}
