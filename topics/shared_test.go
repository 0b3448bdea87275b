// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package topics_test

import (
	"testing"

	"github.com/absmach/fluxgate/topics"
)

func TestParseShared(t *testing.T) {
	tests := []struct {
		filter string
		group  string
		inner  string
		ok     bool
	}{
		{"$share/readers/sensors/#", "readers", "sensors/#", true},
		{"$share/g/home/+/temperature", "g", "home/+/temperature", true},
		{"$share/g/a", "g", "a", true},
		{"sensors/#", "", "sensors/#", false},
		{"$share/readers", "", "$share/readers", false},
		{"$share//sensors", "", "$share//sensors", false},
		{"$share/g/", "", "$share/g/", false},
		{"$share/+/sensors", "", "$share/+/sensors", false},
		{"$share/", "", "$share/", false},
		{"$SYS/broker", "", "$SYS/broker", false},
		{"", "", "", false},
	}

	for _, tt := range tests {
		group, inner, ok := topics.ParseShared(tt.filter)
		if group != tt.group || inner != tt.inner || ok != tt.ok {
			t.Errorf("ParseShared(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tt.filter, group, inner, ok, tt.group, tt.inner, tt.ok)
		}
	}
}
