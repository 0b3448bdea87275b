// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package broker

import (
	"encoding/json"
	"fmt"
	"io"
)

// NormalizePayload turns whatever the engine handed over into bytes.
// Byte slices are copied, readers drained, strings and Stringers converted,
// nil becomes empty and anything else is JSON encoded.
func NormalizePayload(v any) ([]byte, error) {
	switch p := v.(type) {
	case nil:
		return []byte{}, nil
	case []byte:
		return append([]byte{}, p...), nil
	case json.RawMessage:
		return append([]byte{}, p...), nil
	case string:
		return []byte(p), nil
	case io.Reader:
		data, err := io.ReadAll(p)
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return data, nil
	case fmt.Stringer:
		return []byte(p.String()), nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload: %w", err)
		}
		return data, nil
	}
}
