// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package queue

import "encoding/json"

// MarshalPayload encodes a payload for a durable backend.
func MarshalPayload[T any](queue, id string, payload T) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, ErrSerialization(queue, id, err)
	}
	return data, nil
}

// UnmarshalPayload decodes a payload stored by MarshalPayload.
func UnmarshalPayload[T any](queue, id string, data []byte) (T, error) {
	var payload T
	if err := json.Unmarshal(data, &payload); err != nil {
		return payload, ErrSerialization(queue, id, err)
	}
	return payload, nil
}
