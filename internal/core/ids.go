// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package core mints the ULID identifiers used across the engine.
package core

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID returns a new ULID string stamped with the current time.
func NewID() string {
	return NewIDAt(time.Now())
}

// NewIDAt returns a new ULID string stamped with t. IDs minted within the same
// millisecond sort in creation order.
func NewIDAt(t time.Time) string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// ValidateID reports whether s is a well-formed ULID.
func ValidateID(s string) error {
	if _, err := ulid.ParseStrict(s); err != nil {
		return oops.Code("INVALID_ID").With("id", s).Wrap(err)
	}
	return nil
}

// IDTime extracts the timestamp embedded in a ULID string.
func IDTime(s string) (time.Time, error) {
	id, err := ulid.ParseStrict(s)
	if err != nil {
		return time.Time{}, oops.Code("INVALID_ID").With("id", s).Wrap(err)
	}
	return ulid.Time(id.Time()).UTC(), nil
}
