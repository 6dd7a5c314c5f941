// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package readstate tracks which generation batches and suggestions a user
// has already looked at.
package readstate

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/clock"
)

// CodeInvalidKey is returned for keys with empty fields or unknown entity types.
const CodeInvalidKey = "READSTATE_INVALID_KEY"

// EntityType is the kind of item being tracked.
type EntityType string

// Entity types.
const (
	EntityBatch      EntityType = "batch"
	EntitySuggestion EntityType = "suggestion"
)

// Key identifies one tracked item for one user in one world.
type Key struct {
	UserID     string
	WorldID    string
	EntityType EntityType
	ItemID     string
}

// Validate reports an error for incomplete keys.
func (k Key) Validate() error {
	if k.UserID == "" || k.WorldID == "" || k.ItemID == "" {
		return oops.Code(CodeInvalidKey).
			With("user_id", k.UserID).
			With("world_id", k.WorldID).
			With("item_id", k.ItemID).
			Errorf("read state key is incomplete")
	}
	return validateEntity(k.EntityType)
}

func validateEntity(t EntityType) error {
	if t != EntityBatch && t != EntitySuggestion {
		return oops.Code(CodeInvalidKey).With("entity_type", string(t)).Errorf("unknown entity type %q", t)
	}
	return nil
}

// Port is the read-state store.
type Port interface {
	// MarkRead records key as read. Marking twice is not an error.
	MarkRead(ctx context.Context, key Key) error
	// MarkUnread forgets key. Unknown keys are ignored.
	MarkUnread(ctx context.Context, key Key) error
	IsRead(ctx context.Context, key Key) (bool, error)
	// ListRead returns the read item ids of one entity type, sorted.
	ListRead(ctx context.Context, userID, worldID string, entity EntityType) ([]string, error)
}

// Memory is an in-process Port.
type Memory struct {
	mu    sync.RWMutex
	clock clock.Clock
	read  map[Key]time.Time
}

// NewMemory creates an empty store.
func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.System{}
	}
	return &Memory{clock: clk, read: make(map[Key]time.Time)}
}

// MarkRead implements Port.
func (m *Memory) MarkRead(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.read[key]; !ok {
		m.read[key] = m.clock.Now()
	}
	return nil
}

// MarkUnread implements Port.
func (m *Memory) MarkUnread(_ context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.read, key)
	return nil
}

// IsRead implements Port.
func (m *Memory) IsRead(_ context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.read[key]
	return ok, nil
}

// ListRead implements Port.
func (m *Memory) ListRead(_ context.Context, userID, worldID string, entity EntityType) ([]string, error) {
	if err := validateEntity(entity); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for k := range m.read {
		if k.UserID == userID && k.WorldID == worldID && k.EntityType == entity {
			ids = append(ids, k.ItemID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Port = (*Memory)(nil)
