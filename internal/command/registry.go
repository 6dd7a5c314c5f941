// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/holomush/storyengine/internal/protocol"
)

// Registry maps message types to handlers. It is safe for concurrent use.
type Registry struct {
	entries map[protocol.MessageType]Entry
	mu      sync.RWMutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[protocol.MessageType]Entry)}
}

// Register adds a handler. A second handler for the same type replaces the
// first with a warning.
func (r *Registry) Register(entry Entry) error {
	if entry.Type == "" || entry.Handler == nil {
		return ErrInvalidEntry(entry.Type)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[entry.Type]; ok {
		slog.Warn("message handler conflict: overwriting existing handler", "type", entry.Type)
	}
	r.entries[entry.Type] = entry
	return nil
}

// Get returns the handler for t.
func (r *Registry) Get(t protocol.MessageType) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return e, ok
}

// All returns every entry ordered by type.
func (r *Registry) All() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}
