// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package broadcast

import (
	"context"
	"sync"
)

// Recorder is a Port that keeps every event it receives. It is meant for
// tests and for dry-run tooling.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	err    error
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// FailWith makes subsequent Broadcast calls return err after recording.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Broadcast implements Port.
func (r *Recorder) Broadcast(_ context.Context, worldID string, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.WorldID = worldID
	r.events = append(r.events, ev)
	return r.err
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events with the given type.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, ev := range r.Events() {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// Reset forgets recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var _ Port = (*Recorder)(nil)
