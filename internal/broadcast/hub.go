// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package broadcast

import (
	"context"
	"log/slog"
	"sync"

	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/core"
)

// SubscriberBuffer is the per-subscriber channel capacity.
const SubscriberBuffer = 100

// Subscription receives the events of one world that match its role.
type Subscription struct {
	WorldID string
	UserID  string
	Role    Role
	C       chan Event
}

// Hub distributes events to in-process subscribers.
type Hub struct {
	mu    sync.RWMutex
	subs  map[string][]*Subscription
	clock clock.Clock
}

// NewHub creates a hub. A nil clock uses the system clock.
func NewHub(clk clock.Clock) *Hub {
	if clk == nil {
		clk = clock.System{}
	}
	return &Hub{
		subs:  make(map[string][]*Subscription),
		clock: clk,
	}
}

// Subscribe registers a receiver for a world.
func (h *Hub) Subscribe(worldID, userID string, role Role) *Subscription {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription{
		WorldID: worldID,
		UserID:  userID,
		Role:    role,
		C:       make(chan Event, SubscriberBuffer),
	}
	h.subs[worldID] = append(h.subs[worldID], sub)
	return sub
}

// Unsubscribe removes a subscription and closes its channel.
func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.subs[sub.WorldID]
	for i, s := range subs {
		if s == sub {
			h.subs[sub.WorldID] = append(subs[:i], subs[i+1:]...)
			close(sub.C)
			break
		}
	}
	if len(h.subs[sub.WorldID]) == 0 {
		delete(h.subs, sub.WorldID)
	}
}

// Close ends every subscription. Connections drain and disconnect; a later
// Unsubscribe of a closed subscription is a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for worldID, subs := range h.subs {
		for _, sub := range subs {
			close(sub.C)
		}
		delete(h.subs, worldID)
	}
}

// Subscribers returns the number of subscriptions for a world.
func (h *Hub) Subscribers(worldID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[worldID])
}

// Broadcast delivers ev to every matching subscriber of the world. Full
// subscriber buffers drop the event rather than block the caller.
func (h *Hub) Broadcast(ctx context.Context, worldID string, ev Event) error {
	ev = h.stamp(worldID, ev)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs[worldID] {
		if !ev.Matches(sub.Role, sub.UserID) {
			continue
		}
		select {
		case sub.C <- ev:
		default:
			slog.WarnContext(ctx, "event dropped: subscriber buffer full",
				"world_id", worldID,
				"event_id", ev.ID,
				"event_type", ev.Type,
				"user_id", sub.UserID,
			)
		}
	}
	return nil
}

func (h *Hub) stamp(worldID string, ev Event) Event {
	ev.WorldID = worldID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.clock.Now()
	}
	if ev.ID == "" {
		ev.ID = core.NewIDAt(ev.Timestamp)
	}
	return ev
}

// Fanout delivers every event to each port in order, returning the first
// error after all ports have been tried.
type Fanout []Port

// Broadcast implements Port.
func (f Fanout) Broadcast(ctx context.Context, worldID string, ev Event) error {
	var first error
	for _, p := range f {
		if err := p.Broadcast(ctx, worldID, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

var (
	_ Port = (*Hub)(nil)
	_ Port = Fanout(nil)
)
