// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package broadcast routes engine events to the DM, the players or a single
// user of a world.
package broadcast

import (
	"context"
	"time"
)

// EventType identifies the kind of event.
type EventType string

// Event types emitted by the engine.
const (
	// DM-facing.
	EventApprovalRequired    EventType = "approval_required"
	EventStagingRequired     EventType = "staging_required"
	EventStagingReady        EventType = "staging_ready"
	EventSuggestionCompleted EventType = "suggestion_completed"
	EventSuggestionFailed    EventType = "suggestion_failed"
	EventOutcomePending      EventType = "outcome_pending"
	EventOutcomeSuggestions  EventType = "outcome_suggestions_ready"
	EventOutcomeBranches     EventType = "outcome_branches_ready"
	EventGenerationQueued    EventType = "generation_queued"
	EventGenerationProgress  EventType = "generation_progress"
	EventGenerationComplete  EventType = "generation_complete"
	EventGenerationFailed    EventType = "generation_failed"
	EventActionFailed        EventType = "action_failed"
	EventNarrativeEventFired EventType = "narrative_event_triggered"
	EventStatUpdated         EventType = "stat_updated"
	EventResponseRejected    EventType = "response_rejected"
	EventStagingAutoApproved EventType = "staging_auto_approved"
	EventStagingRegenerated  EventType = "staging_regenerated"

	// Player-facing.
	EventDialogueResponse  EventType = "dialogue_response"
	EventSceneChanged      EventType = "scene_changed"
	EventStagingPending    EventType = "staging_pending"
	EventRollSubmitted     EventType = "roll_submitted"
	EventChallengeResolved EventType = "challenge_resolved"
	EventMovementBlocked   EventType = "movement_blocked"

	// Replies to one user's request.
	EventAck EventType = "ack"
)

// Scope selects which connections of a world receive an event.
type Scope string

// Scopes.
const (
	ScopeDM      Scope = "dm"
	ScopePlayers Scope = "players"
	ScopeAll     Scope = "all"
	ScopeUser    Scope = "user"
)

// Event is one message routed to a world's connections. Payload is any
// JSON-encodable value.
type Event struct {
	ID        string    `json:"id"`
	WorldID   string    `json:"world_id"`
	Type      EventType `json:"type"`
	Scope     Scope     `json:"scope"`
	UserID    string    `json:"user_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload,omitempty"`
}

// ToDM builds a DM-scoped event.
func ToDM(t EventType, payload any) Event {
	return Event{Type: t, Scope: ScopeDM, Payload: payload}
}

// ToPlayers builds a player-scoped event.
func ToPlayers(t EventType, payload any) Event {
	return Event{Type: t, Scope: ScopePlayers, Payload: payload}
}

// ToAll builds an event for every connection of the world.
func ToAll(t EventType, payload any) Event {
	return Event{Type: t, Scope: ScopeAll, Payload: payload}
}

// ToUser builds an event for one user's connections.
func ToUser(userID string, t EventType, payload any) Event {
	return Event{Type: t, Scope: ScopeUser, UserID: userID, Payload: payload}
}

// Port delivers events. Implementations must not block on slow receivers.
type Port interface {
	Broadcast(ctx context.Context, worldID string, ev Event) error
}

// Role is the role a subscriber holds in a world.
type Role string

// Roles.
const (
	RoleDM        Role = "dm"
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Matches reports whether a subscriber with the given role and user id should
// receive ev.
func (ev Event) Matches(role Role, userID string) bool {
	switch ev.Scope {
	case ScopeDM:
		return role == RoleDM
	case ScopePlayers:
		return role == RolePlayer || role == RoleSpectator
	case ScopeAll:
		return true
	case ScopeUser:
		return userID != "" && userID == ev.UserID
	default:
		return false
	}
}
