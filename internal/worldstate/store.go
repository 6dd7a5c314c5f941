// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package worldstate

import (
	"sort"
	"sync"
	"time"

	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/game"
)

// worldEntry is one world's mutable state, guarded by its own lock.
type worldEntry struct {
	mu               sync.Mutex
	closed           bool
	initialized      bool
	gameTime         game.GameTime
	conversation     []ConversationEntry
	approvals        map[string]Approval
	approvalOrder    []string
	stagings         map[string]*PendingStaging
	proposing        map[string][]game.WaitingPC
	currentSceneID   string
	directorialNotes string
}

func newWorldEntry() *worldEntry {
	return &worldEntry{
		gameTime:  game.NewGameTime(game.DefaultStart),
		approvals: make(map[string]Approval),
		stagings:  make(map[string]*PendingStaging),
		proposing: make(map[string][]game.WaitingPC),
	}
}

// Store is the in-memory world state store. The zero value is not usable;
// construct with NewStore.
type Store struct {
	mu     sync.RWMutex
	worlds map[string]*worldEntry
	clock  clock.Clock
}

// NewStore creates an empty store. A nil clock uses the system clock.
func NewStore(clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	return &Store{
		worlds: make(map[string]*worldEntry),
		clock:  clk,
	}
}

// entry returns the world's entry, creating it on first access.
func (s *Store) entry(worldID string) *worldEntry {
	s.mu.RLock()
	e, ok := s.worlds[worldID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.worlds[worldID]; ok {
		return e
	}
	e = newWorldEntry()
	s.worlds[worldID] = e
	return e
}

// with runs fn under the world's lock. An entry closed by CleanupWorld
// between lookup and lock is skipped for the world's fresh entry, so writes
// never land on state nothing can read.
func (s *Store) with(worldID string, fn func(e *worldEntry)) {
	for {
		e := s.entry(worldID)
		e.mu.Lock()
		if e.closed {
			e.mu.Unlock()
			continue
		}
		fn(e)
		e.mu.Unlock()
		return
	}
}

// --- lifecycle ---

// InitializeWorld marks the world as loaded and sets its starting game time.
// Existing conversation and approvals are kept.
func (s *Store) InitializeWorld(worldID string, start game.GameTime) {
	s.with(worldID, func(e *worldEntry) {
		e.initialized = true
		if !start.IsZero() {
			e.gameTime = start
		}
	})
}

// IsInitialized reports whether InitializeWorld was called for the world.
func (s *Store) IsInitialized(worldID string) bool {
	s.mu.RLock()
	e, ok := s.worlds[worldID]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.initialized
}

// CleanupWorld drops all state for the world. Calls racing with it either
// finish first or act on the world's next, empty state.
func (s *Store) CleanupWorld(worldID string) {
	s.mu.Lock()
	e, ok := s.worlds[worldID]
	delete(s.worlds, worldID)
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// Worlds returns the ids of every world with state, sorted.
func (s *Store) Worlds() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.worlds))
	for id := range s.worlds {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Snapshot returns a copy of the world's full state.
func (s *Store) Snapshot(worldID string) RuntimeState {
	var rs RuntimeState
	s.with(worldID, func(e *worldEntry) {
		rs = RuntimeState{
			WorldID:          worldID,
			Initialized:      e.initialized,
			GameTime:         e.gameTime,
			Conversation:     copyConversation(e.conversation, 0),
			PendingApprovals: e.approvalList(),
			PendingStagings:  e.stagingList(),
			CurrentSceneID:   e.currentSceneID,
			DirectorialNotes: e.directorialNotes,
		}
	})
	return rs
}

// --- game time ---

// GameTime returns the world's current game time.
func (s *Store) GameTime(worldID string) game.GameTime {
	var gt game.GameTime
	s.with(worldID, func(e *worldEntry) { gt = e.gameTime })
	return gt
}

// SetGameTime replaces the world's game time.
func (s *Store) SetGameTime(worldID string, gt game.GameTime) {
	s.with(worldID, func(e *worldEntry) { e.gameTime = gt })
}

// AdvanceTime moves game time forward and returns the new value. Paused
// clocks do not advance.
func (s *Store) AdvanceTime(worldID string, hours int) game.GameTime {
	var gt game.GameTime
	s.with(worldID, func(e *worldEntry) {
		if !e.gameTime.Paused {
			e.gameTime = e.gameTime.AdvanceHours(hours)
		}
		gt = e.gameTime
	})
	return gt
}

// --- conversation ---

// AppendConversation adds an entry, evicting the oldest past
// MaxConversationEntries. A zero At is stamped with the store clock.
func (s *Store) AppendConversation(worldID string, entry ConversationEntry) {
	if entry.At.IsZero() {
		entry.At = s.clock.Now()
	}
	s.with(worldID, func(e *worldEntry) {
		if entry.GameTime.IsZero() {
			entry.GameTime = e.gameTime
		}
		e.conversation = append(e.conversation, entry)
		if over := len(e.conversation) - MaxConversationEntries; over > 0 {
			kept := make([]ConversationEntry, MaxConversationEntries)
			copy(kept, e.conversation[over:])
			e.conversation = kept
		}
	})
}

// Conversation returns the most recent entries, oldest first. A limit of
// zero or less returns everything.
func (s *Store) Conversation(worldID string, limit int) []ConversationEntry {
	var out []ConversationEntry
	s.with(worldID, func(e *worldEntry) { out = copyConversation(e.conversation, limit) })
	return out
}

// ClearConversation empties the world's conversation history.
func (s *Store) ClearConversation(worldID string) {
	s.with(worldID, func(e *worldEntry) { e.conversation = nil })
}

func copyConversation(entries []ConversationEntry, limit int) []ConversationEntry {
	start := 0
	if limit > 0 && len(entries) > limit {
		start = len(entries) - limit
	}
	out := make([]ConversationEntry, len(entries)-start)
	copy(out, entries[start:])
	return out
}

// --- pending approvals ---

// AddPendingApproval stores an approval. It returns false without replacing
// anything when an approval with the same id is already pending.
func (s *Store) AddPendingApproval(worldID string, a Approval) bool {
	added := false
	s.with(worldID, func(e *worldEntry) {
		id := a.ApprovalID()
		if _, exists := e.approvals[id]; exists {
			return
		}
		e.approvals[id] = a
		e.approvalOrder = append(e.approvalOrder, id)
		added = true
	})
	return added
}

// RemovePendingApproval deletes and returns an approval.
func (s *Store) RemovePendingApproval(worldID, id string) (Approval, bool) {
	var (
		a  Approval
		ok bool
	)
	s.with(worldID, func(e *worldEntry) {
		a, ok = e.approvals[id]
		if !ok {
			return
		}
		delete(e.approvals, id)
		for i, oid := range e.approvalOrder {
			if oid == id {
				e.approvalOrder = append(e.approvalOrder[:i], e.approvalOrder[i+1:]...)
				break
			}
		}
	})
	return a, ok
}

// PendingApproval returns one pending approval.
func (s *Store) PendingApproval(worldID, id string) (Approval, bool) {
	var (
		a  Approval
		ok bool
	)
	s.with(worldID, func(e *worldEntry) { a, ok = e.approvals[id] })
	return a, ok
}

// PendingApprovals returns every pending approval in insertion order.
func (s *Store) PendingApprovals(worldID string) []Approval {
	var out []Approval
	s.with(worldID, func(e *worldEntry) { out = e.approvalList() })
	return out
}

// UpdatePendingApproval replaces an approval with fn's result under the
// world's lock. fn must return a new value rather than mutate its argument.
// If fn returns an error the stored value is left alone.
func (s *Store) UpdatePendingApproval(worldID, id string, fn func(Approval) (Approval, error)) error {
	var err error
	s.with(worldID, func(e *worldEntry) {
		current, ok := e.approvals[id]
		if !ok {
			err = ErrApprovalNotFound(worldID, id)
			return
		}
		var next Approval
		next, err = fn(current)
		if err != nil {
			return
		}
		e.approvals[id] = next
	})
	return err
}

func (e *worldEntry) approvalList() []Approval {
	out := make([]Approval, 0, len(e.approvalOrder))
	for _, id := range e.approvalOrder {
		out = append(out, e.approvals[id])
	}
	return out
}

// --- pending stagings ---

// AddPendingStaging stores a staging proposal, replacing any proposal with
// the same request id. A zero CreatedAt is stamped with the store clock.
func (s *Store) AddPendingStaging(p PendingStaging) {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.clock.Now()
	}
	p = p.clone()
	s.with(p.WorldID, func(e *worldEntry) {
		if joined, ok := e.proposing[p.RegionID]; ok {
			for _, pc := range joined {
				p.WaitingPCs = addWaiting(p.WaitingPCs, pc)
			}
			delete(e.proposing, p.RegionID)
		}
		e.stagings[p.RequestID] = &p
	})
}

// RemovePendingStaging deletes and returns a staging proposal.
func (s *Store) RemovePendingStaging(worldID, requestID string) (PendingStaging, bool) {
	var (
		out PendingStaging
		ok  bool
	)
	s.with(worldID, func(e *worldEntry) {
		var p *PendingStaging
		if p, ok = e.stagings[requestID]; ok {
			out = *p
			delete(e.stagings, requestID)
		}
	})
	return out, ok
}

// PendingStaging returns a copy of one staging proposal.
func (s *Store) PendingStaging(worldID, requestID string) (PendingStaging, bool) {
	var (
		out PendingStaging
		ok  bool
	)
	s.with(worldID, func(e *worldEntry) {
		var p *PendingStaging
		if p, ok = e.stagings[requestID]; ok {
			out = p.clone()
		}
	})
	return out, ok
}

// PendingStagingForRegion returns the oldest proposal for a region.
func (s *Store) PendingStagingForRegion(worldID, regionID string) (PendingStaging, bool) {
	var (
		out PendingStaging
		ok  bool
	)
	s.with(worldID, func(e *worldEntry) {
		if p := e.stagingForRegion(regionID); p != nil {
			out, ok = p.clone(), true
		}
	})
	return out, ok
}

// PendingStagings returns every proposal for the world, oldest first.
func (s *Store) PendingStagings(worldID string) []PendingStaging {
	var out []PendingStaging
	s.with(worldID, func(e *worldEntry) { out = e.stagingList() })
	return out
}

// AddWaitingPC records a player character waiting on the region's pending
// proposal. It returns false when there is no proposal for the region or the
// PC is already waiting.
func (s *Store) AddWaitingPC(worldID, regionID string, pc game.WaitingPC) bool {
	added := false
	s.with(worldID, func(e *worldEntry) {
		p := e.stagingForRegion(regionID)
		if p == nil {
			return
		}
		if hasWaiting(p.WaitingPCs, pc.PCID) {
			return
		}
		p.WaitingPCs = append(p.WaitingPCs, pc)
		added = true
	})
	return added
}

// Arrival is what a PC entering a region without a current staging should
// do about the region's proposal.
type Arrival int

// Arrival outcomes.
const (
	// ArrivalJoined means the PC now waits on a pending or in-progress proposal.
	ArrivalJoined Arrival = iota
	// ArrivalAlreadyWaiting means the PC was already waiting.
	ArrivalAlreadyWaiting
	// ArrivalPropose means the caller holds the region's proposal slot and
	// must store a proposal with AddPendingStaging or call ReleaseProposal.
	ArrivalPropose
)

// ClaimArrival records pc as waiting on the region's proposal, or reserves
// the region for the caller to generate one. Only one caller per region gets
// ArrivalPropose until the proposal is stored or released.
func (s *Store) ClaimArrival(worldID, regionID string, pc game.WaitingPC) Arrival {
	out := ArrivalJoined
	s.with(worldID, func(e *worldEntry) {
		if p := e.stagingForRegion(regionID); p != nil {
			if hasWaiting(p.WaitingPCs, pc.PCID) {
				out = ArrivalAlreadyWaiting
				return
			}
			p.WaitingPCs = append(p.WaitingPCs, pc)
			return
		}
		joined, ok := e.proposing[regionID]
		if !ok {
			e.proposing[regionID] = []game.WaitingPC{pc}
			out = ArrivalPropose
			return
		}
		if hasWaiting(joined, pc.PCID) {
			out = ArrivalAlreadyWaiting
			return
		}
		e.proposing[regionID] = append(joined, pc)
	})
	return out
}

// ReleaseProposal gives up the region's proposal slot after a failed
// generation and returns the PCs that were waiting on it.
func (s *Store) ReleaseProposal(worldID, regionID string) []game.WaitingPC {
	var out []game.WaitingPC
	s.with(worldID, func(e *worldEntry) {
		out = e.proposing[regionID]
		delete(e.proposing, regionID)
	})
	return out
}

func hasWaiting(list []game.WaitingPC, pcID string) bool {
	for _, w := range list {
		if w.PCID == pcID {
			return true
		}
	}
	return false
}

func addWaiting(list []game.WaitingPC, pc game.WaitingPC) []game.WaitingPC {
	if hasWaiting(list, pc.PCID) {
		return list
	}
	return append(list, pc)
}

// UpdatePendingStaging applies fn to a stored proposal under the world's
// lock. RequestID and WorldID changes made by fn are ignored.
func (s *Store) UpdatePendingStaging(worldID, requestID string, fn func(*PendingStaging) error) error {
	var err error
	s.with(worldID, func(e *worldEntry) {
		p, ok := e.stagings[requestID]
		if !ok {
			err = ErrStagingNotFound(worldID, requestID)
			return
		}
		next := p.clone()
		if err = fn(&next); err != nil {
			return
		}
		next.RequestID, next.WorldID = p.RequestID, p.WorldID
		e.stagings[requestID] = &next
	})
	return err
}

func (e *worldEntry) stagingForRegion(regionID string) *PendingStaging {
	var found *PendingStaging
	for _, p := range e.stagings {
		if p.RegionID != regionID {
			continue
		}
		if found == nil || p.CreatedAt.Before(found.CreatedAt) ||
			(p.CreatedAt.Equal(found.CreatedAt) && p.RequestID < found.RequestID) {
			found = p
		}
	}
	return found
}

func (e *worldEntry) stagingList() []PendingStaging {
	out := make([]PendingStaging, 0, len(e.stagings))
	for _, p := range e.stagings {
		out = append(out, p.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}

// --- scene and directorial notes ---

// CurrentScene returns the world's current scene id, empty when unset.
func (s *Store) CurrentScene(worldID string) string {
	var id string
	s.with(worldID, func(e *worldEntry) { id = e.currentSceneID })
	return id
}

// SetCurrentScene sets or, with an empty id, clears the current scene.
func (s *Store) SetCurrentScene(worldID, sceneID string) {
	s.with(worldID, func(e *worldEntry) { e.currentSceneID = sceneID })
}

// DirectorialNotes returns the DM's notes for the world.
func (s *Store) DirectorialNotes(worldID string) string {
	var notes string
	s.with(worldID, func(e *worldEntry) { notes = e.directorialNotes })
	return notes
}

// SetDirectorialNotes replaces the DM's notes.
func (s *Store) SetDirectorialNotes(worldID, notes string) {
	s.with(worldID, func(e *worldEntry) { e.directorialNotes = notes })
}

// ClearDirectorialNotes removes the DM's notes.
func (s *Store) ClearDirectorialNotes(worldID string) {
	s.SetDirectorialNotes(worldID, "")
}

// staleAfter reports whether p has waited at least window by now.
func staleAfter(p PendingStaging, now time.Time, window time.Duration) bool {
	return !p.CreatedAt.Add(window).After(now)
}

// StaleStagings returns proposals that have waited at least window.
func (s *Store) StaleStagings(worldID string, window time.Duration) []PendingStaging {
	now := s.clock.Now()
	all := s.PendingStagings(worldID)
	out := all[:0]
	for _, p := range all {
		if staleAfter(p, now, window) {
			out = append(out, p)
		}
	}
	return out
}
