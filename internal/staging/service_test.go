// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package staging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/oracle"
	"github.com/holomush/storyengine/internal/worldstate"
	"github.com/holomush/storyengine/pkg/errutil"
)

const (
	testWorld  = "world-1"
	testRegion = "taproom"
)

type fakeDirectory struct {
	candidates []Candidate
	err        error
}

func (d fakeDirectory) CandidatesForRegion(context.Context, string, string) ([]Candidate, error) {
	return d.candidates, d.err
}

var tavernRegulars = []Candidate{
	{CharacterID: "npc-inn", Name: "Marta", Relation: RelationWorksAt, Shift: ShiftAlways},
	{CharacterID: "npc-fly", Name: "Old Tobin", Relation: RelationFrequents, Frequency: FrequencySometimes},
	{CharacterID: "npc-res", Name: "Ilse", Relation: RelationHome},
}

// stepRepository hides ReplaceActive so the service falls back to separate
// invalidate and save calls.
type stepRepository struct {
	*MemoryRepository
}

func (r stepRepository) ReplaceActive() {}

type harness struct {
	svc    *Service
	repo   Repository
	state  *worldstate.Store
	clock  *clock.Manual
	events *broadcast.Recorder
}

func newHarness(t *testing.T, repo Repository, llm oracle.LLM) *harness {
	t.Helper()
	clk := clock.NewManual(time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC))
	state := worldstate.NewStore(clk)
	events := broadcast.NewRecorder()
	if repo == nil {
		repo = NewMemoryRepository()
	}
	svc := NewService(repo, fakeDirectory{candidates: tavernRegulars}, state, llm, events, Config{Clock: clk})
	return &harness{svc: svc, repo: repo, state: state, clock: clk, events: events}
}

func (h *harness) propose(t *testing.T, pc *game.WaitingPC) worldstate.PendingStaging {
	t.Helper()
	p, err := h.svc.GenerateProposal(context.Background(), ProposalRequest{
		WorldID:      testWorld,
		RegionID:     testRegion,
		RegionName:   "Taproom",
		LocationID:   "gilded-eel",
		LocationName: "The Gilded Eel",
		WaitingPC:    pc,
	})
	require.NoError(t, err)
	return p
}

func countActive(t *testing.T, repo Repository) int {
	t.Helper()
	history, err := repo.History(context.Background(), testRegion, 0)
	require.NoError(t, err)
	n := 0
	for _, s := range history {
		if s.IsActive {
			n++
		}
	}
	return n
}

func TestService_GenerateProposal(t *testing.T) {
	h := newHarness(t, nil, nil)
	pc := &game.WaitingPC{PCID: "pc-1", PCName: "Ava", UserID: "user-1"}

	p := h.propose(t, pc)

	assert.NotEmpty(t, p.RequestID)
	assert.Equal(t, DefaultTTLHours, p.DefaultTTLHours)
	assert.Equal(t, []game.WaitingPC{*pc}, p.WaitingPCs)
	require.Len(t, p.RuleBasedNPCs, 3)
	assert.True(t, p.RuleBasedNPCs[0].IsPresent, "innkeeper always works")
	assert.False(t, p.RuleBasedNPCs[1].IsPresent, "regular only comes in the evening")
	assert.False(t, p.RuleBasedNPCs[2].IsPresent, "resident is out in the morning")
	assert.Equal(t, p.RuleBasedNPCs, p.LLMBasedNPCs, "no oracle means the rule list")

	stored, ok := h.state.PendingStaging(testWorld, p.RequestID)
	require.True(t, ok)
	assert.Equal(t, p.RequestID, stored.RequestID)

	required := h.events.OfType(broadcast.EventStagingRequired)
	require.Len(t, required, 1)
	assert.Equal(t, broadcast.ScopeDM, required[0].Scope)

	active, err := h.repo.Active(context.Background(), testRegion)
	require.NoError(t, err)
	assert.Nil(t, active, "nothing is persisted before approval")
}

func TestService_GenerateProposalUsesOracle(t *testing.T) {
	llm := oracle.LLMFunc(func(context.Context, oracle.Prompt) (oracle.Response, error) {
		return oracle.Response{Content: `[{"name":"Old Tobin","reason":"early drink"}]`}, nil
	})
	h := newHarness(t, nil, llm)

	p := h.propose(t, nil)
	require.Len(t, p.LLMBasedNPCs, 3)
	assert.Equal(t, "npc-fly", p.LLMBasedNPCs[0].CharacterID)
	assert.True(t, p.LLMBasedNPCs[0].IsPresent)
	assert.True(t, p.RuleBasedNPCs[0].IsPresent, "rule list untouched")
}

func TestService_GenerateProposalDegradesOnOracleFailure(t *testing.T) {
	llm := oracle.LLMFunc(func(context.Context, oracle.Prompt) (oracle.Response, error) {
		return oracle.Response{}, oracle.ErrTimeout("llm", nil)
	})
	h := newHarness(t, nil, llm)

	p := h.propose(t, nil)
	assert.Equal(t, p.RuleBasedNPCs, p.LLMBasedNPCs)
}

func TestService_GenerateProposalDirectoryFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.svc.directory = fakeDirectory{err: errors.New("graph down")}

	_, err := h.svc.GenerateProposal(context.Background(), ProposalRequest{WorldID: testWorld, RegionID: testRegion})
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, CodeCandidatesFailed)
	assert.Empty(t, h.state.PendingStagings(testWorld))
}

func TestService_ApproveRoundTrip(t *testing.T) {
	h := newHarness(t, nil, nil)
	pc := &game.WaitingPC{PCID: "pc-1", PCName: "Ava", UserID: "user-1"}
	p := h.propose(t, pc)

	approved := []game.StagedNPC{
		{CharacterID: "npc-inn", Name: "Marta", IsPresent: true, Reasoning: "Works here"},
		{CharacterID: "npc-fly", Name: "Old Tobin", IsPresent: true, IsHiddenFromPlayers: true},
	}
	st, err := h.svc.Approve(context.Background(), ApproveRequest{
		WorldID:    testWorld,
		RequestID:  p.RequestID,
		NPCs:       approved,
		ApprovedBy: "dm-1",
		Source:     SourceLLMBased,
	})
	require.NoError(t, err)
	assert.Equal(t, "gilded-eel", st.LocationID)
	assert.Equal(t, DefaultTTLHours, st.TTLHours)

	now := h.state.GameTime(testWorld)
	current, err := h.svc.CurrentStaging(context.Background(), testRegion, now)
	require.NoError(t, err)
	require.NotNil(t, current)
	assert.Equal(t, approved, current.NPCs)
	assert.Equal(t, SourceLLMBased, current.Source)

	_, ok := h.state.PendingStaging(testWorld, p.RequestID)
	assert.False(t, ok, "proposal resolved")

	scene := h.events.OfType(broadcast.EventSceneChanged)
	require.Len(t, scene, 1)
	assert.Equal(t, "user-1", scene[0].UserID)
	payload := scene[0].Payload.(SceneChangedPayload)
	require.Len(t, payload.NPCs, 1, "hidden NPCs stay hidden from players")
	assert.Equal(t, "npc-inn", payload.NPCs[0].CharacterID)

	require.Len(t, h.events.OfType(broadcast.EventStagingReady), 1)
}

func TestService_CurrentStagingExpiry(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	st, err := h.svc.PreStage(ctx, PreStageRequest{
		WorldID:  testWorld,
		RegionID: testRegion,
		NPCs:     []game.StagedNPC{{CharacterID: "npc-inn", IsPresent: true}},
		TTLHours: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, SourcePreStaged, st.Source)

	start := st.GameTime
	tests := []struct {
		name  string
		now   game.GameTime
		valid bool
	}{
		{"at approval", start, true},
		{"just before ttl", start.Advance(3*time.Hour - time.Minute), true},
		{"at ttl", start.AdvanceHours(3), false},
		{"after ttl", start.AdvanceHours(10), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := h.svc.CurrentStaging(ctx, testRegion, tt.now)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, got != nil)
		})
	}

	history, err := h.svc.History(ctx, testRegion, 10)
	require.NoError(t, err)
	assert.Len(t, history, 1, "expired stagings stay in storage")
}

func TestService_ApproveInvalidatesPrevious(t *testing.T) {
	for name, repo := range map[string]func() Repository{
		"atomic":     func() Repository { return NewMemoryRepository() },
		"three step": func() Repository { return stepRepository{NewMemoryRepository()} },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, repo(), nil)
			ctx := context.Background()

			first, err := h.svc.PreStage(ctx, PreStageRequest{WorldID: testWorld, RegionID: testRegion})
			require.NoError(t, err)
			second, err := h.svc.PreStage(ctx, PreStageRequest{WorldID: testWorld, RegionID: testRegion})
			require.NoError(t, err)

			assert.Equal(t, 1, countActive(t, h.repo))
			prev, err := h.svc.Previous(ctx, testRegion)
			require.NoError(t, err)
			assert.Equal(t, second.ID, prev.ID)

			old, err := h.repo.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.False(t, old.IsActive)
		})
	}
}

func TestService_ConcurrentApprovalsLeaveOneActive(t *testing.T) {
	for name, repo := range map[string]func() Repository{
		"atomic":     func() Repository { return NewMemoryRepository() },
		"three step": func() Repository { return stepRepository{NewMemoryRepository()} },
	} {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, repo(), nil)
			first := h.propose(t, nil)
			second := h.propose(t, nil)

			var wg sync.WaitGroup
			for _, reqID := range []string{first.RequestID, second.RequestID} {
				wg.Add(1)
				go func(reqID string) {
					defer wg.Done()
					// The second approval may find its proposal already resolved.
					_, _ = h.svc.Approve(context.Background(), ApproveRequest{
						WorldID:   testWorld,
						RequestID: reqID,
						NPCs:      []game.StagedNPC{{CharacterID: "npc-inn", IsPresent: true}},
					})
				}(reqID)
			}
			wg.Wait()

			assert.Equal(t, 1, countActive(t, h.repo))
			assert.Empty(t, h.state.PendingStagings(testWorld))
		})
	}
}

func TestService_ConcurrentDirectApprovals(t *testing.T) {
	h := newHarness(t, stepRepository{NewMemoryRepository()}, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Approve(context.Background(), ApproveRequest{WorldID: testWorld, RegionID: testRegion})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, countActive(t, h.repo))
	history, err := h.svc.History(context.Background(), testRegion, 0)
	require.NoError(t, err)
	assert.Len(t, history, 8)
}

func TestService_AutoApproveOnTimeout(t *testing.T) {
	h := newHarness(t, nil, nil)
	pc := &game.WaitingPC{PCID: "pc-1", UserID: "user-1"}
	p := h.propose(t, pc)

	sched := NewScheduler(h.svc, h.state.Worlds, time.Second, nil)
	assert.Equal(t, 0, sched.Tick(context.Background()), "not stale yet")

	h.clock.Advance(DefaultApprovalTimeout)
	assert.Equal(t, 1, sched.Tick(context.Background()))

	active, err := h.repo.Active(context.Background(), testRegion)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, SourceAutoApproved, active.Source)
	assert.Equal(t, ApprovedBySystem, active.ApprovedBy)
	require.NotEmpty(t, p.RuleBasedNPCs)
	require.Len(t, active.NPCs, len(p.RuleBasedNPCs))
	for i, npc := range active.NPCs {
		want := p.RuleBasedNPCs[i]
		assert.Equal(t, want.CharacterID, npc.CharacterID)
		assert.Equal(t, want.IsPresent, npc.IsPresent)
		assert.Equal(t, AutoApprovedMarker+" "+want.Reasoning, npc.Reasoning)
	}

	assert.Len(t, h.events.OfType(broadcast.EventStagingAutoApproved), 1)
	assert.Len(t, h.events.OfType(broadcast.EventSceneChanged), 1)
	assert.Equal(t, 0, sched.Tick(context.Background()), "nothing left")

	_, err = h.svc.AutoApproveOnTimeout(context.Background(), testWorld, p.RequestID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestService_RegenerateSuggestions(t *testing.T) {
	var calls int
	llm := oracle.LLMFunc(func(_ context.Context, p oracle.Prompt) (oracle.Response, error) {
		calls++
		if calls == 1 {
			return oracle.Response{Content: `[]`}, nil
		}
		return oracle.Response{Content: `[{"name":"Ilse","reason":"home sick"}]`}, nil
	})
	h := newHarness(t, nil, llm)
	p := h.propose(t, nil)

	npcs, err := h.svc.RegenerateSuggestions(context.Background(), testWorld, p.RequestID, "Ilse stayed home")
	require.NoError(t, err)
	require.NotEmpty(t, npcs)
	assert.Equal(t, "npc-res", npcs[0].CharacterID)

	stored, _ := h.state.PendingStaging(testWorld, p.RequestID)
	assert.Equal(t, npcs, stored.LLMBasedNPCs)
	assert.Equal(t, p.RuleBasedNPCs, stored.RuleBasedNPCs)
	assert.Equal(t, "Ilse stayed home", stored.Guidance)
	assert.Len(t, h.events.OfType(broadcast.EventStagingRegenerated), 1)

	_, err = h.svc.RegenerateSuggestions(context.Background(), testWorld, "missing", "")
	errutil.AssertErrorCode(t, err, CodeProposalNotFound)
}

func TestService_ApproveValidation(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name string
		req  ApproveRequest
		code string
	}{
		{"unknown proposal", ApproveRequest{WorldID: testWorld, RequestID: "nope"}, CodeProposalNotFound},
		{"no region", ApproveRequest{WorldID: testWorld}, CodeValidation},
		{"empty character", ApproveRequest{WorldID: testWorld, RegionID: testRegion, NPCs: []game.StagedNPC{{}}}, CodeValidation},
		{"duplicate character", ApproveRequest{WorldID: testWorld, RegionID: testRegion, NPCs: []game.StagedNPC{{CharacterID: "a"}, {CharacterID: "a"}}}, CodeValidation},
		{"bad source", ApproveRequest{WorldID: testWorld, RegionID: testRegion, Source: "vibes"}, CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.svc.Approve(ctx, tt.req)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}

	st, err := h.svc.Approve(ctx, ApproveRequest{WorldID: testWorld, RegionID: testRegion})
	require.NoError(t, err, "an empty room is a valid staging")
	assert.Equal(t, SourceDMManual, st.Source)
}
