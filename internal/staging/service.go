// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package staging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/oracle"
	"github.com/holomush/storyengine/internal/worldstate"
	"github.com/holomush/storyengine/pkg/errutil"
)

// DefaultApprovalTimeout is how long a proposal waits for the DM before the
// scheduler auto-approves it.
const DefaultApprovalTimeout = 30 * time.Second

// ApprovedBySystem is recorded on stagings nobody approved by hand.
const ApprovedBySystem = "system"

// AutoApprovedMarker prefixes the reasoning of NPCs approved on timeout so
// the DM can tell them apart in staging history.
const AutoApprovedMarker = "[Auto-approved]"

// Directory lists the NPCs tied to a region.
type Directory interface {
	CandidatesForRegion(ctx context.Context, worldID, regionID string) ([]Candidate, error)
}

// Config configures a Service.
type Config struct {
	DefaultTTLHours int
	ApprovalTimeout time.Duration
	Clock           clock.Clock
	Logger          *slog.Logger
}

// Service is the staging resolution engine. It is timer-agnostic: proposals
// are auto-approved only when a caller such as Scheduler asks.
type Service struct {
	repo      Repository
	directory Directory
	state     *worldstate.Store
	llm       oracle.LLM
	events    broadcast.Port
	cfg       Config
	logger    *slog.Logger

	locksMu     sync.Mutex
	regionLocks map[string]*sync.Mutex
}

// NewService creates a staging service. llm may be nil, in which case the
// LLM list always equals the rule-based list.
func NewService(repo Repository, dir Directory, state *worldstate.Store, llm oracle.LLM, events broadcast.Port, cfg Config) *Service {
	if cfg.DefaultTTLHours <= 0 {
		cfg.DefaultTTLHours = DefaultTTLHours
	}
	if cfg.ApprovalTimeout <= 0 {
		cfg.ApprovalTimeout = DefaultApprovalTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:        repo,
		directory:   dir,
		state:       state,
		llm:         llm,
		events:      events,
		cfg:         cfg,
		logger:      logger,
		regionLocks: make(map[string]*sync.Mutex),
	}
}

// ApprovalTimeout is how long proposals wait before auto-approval.
func (s *Service) ApprovalTimeout() time.Duration {
	return s.cfg.ApprovalTimeout
}

// CurrentStaging returns the region's active staging if it is still valid
// at now, or nil. Expired stagings are left in storage.
func (s *Service) CurrentStaging(ctx context.Context, regionID string, now game.GameTime) (*Staging, error) {
	active, err := s.repo.Active(ctx, regionID)
	if err != nil {
		return nil, oops.Code(CodeStoreFailed).With("region_id", regionID).Wrap(err)
	}
	if active == nil || !active.IsValid(now) {
		return nil, nil
	}
	return active, nil
}

// ProposalRequest asks for a staging proposal for a region.
type ProposalRequest struct {
	WorldID      string
	RegionID     string
	RegionName   string
	LocationID   string
	LocationName string
	Context      string
	Guidance     string
	// WaitingPC, when set, is notified once the proposal is approved.
	WaitingPC *game.WaitingPC
}

// GenerateProposal computes rule-based and LLM-adjusted NPC lists, stores
// the proposal in world state and asks the DM to approve it. Nothing is
// persisted until approval.
func (s *Service) GenerateProposal(ctx context.Context, req ProposalRequest) (worldstate.PendingStaging, error) {
	if req.WorldID == "" || req.RegionID == "" {
		return worldstate.PendingStaging{}, ErrValidation("world and region are required")
	}

	now := s.state.GameTime(req.WorldID)
	ruleBased, err := s.ruleBased(ctx, req.WorldID, req.RegionID, now)
	if err != nil {
		return worldstate.PendingStaging{}, err
	}

	llmBased := Suggest(ctx, s.llm, SuggestionInput{
		RegionName:   req.RegionName,
		LocationName: req.LocationName,
		GameTime:     now,
		Context:      req.Context,
		Guidance:     req.Guidance,
		RuleBased:    ruleBased,
	}, s.logger)

	pending := worldstate.PendingStaging{
		RequestID:       core.NewIDAt(s.cfg.Clock.Now()),
		WorldID:         req.WorldID,
		RegionID:        req.RegionID,
		RegionName:      req.RegionName,
		LocationID:      req.LocationID,
		LocationName:    req.LocationName,
		GameTime:        now,
		RuleBasedNPCs:   ruleBased,
		LLMBasedNPCs:    llmBased,
		DefaultTTLHours: s.cfg.DefaultTTLHours,
		Context:         req.Context,
		Guidance:        req.Guidance,
		CreatedAt:       s.cfg.Clock.Now(),
	}
	if req.WaitingPC != nil {
		pending.WaitingPCs = []game.WaitingPC{*req.WaitingPC}
	}
	s.state.AddPendingStaging(pending)

	s.logger.InfoContext(ctx, "staging proposal generated",
		"world_id", req.WorldID,
		"region_id", req.RegionID,
		"request_id", pending.RequestID,
		"rule_based", len(ruleBased),
		"llm_based", len(llmBased),
	)
	s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventStagingRequired, pending))
	return pending, nil
}

func (s *Service) ruleBased(ctx context.Context, worldID, regionID string, now game.GameTime) ([]game.StagedNPC, error) {
	candidates, err := s.directory.CandidatesForRegion(ctx, worldID, regionID)
	if err != nil {
		return nil, oops.Code(CodeCandidatesFailed).
			With("world_id", worldID).
			With("region_id", regionID).
			Wrap(err)
	}
	npcs := RuleBased(candidates, now.TimeOfDay())

	previous, err := s.Previous(ctx, regionID)
	if err != nil {
		errutil.LogErrorContext(ctx, s.logger, "previous staging lookup failed", err, "region_id", regionID)
		return npcs, nil
	}
	return mergePrevious(npcs, previous), nil
}

// ApproveRequest approves a staging. RequestID names a pending proposal;
// without one, RegionID and LocationID must be set and the staging is
// created directly.
type ApproveRequest struct {
	WorldID    string
	RequestID  string
	RegionID   string
	LocationID string
	NPCs       []game.StagedNPC
	TTLHours   int
	ApprovedBy string
	Source     Source
	DMGuidance string
}

// Approve replaces the region's active staging with the approved one and
// resolves the proposal. Waiting players receive SceneChanged and the DM
// receives StagingReady.
func (s *Service) Approve(ctx context.Context, req ApproveRequest) (*Staging, error) {
	if err := validateNPCs(req.NPCs); err != nil {
		return nil, err
	}
	if req.Source == "" {
		req.Source = SourceDMManual
	}
	if !req.Source.Valid() {
		return nil, ErrValidation("unknown source %q", req.Source)
	}

	var proposal *worldstate.PendingStaging
	if req.RequestID != "" {
		p, ok := s.state.PendingStaging(req.WorldID, req.RequestID)
		if !ok {
			return nil, ErrProposalNotFound(req.WorldID, req.RequestID)
		}
		proposal = &p
		req.RegionID, req.LocationID = p.RegionID, p.LocationID
		if req.TTLHours <= 0 {
			req.TTLHours = p.DefaultTTLHours
		}
		if req.DMGuidance == "" {
			req.DMGuidance = p.Guidance
		}
	}
	if req.RegionID == "" {
		return nil, ErrValidation("region is required")
	}
	if req.TTLHours <= 0 {
		req.TTLHours = s.cfg.DefaultTTLHours
	}

	st := Staging{
		ID:         core.NewIDAt(s.cfg.Clock.Now()),
		RegionID:   req.RegionID,
		LocationID: req.LocationID,
		WorldID:    req.WorldID,
		NPCs:       game.CloneNPCs(req.NPCs),
		GameTime:   s.state.GameTime(req.WorldID),
		ApprovedAt: s.cfg.Clock.Now(),
		TTLHours:   req.TTLHours,
		ApprovedBy: req.ApprovedBy,
		Source:     req.Source,
		DMGuidance: req.DMGuidance,
		IsActive:   true,
	}

	if err := s.activate(ctx, st); err != nil {
		return nil, err
	}

	waiting := s.resolveProposals(req.WorldID, req.RegionID, proposal)

	s.logger.InfoContext(ctx, "staging approved",
		"world_id", st.WorldID,
		"region_id", st.RegionID,
		"staging_id", st.ID,
		"source", st.Source,
		"npcs", len(st.NPCs),
		"waiting_pcs", len(waiting),
	)

	scene := NewSceneChanged(st)
	for _, pc := range waiting {
		s.emit(ctx, st.WorldID, broadcast.ToUser(pc.UserID, broadcast.EventSceneChanged, scene))
	}
	s.emit(ctx, st.WorldID, broadcast.ToDM(broadcast.EventStagingReady, StagingReadyPayload{
		RegionID:  st.RegionID,
		StagingID: st.ID,
		Source:    st.Source,
		NPCs:      st.NPCs,
	}))
	return &st, nil
}

// activate invalidates the region's active stagings and saves st as the
// active one. Approvals for one region are serialized in-process; the
// repository makes it atomic when it can.
func (s *Service) activate(ctx context.Context, st Staging) error {
	lock := s.regionLock(st.RegionID)
	lock.Lock()
	defer lock.Unlock()

	if r, ok := s.repo.(ActiveReplacer); ok {
		if err := r.ReplaceActive(ctx, st); err != nil {
			return oops.Code(CodeStoreFailed).With("region_id", st.RegionID).Wrap(err)
		}
		return nil
	}

	if err := s.repo.InvalidateRegion(ctx, st.RegionID); err != nil {
		return oops.Code(CodeStoreFailed).With("region_id", st.RegionID).With("step", "invalidate").Wrap(err)
	}
	if err := s.repo.Save(ctx, st); err != nil {
		return oops.Code(CodeStoreFailed).With("region_id", st.RegionID).With("step", "save").Wrap(err)
	}
	return nil
}

// resolveProposals removes the approved proposal and any other proposal for
// the same region, returning every waiting player once.
func (s *Service) resolveProposals(worldID, regionID string, approved *worldstate.PendingStaging) []game.WaitingPC {
	var waiting []game.WaitingPC
	seen := make(map[string]bool)
	collect := func(p worldstate.PendingStaging) {
		for _, pc := range p.WaitingPCs {
			if !seen[pc.PCID] {
				seen[pc.PCID] = true
				waiting = append(waiting, pc)
			}
		}
	}

	if approved != nil {
		if p, ok := s.state.RemovePendingStaging(worldID, approved.RequestID); ok {
			collect(p)
		}
	}
	for _, p := range s.state.PendingStagings(worldID) {
		if p.RegionID != regionID {
			continue
		}
		if removed, ok := s.state.RemovePendingStaging(worldID, p.RequestID); ok {
			collect(removed)
		}
	}
	return waiting
}

func (s *Service) regionLock(regionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.regionLocks[regionID]
	if !ok {
		l = &sync.Mutex{}
		s.regionLocks[regionID] = l
	}
	return l
}

// AutoApproveOnTimeout approves a proposal's rule-based list on the DM's
// behalf.
func (s *Service) AutoApproveOnTimeout(ctx context.Context, worldID, requestID string) (*Staging, error) {
	p, ok := s.state.PendingStaging(worldID, requestID)
	if !ok {
		return nil, ErrProposalNotFound(worldID, requestID)
	}
	npcs := game.CloneNPCs(p.RuleBasedNPCs)
	for i := range npcs {
		npcs[i].Reasoning = AutoApprovedMarker + " " + npcs[i].Reasoning
	}
	st, err := s.Approve(ctx, ApproveRequest{
		WorldID:    worldID,
		RequestID:  requestID,
		NPCs:       npcs,
		TTLHours:   p.DefaultTTLHours,
		ApprovedBy: ApprovedBySystem,
		Source:     SourceAutoApproved,
	})
	if err != nil {
		return nil, err
	}
	s.emit(ctx, worldID, broadcast.ToDM(broadcast.EventStagingAutoApproved, StagingReadyPayload{
		RegionID:  st.RegionID,
		StagingID: st.ID,
		Source:    st.Source,
		NPCs:      st.NPCs,
	}))
	return st, nil
}

// ExpiredProposals returns proposals that have waited at least window.
func (s *Service) ExpiredProposals(worldID string, window time.Duration) []worldstate.PendingStaging {
	return s.state.StaleStagings(worldID, window)
}

// RegenerateSuggestions reruns the LLM suggestion for a proposal with new DM
// guidance. Only the LLM list is replaced.
func (s *Service) RegenerateSuggestions(ctx context.Context, worldID, requestID, guidance string) ([]game.StagedNPC, error) {
	p, ok := s.state.PendingStaging(worldID, requestID)
	if !ok {
		return nil, ErrProposalNotFound(worldID, requestID)
	}

	npcs := Suggest(ctx, s.llm, SuggestionInput{
		RegionName:   p.RegionName,
		LocationName: p.LocationName,
		GameTime:     p.GameTime,
		Context:      p.Context,
		Guidance:     guidance,
		RuleBased:    p.RuleBasedNPCs,
	}, s.logger)

	err := s.state.UpdatePendingStaging(worldID, requestID, func(p *worldstate.PendingStaging) error {
		p.LLMBasedNPCs = game.CloneNPCs(npcs)
		p.Guidance = guidance
		return nil
	})
	if err != nil {
		// Approved or auto-approved while the model was thinking.
		return nil, ErrProposalNotFound(worldID, requestID)
	}

	s.emit(ctx, worldID, broadcast.ToDM(broadcast.EventStagingRegenerated, map[string]any{
		"request_id":     requestID,
		"llm_based_npcs": npcs,
	}))
	return npcs, nil
}

// PreStageRequest stages a region ahead of any player arriving.
type PreStageRequest struct {
	WorldID    string
	RegionID   string
	LocationID string
	NPCs       []game.StagedNPC
	TTLHours   int
	ApprovedBy string
	DMGuidance string
}

// PreStage approves a staging for a region without a proposal.
func (s *Service) PreStage(ctx context.Context, req PreStageRequest) (*Staging, error) {
	return s.Approve(ctx, ApproveRequest{
		WorldID:    req.WorldID,
		RegionID:   req.RegionID,
		LocationID: req.LocationID,
		NPCs:       req.NPCs,
		TTLHours:   req.TTLHours,
		ApprovedBy: req.ApprovedBy,
		Source:     SourcePreStaged,
		DMGuidance: req.DMGuidance,
	})
}

// History returns a region's stagings, newest first.
func (s *Service) History(ctx context.Context, regionID string, limit int) ([]Staging, error) {
	out, err := s.repo.History(ctx, regionID, limit)
	if err != nil {
		return nil, oops.Code(CodeStoreFailed).With("region_id", regionID).Wrap(err)
	}
	return out, nil
}

// Previous returns the region's most recent staging, valid or not, or nil.
func (s *Service) Previous(ctx context.Context, regionID string) (*Staging, error) {
	h, err := s.History(ctx, regionID, 1)
	if err != nil || len(h) == 0 {
		return nil, err
	}
	return &h[0], nil
}

func (s *Service) emit(ctx context.Context, worldID string, ev broadcast.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Broadcast(ctx, worldID, ev); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "staging broadcast failed", err,
			"world_id", worldID,
			"event_type", ev.Type,
		)
	}
}

func validateNPCs(npcs []game.StagedNPC) error {
	seen := make(map[string]bool, len(npcs))
	for i, n := range npcs {
		if n.CharacterID == "" {
			return ErrValidation("npc %d has no character id", i)
		}
		if seen[n.CharacterID] {
			return ErrValidation("npc %s listed twice", n.CharacterID)
		}
		seen[n.CharacterID] = true
	}
	return nil
}
