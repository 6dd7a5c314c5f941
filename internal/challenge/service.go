// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/worldstate"
	"github.com/holomush/storyengine/pkg/errutil"
)

// DefaultBranchCount is how many branches are asked for when the DM does
// not say.
const DefaultBranchCount = 2

// SuggestionRequest asks the LLM for alternative outcome text.
type SuggestionRequest struct {
	WorldID              string      `json:"world_id"`
	ResolutionID         string      `json:"resolution_id"`
	ChallengeName        string      `json:"challenge_name"`
	ChallengeDescription string      `json:"challenge_description,omitempty"`
	OutcomeType          OutcomeType `json:"outcome_type"`
	RollContext          string      `json:"roll_context"`
	Guidance             string      `json:"guidance,omitempty"`
	// Branches asks for BranchCount titled branches instead of phrasings.
	Branches    bool `json:"branches"`
	BranchCount int  `json:"branch_count,omitempty"`
}

// SuggestionRequester queues outcome suggestion work. Results come back
// through Service.UpdateSuggestions or Service.UpdateBranches.
type SuggestionRequester interface {
	RequestOutcomeSuggestions(ctx context.Context, req SuggestionRequest) error
}

// RollSubmission is a player's roll against a challenge.
type RollSubmission struct {
	WorldID       string
	ChallengeID   string
	CharacterID   string
	CharacterName string
	UserID        string
	Dice          DiceInput
	Modifier      int
}

// DecisionKind is the DM's choice for a pending outcome.
type DecisionKind string

// Decision kinds.
const (
	DecisionAccept          DecisionKind = "accept"
	DecisionEdit            DecisionKind = "edit"
	DecisionSuggest         DecisionKind = "suggest"
	DecisionRequestBranches DecisionKind = "request_branches"
	DecisionSelectBranch    DecisionKind = "select_branch"
)

// Decision is a DM decision. Only the fields of Kind are read.
type Decision struct {
	Kind                DecisionKind `json:"kind"`
	ModifiedDescription string       `json:"modified_description,omitempty"`
	Guidance            string       `json:"guidance,omitempty"`
	BranchID            string       `json:"branch_id,omitempty"`
	BranchCount         int          `json:"branch_count,omitempty"`
}

// Config configures a Service.
type Config struct {
	Clock  clock.Clock
	Roller Roller
	Logger *slog.Logger
}

// Service turns rolls into outcomes and outcomes into DM-approved events.
type Service struct {
	catalog   Catalog
	state     *worldstate.Store
	executor  TriggerExecutor
	suggester SuggestionRequester
	events    broadcast.Port
	clock     clock.Clock
	roller    Roller
	logger    *slog.Logger
}

// NewService creates a challenge service. executor and suggester may be nil.
func NewService(catalog Catalog, state *worldstate.Store, executor TriggerExecutor, events broadcast.Port, cfg Config) *Service {
	if cfg.Clock == nil {
		cfg.Clock = clock.System{}
	}
	if cfg.Roller == nil {
		cfg.Roller = RandomRoller{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{
		catalog:  catalog,
		state:    state,
		executor: executor,
		events:   events,
		clock:    cfg.Clock,
		roller:   cfg.Roller,
		logger:   cfg.Logger,
	}
}

// SetSuggestionRequester wires the LLM queue. It must be called before the
// service handles decisions.
func (s *Service) SetSuggestionRequester(r SuggestionRequester) {
	s.suggester = r
}

// SubmitRoll resolves a roll and parks the outcome for the DM. Players only
// learn that a roll was made.
func (s *Service) SubmitRoll(ctx context.Context, sub RollSubmission) (OutcomeApproval, error) {
	if sub.WorldID == "" || sub.ChallengeID == "" || sub.CharacterID == "" {
		return OutcomeApproval{}, ErrValidation("world, challenge and character are required")
	}

	ch, err := s.catalog.Challenge(ctx, sub.WorldID, sub.ChallengeID)
	if err != nil {
		return OutcomeApproval{}, err
	}
	if ch.Disabled {
		return OutcomeApproval{}, oops.Code(CodeInactive).
			With("world_id", sub.WorldID).
			With("challenge_id", sub.ChallengeID).
			Errorf("challenge %s is disabled", ch.Name)
	}
	rs, err := s.catalog.RuleSystem(ctx, sub.WorldID)
	if err != nil {
		return OutcomeApproval{}, err
	}

	roll, err := sub.Dice.Resolve(s.roller)
	if err != nil {
		return OutcomeApproval{}, err
	}

	// Criticals read the dice alone; the formula's own bonus joins the
	// character's for the difficulty comparison.
	natural, bonus := roll.DiceTotal, roll.Modifier+sub.Modifier
	outcomeType := Classify(ch, rs, natural, bonus)
	if rs.Script != "" && ch.Difficulty.DMAdjudicated() {
		scripted, err := ClassifyScript(ctx, rs.Script, ch, natural, bonus)
		if err != nil {
			s.logger.WarnContext(ctx, "rule system script failed, leaving outcome to the DM",
				"world_id", sub.WorldID,
				"challenge_id", ch.ID,
				"error", err)
		} else {
			outcomeType = scripted
		}
	}
	outcome := ch.Outcomes.For(outcomeType)
	now := s.clock.Now()
	a := OutcomeApproval{
		ResolutionID:         core.NewIDAt(now),
		WorldID:              sub.WorldID,
		ChallengeID:          ch.ID,
		ChallengeName:        ch.Name,
		ChallengeDescription: ch.Description,
		CharacterID:          sub.CharacterID,
		CharacterName:        sub.CharacterName,
		UserID:               sub.UserID,
		Roll:                 roll.Total,
		Modifier:             sub.Modifier,
		Total:                roll.Total + sub.Modifier,
		RollBreakdown:        roll.Breakdown(),
		OutcomeType:          outcomeType,
		OutcomeDescription:   outcome.Description,
		Triggers:             append([]Trigger(nil), outcome.Triggers...),
		CreatedAt:            now,
	}
	s.state.AddPendingApproval(sub.WorldID, a)

	s.logger.InfoContext(ctx, "challenge roll awaiting approval",
		"world_id", sub.WorldID,
		"resolution_id", a.ResolutionID,
		"challenge_id", ch.ID,
		"outcome", outcomeType,
		"total", a.Total)

	s.emit(ctx, sub.WorldID, broadcast.ToDM(broadcast.EventOutcomePending, a.clone()))
	s.emit(ctx, sub.WorldID, broadcast.ToPlayers(broadcast.EventRollSubmitted, RollSubmittedPayload{
		ResolutionID:  a.ResolutionID,
		ChallengeID:   a.ChallengeID,
		ChallengeName: a.ChallengeName,
		CharacterName: a.CharacterName,
		Roll:          a.Roll,
		Modifier:      a.Modifier,
		Total:         a.Total,
	}))
	return a.clone(), nil
}

// ProcessDecision applies a DM decision. Unknown kinds leave the outcome
// pending.
func (s *Service) ProcessDecision(ctx context.Context, worldID, resolutionID string, d Decision) error {
	a, err := s.pending(worldID, resolutionID)
	if err != nil {
		return err
	}

	switch d.Kind {
	case DecisionAccept:
		return s.resolve(ctx, a, a.OutcomeDescription)
	case DecisionEdit:
		if d.ModifiedDescription == "" {
			return ErrValidation("edit needs a modified description")
		}
		return s.resolve(ctx, a, d.ModifiedDescription)
	case DecisionSuggest:
		return s.requestSuggestions(ctx, a, d, false)
	case DecisionRequestBranches:
		return s.requestSuggestions(ctx, a, d, true)
	case DecisionSelectBranch:
		b, ok := a.branch(d.BranchID)
		if !ok {
			return ErrValidation("unknown branch %q", d.BranchID)
		}
		desc := b.Description
		if d.ModifiedDescription != "" {
			desc = d.ModifiedDescription
		}
		return s.resolve(ctx, a, desc)
	default:
		s.logger.WarnContext(ctx, "ignoring unknown outcome decision",
			"world_id", worldID,
			"resolution_id", resolutionID,
			"decision", d.Kind)
		return nil
	}
}

// UpdateSuggestions stores LLM phrasings and forwards them to the DM.
func (s *Service) UpdateSuggestions(ctx context.Context, worldID, resolutionID string, suggestions []string) error {
	err := s.update(worldID, resolutionID, func(a *OutcomeApproval) {
		a.Suggestions = append([]string(nil), suggestions...)
		a.IsGeneratingSuggestions = false
	})
	if err != nil {
		return err
	}
	s.emit(ctx, worldID, broadcast.ToDM(broadcast.EventOutcomeSuggestions, SuggestionsPayload{
		ResolutionID: resolutionID,
		Suggestions:  suggestions,
	}))
	return nil
}

// UpdateBranches stores LLM branches and forwards them to the DM.
func (s *Service) UpdateBranches(ctx context.Context, worldID, resolutionID string, branches []Branch) error {
	var outcomeType OutcomeType
	err := s.update(worldID, resolutionID, func(a *OutcomeApproval) {
		a.Branches = append([]Branch(nil), branches...)
		a.Suggestions = make([]string, len(branches))
		for i, b := range branches {
			a.Suggestions[i] = b.Description
		}
		a.IsGeneratingSuggestions = false
		outcomeType = a.OutcomeType
	})
	if err != nil {
		return err
	}
	s.emit(ctx, worldID, broadcast.ToDM(broadcast.EventOutcomeBranches, BranchesPayload{
		ResolutionID: resolutionID,
		OutcomeType:  outcomeType,
		Branches:     branches,
	}))
	return nil
}

// SuggestionsFailed clears the generating flag after the LLM gave up.
func (s *Service) SuggestionsFailed(ctx context.Context, worldID, resolutionID, reason string) {
	err := s.update(worldID, resolutionID, func(a *OutcomeApproval) {
		a.IsGeneratingSuggestions = false
	})
	if err != nil {
		s.logger.DebugContext(ctx, "suggestion failure for decided outcome",
			"world_id", worldID,
			"resolution_id", resolutionID)
		return
	}
	s.logger.WarnContext(ctx, "outcome suggestions failed",
		"world_id", worldID,
		"resolution_id", resolutionID,
		"reason", reason)
}

// Pending lists the world's outcomes waiting on the DM, oldest first.
func (s *Service) Pending(worldID string) []OutcomeApproval {
	var out []OutcomeApproval
	for _, a := range s.state.PendingApprovals(worldID) {
		if oa, ok := a.(OutcomeApproval); ok {
			out = append(out, oa.clone())
		}
	}
	return out
}

func (s *Service) pending(worldID, resolutionID string) (OutcomeApproval, error) {
	a, ok := s.state.PendingApproval(worldID, resolutionID)
	if !ok {
		return OutcomeApproval{}, ErrResolutionNotFound(worldID, resolutionID)
	}
	oa, ok := a.(OutcomeApproval)
	if !ok {
		return OutcomeApproval{}, ErrResolutionNotFound(worldID, resolutionID)
	}
	return oa, nil
}

func (s *Service) update(worldID, resolutionID string, fn func(*OutcomeApproval)) error {
	err := s.state.UpdatePendingApproval(worldID, resolutionID, func(cur worldstate.Approval) (worldstate.Approval, error) {
		oa, ok := cur.(OutcomeApproval)
		if !ok {
			return nil, ErrResolutionNotFound(worldID, resolutionID)
		}
		next := oa.clone()
		fn(&next)
		return next, nil
	})
	if errors.Is(err, worldstate.ErrNotFound) {
		return ErrResolutionNotFound(worldID, resolutionID)
	}
	return err
}

func (s *Service) requestSuggestions(ctx context.Context, a OutcomeApproval, d Decision, branches bool) error {
	if s.suggester == nil {
		s.logger.WarnContext(ctx, "no LLM configured for outcome suggestions",
			"world_id", a.WorldID,
			"resolution_id", a.ResolutionID)
		return nil
	}
	if err := s.update(a.WorldID, a.ResolutionID, func(p *OutcomeApproval) {
		p.IsGeneratingSuggestions = true
	}); err != nil {
		return err
	}

	count := d.BranchCount
	if count <= 0 {
		count = DefaultBranchCount
	}
	err := s.suggester.RequestOutcomeSuggestions(ctx, SuggestionRequest{
		WorldID:              a.WorldID,
		ResolutionID:         a.ResolutionID,
		ChallengeName:        a.ChallengeName,
		ChallengeDescription: a.ChallengeDescription,
		OutcomeType:          a.OutcomeType,
		RollContext:          fmt.Sprintf("rolled %d + %d = %d (%s)", a.Roll, a.Modifier, a.Total, a.OutcomeType),
		Guidance:             d.Guidance,
		Branches:             branches,
		BranchCount:          count,
	})
	if err != nil {
		s.SuggestionsFailed(ctx, a.WorldID, a.ResolutionID, err.Error())
		return oops.Code(CodeSuggestionFailed).With("resolution_id", a.ResolutionID).Wrap(err)
	}
	return nil
}

// resolve consumes the pending outcome, runs its triggers and tells
// everyone. Removing first keeps a concurrent decision from resolving twice.
func (s *Service) resolve(ctx context.Context, a OutcomeApproval, description string) error {
	if _, ok := s.state.RemovePendingApproval(a.WorldID, a.ResolutionID); !ok {
		return ErrResolutionNotFound(a.WorldID, a.ResolutionID)
	}

	if s.executor != nil && len(a.Triggers) > 0 {
		res := s.executor.Execute(ctx, a.WorldID, a.CharacterID, a.Triggers)
		for _, w := range res.Warnings {
			s.logger.WarnContext(ctx, "outcome trigger failed",
				"world_id", a.WorldID,
				"resolution_id", a.ResolutionID,
				"warning", w)
		}
		for _, c := range res.StatChanges {
			s.emit(ctx, a.WorldID, broadcast.ToAll(broadcast.EventStatUpdated, StatUpdatedPayload{
				CharacterID: c.CharacterID,
				Stat:        c.Stat,
				Delta:       c.Delta,
				Value:       c.Value,
			}))
		}
	}

	s.emit(ctx, a.WorldID, broadcast.ToAll(broadcast.EventChallengeResolved, ChallengeResolvedPayload{
		ResolutionID:  a.ResolutionID,
		ChallengeID:   a.ChallengeID,
		ChallengeName: a.ChallengeName,
		CharacterID:   a.CharacterID,
		CharacterName: a.CharacterName,
		Roll:          a.Roll,
		Modifier:      a.Modifier,
		Total:         a.Total,
		Outcome:       a.OutcomeType,
		Description:   description,
		RollBreakdown: a.RollBreakdown,
	}))
	s.logger.InfoContext(ctx, "challenge resolved",
		"world_id", a.WorldID,
		"resolution_id", a.ResolutionID,
		"outcome", a.OutcomeType)
	return nil
}

func (s *Service) emit(ctx context.Context, worldID string, ev broadcast.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Broadcast(ctx, worldID, ev); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "challenge broadcast failed", err,
			"world_id", worldID,
			"event_type", ev.Type,
		)
	}
}
