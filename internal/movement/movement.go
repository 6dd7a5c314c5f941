// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package movement moves player characters between regions and locations
// and decides what they see on arrival: the region's current staging, a
// wait for a pending one, or a fresh proposal for the DM.
package movement

import (
	"context"
	"log/slog"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/staging"
	"github.com/holomush/storyengine/internal/worldstate"
	"github.com/holomush/storyengine/pkg/errutil"
)

// DefaultBlockedReason is reported for a locked connection without a
// description.
const DefaultBlockedReason = "The way is blocked"

// PlayerCharacter is a player's character and where it stands.
type PlayerCharacter struct {
	ID             string
	Name           string
	UserID         string
	LocationID     string
	RegionID       string
	InConversation bool
}

// Location is a place made of regions.
type Location struct {
	ID              string
	Name            string
	Description     string
	DefaultRegionID string
}

// Region is one area of a location.
type Region struct {
	ID          string
	LocationID  string
	Name        string
	Description string
	SpawnPoint  bool
}

// Connection links two regions. A locked connection cannot be walked.
type Connection struct {
	FromRegionID    string
	ToRegionID      string
	Locked          bool
	LockDescription string
}

// Graph is the world map. Lookups of unknown ids return ErrNotFound.
type Graph interface {
	PlayerCharacter(ctx context.Context, worldID, pcID string) (PlayerCharacter, error)
	Location(ctx context.Context, worldID, locationID string) (Location, error)
	Region(ctx context.Context, worldID, regionID string) (Region, error)
	// Regions lists a location's regions in display order.
	Regions(ctx context.Context, worldID, locationID string) ([]Region, error)
	// Connections lists the connections leaving a region.
	Connections(ctx context.Context, worldID, regionID string) ([]Connection, error)
	UpdatePosition(ctx context.Context, worldID, pcID, locationID, regionID string) error
}

// ResultKind is the outcome of a move.
type ResultKind string

// Move outcomes.
const (
	ResultSceneChanged   ResultKind = "scene_changed"
	ResultStagingPending ResultKind = "staging_pending"
	ResultBlocked        ResultKind = "blocked"
)

// Result is what the moving player gets back.
type Result struct {
	Kind       ResultKind
	Scene      *staging.SceneChangedPayload
	RegionID   string
	RegionName string
	Reason     string
}

// MoveRequest moves a character to a region of its current location.
type MoveRequest struct {
	WorldID        string
	UserID         string
	PCID           string
	TargetRegionID string
}

// ExitRequest moves a character to another location. ArrivalRegionID is
// optional.
type ExitRequest struct {
	WorldID          string
	UserID           string
	PCID             string
	TargetLocationID string
	ArrivalRegionID  string
}

// Position is where a selected character stands.
type Position struct {
	PC       PlayerCharacter
	Location *Location
	Region   *Region
}

// BlockedPayload tells a player why they could not move.
type BlockedPayload struct {
	RegionID string `json:"region_id"`
	Reason   string `json:"reason"`
}

// Service runs moves.
type Service struct {
	graph    Graph
	stagings *staging.Service
	state    *worldstate.Store
	events   broadcast.Port
	logger   *slog.Logger
}

// NewService creates a movement service.
func NewService(graph Graph, stagings *staging.Service, state *worldstate.Store, events broadcast.Port, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{graph: graph, stagings: stagings, state: state, events: events, logger: logger}
}

// SelectCharacter returns where a character currently stands.
func (s *Service) SelectCharacter(ctx context.Context, worldID, pcID string) (Position, error) {
	pc, err := s.graph.PlayerCharacter(ctx, worldID, pcID)
	if err != nil {
		return Position{}, lookup(err, CodePCNotFound, "pc_id", pcID)
	}
	pos := Position{PC: pc}
	if pc.LocationID != "" {
		loc, err := s.graph.Location(ctx, worldID, pc.LocationID)
		if err != nil {
			return Position{}, lookup(err, CodeLocationNotFound, "location_id", pc.LocationID)
		}
		pos.Location = &loc
	}
	if pc.RegionID != "" {
		r, err := s.graph.Region(ctx, worldID, pc.RegionID)
		if err != nil {
			return Position{}, lookup(err, CodeRegionNotFound, "region_id", pc.RegionID)
		}
		pos.Region = &r
	}
	return pos, nil
}

// MoveToRegion walks a character into a region.
func (s *Service) MoveToRegion(ctx context.Context, req MoveRequest) (Result, error) {
	if req.WorldID == "" || req.PCID == "" || req.TargetRegionID == "" {
		return Result{}, oops.Code(CodeValidation).Errorf("world, character and region are required")
	}
	pc, err := s.character(ctx, req.WorldID, req.PCID)
	if err != nil {
		return Result{}, err
	}
	region, err := s.graph.Region(ctx, req.WorldID, req.TargetRegionID)
	if err != nil {
		return Result{}, lookup(err, CodeRegionNotFound, "region_id", req.TargetRegionID)
	}
	location, err := s.graph.Location(ctx, req.WorldID, region.LocationID)
	if err != nil {
		return Result{}, lookup(err, CodeLocationNotFound, "location_id", region.LocationID)
	}

	if pc.RegionID != "" {
		reason, blocked, err := s.lockedConnection(ctx, req.WorldID, pc.RegionID, region.ID)
		if err != nil {
			return Result{}, err
		}
		if blocked {
			s.emit(ctx, req.WorldID, broadcast.ToUser(req.UserID, broadcast.EventMovementBlocked, BlockedPayload{
				RegionID: region.ID,
				Reason:   reason,
			}))
			s.logger.InfoContext(ctx, "movement blocked",
				"world_id", req.WorldID, "pc_id", pc.ID, "region_id", region.ID)
			return Result{Kind: ResultBlocked, RegionID: region.ID, RegionName: region.Name, Reason: reason}, nil
		}
	}

	if err := s.graph.UpdatePosition(ctx, req.WorldID, pc.ID, location.ID, region.ID); err != nil {
		return Result{}, oops.Code(CodeGraphFailed).With("pc_id", pc.ID).Wrap(err)
	}
	return s.arrive(ctx, req.WorldID, req.UserID, pc, region, location)
}

// ExitToLocation moves a character to another location, arriving at the
// requested region, the location's default region or its first spawn
// point, in that order.
func (s *Service) ExitToLocation(ctx context.Context, req ExitRequest) (Result, error) {
	if req.WorldID == "" || req.PCID == "" || req.TargetLocationID == "" {
		return Result{}, oops.Code(CodeValidation).Errorf("world, character and location are required")
	}
	pc, err := s.character(ctx, req.WorldID, req.PCID)
	if err != nil {
		return Result{}, err
	}
	location, err := s.graph.Location(ctx, req.WorldID, req.TargetLocationID)
	if err != nil {
		return Result{}, lookup(err, CodeLocationNotFound, "location_id", req.TargetLocationID)
	}
	region, err := s.arrivalRegion(ctx, req.WorldID, location, req.ArrivalRegionID)
	if err != nil {
		return Result{}, err
	}

	if err := s.graph.UpdatePosition(ctx, req.WorldID, pc.ID, location.ID, region.ID); err != nil {
		return Result{}, oops.Code(CodeGraphFailed).With("pc_id", pc.ID).Wrap(err)
	}
	return s.arrive(ctx, req.WorldID, req.UserID, pc, region, location)
}

func (s *Service) character(ctx context.Context, worldID, pcID string) (PlayerCharacter, error) {
	pc, err := s.graph.PlayerCharacter(ctx, worldID, pcID)
	if err != nil {
		return PlayerCharacter{}, lookup(err, CodePCNotFound, "pc_id", pcID)
	}
	if pc.InConversation {
		return PlayerCharacter{}, oops.Code(CodeConversationLocked).
			With("pc_id", pcID).
			Errorf("%s is in a conversation", pc.Name)
	}
	return pc, nil
}

func (s *Service) lockedConnection(ctx context.Context, worldID, from, to string) (string, bool, error) {
	conns, err := s.graph.Connections(ctx, worldID, from)
	if err != nil {
		return "", false, oops.Code(CodeGraphFailed).With("region_id", from).Wrap(err)
	}
	for _, c := range conns {
		if c.ToRegionID == to && c.Locked {
			if c.LockDescription == "" {
				return DefaultBlockedReason, true, nil
			}
			return c.LockDescription, true, nil
		}
	}
	return "", false, nil
}

func (s *Service) arrivalRegion(ctx context.Context, worldID string, loc Location, requested string) (Region, error) {
	if requested != "" {
		r, err := s.graph.Region(ctx, worldID, requested)
		if err != nil {
			return Region{}, lookup(err, CodeRegionNotFound, "region_id", requested)
		}
		if r.LocationID != loc.ID {
			return Region{}, oops.Code(CodeRegionMismatch).
				With("region_id", requested).
				With("location_id", loc.ID).
				Errorf("region %s is not in location %s", requested, loc.ID)
		}
		return r, nil
	}
	if loc.DefaultRegionID != "" {
		if r, err := s.graph.Region(ctx, worldID, loc.DefaultRegionID); err == nil {
			return r, nil
		}
	}
	regions, err := s.graph.Regions(ctx, worldID, loc.ID)
	if err != nil {
		return Region{}, oops.Code(CodeGraphFailed).With("location_id", loc.ID).Wrap(err)
	}
	for _, r := range regions {
		if r.SpawnPoint {
			return r, nil
		}
	}
	return Region{}, oops.Code(CodeNoArrivalRegion).
		With("location_id", loc.ID).
		Errorf("location %s has no arrival region", loc.ID)
}

// arrive resolves what the character sees in region.
func (s *Service) arrive(ctx context.Context, worldID, userID string, pc PlayerCharacter, region Region, loc Location) (Result, error) {
	now := s.state.GameTime(worldID)
	current, err := s.stagings.CurrentStaging(ctx, region.ID, now)
	if err != nil {
		s.logger.WarnContext(ctx, "staging lookup failed, continuing without it",
			"world_id", worldID, "region_id", region.ID, "error", err)
	}
	if current != nil {
		scene := staging.NewSceneChanged(*current)
		s.emit(ctx, worldID, broadcast.ToUser(userID, broadcast.EventSceneChanged, scene))
		return Result{Kind: ResultSceneChanged, Scene: &scene, RegionID: region.ID, RegionName: region.Name}, nil
	}

	waiting := game.WaitingPC{PCID: pc.ID, PCName: pc.Name, UserID: userID}
	pending := staging.StagingPendingPayload{
		RegionID:       region.ID,
		RegionName:     region.Name,
		TimeoutSeconds: int(s.stagings.ApprovalTimeout().Seconds()),
	}

	switch s.state.ClaimArrival(worldID, region.ID, waiting) {
	case worldstate.ArrivalJoined:
		s.logger.InfoContext(ctx, "character waiting on staging",
			"world_id", worldID, "pc_id", pc.ID, "region_id", region.ID)
	case worldstate.ArrivalAlreadyWaiting:
		s.logger.DebugContext(ctx, "character already waiting on staging",
			"world_id", worldID, "pc_id", pc.ID, "region_id", region.ID)
	case worldstate.ArrivalPropose:
		if _, err := s.stagings.GenerateProposal(ctx, staging.ProposalRequest{
			WorldID:      worldID,
			RegionID:     region.ID,
			RegionName:   region.Name,
			LocationID:   loc.ID,
			LocationName: loc.Name,
			Context:      region.Description,
			WaitingPC:    &waiting,
		}); err != nil {
			stranded := s.state.ReleaseProposal(worldID, region.ID)
			s.logger.WarnContext(ctx, "staging proposal failed, waiting characters released",
				"world_id", worldID, "region_id", region.ID, "waiting", len(stranded))
			return Result{}, err
		}
	}

	s.emit(ctx, worldID, broadcast.ToUser(userID, broadcast.EventStagingPending, pending))
	return Result{Kind: ResultStagingPending, RegionID: region.ID, RegionName: region.Name}, nil
}

func (s *Service) emit(ctx context.Context, worldID string, ev broadcast.Event) {
	if s.events == nil {
		return
	}
	if err := s.events.Broadcast(ctx, worldID, ev); err != nil {
		errutil.LogErrorContext(ctx, s.logger, "movement broadcast failed", err,
			"world_id", worldID, "event_type", ev.Type)
	}
}
