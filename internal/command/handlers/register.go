// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package handlers implements the handler of every client message.
package handlers

import (
	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/protocol"
)

var (
	// The DM may act for characters too. Spectators only watch.
	players = []broadcast.Role{broadcast.RolePlayer, broadcast.RoleDM}
	dmOnly  = []broadcast.Role{broadcast.RoleDM}
)

// RegisterAll registers every message handler. Panics if a registration
// fails, which indicates a programming error.
func RegisterAll(reg *command.Registry) {
	mustRegister := func(entry command.Entry) {
		if err := reg.Register(entry); err != nil {
			panic("failed to register handler " + string(entry.Type) + ": " + err.Error())
		}
	}

	// Player messages
	mustRegister(command.Entry{
		Type:      protocol.TypePlayerAction,
		Handler:   PlayerActionHandler,
		Roles:     players,
		Operation: clienterr.OpSubmitAction,
		Help:      "Say or do something, optionally aimed at an NPC",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeSelectCharacter,
		Handler:   SelectCharacterHandler,
		Roles:     players,
		Operation: clienterr.OpMove,
		Help:      "Pick a character and see where it stands",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeMoveToRegion,
		Handler:   MoveToRegionHandler,
		Roles:     players,
		Operation: clienterr.OpMove,
		Help:      "Walk to a region of the current location",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeExitToLocation,
		Handler:   ExitToLocationHandler,
		Roles:     players,
		Operation: clienterr.OpMove,
		Help:      "Leave for another location",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeSubmitRoll,
		Handler:   SubmitRollHandler,
		Roles:     players,
		Operation: clienterr.OpSubmitRoll,
		Help:      "Roll against a challenge",
	})

	// DM messages
	mustRegister(command.Entry{
		Type:      protocol.TypeOutcomeDecision,
		Handler:   OutcomeDecisionHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpResolveOutcome,
		Help:      "Accept, edit or branch a rolled outcome",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeApprovalDecision,
		Handler:   ApprovalDecisionHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpApproveResponse,
		Help:      "Decide on a proposed NPC response",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeDMAction,
		Handler:   DMActionHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpDMAction,
		Help:      "Speak as an NPC, fire an event or change the scene",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeApproveStaging,
		Handler:   ApproveStagingHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpApproveStaging,
		Help:      "Approve a staging proposal",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypePreStage,
		Handler:   PreStageHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpApproveStaging,
		Help:      "Stage a region ahead of arrivals",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeListPending,
		Handler:   ListPendingHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpApproveResponse,
		Help:      "List responses and outcomes waiting on the DM",
	})

	// Generation messages
	mustRegister(command.Entry{
		Type:      protocol.TypeRequestSuggestion,
		Handler:   RequestSuggestionHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpEnqueueSuggestion,
		Help:      "Ask the model for ideas",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeCancelSuggestion,
		Handler:   CancelSuggestionHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpEnqueueSuggestion,
		Help:      "Cancel a suggestion request",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeGenerateAsset,
		Handler:   GenerateAssetHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpGenerateAsset,
		Help:      "Queue image generation",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeCancelAsset,
		Handler:   CancelAssetHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpGenerateAsset,
		Help:      "Cancel a queued asset batch",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeListBatches,
		Handler:   ListBatchesHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpGenerateAsset,
		Help:      "List asset batches",
	})
	mustRegister(command.Entry{
		Type:      protocol.TypeMarkRead,
		Handler:   MarkReadHandler,
		Roles:     dmOnly,
		Operation: clienterr.OpGenerateAsset,
		Help:      "Mark a batch or suggestion read or unread",
	})
}
