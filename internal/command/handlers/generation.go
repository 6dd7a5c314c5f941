// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package handlers

import (
	"context"

	"github.com/holomush/storyengine/internal/command"
	"github.com/holomush/storyengine/internal/pipeline"
	"github.com/holomush/storyengine/internal/protocol"
	"github.com/holomush/storyengine/internal/readstate"
)

// DefaultBatchLimit caps list_batches when the request sets no limit.
const DefaultBatchLimit = 50

// SuggestionResult acknowledges a suggestion request. Suggestions arrive
// later as their own event carrying the same request id.
type SuggestionResult struct {
	RequestID string `json:"request_id"`
}

// CancelResult reports whether anything was cancelled.
type CancelResult struct {
	ID        string `json:"id"`
	Cancelled bool   `json:"cancelled"`
}

// BatchesResult lists asset batches.
type BatchesResult struct {
	Batches []pipeline.BatchView `json:"batches"`
}

// RequestSuggestionHandler queues a suggestion request.
func RequestSuggestionHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.RequestSuggestion](exec.Message)
	if err != nil {
		return err
	}
	id, err := exec.Services.LLM.EnqueueSuggestion(ctx, exec.WorldID, exec.UserID, pipeline.SuggestionContext{
		FieldType:    p.FieldType,
		EntityType:   p.EntityType,
		EntityName:   p.EntityName,
		WorldSetting: p.WorldSetting,
		Hints:        p.Hints,
		Additional:   p.Additional,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, SuggestionResult{RequestID: id})
}

// CancelSuggestionHandler cancels a suggestion request.
func CancelSuggestionHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.CancelSuggestion](exec.Message)
	if err != nil {
		return err
	}
	ok, err := exec.Services.LLM.CancelByCallback(ctx, exec.WorldID, p.RequestID)
	if err != nil {
		return err
	}
	return exec.Reply(ctx, CancelResult{ID: p.RequestID, Cancelled: ok})
}

// GenerateAssetHandler queues an asset batch.
func GenerateAssetHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.GenerateAsset](exec.Message)
	if err != nil {
		return err
	}
	id, err := exec.Services.Assets.Enqueue(ctx, pipeline.AssetRequest{
		WorldID:        exec.WorldID,
		EntityType:     p.EntityType,
		EntityID:       p.EntityID,
		AssetType:      p.AssetType,
		Workflow:       p.Workflow,
		Prompt:         p.Prompt,
		NegativePrompt: p.NegativePrompt,
		Count:          p.Count,
		StyleReference: p.StyleReference,
		RequestedBy:    exec.UserID,
	})
	if err != nil {
		return err
	}
	return exec.Reply(ctx, map[string]string{"batch_id": id})
}

// CancelAssetHandler cancels a queued asset batch.
func CancelAssetHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.CancelAsset](exec.Message)
	if err != nil {
		return err
	}
	ok, err := exec.Services.Assets.Cancel(ctx, exec.WorldID, p.BatchID)
	if err != nil {
		return err
	}
	return exec.Reply(ctx, CancelResult{ID: p.BatchID, Cancelled: ok})
}

// ListBatchesHandler lists the world's asset batches with the sender's read
// flags.
func ListBatchesHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.ListBatches](exec.Message)
	if err != nil {
		return err
	}
	limit := p.Limit
	if limit <= 0 {
		limit = DefaultBatchLimit
	}
	batches, err := exec.Services.Assets.Batches(ctx, exec.WorldID, exec.UserID, limit)
	if err != nil {
		return err
	}
	if batches == nil {
		batches = []pipeline.BatchView{}
	}
	return exec.Reply(ctx, BatchesResult{Batches: batches})
}

// MarkReadHandler flags a batch or suggestion read or unread.
func MarkReadHandler(ctx context.Context, exec *command.Execution) error {
	p, err := protocol.Payload[protocol.MarkRead](exec.Message)
	if err != nil {
		return err
	}
	key := readstate.Key{
		UserID:     exec.UserID,
		WorldID:    exec.WorldID,
		EntityType: readstate.EntityType(p.EntityType),
		ItemID:     p.ItemID,
	}
	mark := exec.Services.Reads.MarkUnread
	if p.Read {
		mark = exec.Services.Reads.MarkRead
	}
	if err := mark(ctx, key); err != nil {
		return err
	}
	return exec.Reply(ctx, map[string]any{"item_id": p.ItemID, "read": p.Read})
}
