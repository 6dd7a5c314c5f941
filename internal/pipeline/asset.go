// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/oracle"
	"github.com/holomush/storyengine/internal/queue"
	"github.com/holomush/storyengine/internal/readstate"
)

// Asset polling defaults.
const (
	DefaultAssetPollInterval = 2 * time.Second
	DefaultAssetTimeout      = 10 * time.Minute
)

// AssetConfig tunes an AssetService. Zero values fall back to defaults.
type AssetConfig struct {
	PollInterval time.Duration
	Timeout      time.Duration
	Logger       *slog.Logger
}

// BatchView is an asset batch as listed for a user.
type BatchView struct {
	BatchID    string      `json:"batch_id"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	AssetType  string      `json:"asset_type"`
	Status     BatchStatus `json:"status"`
	Error      string      `json:"error,omitempty"`
	Read       bool        `json:"read"`
	UpdatedAt  time.Time   `json:"updated_at"`
}

// AssetService generates image assets and reports their progress to the DM.
type AssetService struct {
	queue  queue.Queue[AssetRequest]
	images oracle.ImageGenerator
	reads  readstate.Port
	cfg    AssetConfig
	notifier
}

// NewAssetService creates the asset stage. reads may be nil.
func NewAssetService(q queue.Queue[AssetRequest], images oracle.ImageGenerator, reads readstate.Port,
	events broadcast.Port, cfg AssetConfig,
) *AssetService {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultAssetPollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAssetTimeout
	}
	return &AssetService{
		queue:    q,
		images:   images,
		reads:    reads,
		cfg:      cfg,
		notifier: newNotifier(events, cfg.Logger),
	}
}

// BatchStatusOf maps a queue status to what the DM sees.
func BatchStatusOf(s queue.Status) BatchStatus {
	switch s {
	case queue.StatusProcessing:
		return BatchGenerating
	case queue.StatusCompleted:
		return BatchReady
	case queue.StatusFailed:
		return BatchFailed
	default:
		return BatchQueued
	}
}

// Enqueue queues an asset batch and returns its batch id.
func (s *AssetService) Enqueue(ctx context.Context, req AssetRequest) (string, error) {
	if req.WorldID == "" || req.Prompt == "" {
		return "", errInvalid("asset request needs a world and a prompt")
	}
	if req.BatchID == "" {
		req.BatchID = core.NewID()
	}
	if req.Count <= 0 {
		req.Count = 1
	}
	if _, err := s.queue.EnqueueItem(ctx, queue.Item[AssetRequest]{
		WorldID:    req.WorldID,
		CallbackID: req.BatchID,
		Payload:    req,
		Priority:   queue.PriorityDM,
	}); err != nil {
		return "", errEnqueue(s.queue.Name(), err)
	}
	s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventGenerationQueued, s.payload(req, BatchQueued, 0)))
	return req.BatchID, nil
}

// Cancel drops a batch that has not finished. Reports whether one matched.
func (s *AssetService) Cancel(ctx context.Context, worldID, batchID string) (bool, error) {
	ok, err := s.queue.CancelByCallback(ctx, batchID)
	if err != nil || !ok {
		return false, err
	}
	s.logger.InfoContext(ctx, "asset batch cancelled", "world_id", worldID, "batch_id", batchID)
	return true, nil
}

// Batches lists a world's live batches followed by up to limit finished
// ones, flagged with whether userID has seen them.
func (s *AssetService) Batches(ctx context.Context, worldID, userID string, limit int) ([]BatchView, error) {
	live, err := s.queue.ListByWorld(ctx, worldID)
	if err != nil {
		return nil, err
	}
	done, err := s.queue.History(ctx, worldID, limit)
	if err != nil {
		return nil, err
	}
	read := map[string]bool{}
	if s.reads != nil && userID != "" {
		ids, err := s.reads.ListRead(ctx, userID, worldID, readstate.EntityBatch)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			read[id] = true
		}
	}

	out := make([]BatchView, 0, len(live)+len(done))
	for _, it := range append(live, done...) {
		out = append(out, BatchView{
			BatchID:    it.Payload.BatchID,
			EntityType: it.Payload.EntityType,
			EntityID:   it.Payload.EntityID,
			AssetType:  it.Payload.AssetType,
			Status:     BatchStatusOf(it.Status),
			Error:      it.Error,
			Read:       read[it.Payload.BatchID],
			UpdatedAt:  it.UpdatedAt,
		})
	}
	return out, nil
}

// Depth counts batches waiting for a worker.
func (s *AssetService) Depth(ctx context.Context) (int, error) {
	return s.queue.Depth(ctx)
}

// Worker returns a worker draining the asset queue.
func (s *AssetService) Worker(cfg queue.WorkerConfig) *queue.Worker[AssetRequest] {
	if cfg.Logger == nil {
		cfg.Logger = s.logger
	}
	return queue.NewWorker(s.queue, s.Handle, cfg)
}

// Handle submits one batch and polls it to completion. A batch cancelled
// while in flight stops polling and reports nothing.
func (s *AssetService) Handle(ctx context.Context, item *queue.Item[AssetRequest]) error {
	req := item.Payload
	jobID, err := s.images.Queue(ctx, oracle.ImageRequest{
		Workflow: req.Workflow,
		Prompt:   req.Prompt,
		Negative: req.NegativePrompt,
		Count:    req.Count,
		Style:    req.StyleReference,
	})
	if err != nil {
		return s.failed(ctx, item, oops.Code(CodeGenerationFailed).With("batch_id", req.BatchID).Wrap(err))
	}
	if cancelledInFlight(ctx, s.queue, item, s.logger) {
		return nil
	}
	s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventGenerationProgress, s.payload(req, BatchGenerating, 0)))

	pollCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	last := 0
	for {
		select {
		case <-pollCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return s.failed(ctx, item, oops.Code(CodeGenerationFailed).
				With("batch_id", req.BatchID).
				With("job_id", jobID).
				Errorf("generation timed out after %s", s.cfg.Timeout))
		case <-ticker.C:
		}

		st, err := s.images.Poll(pollCtx, jobID)
		if err != nil {
			return s.failed(ctx, item, oops.Code(CodeGenerationFailed).With("job_id", jobID).Wrap(err))
		}
		if cancelledInFlight(ctx, s.queue, item, s.logger) {
			return nil
		}
		switch st.State {
		case oracle.JobComplete:
			p := s.payload(req, BatchReady, 100)
			p.Assets = st.Assets
			s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventGenerationComplete, p))
			s.markUnread(ctx, req)
			s.logger.InfoContext(ctx, "asset batch ready",
				"world_id", req.WorldID, "batch_id", req.BatchID, "assets", len(st.Assets))
			return nil
		case oracle.JobFailed:
			return s.failed(ctx, item, oops.Code(CodeGenerationFailed).
				With("job_id", jobID).
				Errorf("generation failed: %s", st.Error))
		}
		if st.Progress != last {
			last = st.Progress
			s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventGenerationProgress, s.payload(req, BatchGenerating, st.Progress)))
		}
	}
}

// failed reports the batch failure to the DM unless the batch was cancelled.
func (s *AssetService) failed(ctx context.Context, item *queue.Item[AssetRequest], err error) error {
	if cancelledInFlight(ctx, s.queue, item, s.logger) {
		return err
	}
	req := item.Payload
	p := s.payload(req, BatchFailed, 0)
	p.Error = "Asset generation failed."
	s.emit(ctx, req.WorldID, broadcast.ToDM(broadcast.EventGenerationFailed, p))
	s.markUnread(ctx, req)
	return err
}

// markUnread flags a finished batch as new for whoever asked for it.
func (s *AssetService) markUnread(ctx context.Context, req AssetRequest) {
	if s.reads == nil || req.RequestedBy == "" {
		return
	}
	err := s.reads.MarkUnread(ctx, readstate.Key{
		UserID:     req.RequestedBy,
		WorldID:    req.WorldID,
		EntityType: readstate.EntityBatch,
		ItemID:     req.BatchID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "marking batch unread failed", "batch_id", req.BatchID, "error", err)
	}
}

func (s *AssetService) payload(req AssetRequest, status BatchStatus, progress int) GenerationPayload {
	return GenerationPayload{
		BatchID:    req.BatchID,
		EntityType: req.EntityType,
		EntityID:   req.EntityID,
		AssetType:  req.AssetType,
		Status:     status,
		Progress:   progress,
	}
}
