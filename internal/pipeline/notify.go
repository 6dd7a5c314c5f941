// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package pipeline

import (
	"context"
	"log/slog"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/queue"
	"github.com/holomush/storyengine/pkg/errutil"
)

// notifier is the broadcast side shared by the stages. Delivery failures
// are logged and never fail the item being processed.
type notifier struct {
	events    broadcast.Port
	sanitizer *clienterr.Sanitizer
	logger    *slog.Logger
}

func newNotifier(events broadcast.Port, logger *slog.Logger) notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return notifier{events: events, sanitizer: clienterr.New(logger, nil), logger: logger}
}

func (n notifier) emit(ctx context.Context, worldID string, ev broadcast.Event) {
	if n.events == nil {
		return
	}
	if err := n.events.Broadcast(ctx, worldID, ev); err != nil {
		errutil.LogErrorContext(ctx, n.logger, "pipeline broadcast failed", err,
			"world_id", worldID,
			"event_type", ev.Type,
		)
	}
}

// actionFailed tells userID that itemID could not be processed. The error
// itself is logged, not sent.
func (n notifier) actionFailed(ctx context.Context, worldID, userID, itemID string, op clienterr.Operation, err error) {
	if userID == "" {
		return
	}
	ce := n.sanitizer.Sanitize(ctx, op, err)
	n.emit(ctx, worldID, broadcast.ToUser(userID, broadcast.EventActionFailed, ActionFailedPayload{
		ItemID:        itemID,
		Code:          ce.Code,
		Message:       ce.Message,
		CorrelationID: ce.CorrelationID,
	}))
}

// cancelledInFlight reports whether item was cancelled after a worker
// claimed it. Output for a cancelled item is dropped.
func cancelledInFlight[T any](ctx context.Context, q queue.Queue[T], item *queue.Item[T], logger *slog.Logger) bool {
	if item.Cancelled {
		return true
	}
	cur, err := q.Get(ctx, item.ID)
	if err != nil || !cur.Cancelled {
		return false
	}
	item.Cancelled = true
	logger.DebugContext(ctx, "dropping output of cancelled item",
		"queue", q.Name(),
		"world_id", item.WorldID,
		"item_id", item.ID,
		"callback_id", item.CallbackID)
	return true
}
