// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/holomush/storyengine/pkg/errutil"
)

// Handler processes one claimed item. Returning nil completes the item;
// returning an error fails it with the error text. Items are not retried.
type Handler[T any] func(ctx context.Context, item *Item[T]) error

// Worker defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultErrorBackoff = time.Second
)

// WorkerConfig tunes a Worker. Zero values fall back to defaults.
type WorkerConfig struct {
	// PollInterval bounds how long an idle worker sleeps without a notify.
	PollInterval time.Duration
	// ErrorBackoff is the pause after a backend failure on dequeue.
	ErrorBackoff time.Duration
	// Concurrency caps handlers running at once. Defaults to 1.
	Concurrency int
	Logger      *slog.Logger
}

// Worker drains a queue by running a handler on each item.
type Worker[T any] struct {
	queue   Queue[T]
	handler Handler[T]
	cfg     WorkerConfig
	slots   chan struct{}
	wg      sync.WaitGroup
}

// NewWorker creates a worker for q.
func NewWorker[T any](q Queue[T], handler Handler[T], cfg WorkerConfig) *Worker[T] {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.ErrorBackoff <= 0 {
		cfg.ErrorBackoff = DefaultErrorBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker[T]{
		queue:   q,
		handler: handler,
		cfg:     cfg,
		slots:   make(chan struct{}, cfg.Concurrency),
	}
}

// Run processes items until ctx is cancelled, then waits for in-flight
// handlers. A failing item never stops the loop.
func (w *Worker[T]) Run(ctx context.Context) error {
	logger := w.cfg.Logger.With("queue", w.queue.Name())
	logger.InfoContext(ctx, "queue worker started", "concurrency", w.cfg.Concurrency)
	defer logger.InfoContext(ctx, "queue worker stopped")
	defer w.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case w.slots <- struct{}{}:
		}

		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			<-w.slots
			if ctx.Err() != nil {
				return nil
			}
			errutil.LogErrorContext(ctx, logger, "dequeue failed", err)
			sleep(ctx, w.cfg.ErrorBackoff)
			continue
		}
		if item == nil {
			<-w.slots
			w.observeDepth(ctx)
			w.queue.Notifier().Wait(ctx, w.cfg.PollInterval)
			continue
		}

		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.process(ctx, logger, item)
		}()
	}
}

// ProcessNext claims and handles a single item synchronously. Reports
// whether an item was found.
func (w *Worker[T]) ProcessNext(ctx context.Context) (bool, error) {
	item, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	w.process(ctx, w.cfg.Logger.With("queue", w.queue.Name()), item)
	return true, nil
}

func (w *Worker[T]) process(ctx context.Context, logger *slog.Logger, item *Item[T]) {
	start := time.Now()
	outcome := OutcomeCompleted

	var handlerErr error
	panicErr := oops.Code(CodeHandlerPanic).
		With("queue", w.queue.Name()).
		With("item_id", item.ID).
		Recover(func() {
			handlerErr = w.handler(ctx, item)
		})

	switch {
	case panicErr != nil:
		outcome = OutcomePanicked
		w.fail(ctx, logger, item, panicErr)
	case handlerErr != nil:
		outcome = OutcomeFailed
		w.fail(ctx, logger, item, handlerErr)
	default:
		if err := w.queue.Complete(ctx, item.ID); err != nil {
			errutil.LogErrorContext(ctx, logger, "complete queue item failed", err, "item_id", item.ID)
		}
	}

	RecordProcessed(w.queue.Name(), outcome, time.Since(start))
}

func (w *Worker[T]) fail(ctx context.Context, logger *slog.Logger, item *Item[T], cause error) {
	errutil.LogErrorContext(ctx, logger, "queue item failed", cause,
		"item_id", item.ID,
		"world_id", item.WorldID,
		"attempts", item.Attempts,
	)
	if ferr := w.queue.Fail(ctx, item.ID, cause.Error()); ferr != nil {
		errutil.LogErrorContext(ctx, logger, "fail queue item failed", ferr, "item_id", item.ID)
	}
}

func (w *Worker[T]) observeDepth(ctx context.Context) {
	if depth, err := w.queue.Depth(ctx); err == nil {
		RecordDepth(w.queue.Name(), depth)
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
