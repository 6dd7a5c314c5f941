// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package oracle

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("storyengine/oracle")

// RetryConfig controls retries around oracle calls.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries     uint64
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterPercent  uint64
	AttemptTimeout time.Duration
}

// DefaultRetryConfig returns the standard retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:     3,
		BaseDelay:      time.Second,
		MaxDelay:       30 * time.Second,
		JitterPercent:  20,
		AttemptTimeout: 60 * time.Second,
	}
}

func (c RetryConfig) backoff() retry.Backoff {
	b := retry.NewExponential(c.BaseDelay)
	if c.JitterPercent > 0 {
		b = retry.WithJitterPercent(c.JitterPercent, b)
	}
	if c.MaxDelay > 0 {
		b = retry.WithCappedDuration(c.MaxDelay, b)
	}
	return retry.WithMaxRetries(c.MaxRetries, b)
}

// call runs fn with a per-attempt timeout, retrying retryable failures.
func call[T any](ctx context.Context, cfg RetryConfig, name string, fn func(context.Context) (T, error)) (T, error) {
	attempt := 0
	return retry.DoValue(ctx, cfg.backoff(), func(ctx context.Context) (T, error) {
		attempt++
		attemptCtx := ctx
		if cfg.AttemptTimeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, cfg.AttemptTimeout)
			defer cancel()
		}

		out, err := fn(attemptCtx)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = ErrTimeout(name, err)
		}
		if !Retryable(err) {
			return out, err
		}
		slog.WarnContext(ctx, "oracle call failed",
			"oracle", name,
			"attempt", attempt,
			"error", err,
		)
		return out, retry.RetryableError(err)
	})
}

// ResilientLLM wraps an LLM with retries, timeouts, tracing and metrics.
type ResilientLLM struct {
	inner LLM
	cfg   RetryConfig
}

// NewResilientLLM wraps inner.
func NewResilientLLM(inner LLM, cfg RetryConfig) *ResilientLLM {
	return &ResilientLLM{inner: inner, cfg: cfg}
}

// Complete implements LLM.
func (r *ResilientLLM) Complete(ctx context.Context, p Prompt) (resp Response, err error) {
	ctx, span := tracer.Start(ctx, "oracle.llm.complete",
		trace.WithAttributes(attribute.Int("llm.messages", len(p.Messages))),
	)
	start := time.Now()
	defer func() {
		observeCall("llm", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	resp, err = call(ctx, r.cfg, "llm", func(ctx context.Context) (Response, error) {
		return r.inner.Complete(ctx, p)
	})
	return resp, err
}

// ResilientImages wraps an ImageGenerator with retries and tracing.
type ResilientImages struct {
	inner ImageGenerator
	cfg   RetryConfig
}

// NewResilientImages wraps inner.
func NewResilientImages(inner ImageGenerator, cfg RetryConfig) *ResilientImages {
	return &ResilientImages{inner: inner, cfg: cfg}
}

// Queue implements ImageGenerator.
func (r *ResilientImages) Queue(ctx context.Context, req ImageRequest) (jobID string, err error) {
	ctx, span := tracer.Start(ctx, "oracle.image.queue",
		trace.WithAttributes(attribute.String("image.workflow", req.Workflow)),
	)
	start := time.Now()
	defer func() {
		observeCall("image", start, err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	return call(ctx, r.cfg, "image", func(ctx context.Context) (string, error) {
		return r.inner.Queue(ctx, req)
	})
}

// Poll implements ImageGenerator. Polls are not retried; the caller polls
// again anyway.
func (r *ResilientImages) Poll(ctx context.Context, jobID string) (JobStatus, error) {
	if r.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.AttemptTimeout)
		defer cancel()
	}
	return r.inner.Poll(ctx, jobID)
}

var (
	_ LLM            = (*ResilientLLM)(nil)
	_ ImageGenerator = (*ResilientImages)(nil)
)
