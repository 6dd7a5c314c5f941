// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package command

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/holomush/storyengine/internal/broadcast"
	"github.com/holomush/storyengine/internal/clienterr"
	"github.com/holomush/storyengine/internal/core"
	"github.com/holomush/storyengine/internal/logging"
	"github.com/holomush/storyengine/internal/protocol"
	"github.com/holomush/storyengine/pkg/errutil"
)

var tracer = otel.Tracer("storyengine/command")

// Dispatcher validates, authorizes and runs client messages.
type Dispatcher struct {
	registry    *Registry
	codec       *protocol.Codec
	services    *Services
	sanitizer   *clienterr.Sanitizer
	logger      *slog.Logger
	rateLimiter *RateLimiter
	rateExempt  MessagePatterns
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithRateLimiter limits how fast each player may send. DMs are exempt.
func WithRateLimiter(rl *RateLimiter) DispatcherOption {
	return func(d *Dispatcher) {
		d.rateLimiter = rl
	}
}

// WithRateExemptions lets messages matching patterns bypass the rate
// limiter.
func WithRateExemptions(patterns MessagePatterns) DispatcherOption {
	return func(d *Dispatcher) {
		d.rateExempt = patterns
	}
}

// WithLogger sets the dispatcher's logger.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// NewDispatcher creates a dispatcher. public lists the error codes whose
// code may reach the client; dispatch and protocol codes are always public.
func NewDispatcher(registry *Registry, codec *protocol.Codec, services *Services, public clienterr.Public, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		registry: registry,
		codec:    codec,
		services: services,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}

	visible := clienterr.Public{
		CodeUnknownMessage:           true,
		CodePermissionDenied:         true,
		CodeRateLimited:              true,
		CodeNoSession:                true,
		protocol.CodeInvalidEnvelope: true,
		protocol.CodeUnknownType:     true,
		protocol.CodeSchemaViolation: true,
	}
	for c, ok := range public {
		visible[c] = ok
	}
	d.sanitizer = clienterr.New(d.logger, visible)
	return d
}

// Dispatch handles one frame from sess. Failures are reported to the sender
// and returned.
func (d *Dispatcher) Dispatch(ctx context.Context, sess Session, frame []byte) (err error) {
	if sess.WorldID == "" || sess.UserID == "" {
		return ErrNoSession()
	}
	ctx = logging.WithWorldID(logging.WithCorrelationID(ctx, core.NewID()), sess.WorldID)

	msg, err := d.codec.Decode(frame)
	if err != nil {
		RecordMessage("invalid", StatusInvalid)
		d.report(ctx, sess, protocol.Message{}, "", err)
		return err
	}
	msgType := string(msg.Type)

	ctx, span := tracer.Start(ctx, "command.dispatch",
		trace.WithAttributes(
			attribute.String("message.type", msgType),
			attribute.String("world.id", sess.WorldID),
			attribute.String("user.role", string(sess.Role)),
		),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	entry, ok := d.registry.Get(msg.Type)
	if !ok {
		RecordMessage(msgType, StatusNotFound)
		err = ErrUnknownMessage(msg.Type)
		d.report(ctx, sess, msg, "", err)
		return err
	}

	if d.rateLimiter != nil && sess.Role != broadcast.RoleDM && !d.rateExempt.Match(msg.Type) {
		allowed, cooldownMs := d.rateLimiter.Allow(sess.WorldID + ":" + sess.UserID)
		if !allowed {
			span.SetAttributes(attribute.Bool("message.rate_limited", true))
			RecordMessage(msgType, StatusRateLimited)
			err = ErrRateLimited(cooldownMs)
			d.report(ctx, sess, msg, entry.Operation, err)
			return err
		}
	}

	if !entry.Allows(sess.Role) {
		RecordMessage(msgType, StatusPermissionDenied)
		err = ErrPermissionDenied(msg.Type, sess.Role)
		d.report(ctx, sess, msg, entry.Operation, err)
		return err
	}

	start := time.Now()
	err = entry.Handler(ctx, &Execution{Session: sess, Message: msg, Services: d.services})
	RecordMessageDuration(msgType, time.Since(start))
	if err != nil {
		RecordMessage(msgType, StatusError)
		d.report(ctx, sess, msg, entry.Operation, err)
		return err
	}
	RecordMessage(msgType, StatusSuccess)
	return nil
}

// report sends the sanitized error to the sender.
func (d *Dispatcher) report(ctx context.Context, sess Session, msg protocol.Message, op clienterr.Operation, err error) {
	ce := d.sanitizer.Sanitize(ctx, op, err)
	if text := ClientMessage(ce.Code); text != "" {
		ce.Message = text
	}
	if d.services == nil || d.services.Events == nil {
		return
	}
	ev := broadcast.ToUser(sess.UserID, broadcast.EventActionFailed, ErrorPayload{
		RequestID:     msg.RequestID,
		Type:          msg.Type,
		Code:          ce.Code,
		Message:       ce.Message,
		CorrelationID: ce.CorrelationID,
	})
	if berr := d.services.Events.Broadcast(ctx, sess.WorldID, ev); berr != nil {
		errutil.LogErrorContext(ctx, d.logger, "error reply failed", berr,
			"world_id", sess.WorldID,
			"user_id", sess.UserID)
	}
}
