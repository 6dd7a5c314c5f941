// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package logging

import "context"

type ctxKey int

const (
	correlationIDKey ctxKey = iota
	worldIDKey
)

// WithCorrelationID returns a context whose log records carry id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationID returns the correlation id on ctx, or "".
func CorrelationID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(correlationIDKey).(string)
	return id
}

// WithWorldID returns a context whose log records carry the world id.
func WithWorldID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, worldIDKey, id)
}

// WorldID returns the world id on ctx, or "".
func WorldID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(worldIDKey).(string)
	return id
}
