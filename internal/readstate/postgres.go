// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package readstate

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/clock"
)

// CodeStoreFailed wraps database failures.
const CodeStoreFailed = "READSTATE_STORE_FAILED"

// Pool is the subset of pgxpool.Pool the read-state store needs.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Postgres stores read state in the generation_read_state table.
type Postgres struct {
	pool  Pool
	clock clock.Clock
}

// NewPostgres creates a Port over pool.
func NewPostgres(pool Pool, clk clock.Clock) *Postgres {
	if clk == nil {
		clk = clock.System{}
	}
	return &Postgres{pool: pool, clock: clk}
}

// MarkRead implements Port.
func (p *Postgres) MarkRead(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO generation_read_state (user_id, world_id, entity_type, item_id, read_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id, world_id, entity_type, item_id) DO NOTHING`,
		key.UserID, key.WorldID, string(key.EntityType), key.ItemID, p.clock.Now())
	if err != nil {
		return storeErr("mark read", key, err)
	}
	return nil
}

// MarkUnread implements Port.
func (p *Postgres) MarkUnread(ctx context.Context, key Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`DELETE FROM generation_read_state
		 WHERE user_id = $1 AND world_id = $2 AND entity_type = $3 AND item_id = $4`,
		key.UserID, key.WorldID, string(key.EntityType), key.ItemID)
	if err != nil {
		return storeErr("mark unread", key, err)
	}
	return nil
}

// IsRead implements Port.
func (p *Postgres) IsRead(ctx context.Context, key Key) (bool, error) {
	if err := key.Validate(); err != nil {
		return false, err
	}
	var exists bool
	err := p.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM generation_read_state
			WHERE user_id = $1 AND world_id = $2 AND entity_type = $3 AND item_id = $4
		 )`,
		key.UserID, key.WorldID, string(key.EntityType), key.ItemID).Scan(&exists)
	if err != nil {
		return false, storeErr("is read", key, err)
	}
	return exists, nil
}

// ListRead implements Port.
func (p *Postgres) ListRead(ctx context.Context, userID, worldID string, entity EntityType) ([]string, error) {
	if err := validateEntity(entity); err != nil {
		return nil, err
	}
	rows, err := p.pool.Query(ctx,
		`SELECT item_id FROM generation_read_state
		 WHERE user_id = $1 AND world_id = $2 AND entity_type = $3
		 ORDER BY item_id`,
		userID, worldID, string(entity))
	if err != nil {
		return nil, storeErr("list read", Key{UserID: userID, WorldID: worldID, EntityType: entity}, err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, storeErr("list read", Key{UserID: userID, WorldID: worldID, EntityType: entity}, err)
	}
	return ids, nil
}

func storeErr(op string, key Key, err error) error {
	return oops.Code(CodeStoreFailed).
		With("operation", op).
		With("user_id", key.UserID).
		With("world_id", key.WorldID).
		With("entity_type", string(key.EntityType)).
		Wrap(err)
}

var _ Port = (*Postgres)(nil)
