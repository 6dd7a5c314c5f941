// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package postgres stores stagings in PostgreSQL.
//
// The stagings table carries a partial unique index on region_id WHERE
// is_active, so two concurrent approvals for one region cannot both commit.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/staging"
)

// Pool is the subset of pgxpool.Pool the repository needs.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const stagingColumns = `id, world_id, region_id, location_id, npcs, game_time, approved_at,
	ttl_hours, approved_by, source, dm_guidance, is_active`

// Repository implements staging.Repository and staging.ActiveReplacer.
type Repository struct {
	pool Pool
}

// NewRepository creates a repository over pool.
func NewRepository(pool Pool) *Repository {
	return &Repository{pool: pool}
}

// Active returns the region's active staging, or nil.
func (r *Repository) Active(ctx context.Context, regionID string) (*staging.Staging, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+stagingColumns+` FROM stagings
		 WHERE region_id = $1 AND is_active
		 ORDER BY approved_at DESC, id DESC
		 LIMIT 1`, regionID)
	s, err := scanStaging(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storeErr("active", err).With("region_id", regionID).Wrap(err)
	}
	return s, nil
}

// Get returns the staging with id.
func (r *Repository) Get(ctx context.Context, id string) (*staging.Staging, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+stagingColumns+` FROM stagings WHERE id = $1`, id)
	s, err := scanStaging(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, staging.ErrStagingNotFound(id)
	}
	if err != nil {
		return nil, storeErr("get", err).With("staging_id", id).Wrap(err)
	}
	return s, nil
}

// Save inserts s as given.
func (r *Repository) Save(ctx context.Context, s staging.Staging) error {
	return insert(ctx, r.pool, s)
}

// InvalidateRegion deactivates every active staging in the region.
func (r *Repository) InvalidateRegion(ctx context.Context, regionID string) error {
	return invalidate(ctx, r.pool, regionID)
}

// ReplaceActive deactivates the region's stagings and inserts s as the active
// one in a single transaction.
func (r *Repository) ReplaceActive(ctx context.Context, s staging.Staging) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return storeErr("begin", err).With("region_id", s.RegionID).Wrap(err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := invalidate(ctx, tx, s.RegionID); err != nil {
		return err
	}
	s.IsActive = true
	if err := insert(ctx, tx, s); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return storeErr("commit", err).With("region_id", s.RegionID).Wrap(err)
	}
	return nil
}

// History returns the region's stagings, newest first.
func (r *Repository) History(ctx context.Context, regionID string, limit int) ([]staging.Staging, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx,
		`SELECT `+stagingColumns+` FROM stagings
		 WHERE region_id = $1
		 ORDER BY approved_at DESC, id DESC
		 LIMIT $2`, regionID, limit)
	if err != nil {
		return nil, storeErr("history", err).With("region_id", regionID).Wrap(err)
	}
	defer rows.Close()

	var out []staging.Staging
	for rows.Next() {
		s, err := scanStaging(rows)
		if err != nil {
			return nil, storeErr("history", err).With("region_id", regionID).Wrap(err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("history", err).With("region_id", regionID).Wrap(err)
	}
	return out, nil
}

func invalidate(ctx context.Context, db execer, regionID string) error {
	_, err := db.Exec(ctx,
		`UPDATE stagings SET is_active = FALSE WHERE region_id = $1 AND is_active`, regionID)
	if err != nil {
		return storeErr("invalidate", err).With("region_id", regionID).Wrap(err)
	}
	return nil
}

func insert(ctx context.Context, db execer, s staging.Staging) error {
	npcs, err := json.Marshal(s.NPCs)
	if err != nil {
		return oops.Code(staging.CodeStoreFailed).With("staging_id", s.ID).Wrap(err)
	}
	_, err = db.Exec(ctx,
		`INSERT INTO stagings (`+stagingColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		s.ID, s.WorldID, s.RegionID, s.LocationID, npcs, s.GameTime.Current, s.ApprovedAt,
		s.TTLHours, s.ApprovedBy, string(s.Source), s.DMGuidance, s.IsActive)
	if err != nil {
		return storeErr("insert", err).
			With("staging_id", s.ID).
			With("region_id", s.RegionID).
			Wrap(err)
	}
	return nil
}

func scanStaging(row pgx.Row) (*staging.Staging, error) {
	var (
		s        staging.Staging
		npcs     []byte
		gameTime time.Time
		source   string
	)
	if err := row.Scan(&s.ID, &s.WorldID, &s.RegionID, &s.LocationID, &npcs, &gameTime,
		&s.ApprovedAt, &s.TTLHours, &s.ApprovedBy, &source, &s.DMGuidance, &s.IsActive); err != nil {
		return nil, err
	}
	if len(npcs) > 0 {
		if err := json.Unmarshal(npcs, &s.NPCs); err != nil {
			return nil, oops.With("operation", "decode npcs").With("staging_id", s.ID).Wrap(err)
		}
	}
	s.GameTime = game.NewGameTime(gameTime)
	s.ApprovedAt = s.ApprovedAt.UTC()
	s.Source = staging.Source(source)
	return &s, nil
}

// storeErr picks the error code for a database failure. A unique violation
// means another active staging for the region won the race.
func storeErr(op string, err error) oops.OopsErrorBuilder {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return oops.Code(staging.CodeConflict).With("operation", op)
	}
	return oops.Code(staging.CodeStoreFailed).With("operation", op)
}

var (
	_ staging.Repository     = (*Repository)(nil)
	_ staging.ActiveReplacer = (*Repository)(nil)
)
