// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/game"
	"github.com/holomush/storyengine/internal/staging"
	"github.com/holomush/storyengine/pkg/errutil"
)

var (
	approvedAt = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)
	gameNow    = game.DefaultStart.Add(10 * time.Hour)
)

var columns = []string{
	"id", "world_id", "region_id", "location_id", "npcs", "game_time", "approved_at",
	"ttl_hours", "approved_by", "source", "dm_guidance", "is_active",
}

func newMockRepo(t *testing.T) (pgxmock.PgxPoolIface, *Repository) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock, NewRepository(mock)
}

func sampleStaging() staging.Staging {
	return staging.Staging{
		ID:         "stg-1",
		WorldID:    "world-1",
		RegionID:   "region-bar",
		LocationID: "loc-tavern",
		NPCs: []game.StagedNPC{
			{CharacterID: "npc-marta", Name: "Marta", IsPresent: true, Reasoning: "Works here"},
		},
		GameTime:   game.NewGameTime(gameNow),
		ApprovedAt: approvedAt,
		TTLHours:   3,
		ApprovedBy: "dm-1",
		Source:     staging.SourceRuleBased,
	}
}

func sampleRow() *pgxmock.Rows {
	return pgxmock.NewRows(columns).AddRow(
		"stg-1", "world-1", "region-bar", "loc-tavern",
		[]byte(`[{"character_id":"npc-marta","name":"Marta","is_present":true,"is_hidden_from_players":false,"reasoning":"Works here"}]`),
		gameNow, approvedAt, 3, "dm-1", "rule_based", "", true,
	)
}

func TestRepository_Active(t *testing.T) {
	t.Run("returns active staging", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery(`SELECT .* FROM stagings\s+WHERE region_id = \$1 AND is_active`).
			WithArgs("region-bar").
			WillReturnRows(sampleRow())

		s, err := repo.Active(context.Background(), "region-bar")
		require.NoError(t, err)
		require.NotNil(t, s)
		assert.Equal(t, "stg-1", s.ID)
		assert.Equal(t, staging.SourceRuleBased, s.Source)
		assert.True(t, s.IsActive)
		require.Len(t, s.NPCs, 1)
		assert.Equal(t, "Marta", s.NPCs[0].Name)
		assert.Equal(t, gameNow, s.GameTime.Current)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("no active staging", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery(`SELECT .* FROM stagings`).
			WithArgs("region-empty").
			WillReturnError(pgx.ErrNoRows)

		s, err := repo.Active(context.Background(), "region-empty")
		require.NoError(t, err)
		assert.Nil(t, s)
	})

	t.Run("query failure", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectQuery(`SELECT .* FROM stagings`).
			WillReturnError(errors.New("connection reset"))

		_, err := repo.Active(context.Background(), "region-bar")
		errutil.AssertErrorCode(t, err, staging.CodeStoreFailed)
	})
}

func TestRepository_Get_NotFound(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectQuery(`SELECT .* FROM stagings WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	errutil.AssertErrorCode(t, err, staging.CodeNotFound)
	assert.ErrorIs(t, err, staging.ErrNotFound)
}

func TestRepository_ReplaceActive(t *testing.T) {
	t.Run("invalidates and inserts in one transaction", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		s := sampleStaging()

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE stagings SET is_active = FALSE`).
			WithArgs("region-bar").
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))
		mock.ExpectExec(`INSERT INTO stagings`).
			WithArgs("stg-1", "world-1", "region-bar", "loc-tavern", pgxmock.AnyArg(), gameNow, approvedAt,
				3, "dm-1", "rule_based", "", true).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()

		require.NoError(t, repo.ReplaceActive(context.Background(), s))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unique violation is a conflict", func(t *testing.T) {
		mock, repo := newMockRepo(t)

		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE stagings`).
			WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectExec(`INSERT INTO stagings`).
			WillReturnError(&pgconn.PgError{Code: pgerrcode.UniqueViolation})
		mock.ExpectRollback()

		err := repo.ReplaceActive(context.Background(), sampleStaging())
		errutil.AssertErrorCode(t, err, staging.CodeConflict)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("begin failure", func(t *testing.T) {
		mock, repo := newMockRepo(t)
		mock.ExpectBegin().WillReturnError(errors.New("pool closed"))

		err := repo.ReplaceActive(context.Background(), sampleStaging())
		errutil.AssertErrorCode(t, err, staging.CodeStoreFailed)
	})
}

func TestRepository_History(t *testing.T) {
	mock, repo := newMockRepo(t)
	rows := pgxmock.NewRows(columns).
		AddRow("stg-2", "world-1", "region-bar", "loc-tavern", []byte(`[]`),
			gameNow, approvedAt.Add(time.Hour), 3, "system", "auto_approved", "", true).
		AddRow("stg-1", "world-1", "region-bar", "loc-tavern", []byte(`[]`),
			gameNow, approvedAt, 3, "dm-1", "rule_based", "", false)
	mock.ExpectQuery(`SELECT .* FROM stagings\s+WHERE region_id = \$1\s+ORDER BY approved_at DESC`).
		WithArgs("region-bar", 50).
		WillReturnRows(rows)

	got, err := repo.History(context.Background(), "region-bar", 0)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "stg-2", got[0].ID)
	assert.Equal(t, staging.SourceAutoApproved, got[0].Source)
	assert.False(t, got[1].IsActive)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_InvalidateRegion(t *testing.T) {
	mock, repo := newMockRepo(t)
	mock.ExpectExec(`UPDATE stagings SET is_active = FALSE WHERE region_id = \$1`).
		WithArgs("region-bar").
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))

	require.NoError(t, repo.InvalidateRegion(context.Background(), "region-bar"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
