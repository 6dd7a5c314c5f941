// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package readstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/clock"
	"github.com/holomush/storyengine/pkg/errutil"
)

var now = time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)

func batchKey(item string) Key {
	return Key{UserID: "dm-1", WorldID: "world-1", EntityType: EntityBatch, ItemID: item}
}

func TestMemory_MarkAndList(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(clock.NewManual(now))

	require.NoError(t, m.MarkRead(ctx, batchKey("b2")))
	require.NoError(t, m.MarkRead(ctx, batchKey("b1")))
	require.NoError(t, m.MarkRead(ctx, batchKey("b1")))
	require.NoError(t, m.MarkRead(ctx, Key{UserID: "dm-1", WorldID: "world-1", EntityType: EntitySuggestion, ItemID: "s1"}))
	require.NoError(t, m.MarkRead(ctx, Key{UserID: "dm-1", WorldID: "world-2", EntityType: EntityBatch, ItemID: "b9"}))

	ids, err := m.ListRead(ctx, "dm-1", "world-1", EntityBatch)
	require.NoError(t, err)
	assert.Equal(t, []string{"b1", "b2"}, ids)

	read, err := m.IsRead(ctx, batchKey("b1"))
	require.NoError(t, err)
	assert.True(t, read)

	require.NoError(t, m.MarkUnread(ctx, batchKey("b1")))
	require.NoError(t, m.MarkUnread(ctx, batchKey("never")))
	read, err = m.IsRead(ctx, batchKey("b1"))
	require.NoError(t, err)
	assert.False(t, read)
}

func TestKey_Validate(t *testing.T) {
	tests := []struct {
		name string
		key  Key
	}{
		{"missing user", Key{WorldID: "w", EntityType: EntityBatch, ItemID: "i"}},
		{"missing item", Key{UserID: "u", WorldID: "w", EntityType: EntityBatch}},
		{"unknown entity", Key{UserID: "u", WorldID: "w", EntityType: "portrait", ItemID: "i"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errutil.AssertErrorCode(t, tt.key.Validate(), CodeInvalidKey)
			errutil.AssertErrorCode(t, NewMemory(nil).MarkRead(context.Background(), tt.key), CodeInvalidKey)
		})
	}
}

func newMockPostgres(t *testing.T) (pgxmock.PgxPoolIface, *Postgres) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err, "failed to create mock")
	t.Cleanup(mock.Close)
	return mock, NewPostgres(mock, clock.NewManual(now))
}

func TestPostgres_MarkRead(t *testing.T) {
	t.Run("upserts row", func(t *testing.T) {
		mock, p := newMockPostgres(t)
		mock.ExpectExec(`INSERT INTO generation_read_state .* ON CONFLICT .* DO NOTHING`).
			WithArgs("dm-1", "world-1", "batch", "b1", now).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, p.MarkRead(context.Background(), batchKey("b1")))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock, p := newMockPostgres(t)
		mock.ExpectExec(`INSERT INTO generation_read_state`).
			WillReturnError(errors.New("connection refused"))

		errutil.AssertErrorCode(t, p.MarkRead(context.Background(), batchKey("b1")), CodeStoreFailed)
	})

	t.Run("invalid key never reaches the database", func(t *testing.T) {
		mock, p := newMockPostgres(t)
		errutil.AssertErrorCode(t, p.MarkRead(context.Background(), Key{}), CodeInvalidKey)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgres_IsRead(t *testing.T) {
	mock, p := newMockPostgres(t)
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("dm-1", "world-1", "batch", "b1").
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	read, err := p.IsRead(context.Background(), batchKey("b1"))
	require.NoError(t, err)
	assert.True(t, read)
}

func TestPostgres_ListRead(t *testing.T) {
	mock, p := newMockPostgres(t)
	mock.ExpectQuery(`SELECT item_id FROM generation_read_state`).
		WithArgs("dm-1", "world-1", "suggestion").
		WillReturnRows(pgxmock.NewRows([]string{"item_id"}).AddRow("s1").AddRow("s2"))

	ids, err := p.ListRead(context.Background(), "dm-1", "world-1", EntitySuggestion)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, ids)
}

func TestPostgres_MarkUnread(t *testing.T) {
	mock, p := newMockPostgres(t)
	mock.ExpectExec(`DELETE FROM generation_read_state`).
		WithArgs("dm-1", "world-1", "batch", "b1").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	require.NoError(t, p.MarkUnread(context.Background(), batchKey("b1")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
