// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package store

import (
	"errors"
	"testing"

	"github.com/golang-migrate/migrate/v4"
	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/pkg/errutil"
)

// mockMigrate implements migrateIface for testing.
type mockMigrate struct {
	upErr          error
	downErr        error
	stepsErr       error
	versionVal     uint
	versionErr     error
	dirty          bool
	forceErr       error
	forced         int
	closeSourceErr error
	closeDBErr     error
}

func (m *mockMigrate) Up() error                    { return m.upErr }
func (m *mockMigrate) Down() error                  { return m.downErr }
func (m *mockMigrate) Steps(_ int) error            { return m.stepsErr }
func (m *mockMigrate) Version() (uint, bool, error) { return m.versionVal, m.dirty, m.versionErr }
func (m *mockMigrate) Close() (error, error)        { return m.closeSourceErr, m.closeDBErr }

func (m *mockMigrate) Force(v int) error {
	m.forced = v
	return m.forceErr
}

func TestNewMigrator_InvalidURL(t *testing.T) {
	_, err := NewMigrator("badscheme://localhost:5432/testdb")
	errutil.AssertErrorCode(t, err, CodeMigrationInit)
}

func TestMigrateURL(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"postgres://u:p@db:5432/story", "pgx5://u:p@db:5432/story"},
		{"postgresql://db/story?sslmode=disable", "pgx5://db/story?sslmode=disable"},
		{"pgx5://db/story", "pgx5://db/story"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, migrateURL(tt.in))
	}
}

func TestMigrator_NoChangeIsSuccess(t *testing.T) {
	m := &Migrator{m: &mockMigrate{
		upErr:    migrate.ErrNoChange,
		downErr:  migrate.ErrNoChange,
		stepsErr: migrate.ErrNoChange,
	}}
	require.NoError(t, m.Up())
	require.NoError(t, m.Down())
	require.NoError(t, m.Steps(-1))
}

func TestMigrator_Errors(t *testing.T) {
	boom := errors.New("database locked")
	m := &Migrator{m: &mockMigrate{upErr: boom, downErr: boom, stepsErr: boom, forceErr: boom, versionErr: boom}}

	errutil.AssertErrorCode(t, m.Up(), CodeMigrationUp)
	errutil.AssertErrorCode(t, m.Down(), CodeMigrationDown)
	errutil.AssertErrorCode(t, m.Steps(2), CodeMigrationSteps)
	errutil.AssertErrorCode(t, m.Force(1), CodeMigrationForce)

	_, _, err := m.Version()
	errutil.AssertErrorCode(t, err, CodeMigrationVersion)
}

func TestMigrator_Version(t *testing.T) {
	t.Run("nil version is zero", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Zero(t, v)
		assert.False(t, dirty)
	})

	t.Run("dirty", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: 2, dirty: true}}
		v, dirty, err := m.Version()
		require.NoError(t, err)
		assert.Equal(t, uint(2), v)
		assert.True(t, dirty)
	})
}

func TestMigrator_Force(t *testing.T) {
	mock := &mockMigrate{}
	m := &Migrator{m: mock}

	require.NoError(t, m.Force(2))
	assert.Equal(t, 2, mock.forced)

	errutil.AssertErrorCode(t, m.Force(-1), CodeInvalidVersion)
}

func TestMigrator_Close(t *testing.T) {
	tests := []struct {
		name      string
		srcErr    error
		dbErr     error
		component string
	}{
		{name: "clean"},
		{name: "source", srcErr: errors.New("src"), component: "source"},
		{name: "database", dbErr: errors.New("db"), component: "database"},
		{name: "both", srcErr: errors.New("src"), dbErr: errors.New("db"), component: "both"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Migrator{m: &mockMigrate{closeSourceErr: tt.srcErr, closeDBErr: tt.dbErr}}
			err := m.Close()
			if tt.component == "" {
				require.NoError(t, err)
				return
			}
			errutil.AssertErrorCode(t, err, CodeMigrationClose)
			oopsErr, ok := oops.AsOops(err)
			require.True(t, ok)
			assert.Equal(t, tt.component, oopsErr.Context()["component"])
		})
	}
}

func TestMigrator_Status(t *testing.T) {
	all, err := Migrations()
	require.NoError(t, err)
	require.Len(t, all, 3)

	t.Run("empty database", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: migrate.ErrNilVersion}}
		st, err := m.Status()
		require.NoError(t, err)
		assert.Zero(t, st.Current)
		assert.Empty(t, st.Applied)
		assert.Equal(t, all, st.Pending)
	})

	t.Run("partially applied", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionVal: 2}}
		st, err := m.Status()
		require.NoError(t, err)
		assert.Equal(t, all[:2], st.Applied)
		assert.Equal(t, all[2:], st.Pending)
	})

	t.Run("version error", func(t *testing.T) {
		m := &Migrator{m: &mockMigrate{versionErr: errors.New("down")}}
		_, err := m.Status()
		errutil.AssertErrorCode(t, err, CodeMigrationVersion)
	})
}

func TestMigrationName(t *testing.T) {
	name, err := MigrationName(2)
	require.NoError(t, err)
	assert.Equal(t, "000002_stagings", name)

	name, err = MigrationName(999)
	require.NoError(t, err)
	assert.Empty(t, name)
}

func TestMigrations_ReturnsCopy(t *testing.T) {
	first, err := Migrations()
	require.NoError(t, err)
	first[0].Name = "mutated"

	second, err := Migrations()
	require.NoError(t, err)
	assert.Equal(t, "000001_queue_items", second[0].Name)
}
