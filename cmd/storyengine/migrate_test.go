// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/store"
	"github.com/holomush/storyengine/pkg/errutil"
)

func TestParseForceVersion(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		wantVersion int
		wantErr     bool
		wantErrCode string
	}{
		{
			name:        "valid integer",
			input:       "3",
			wantVersion: 3,
		},
		{
			name:        "zero is valid",
			input:       "0",
			wantVersion: 0,
		},
		{
			name:        "non-numeric returns error",
			input:       "abc",
			wantErr:     true,
			wantErrCode: "INVALID_VERSION",
		},
		{
			name:        "trailing chars are ignored",
			input:       "3abc",
			wantVersion: 3,
		},
		{
			name:        "negative parses and is rejected by the migrator",
			input:       "-1",
			wantVersion: -1,
		},
		{
			name:        "empty string returns error",
			input:       "",
			wantErr:     true,
			wantErrCode: "INVALID_VERSION",
		},
		{
			name:        "whitespace only returns error",
			input:       "   ",
			wantErr:     true,
			wantErrCode: "INVALID_VERSION",
		},
		{
			name:        "leading whitespace is handled",
			input:       "  42",
			wantVersion: 42,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, err := parseForceVersion(tt.input)

			if tt.wantErr {
				require.Error(t, err)
				errutil.AssertErrorCode(t, err, tt.wantErrCode)
				assert.Equal(t, 0, version)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantVersion, version)
			}
		})
	}
}

func TestGetDatabaseURL(t *testing.T) {
	t.Run("returns error when nothing is configured", func(t *testing.T) {
		configFile = ""
		t.Setenv("DATABASE_URL", "")

		url, err := getDatabaseURL()
		errutil.AssertErrorCode(t, err, "CONFIG_INVALID")
		assert.Empty(t, url)
	})

	t.Run("falls back to DATABASE_URL", func(t *testing.T) {
		configFile = ""
		t.Setenv("DATABASE_URL", "postgres://localhost:5432/testdb")

		url, err := getDatabaseURL()
		require.NoError(t, err)
		assert.Equal(t, "postgres://localhost:5432/testdb", url)
	})

	t.Run("config file wins over the environment", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "storyengine.yaml")
		require.NoError(t, os.WriteFile(path, []byte("database-url: postgres://db/fromfile\n"), 0o600))
		configFile = path
		t.Cleanup(func() { configFile = "" })
		t.Setenv("DATABASE_URL", "postgres://db/fromenv")

		url, err := getDatabaseURL()
		require.NoError(t, err)
		assert.Equal(t, "postgres://db/fromfile", url)
	})
}

// scriptedMigrator records calls made by the migrate subcommands.
type scriptedMigrator struct {
	calls   []string
	steps   int
	forced  int
	version uint
	dirty   bool
	status  store.Status
	err     error
}

func (m *scriptedMigrator) Up() error   { m.calls = append(m.calls, "up"); return m.err }
func (m *scriptedMigrator) Down() error { m.calls = append(m.calls, "down"); return m.err }
func (m *scriptedMigrator) Steps(n int) error {
	m.calls = append(m.calls, "steps")
	m.steps = n
	return m.err
}

func (m *scriptedMigrator) Version() (uint, bool, error) {
	m.calls = append(m.calls, "version")
	return m.version, m.dirty, m.err
}

func (m *scriptedMigrator) Force(v int) error {
	m.calls = append(m.calls, "force")
	m.forced = v
	return m.err
}

func (m *scriptedMigrator) Status() (store.Status, error) {
	m.calls = append(m.calls, "status")
	return m.status, m.err
}

func (m *scriptedMigrator) Close() error { m.calls = append(m.calls, "close"); return nil }

func runMigrate(t *testing.T, m *scriptedMigrator, args ...string) (string, error) {
	t.Helper()
	configFile = ""
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/storyengine")

	orig := migratorFactory
	migratorFactory = func(string) (Migrator, error) { return m, nil }
	t.Cleanup(func() { migratorFactory = orig })

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs(append([]string{"migrate"}, args...))
	err := cmd.Execute()
	return buf.String(), err
}

func TestMigrateCommand_Subcommands(t *testing.T) {
	t.Run("up", func(t *testing.T) {
		m := &scriptedMigrator{}
		out, err := runMigrate(t, m, "up")
		require.NoError(t, err)
		assert.Equal(t, []string{"up", "close"}, m.calls)
		assert.Contains(t, out, "Migrations completed successfully")
	})

	t.Run("down", func(t *testing.T) {
		m := &scriptedMigrator{}
		_, err := runMigrate(t, m, "down")
		require.NoError(t, err)
		assert.Equal(t, []string{"down", "close"}, m.calls)
	})

	t.Run("steps", func(t *testing.T) {
		m := &scriptedMigrator{}
		_, err := runMigrate(t, m, "steps", "--", "-2")
		require.NoError(t, err)
		assert.Equal(t, -2, m.steps)
	})

	t.Run("force", func(t *testing.T) {
		m := &scriptedMigrator{}
		out, err := runMigrate(t, m, "force", "2")
		require.NoError(t, err)
		assert.Equal(t, 2, m.forced)
		assert.Contains(t, out, "Forced schema version 2")
	})

	t.Run("force rejects a non-integer", func(t *testing.T) {
		m := &scriptedMigrator{}
		_, err := runMigrate(t, m, "force", "latest")
		errutil.AssertErrorCode(t, err, "INVALID_VERSION")
		assert.Equal(t, []string{"close"}, m.calls)
	})

	t.Run("version of an empty database", func(t *testing.T) {
		m := &scriptedMigrator{}
		out, err := runMigrate(t, m, "version")
		require.NoError(t, err)
		assert.Contains(t, out, "No migrations applied")
	})

	t.Run("status", func(t *testing.T) {
		m := &scriptedMigrator{status: store.Status{
			Current: 1,
			Applied: []store.Migration{{Version: 1, Name: "000001_queue"}},
			Pending: []store.Migration{{Version: 2, Name: "000002_staging"}},
		}}
		out, err := runMigrate(t, m, "status")
		require.NoError(t, err)
		assert.Contains(t, out, "Current version: 1\n")
		assert.Contains(t, out, "[x] 000001_queue")
		assert.Contains(t, out, "[ ] 000002_staging")
	})

	t.Run("migrator errors are returned", func(t *testing.T) {
		m := &scriptedMigrator{err: errors.New("connection refused")}
		_, err := runMigrate(t, m, "up")
		require.Error(t, err)
		assert.Equal(t, []string{"up", "close"}, m.calls)
	})
}

func TestFormatVersion(t *testing.T) {
	assert.Equal(t, "No migrations applied", formatVersion(0, false))
	assert.Contains(t, formatVersion(99, true), "dirty")
	assert.Equal(t, "Version 99 (99)", formatVersion(99, false))
}
