// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/holomush/storyengine/internal/protocol"
)

func TestSchemaCommand_WritesEverySchema(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")

	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"schema", "--out", dir})
	require.NoError(t, cmd.Execute())

	want := make([]string, 0, len(protocol.Types())+1)
	for _, typ := range protocol.Types() {
		want = append(want, string(typ)+".schema.json")
	}
	want = append(want, protocol.EventSchemaName+".schema.json")

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	got := make([]string, 0, len(entries))
	for _, e := range entries {
		got = append(got, e.Name())
	}
	assert.ElementsMatch(t, want, got)

	raw, err := os.ReadFile(filepath.Join(dir, string(protocol.TypePlayerAction)+".schema.json"))
	require.NoError(t, err)
	var schema map[string]any
	require.NoError(t, json.Unmarshal(raw, &schema))
	assert.Contains(t, schema, "properties")

	assert.Contains(t, buf.String(), "Generated "+filepath.Join(dir, string(protocol.TypePlayerAction)+".schema.json"))
}

func TestWriteSchemas_FailsOnUnwritableDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	_, err := writeSchemas(file)
	require.Error(t, err)
}
