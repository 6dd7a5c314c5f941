// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/storyengine/internal/protocol"
)

const defaultSchemaDir = "schemas"

// NewSchemaCmd creates the schema subcommand.
func NewSchemaCmd() *cobra.Command {
	var outDir string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Write the JSON Schemas of the websocket protocol",
		Long: `Write one JSON Schema per client message type, plus the server event
envelope, so clients can validate what they send.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			written, err := writeSchemas(outDir)
			if err != nil {
				return err
			}
			for _, path := range written {
				cmd.Printf("Generated %s\n", path)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outDir, "out", defaultSchemaDir, "output directory")

	return cmd
}

// writeSchemas writes <name>.schema.json files into dir and returns their
// paths in name order.
func writeSchemas(dir string) ([]string, error) {
	schemas, err := protocol.Schemas()
	if err != nil {
		return nil, oops.Code("SCHEMA_GENERATE_FAILED").Wrap(err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, oops.Code("SCHEMA_WRITE_FAILED").With("dir", dir).Wrap(err)
	}

	names := make([]string, 0, len(schemas))
	for name := range schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	paths := make([]string, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name+".schema.json")
		if err := os.WriteFile(path, schemas[name], 0o600); err != nil {
			return nil, oops.Code("SCHEMA_WRITE_FAILED").With("path", path).Wrap(err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
