// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"bufio"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/holomush/storyengine/internal/auth"
)

// NewHashKeyCmd creates the hash-key subcommand.
func NewHashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key",
		Short: "Hash a DM key for a world file",
		Long: `Read a DM key from the first line of standard input and print its
argon2id hash, ready to paste as dm_key_hash in the world file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return oops.Code(auth.CodeEmptyKey).Wrap(err)
			}
			hash, err := auth.HashKey(strings.TrimRight(line, "\r\n"))
			if err != nil {
				return err
			}
			cmd.Println(hash)
			return nil
		},
	}
}
