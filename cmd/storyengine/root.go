// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the storyengine CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "storyengine",
		Short: "storyengine - a DM-in-the-loop narrative game server",
		Long: `storyengine runs narrative sessions for a dungeon master and their
players: NPC staging, challenges, LLM-drafted dialogue awaiting DM approval,
and asset generation, all pushed to clients over websockets.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSchemaCmd())
	cmd.AddCommand(NewHashKeyCmd())

	return cmd
}
