package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the EmberMUSH CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embermush",
		Short: "EmberMUSH - A multi-user text game server",
		Long: `EmberMUSH is a multi-user text game server with account-based
authentication, per-account characters, and guest access.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	cmd.AddCommand(newGatewayCmd())
	cmd.AddCommand(newMigrateCmd())

	return cmd
}
