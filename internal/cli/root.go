// Package cli assembles the makedev command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jehrhardt/makedev/internal/cli/commands"
)

// Manager owns the root command and its registered subcommands
type Manager struct {
	rootCmd *cobra.Command
}

// New creates the CLI with all commands wired to the given factory
func New(f commands.Factory) *Manager {
	m := &Manager{rootCmd: createRootCommand()}

	for _, cmd := range commands.EnvironmentCommands(f) {
		m.rootCmd.AddCommand(cmd)
	}
	for _, cmd := range commands.ServerCommands(f) {
		m.rootCmd.AddCommand(cmd)
	}
	for _, cmd := range commands.ConfigCommands(f) {
		m.rootCmd.AddCommand(cmd)
	}

	return m
}

// ExecuteWithContext runs the CLI with the given arguments and context
func (m *Manager) ExecuteWithContext(ctx context.Context, args []string) error {
	m.rootCmd.SetArgs(args)
	return m.rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root command
func createRootCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "makedev",
		Short: "Ephemeral development environment orchestrator",
		Long: `makedev provisions isolated development environments: each one is a git
worktree on its own branch paired with a sandbox container built from the
worktree's contents. Environments are created, started, stopped and destroyed
as units, from the CLI or through the control-plane server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
}
