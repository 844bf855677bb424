package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jehrhardt/makedev/internal/db"
	"github.com/jehrhardt/makedev/internal/engine"
)

// EnvironmentCommands creates the environment lifecycle commands
func EnvironmentCommands(f Factory) []*cobra.Command {
	return []*cobra.Command{
		createCommand(f),
		listCommand(f),
		startCommand(f),
		stopCommand(f),
		destroyCommand(f),
		statusCommand(f),
		execCommand(f),
	}
}

func createCommand(f Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a new environment",
		Long: `Create provisions an isolated environment: a git worktree on its own
branch plus a sandbox container built from the worktree. The environment is
ready to start when create returns.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			branch, _ := cmd.Flags().GetString("branch")
			baseBranch, _ := cmd.Flags().GetString("from")

			eng, err := f.Engine()
			if err != nil {
				return HandleError(err)
			}

			env, err := eng.Create(cmd.Context(), engine.CreateOptions{
				Name:       args[0],
				Branch:     branch,
				BaseBranch: baseBranch,
			})
			if err != nil {
				return HandleError(err)
			}

			fmt.Printf("Created environment %s on branch %s (%s)\n", env.Name, env.Branch, env.Status)
			return nil
		},
	}
	cmd.Flags().StringP("branch", "b", "", "Branch to check out (defaults to the environment name)")
	cmd.Flags().String("from", "", "Base branch to create the branch from (defaults to the configured default branch)")
	return cmd
}

func listCommand(f Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List environments",
		RunE: func(cmd *cobra.Command, args []string) error {
			statusFilter, _ := cmd.Flags().GetString("status")
			status := db.EnvironmentStatus(statusFilter)
			if status != "" && !status.Valid() {
				return fmt.Errorf("unknown status %q", statusFilter)
			}

			eng, err := f.Engine()
			if err != nil {
				return HandleError(err)
			}

			envs, err := eng.List(cmd.Context(), status)
			if err != nil {
				return HandleError(err)
			}
			if len(envs) == 0 {
				fmt.Println("No environments found")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tBRANCH\tSTATUS\tCREATED")
			for _, env := range envs {
				status := string(env.Status)
				if env.Status == db.StatusError && env.ErrorKind != "" {
					status = fmt.Sprintf("%s (%s)", env.Status, env.ErrorKind)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					env.Name, env.Branch, status, env.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringP("status", "s", "", "Only show environments with this status")
	return cmd
}

func startCommand(f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "start <name>",
		Short: "Start an environment's container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := f.Engine()
			if err != nil {
				return HandleError(err)
			}
			env, err := eng.Start(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			fmt.Printf("Environment %s is %s\n", env.Name, env.Status)
			return nil
		},
	}
}

func stopCommand(f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <name>",
		Short: "Stop an environment's container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := f.Engine()
			if err != nil {
				return HandleError(err)
			}
			env, err := eng.Stop(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}
			fmt.Printf("Environment %s is %s\n", env.Name, env.Status)
			return nil
		},
	}
}

func destroyCommand(f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "destroy <name>",
		Short: "Destroy an environment, its worktree and its container",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := f.Engine()
			if err != nil {
				return HandleError(err)
			}
			if err := eng.Destroy(cmd.Context(), args[0]); err != nil {
				return HandleError(err)
			}
			fmt.Printf("Destroyed environment %s\n", args[0])
			return nil
		},
	}
}

func statusCommand(f Factory) *cobra.Command {
	return &cobra.Command{
		Use:   "status <name>",
		Short: "Show an environment's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := f.Engine()
			if err != nil {
				return HandleError(err)
			}
			env, err := eng.Status(cmd.Context(), args[0])
			if err != nil {
				return HandleError(err)
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "Name:\t%s\n", env.Name)
			fmt.Fprintf(w, "Status:\t%s\n", env.Status)
			fmt.Fprintf(w, "Branch:\t%s (from %s)\n", env.Branch, env.BaseBranch)
			fmt.Fprintf(w, "Worktree:\t%s\n", env.WorktreePath)
			if env.ContainerID != "" {
				fmt.Fprintf(w, "Container:\t%s (%s)\n", env.ContainerName, env.ContainerID)
			}
			if env.Status == db.StatusError {
				fmt.Fprintf(w, "Error:\t%s: %s\n", env.ErrorKind, env.ErrorMessage)
			}
			fmt.Fprintf(w, "Created:\t%s\n", env.CreatedAt.Format(time.RFC3339))
			return w.Flush()
		},
	}
}

func execCommand(f Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "exec <name> -- <command> [args...]",
		Short: "Run a command inside a running environment",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			timeout, _ := cmd.Flags().GetDuration("timeout")

			eng, err := f.Engine()
			if err != nil {
				return HandleError(err)
			}

			result, err := eng.Exec(cmd.Context(), args[0], args[1:], timeout)
			if err != nil {
				return HandleError(err)
			}

			fmt.Print(result.Stdout)
			fmt.Fprint(os.Stderr, result.Stderr)
			if result.ExitCode != 0 {
				return &ExitCodeError{Code: result.ExitCode}
			}
			return nil
		},
	}
	cmd.Flags().DurationP("timeout", "t", 0, "Command timeout (defaults to the configured exec timeout)")
	return cmd
}
