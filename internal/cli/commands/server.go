package commands

import (
	"github.com/spf13/cobra"
)

// ServerCommands creates the control-plane server command
func ServerCommands(f Factory) []*cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the control-plane server",
		Long: `Server runs the control plane: a REST API mirroring the CLI commands and
a WebSocket endpoint for agent sessions. It blocks until interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := f.Config()
			if host, _ := cmd.Flags().GetString("host"); host != "" {
				cfg.Server.Host = host
			}
			if port, _ := cmd.Flags().GetInt("port"); port != 0 {
				cfg.Server.Port = port
			}

			srv, err := f.Server()
			if err != nil {
				return HandleError(err)
			}
			return srv.Start(cmd.Context())
		},
	}
	cmd.Flags().String("host", "", "Bind address (overrides configuration)")
	cmd.Flags().IntP("port", "p", 0, "Port (overrides configuration)")
	return []*cobra.Command{cmd}
}
