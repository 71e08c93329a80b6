// Package app assembles the depi-server CLI, grounded on the teacher's
// cmd/apiserver/app: a cobra root command with a serve subcommand.
package app

import (
	"github.com/spf13/cobra"
)

// Root builds the top-level depi-server command.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "depi-server",
		Short: "Serves the Depi dependency registry and change-propagation gRPC service",
	}
	cmd.AddCommand(serve())
	cmd.AddCommand(version())
	return cmd
}
