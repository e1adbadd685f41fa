package client

import (
	"github.com/spf13/cobra"
)

// BaseURLFunc resolves the daemon API base URL at call time.
type BaseURLFunc func() string

// NewRoot constructs a root Cobra command registering every client
// command group.
func NewRoot(baseURL BaseURLFunc) *cobra.Command {
	root := &cobra.Command{
		Use:   "relay",
		Short: "Relay client commands",
	}
	root.AddCommand(NewStatusCommand(baseURL))
	root.AddCommand(NewAdminCommand(baseURL))
	root.AddCommand(NewArchiveCommand(baseURL))
	root.AddCommand(NewCheckpointCommand())
	return root
}
