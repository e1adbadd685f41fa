package client

import (
	"github.com/spf13/cobra"
)

// NewAdminCommand groups operator commands: pause/resume forwarding,
// stream snapshots, framework cleanup.
func NewAdminCommand(baseURL BaseURLFunc) *cobra.Command {
	adminCmd := &cobra.Command{Use: "admin", Short: "Daemon administration"}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause forwarding of status updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := postJSON(baseURL()+"/v1/pause", map[string]any{})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	adminCmd.AddCommand(pauseCmd)

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume forwarding of status updates",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := postJSON(baseURL()+"/v1/resume", map[string]any{})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	adminCmd.AddCommand(resumeCmd)

	streamsCmd := &cobra.Command{
		Use:   "streams",
		Short: "List live status update streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getJSON(baseURL() + "/v1/streams")
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	adminCmd.AddCommand(streamsCmd)

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Close all streams of a framework",
		RunE: func(cmd *cobra.Command, args []string) error {
			framework, _ := cmd.Flags().GetString("framework")
			out, err := postJSON(baseURL()+"/v1/cleanup", map[string]any{"frameworkId": framework})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	cleanupCmd.Flags().String("framework", "", "Framework id (required)")
	_ = cleanupCmd.MarkFlagRequired("framework")
	adminCmd.AddCommand(cleanupCmd)

	return adminCmd
}

// NewArchiveCommand groups archive inspection commands.
func NewArchiveCommand(baseURL BaseURLFunc) *cobra.Command {
	archiveCmd := &cobra.Command{Use: "archive", Short: "Checkpoint archive operations"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List archived streams",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := getJSON(baseURL() + "/v1/archive/streams")
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	archiveCmd.AddCommand(listCmd)

	return archiveCmd
}
