package client

import (
	"github.com/spf13/cobra"
)

// NewStatusCommand groups the producer/consumer-facing commands: submit
// an update, acknowledge one.
func NewStatusCommand(baseURL BaseURLFunc) *cobra.Command {
	statusCmd := &cobra.Command{Use: "status", Short: "Status update operations"}

	updateCmd := &cobra.Command{
		Use:   "update",
		Short: "Submit a status update on a stream",
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID, _ := cmd.Flags().GetString("stream")
			taskID, _ := cmd.Flags().GetString("task")
			framework, _ := cmd.Flags().GetString("framework")
			state, _ := cmd.Flags().GetString("state")
			message, _ := cmd.Flags().GetString("message")
			checkpoint, _ := cmd.Flags().GetBool("checkpoint")

			update := map[string]any{
				"taskId":  taskID,
				"state":   state,
				"message": message,
			}
			if framework != "" {
				update["frameworkId"] = framework
			}
			out, err := postJSON(baseURL()+"/v1/updates", map[string]any{
				"streamId":   streamID,
				"checkpoint": checkpoint,
				"update":     update,
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	updateCmd.Flags().String("stream", "", "Stream id (required)")
	updateCmd.Flags().String("task", "", "Task id")
	updateCmd.Flags().String("framework", "", "Framework id")
	updateCmd.Flags().String("state", "RUNNING", "Task state")
	updateCmd.Flags().String("message", "", "Human-readable message")
	updateCmd.Flags().Bool("checkpoint", true, "Checkpoint the stream to disk")
	_ = updateCmd.MarkFlagRequired("stream")
	statusCmd.AddCommand(updateCmd)

	ackCmd := &cobra.Command{
		Use:   "ack",
		Short: "Acknowledge a status update",
		RunE: func(cmd *cobra.Command, args []string) error {
			streamID, _ := cmd.Flags().GetString("stream")
			id, _ := cmd.Flags().GetString("uuid")
			out, err := postJSON(baseURL()+"/v1/acks", map[string]any{
				"streamId": streamID,
				"uuid":     id,
			})
			if err != nil {
				return err
			}
			printJSON(out)
			return nil
		},
	}
	ackCmd.Flags().String("stream", "", "Stream id (required)")
	ackCmd.Flags().String("uuid", "", "Status update UUID (required)")
	_ = ackCmd.MarkFlagRequired("stream")
	_ = ackCmd.MarkFlagRequired("uuid")
	statusCmd.AddCommand(ackCmd)

	return statusCmd
}
