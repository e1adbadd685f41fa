package client

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/rzbill/relay/internal/statusupdate"
	"github.com/rzbill/relay/internal/taskstatus"
)

// inspectEntry is one printed record of a checkpoint file.
type inspectEntry struct {
	Seq    int                    `json:"seq"`
	Type   string                 `json:"type"`
	Update *taskstatus.TaskStatus `json:"update,omitempty"`
	UUID   string                 `json:"uuid,omitempty"`
	Acked  bool                   `json:"acked,omitempty"`
}

// NewCheckpointCommand groups offline checkpoint file tooling.
func NewCheckpointCommand() *cobra.Command {
	checkpointCmd := &cobra.Command{Use: "checkpoint", Short: "Checkpoint file tooling"}

	inspectCmd := &cobra.Command{
		Use:   "inspect <file>",
		Short: "Decode a checkpoint file record by record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			filterExpr, _ := cmd.Flags().GetString("filter")
			filter, err := newCELFilter(filterExpr)
			if err != nil {
				return fmt.Errorf("invalid --filter: %w", err)
			}
			entries, torn, err := inspectFile(args[0], filter)
			if err != nil {
				return err
			}
			printJSON(map[string]any{"records": entries, "tornTail": torn})
			return nil
		},
	}
	inspectCmd.Flags().String("filter", "", "CEL expression over update records, e.g. 'state == \"FAILED\" && !acked'")
	checkpointCmd.AddCommand(inspectCmd)

	return checkpointCmd
}

// inspectFile decodes every frame of a checkpoint file, tracking which
// updates were acknowledged by later ACK records. It reports whether a
// torn tail was encountered.
func inspectFile(path string, filter celFilter) ([]inspectEntry, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, err
	}

	var entries []inspectEntry
	var pending []int // indexes into entries of unacked updates
	offset := 0
	seq := 0
	torn := false
	for {
		rec, n, err := statusupdate.DecodeFrame(data[offset:])
		if err == io.EOF {
			break
		}
		if err != nil {
			torn = true
			break
		}
		seq++
		switch {
		case rec.IsUpdate():
			u, err := (taskstatus.Codec{}).UnmarshalUpdate(rec.Update)
			if err != nil {
				return nil, false, fmt.Errorf("decoding update record %d: %w", seq, err)
			}
			ts := u.(*taskstatus.TaskStatus)
			entries = append(entries, inspectEntry{Seq: seq, Type: rec.TypeString(), Update: ts})
			pending = append(pending, len(entries)-1)
		case rec.IsAck():
			var id uuid.UUID
			copy(id[:], rec.UUID)
			entries = append(entries, inspectEntry{Seq: seq, Type: rec.TypeString(), UUID: id.String()})
			if len(pending) > 0 {
				entries[pending[0]].Acked = true
				pending = pending[1:]
			}
		}
		offset += n
	}

	if !filter.enabled {
		return entries, torn, nil
	}
	filtered := make([]inspectEntry, 0, len(entries))
	for _, e := range entries {
		if e.Update == nil {
			continue
		}
		if filter.Eval(map[string]any{
			"taskId":      e.Update.TaskID,
			"frameworkId": e.Update.Framework,
			"state":       string(e.Update.State),
			"message":     e.Update.Message,
			"uuid":        e.Update.UUID.String(),
			"terminal":    e.Update.Terminal(),
			"acked":       e.Acked,
		}) {
			filtered = append(filtered, e)
		}
	}
	return filtered, torn, nil
}
