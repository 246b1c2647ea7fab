package main

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/cellpilot/cellpilot"
)

var statusCmd = &cobra.Command{
	Use:   "status [session-id]",
	Short: "Show one session's state, queue and recent transcript",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		id := ""
		if len(args) == 1 {
			id = args[0]
		} else {
			var snaps []cellpilot.SessionSnapshot
			if err := client.get("/api/sessions", &snaps); err != nil {
				return err
			}
			if len(snaps) == 0 {
				return errors.New("no sessions")
			}
			id = snaps[0].ID
		}

		var snap cellpilot.SessionSnapshot
		if err := client.get("/api/sessions/"+id, &snap); err != nil {
			return err
		}

		cmd.Printf("Session: %s\n", idStyle.Render(snap.ID))
		cmd.Printf("Kind: %s\n", snap.Kind)
		cmd.Printf("State: %s\n", renderState(snap.State))
		cmd.Printf("Mode: %s\n", snap.Mode)
		cmd.Printf("Queued: %d\n", snap.QueueDepth)
		if snap.InFlight != nil {
			cmd.Printf("In flight: %s\n", snap.InFlight.ID)
		}
		cmd.Printf("Last active: %s\n", snap.LastActive.Format(time.RFC3339))

		if len(snap.Transcript) > 0 {
			cmd.Println()
			cmd.Println(headerStyle.Render("Recent transcript"))
			for _, entry := range snap.Transcript {
				switch entry.Kind {
				case cellpilot.EntryAction:
					kind := ""
					if entry.Action != nil {
						kind = string(entry.Action.Kind)
					}
					cmd.Printf("  %s action: %s\n", dimStyle.Render(entry.Timestamp.Format("15:04:05")), kind)
				case cellpilot.EntryError:
					cmd.Printf("  %s error: %s\n", dimStyle.Render(entry.Timestamp.Format("15:04:05")), entry.Content)
				default:
					cmd.Printf("  %s %s\n", dimStyle.Render(entry.Timestamp.Format("15:04:05")), entry.Content)
				}
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
