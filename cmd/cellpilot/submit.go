package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"
)

var submitCmd = &cobra.Command{
	Use:   "submit <text>",
	Short: "Submit prefixed cell text as a prompt",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if strings.TrimSpace(text) == "" {
			return errors.New("empty submission")
		}

		var resp struct {
			RequestID string `json:"request_id"`
			SessionID string `json:"session_id"`
		}
		if err := newClient().post("/api/submit", map[string]string{"text": text}, &resp); err != nil {
			return err
		}
		cmd.Printf("request %s queued on session %s\n", resp.RequestID, resp.SessionID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
}
