package main

import (
	"github.com/spf13/cobra"
)

var stopCmd = &cobra.Command{
	Use:   "stop <session-id>",
	Short: "Terminate a session's process and cancel its queue",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().post("/api/sessions/"+args[0]+"/stop", nil, nil); err != nil {
			return err
		}
		cmd.Printf("session %s stopped\n", args[0])
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <session-id>",
	Short: "Respawn a stopped or crashed session from its resume token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().post("/api/sessions/"+args[0]+"/resume", nil, nil); err != nil {
			return err
		}
		cmd.Printf("session %s resumed\n", args[0])
		return nil
	},
}

var destroyCmd = &cobra.Command{
	Use:   "destroy <session-id>",
	Short: "Stop a session and remove it from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := newClient().del("/api/sessions/" + args[0]); err != nil {
			return err
		}
		cmd.Printf("session %s destroyed\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(destroyCmd)
}
