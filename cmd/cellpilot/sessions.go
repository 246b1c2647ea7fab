package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/cellpilot/cellpilot"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("33"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	stateStyles = map[cellpilot.SessionState]lipgloss.Style{
		cellpilot.StateIdle:            lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		cellpilot.StateStarting:        lipgloss.NewStyle().Foreground(lipgloss.Color("178")),
		cellpilot.StateRunning:         lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true),
		cellpilot.StateWaitingApproval: lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true),
		cellpilot.StateStopped:         lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		cellpilot.StateCrashed:         lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		cellpilot.StateFailed:          lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

func renderState(s cellpilot.SessionState) string {
	if style, ok := stateStyles[s]; ok {
		return style.Render(string(s))
	}
	return string(s)
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List sessions, most recently active first",
	RunE: func(cmd *cobra.Command, args []string) error {
		var snaps []cellpilot.SessionSnapshot
		if err := newClient().get("/api/sessions", &snaps); err != nil {
			return err
		}
		if len(snaps) == 0 {
			cmd.Println(dimStyle.Render("no sessions"))
			return nil
		}

		cmd.Println(headerStyle.Render(fmt.Sprintf("%-36s  %-8s  %-16s  %-10s  %5s  %s",
			"SESSION", "KIND", "STATE", "MODE", "QUEUE", "LAST ACTIVE")))
		for _, s := range snaps {
			cmd.Printf("%s  %-8s  %-16s  %-10s  %5d  %s\n",
				idStyle.Render(fmt.Sprintf("%-36s", s.ID)),
				s.Kind,
				renderState(s.State),
				s.Mode,
				s.QueueDepth,
				dimStyle.Render(s.LastActive.Format(time.RFC3339)),
			)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
