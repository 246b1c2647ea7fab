package main

import (
	"github.com/spf13/cobra"

	"github.com/cellpilot/cellpilot"
)

var modeCmd = &cobra.Command{
	Use:   "mode [name]",
	Short: "Show or change the active mode",
	Long: `Without arguments, lists the known modes and marks the active one.
With a name, selects that mode for sessions created afterwards; live
sessions keep the mode they started with.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newClient()

		if len(args) == 1 {
			if err := client.post("/api/mode", map[string]string{"name": args[0]}, nil); err != nil {
				return err
			}
			cmd.Printf("mode set to %s\n", args[0])
			return nil
		}

		var resp struct {
			Current string                 `json:"current"`
			Modes   []cellpilot.ModeConfig `json:"modes"`
		}
		if err := client.get("/api/mode", &resp); err != nil {
			return err
		}
		for _, m := range resp.Modes {
			marker := "  "
			if m.Name == resp.Current {
				marker = headerStyle.Render("* ")
			}
			agents := "all agents"
			if len(m.Agents) > 0 {
				agents = ""
				for i, k := range m.Agents {
					if i > 0 {
						agents += ", "
					}
					agents += string(k)
				}
			}
			cmd.Printf("%s%-12s %s\n", marker, m.Name, dimStyle.Render(agents))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(modeCmd)
}
