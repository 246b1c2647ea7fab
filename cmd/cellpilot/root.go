package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// defaultAddr is where serve listens and the client commands connect.
const defaultAddr = "127.0.0.1:8732"

var (
	flagAddr    string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "cellpilot",
	Short: "Orchestrate AI agent sessions from notebook cells",
	Long: `cellpilot runs agent CLI processes (codex, claude, gemini) on behalf of a
notebook frontend. Cells whose first token is a routing prefix are submitted
as prompts; agent output streams back as events and agent-requested cell
mutations are bridged to the notebook over a comm channel.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if flagVerbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagAddr, "addr", defaultAddr, "control API address")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
}

// execute runs the root command. Exits with code 1 on error.
func execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
