package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	statePath  string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "paperfeed",
	Short: "Daily literature digest pipeline",
	Long: `paperfeed tracks a fixed set of journal and preprint feeds, ranks new
publications against a research profile, summarizes the best ones and
delivers the digest by email. It is designed to run unattended under an
external scheduler (cron, systemd timer) once per day.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// Secrets may live in a .env file next to the binary.
		_ = godotenv.Load()

		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "paperfeed.yaml", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "override the state file path")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	rootCmd.AddCommand(runCmd, initCmd, stateCmd, runsCmd, versionCmd)
	stateCmd.AddCommand(stateShowCmd, statePruneCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
