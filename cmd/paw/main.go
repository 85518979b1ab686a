// Command paw runs the interactive agent kernel: a stdio presentation
// adapter driving the Turn Engine, Chunk Store, Tool Registry, Shell
// Subsystem, Recall Engine, Branch Engine, and Session Manager.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "paw",
		Short:        "paw - an interactive agent kernel",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", defaultConfigPath(), "path to YAML configuration file")
	root.AddCommand(
		buildServeCmd(),
		buildSessionsCmd(),
		buildDoctorCmd(),
	)
	return root
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "paw.yaml"
	}
	return fmt.Sprintf("%s/.paw/paw.yaml", home)
}
