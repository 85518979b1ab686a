package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/hujiyo/Paw-sub000/internal/config"
)

// buildDoctorCmd creates the "doctor" command, which checks that the config
// JSON Schema can be generated, loads and validates the configuration, and
// checks that the workspace and session backend are reachable.
func buildDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Validate configuration and check backend reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			return runDoctor(cmd, configPath)
		},
	}
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	if _, err := config.JSONSchema(); err != nil {
		return fmt.Errorf("generate config schema: %w", err)
	}
	fmt.Fprintln(out, "[ok] config schema generated")

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(out, "[fail] config: %v\n", err)
		return err
	}
	fmt.Fprintf(out, "[ok] config loaded from %s (version %d)\n", configPath, cfg.Version)

	if info, err := os.Stat(cfg.Workspace.Root); err != nil || !info.IsDir() {
		fmt.Fprintf(out, "[fail] workspace root %q is not a readable directory\n", cfg.Workspace.Root)
	} else {
		fmt.Fprintf(out, "[ok] workspace root %q\n", cfg.Workspace.Root)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	store, closeStore, err := buildSessionStore(ctx, cfg.Session)
	if err != nil {
		fmt.Fprintf(out, "[fail] session backend %q: %v\n", cfg.Session.Backend, err)
		return err
	}
	defer closeStore()
	if _, err := store.List(ctx, 1); err != nil {
		fmt.Fprintf(out, "[fail] session backend %q unreachable: %v\n", cfg.Session.Backend, err)
		return err
	}
	fmt.Fprintf(out, "[ok] session backend %q reachable\n", cfg.Session.Backend)

	if cfg.LLM.Endpoint == "" {
		fmt.Fprintln(out, "[fail] llm.endpoint is not set")
	} else {
		fmt.Fprintf(out, "[ok] llm endpoint configured: %s\n", cfg.LLM.Endpoint)
	}

	return nil
}
