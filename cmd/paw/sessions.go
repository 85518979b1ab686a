package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hujiyo/Paw-sub000/internal/config"
	"github.com/hujiyo/Paw-sub000/internal/session"
)

// buildSessionsCmd creates the "sessions" command group for inspecting and
// pruning saved sessions outside of the interactive loop.
func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List, inspect, and remove saved sessions",
	}
	cmd.AddCommand(
		buildSessionsListCmd(),
		buildSessionsShowCmd(),
		buildSessionsRmCmd(),
	)
	return cmd
}

func openSessionManager(cmd *cobra.Command) (*session.Manager, func(), error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, closeStore, err := buildSessionStore(cmd.Context(), cfg.Session)
	if err != nil {
		return nil, nil, fmt.Errorf("build session store: %w", err)
	}
	return session.NewManager(store), closeStore, nil
}

func buildSessionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List saved sessions, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeStore, err := openSessionManager(cmd)
			if err != nil {
				return err
			}
			defer closeStore()
			summaries, err := mgr.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			for _, s := range summaries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-30s  %s  messages=%d tokens=%d\n",
					s.SessionID, s.Title, s.Timestamp.Format("2006-01-02 15:04"), s.MessageCount, s.TokenCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of sessions to list (0 = unbounded)")
	return cmd
}

func buildSessionsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a saved session's chunks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeStore, err := openSessionManager(cmd)
			if err != nil {
				return err
			}
			defer closeStore()
			store, snap, ok, err := mgr.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("no such session: %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  workspace=%s model=%s\n", snap.SessionID, snap.Title, snap.WorkspaceDir, snap.Model)
			for i, c := range store.Chunks() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d [%s] %s\n", i, c.Kind, c.Content)
			}
			return nil
		},
	}
	return cmd
}

func buildSessionsRmCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a saved session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, closeStore, err := openSessionManager(cmd)
			if err != nil {
				return err
			}
			defer closeStore()
			if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	return cmd
}
