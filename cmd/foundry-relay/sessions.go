// ABOUTME: Admin commands for the durable session to thread mappings
// ABOUTME: List, prune and forget rows in the SQLite session store

package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/2389/foundry-relay/internal/config"
	"github.com/2389/foundry-relay/internal/store"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and prune stored session mappings",
	}
	cmd.AddCommand(sessionsListCmd())
	cmd.AddCommand(sessionsPruneCmd())
	cmd.AddCommand(sessionsForgetCmd())
	return cmd
}

// openStore opens the configured session store.
func openStore() (store.Store, error) {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cfg.Database.Path == "" {
		return nil, errors.New("database.path is not configured; sessions are kept in memory only")
	}
	s, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return s, nil
}

func sessionsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently used first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			rows, err := s.ListSessionThreads(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("listing sessions: %w", err)
			}
			return printSessions(cmd.OutOrStdout(), rows)
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum rows to show (0 for all)")
	return cmd
}

func printSessions(out io.Writer, rows []*store.SessionThread) error {
	if len(rows) == 0 {
		fmt.Fprintln(out, "no sessions")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, color.CyanString("SESSION")+"\t"+color.CyanString("THREAD")+"\t"+color.CyanString("CREATED")+"\t"+color.CyanString("LAST USED"))
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			r.SessionID,
			r.ThreadID,
			r.CreatedAt.Local().Format(time.DateTime),
			r.LastUsedAt.Local().Format(time.DateTime),
		)
	}
	return tw.Flush()
}

func sessionsPruneCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete sessions unused for a while",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			n, err := s.PruneSessionThreads(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return fmt.Errorf("pruning sessions: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "pruned %d session(s)\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "remove sessions not used within this duration")
	return cmd
}

func sessionsForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget SESSION_ID",
		Short: "Delete one session mapping so its next chat starts a new thread",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			err = s.DeleteSessionThread(cmd.Context(), args[0])
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("session %q not found", args[0])
			}
			if err != nil {
				return fmt.Errorf("deleting session: %w", err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "forgot session %s\n", args[0])
			return nil
		},
	}
}
