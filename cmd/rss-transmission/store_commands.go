package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"rss_transmission/internal/runlock"
)

const timeFormat = "2006-01-02 15:04"

func newRetriesCommand(ctx *commandContext) *cobra.Command {
	retriesCmd := &cobra.Command{
		Use:   "retries",
		Short: "Inspect or clear the retry queue",
	}
	retriesCmd.AddCommand(newRetriesListCommand(ctx))
	retriesCmd.AddCommand(newRetriesClearCommand(ctx))
	return retriesCmd
}

func newRetriesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show submissions waiting to be retried",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.ListRetries(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "Retry queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				rows = append(rows, []string{
					e.Title,
					e.Feed,
					strconv.Itoa(e.Attempts),
					truncate(e.LastError, 60),
					formatTime(e.UpdatedAt),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"Title", "Feed", "Attempts", "Last error", "Updated"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
			))
			return nil
		},
	}
}

func newRetriesClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Drop every entry from the retry queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			lock, err := runlock.Acquire(runlock.PathFor(cfg.Persistence.Path))
			if err != nil {
				return err
			}
			defer func() { _ = lock.Release() }()

			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			n, err := store.ClearRetries(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d retry %s\n", n, plural(n, "entry", "entries"))
			return nil
		},
	}
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect submitted torrents",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show the most recent successful submissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := ctx.openStore(cfg)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.ListHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "No torrents submitted yet")
				return nil
			}

			rows := make([][]string, 0, len(entries))
			for _, e := range entries {
				title := e.Title
				if strings.TrimSpace(title) == "" {
					title = e.Link
				}
				rows = append(rows, []string{formatTime(e.SubmittedAt), title})
			}
			fmt.Fprintln(out, renderTable([]string{"Submitted", "Title"}, rows, nil))
			return nil
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of entries to show (0 for all)")

	historyCmd.AddCommand(listCmd)
	return historyCmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(timeFormat)
}

func plural(n int64, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
