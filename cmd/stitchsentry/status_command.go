package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stitchsentry/internal/config"
	"stitchsentry/internal/store"
)

func newStatusCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Summarize the QA run queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Database: %s\n", cfg.DatabasePath())
				fmt.Fprintf(out, "API bind: %s\n\n", cfg.Paths.APIBind)

				rows := make([][]string, 0, 4)
				for _, status := range []store.Status{store.StatusQueued, store.StatusRunning, store.StatusCompleted, store.StatusFailed} {
					runs, err := st.RunsByStatus(ctx, status)
					if err != nil {
						return fmt.Errorf("count %s runs: %w", status, err)
					}
					rows = append(rows, []string{string(status), strconv.Itoa(len(runs))})
				}
				fmt.Fprintln(out, renderTable([]string{"Status", "Runs"}, rows, []columnAlignment{alignLeft, alignRight}))
				return nil
			})
		},
	}
}
