package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stitchsentry/internal/config"
	"stitchsentry/internal/store"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect QA runs",
	}
	runsCmd.AddCommand(newRunsListCommand(ctx))
	runsCmd.AddCommand(newRunsShowCommand(ctx))
	return runsCmd
}

func newRunsListCommand(cmdCtx *commandContext) *cobra.Command {
	var orgID string
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List QA runs for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org is required")
			}
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st *store.Store) error {
				runs, err := st.ListRuns(ctx, orgID, limit)
				if err != nil {
					return fmt.Errorf("list runs: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(runs) == 0 {
					fmt.Fprintln(out, "No runs found")
					return nil
				}
				colorize := shouldColorize(out)
				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						strconv.FormatInt(run.ID, 10),
						statusCell(run.Status, colorize),
						string(run.Stage),
						fmt.Sprintf("%d%%", run.ProgressPercent),
						titleLabel(run.PresetSlug),
						formatScore(run.Score),
						run.RiskLevel,
						run.CreatedAt.Local().Format(time.DateTime),
					})
				}
				headers := []string{"ID", "Status", "Stage", "Progress", "Preset", "Score", "Risk", "Created"}
				aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of runs to list")
	return cmd
}

func newRunsShowCommand(cmdCtx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one QA run with its findings and artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("run id must be a positive integer")
			}
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st *store.Store) error {
				run, err := st.GetRun(ctx, id)
				if err != nil {
					return fmt.Errorf("load run: %w", err)
				}
				if run == nil {
					return fmt.Errorf("run %d not found", id)
				}
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				fmt.Fprintf(out, "Run %d (%s)\n", run.ID, statusCell(run.Status, colorize))
				fmt.Fprintf(out, "  Organization: %s\n", run.OrganizationID)
				fmt.Fprintf(out, "  Preset:       %s\n", titleLabel(run.PresetSlug))
				fmt.Fprintf(out, "  Plan:         %s\n", titleLabel(run.PlanSlug))
				fmt.Fprintf(out, "  Stage:        %s (%d%%)\n", run.Stage, run.ProgressPercent)
				if run.ProgressMessage != "" {
					fmt.Fprintf(out, "  Message:      %s\n", run.ProgressMessage)
				}
				if run.Score != nil {
					fmt.Fprintf(out, "  Score:        %d (%s risk)\n", *run.Score, run.RiskLevel)
				}
				if run.ErrorCode != "" {
					fmt.Fprintf(out, "  Error:        %s: %s (support id %s)\n", run.ErrorCode, run.ErrorMessage, run.SupportID)
				}

				findings, err := st.ListFindings(ctx, run.ID)
				if err != nil {
					return fmt.Errorf("list findings: %w", err)
				}
				if len(findings) > 0 {
					rows := make([][]string, 0, len(findings))
					for _, finding := range findings {
						rows = append(rows, []string{
							severityCell(finding.Severity, colorize),
							finding.RuleKey,
							finding.Title,
							finding.Detail,
						})
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable([]string{"Severity", "Rule", "Title", "Detail"}, rows, nil))
				}

				artifacts, err := st.ListArtifacts(ctx, run.ID)
				if err != nil {
					return fmt.Errorf("list artifacts: %w", err)
				}
				if len(artifacts) > 0 {
					rows := make([][]string, 0, len(artifacts))
					for _, artifact := range artifacts {
						rows = append(rows, []string{artifact.Kind, artifact.Path})
					}
					fmt.Fprintln(out)
					fmt.Fprintln(out, renderTable([]string{"Artifact", "Path"}, rows, nil))
				}
				return nil
			})
		},
	}
	return cmd
}

func formatScore(score *int) string {
	if score == nil {
		return "-"
	}
	return strconv.Itoa(*score)
}
