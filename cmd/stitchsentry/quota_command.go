package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"stitchsentry/internal/billing"
	"stitchsentry/internal/config"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/store"
)

func newQuotaCommand(cmdCtx *commandContext) *cobra.Command {
	var orgID, preset string
	var sizeBytes int64

	cmd := &cobra.Command{
		Use:   "quota",
		Short: "Check whether an organization may start a QA run",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org is required")
			}
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, cfg *config.Config, st *store.Store) error {
				plans, presets, err := cmdCtx.loadCatalogs()
				if err != nil {
					return err
				}
				if preset != "" && !presets.Known(preset) {
					return fmt.Errorf("unknown preset %q", preset)
				}

				resolver := billing.NewPlanResolver(st, plans, cfg, logging.NewNop())
				gate := billing.NewFeatureGate(st, cfg)
				plan := resolver.Resolve(ctx, orgID)

				decision := billing.Decision{Allowed: true}
				if preset != "" {
					decision = gate.CheckPreset(plan, preset)
				}
				if decision.Allowed && sizeBytes > 0 {
					decision = gate.CheckFileSize(plan, sizeBytes)
				}
				if decision.Allowed {
					decision, err = gate.CanStartRunToday(ctx, orgID, plan)
					if err != nil {
						return fmt.Errorf("quota check: %w", err)
					}
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Plan:           %s\n", titleLabel(plan.Slug))
				fmt.Fprintf(out, "Daily QA runs:  %d\n", plan.Limits.DailyQaRuns)
				fmt.Fprintf(out, "Max file size:  %d MB\n", plan.Limits.MaxFileSizeMB)
				if decision.Allowed {
					fmt.Fprintln(out, "Allowed:        yes")
					return nil
				}
				fmt.Fprintln(out, "Allowed:        no")
				fmt.Fprintf(out, "Reason:         %s: %s\n", decision.Code, decision.Message)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	cmd.Flags().StringVar(&preset, "preset", "", "QA preset to check against the plan")
	cmd.Flags().Int64Var(&sizeBytes, "size-bytes", 0, "Design file size to check against the plan")
	return cmd
}
