package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func newPlansCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "plans",
		Short: "Show the plan catalog and its limits",
		RunE: func(cmd *cobra.Command, args []string) error {
			plans, _, err := cmdCtx.loadCatalogs()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(plans.Slugs()))
			for _, slug := range plans.Slugs() {
				plan, ok := plans.Get(slug)
				if !ok {
					continue
				}
				rows = append(rows, []string{
					plan.Slug,
					plan.Label,
					strconv.Itoa(plan.Limits.DailyQaRuns),
					fmt.Sprintf("%d MB", plan.Limits.MaxFileSizeMB),
					yesNo(plan.Limits.AISummary),
					yesNo(plan.Limits.PDFExport),
					yesNo(plan.Limits.BatchEnabled),
					strings.Join(plan.Limits.Presets, ", "),
				})
			}
			headers := []string{"Plan", "Label", "Daily Runs", "Max File", "AI Summary", "PDF Export", "Batch", "Presets"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft, alignLeft, alignLeft, alignLeft}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
}

func newPresetsCommand(cmdCtx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "presets",
		Short: "Show the QA preset catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, presets, err := cmdCtx.loadCatalogs()
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(presets.Slugs()))
			for _, slug := range presets.Slugs() {
				preset, ok := presets.Get(slug)
				if !ok {
					continue
				}
				hoop := "-"
				if preset.HoopLimits.WidthMM > 0 && preset.HoopLimits.HeightMM > 0 {
					hoop = fmt.Sprintf("%.0f x %.0f mm", preset.HoopLimits.WidthMM, preset.HoopLimits.HeightMM)
				}
				rows = append(rows, []string{
					preset.Slug,
					preset.Label,
					hoop,
					strconv.Itoa(preset.Rules.MaxJumpCountFail),
					fmt.Sprintf("%.1f mm", preset.Rules.MinStitchLengthMMFail),
				})
			}
			headers := []string{"Preset", "Label", "Hoop", "Jump Fail", "Min Stitch Fail"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(headers, rows, aligns))
			return nil
		},
	}
}
