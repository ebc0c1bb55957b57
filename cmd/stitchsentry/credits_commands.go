package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stitchsentry/internal/billing"
	"stitchsentry/internal/config"
	"stitchsentry/internal/logging"
	"stitchsentry/internal/store"
)

func newCreditsCommand(ctx *commandContext) *cobra.Command {
	creditsCmd := &cobra.Command{
		Use:   "credits",
		Short: "Manage the credits ledger",
	}
	creditsCmd.AddCommand(newCreditsBalanceCommand(ctx))
	creditsCmd.AddCommand(newCreditsHistoryCommand(ctx))
	creditsCmd.AddCommand(newCreditsGrantCommand(ctx))
	creditsCmd.AddCommand(newCreditsDebitCommand(ctx))
	return creditsCmd
}

func (c *commandContext) creditsService(st *store.Store) (*billing.CreditsService, error) {
	plans, _, err := c.loadCatalogs()
	if err != nil {
		return nil, err
	}
	return billing.NewCreditsService(st, plans, logging.NewNop()), nil
}

func newCreditsBalanceCommand(cmdCtx *commandContext) *cobra.Command {
	var orgID string

	cmd := &cobra.Command{
		Use:   "balance",
		Short: "Show the current credit balance",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org is required")
			}
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st *store.Store) error {
				credits, err := cmdCtx.creditsService(st)
				if err != nil {
					return err
				}
				balance, err := credits.Balance(ctx, orgID)
				if err != nil {
					return fmt.Errorf("load balance: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Balance for %s: %d credits\n", orgID, balance)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	return cmd
}

func newCreditsHistoryCommand(cmdCtx *commandContext) *cobra.Command {
	var orgID string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" {
				return fmt.Errorf("--org is required")
			}
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st *store.Store) error {
				credits, err := cmdCtx.creditsService(st)
				if err != nil {
					return err
				}
				entries, err := credits.History(ctx, orgID, limit)
				if err != nil {
					return fmt.Errorf("load history: %w", err)
				}
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "No ledger entries")
					return nil
				}
				rows := make([][]string, 0, len(entries))
				for _, entry := range entries {
					amount := fmt.Sprintf("+%d", entry.Amount)
					if entry.EntryType == store.EntryDebit {
						amount = fmt.Sprintf("-%d", entry.Amount)
					}
					rows = append(rows, []string{
						entry.CreatedAt.Local().Format(time.DateTime),
						entry.EntryType,
						amount,
						entry.Reason,
						entry.IdempotencyKey,
					})
				}
				headers := []string{"Created", "Type", "Amount", "Reason", "Key"}
				aligns := []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
				fmt.Fprintln(out, renderTable(headers, rows, aligns))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of entries to show")
	return cmd
}

func newCreditsGrantCommand(cmdCtx *commandContext) *cobra.Command {
	var orgID, reason, key string
	var amount int

	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Grant credits to an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" || amount <= 0 {
				return fmt.Errorf("--org and a positive --amount are required")
			}
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st *store.Store) error {
				credits, err := cmdCtx.creditsService(st)
				if err != nil {
					return err
				}
				entry, err := credits.Grant(ctx, orgID, amount, reason, "", key)
				if err != nil {
					return fmt.Errorf("grant credits: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Granted %d credits to %s (key %s)\n", entry.Amount, orgID, entry.IdempotencyKey)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	cmd.Flags().IntVar(&amount, "amount", 0, "Number of credits to grant")
	cmd.Flags().StringVar(&reason, "reason", "manual grant", "Reason recorded in the ledger")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key for the grant (generated when empty)")
	return cmd
}

func newCreditsDebitCommand(cmdCtx *commandContext) *cobra.Command {
	var orgID, action, key string

	cmd := &cobra.Command{
		Use:   "debit",
		Short: "Debit credits for a billable action",
		RunE: func(cmd *cobra.Command, args []string) error {
			if orgID == "" || action == "" {
				return fmt.Errorf("--org and --action are required")
			}
			return cmdCtx.withStore(cmd.Context(), func(ctx context.Context, _ *config.Config, st *store.Store) error {
				plans, _, err := cmdCtx.loadCatalogs()
				if err != nil {
					return err
				}
				if plans.CreditCost(action) <= 0 {
					return fmt.Errorf("unknown billable action %q", action)
				}
				credits := billing.NewCreditsService(st, plans, logging.NewNop())
				entry, err := credits.DebitForAction(ctx, orgID, action, key)
				if err != nil {
					return fmt.Errorf("debit credits: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Debited %d credits from %s for %s\n", entry.Amount, orgID, action)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&orgID, "org", "", "Organization id")
	cmd.Flags().StringVar(&action, "action", "", "Billable action name")
	cmd.Flags().StringVar(&key, "key", "", "Idempotency key for the debit (generated when empty)")
	return cmd
}
