package main

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/entitlements-backend/internal/plans"
	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
)

type planUpserter interface {
	Upsert(ctx context.Context, input plans.CreateInput) (*models.Plan, bool, error)
}

func defaultCatalog() []plans.CreateInput {
	return []plans.CreateInput{
		{
			Name:         "Basic",
			Price:        decimal.RequireFromString("9.99"),
			DurationDays: 30,
			Features:     []string{"core-access", "email-support"},
		},
		{
			Name:         "Pro",
			Price:        decimal.RequireFromString("29.99"),
			DurationDays: 30,
			Features:     []string{"core-access", "priority-support", "advanced-reports"},
		},
		{
			Name:         "Enterprise",
			Price:        decimal.RequireFromString("99.99"),
			DurationDays: 30,
			Features:     []string{"core-access", "dedicated-support", "advanced-reports", "sso", "audit-log"},
		},
	}
}

func seedPlans(ctx context.Context, svc planUpserter, out io.Writer) error {
	for _, input := range defaultCatalog() {
		plan, created, err := svc.Upsert(ctx, input)
		if err != nil {
			return fmt.Errorf("seed %s: %w", input.Name, err)
		}
		verb := "updated"
		if created {
			verb = "created"
		}
		fmt.Fprintf(out, "%s %s (%s) %s/%dd\n", verb, plan.Name, plan.ID, plan.Price.StringFixed(2), plan.DurationDays)
	}
	return nil
}

func newSeedPlansCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-plans",
		Short: "Create or refresh the default plan catalog",
		RunE: func(cmd *cobra.Command, _ []string) (err error) {
			a, err := state.open(cmd.Context())
			if err != nil {
				return err
			}
			defer func() {
				if closeErr := a.close(); closeErr != nil && err == nil {
					err = closeErr
				}
			}()
			return seedPlans(cmd.Context(), a.services.Plans, cmd.OutOrStdout())
		},
	}
}
