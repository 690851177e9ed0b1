package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
)

func newSweepOnceCmd(state *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-once",
		Short: "Expire every subscription past its end date and print the results",
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

			results, err := a.services.Subscriptions.ProcessExpired(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range results {
				line := fmt.Sprintf("%s\t%s\t%s", r.ID, r.UserID, r.Status)
				if r.Error != "" {
					line += "\t" + r.Error
				}
				fmt.Fprintln(out, line)
			}
			counts := subscriptions.CountByStatus(results)
			fmt.Fprintf(out, "processed=%d expired=%d skipped=%d error=%d\n",
				len(results),
				counts[subscriptions.SweepStatusExpired],
				counts[subscriptions.SweepStatusSkipped],
				counts[subscriptions.SweepStatusError],
			)
			return nil
		},
	}
}
