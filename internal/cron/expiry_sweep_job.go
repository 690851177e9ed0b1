package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/angelmondragon/entitlements-backend/internal/subscriptions"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// ExpirySweepJobName is the job label used in logs and metrics.
const ExpirySweepJobName = "expiry-sweep"

type expirySweeper interface {
	ProcessExpired(ctx context.Context) ([]subscriptions.SweepResult, error)
}

// ExpirySweepJobParams configures the expiry sweep job.
type ExpirySweepJobParams struct {
	Logger  *logger.Logger
	Sweeper expirySweeper
}

// NewExpirySweepJob builds the job that expires past-due subscriptions.
func NewExpirySweepJob(params ExpirySweepJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Sweeper == nil {
		return nil, fmt.Errorf("sweeper required")
	}
	return &expirySweepJob{logg: params.Logger, sweeper: params.Sweeper}, nil
}

type expirySweepJob struct {
	logg    *logger.Logger
	sweeper expirySweeper
}

func (j *expirySweepJob) Name() string { return ExpirySweepJobName }

// Run fails only when the batch itself could not run. Item failures stay
// ACTIVE and are picked up by the next cycle.
func (j *expirySweepJob) Run(ctx context.Context) error {
	results, err := j.sweeper.ProcessExpired(ctx)
	if err != nil {
		return fmt.Errorf("expiry sweep: %w", err)
	}

	var itemErrs error
	for _, result := range results {
		if result.Status != subscriptions.SweepStatusError {
			continue
		}
		itemErrs = multierr.Append(itemErrs, fmt.Errorf("subscription %s: %s", result.ID, result.Error))
	}

	counts := subscriptions.CountByStatus(results)
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"processed": len(results),
		"expired":   counts[subscriptions.SweepStatusExpired],
		"skipped":   counts[subscriptions.SweepStatusSkipped],
		"errors":    counts[subscriptions.SweepStatusError],
	})
	if itemErrs != nil {
		j.logg.WarnErr(logCtx, "expiry sweep finished with item errors", itemErrs)
		return nil
	}
	j.logg.Info(logCtx, "expiry sweep complete")
	return nil
}
