package subscriptions

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/angelmondragon/entitlements-backend/pkg/db/models"
	"github.com/angelmondragon/entitlements-backend/pkg/enums"
	"github.com/angelmondragon/entitlements-backend/pkg/retry"
)

// SweepStatus is the per-item result of an expiry sweep.
type SweepStatus string

const (
	SweepStatusExpired SweepStatus = "expired"
	SweepStatusSkipped SweepStatus = "skipped"
	SweepStatusError   SweepStatus = "error"
)

// SweepResult reports what happened to one candidate.
type SweepResult struct {
	ID     uuid.UUID   `json:"id"`
	UserID string      `json:"userId"`
	Status SweepStatus `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// CountByStatus tallies sweep results.
func CountByStatus(results []SweepResult) map[SweepStatus]int {
	return lo.CountValuesBy(results, func(r SweepResult) SweepStatus { return r.Status })
}

// ProcessExpired expires every ACTIVE subscription whose end date has passed.
// Items are handled one at a time; a failure is recorded and the batch moves
// on, leaving the record ACTIVE for the next run. The returned error is only
// set when the candidate scan fails or ctx ends mid-batch.
func (s *service) ProcessExpired(ctx context.Context) ([]SweepResult, error) {
	now := s.clock()
	candidates, err := retry.Value(ctx, s.retry, func(ctx context.Context) ([]models.Subscription, error) {
		return s.store.FindMany(ctx, Filter{
			Statuses:      []enums.SubscriptionStatus{enums.SubscriptionStatusActive},
			EndDateBefore: &now,
		})
	})
	if err != nil {
		return nil, storeError(err, "scan expired subscriptions")
	}

	results := make([]SweepResult, 0, len(candidates))
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := s.sweepOne(ctx, candidate)
		s.metrics.ObserveSweepItem(string(result.Status))
		results = append(results, result)
	}

	counts := CountByStatus(results)
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"candidates": len(candidates),
		"expired":    counts[SweepStatusExpired],
		"skipped":    counts[SweepStatusSkipped],
		"errors":     counts[SweepStatusError],
	}), "expiry sweep finished")
	return results, nil
}

func (s *service) sweepOne(ctx context.Context, candidate models.Subscription) SweepResult {
	result := SweepResult{ID: candidate.ID, UserID: candidate.UserID}
	ctx = s.logCtx(ctx, "", candidate.ID, enums.TransitionExpire)
	outcome, err := s.expire(ctx, candidate)
	switch {
	case err != nil:
		result.Status = SweepStatusError
		result.Error = err.Error()
	case outcome.Outcome == ExpireOutcomeExpired, outcome.Outcome == ExpireOutcomeAlreadyExpired:
		result.Status = SweepStatusExpired
	default:
		result.Status = SweepStatusSkipped
	}
	return result
}
