package stats

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"voicestats/internal/models"
	"voicestats/internal/period"
)

// Aggregator projects closed ledger records into week, month and year aggregates.
type Aggregator struct {
	store   MergeStore
	calc    *period.Calculator
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewAggregator creates an aggregator writing to store.
func NewAggregator(store MergeStore, calc *period.Calculator, opts Options) *Aggregator {
	opts = opts.withDefaults()
	return &Aggregator{
		store:   store,
		calc:    calc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// RecordClosedActivity merges one closed activity into its three period
// aggregates. All keys derive from the join time, so a session crossing a
// period boundary counts entirely against the period it started in. The
// merges touch different rows and run concurrently; each one is attempted
// even if another fails.
func (a *Aggregator) RecordClosedActivity(ctx context.Context, activity models.ClosedActivity) error {
	if err := validateClosedActivity(activity); err != nil {
		return err
	}

	keys := a.calc.Keys(activity.JoinTime)
	updatedAt := a.now().UTC()
	errs := make([]error, len(models.PeriodTypes))

	var g errgroup.Group
	for i, periodType := range models.PeriodTypes {
		merge := models.PeriodMerge{
			ServerID:         activity.ServerID,
			UserID:           activity.UserID,
			Username:         activity.Username,
			PeriodType:       periodType,
			PeriodKey:        keys[periodType],
			Duration:         activity.Duration,
			IsSessionStarter: activity.IsSessionStarter,
			ActivityID:       activity.ActivityID,
			UpdatedAt:        updatedAt,
		}

		g.Go(func() error {
			err := a.store.MergePeriodActivity(ctx, merge)
			if err != nil {
				a.metrics.IncMerge(string(merge.PeriodType), StatusFailure)
				a.logger.Error("period merge failed",
					"server_id", merge.ServerID,
					"user_id", merge.UserID,
					"activity_id", merge.ActivityID,
					"period_type", merge.PeriodType,
					"period_key", merge.PeriodKey,
					"error", err)
				errs[i] = err
				return err
			}
			a.metrics.IncMerge(string(merge.PeriodType), StatusSuccess)
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return err
	}

	a.logger.Debug("activity merged",
		"server_id", activity.ServerID,
		"user_id", activity.UserID,
		"activity_id", activity.ActivityID,
		"duration", activity.Duration,
		"week", keys[models.PeriodWeek])
	return nil
}

func validateClosedActivity(activity models.ClosedActivity) error {
	switch {
	case activity.ServerID == "":
		return invalid("serverId", "is required")
	case activity.UserID == "":
		return invalid("userId", "is required")
	case activity.ActivityID == "":
		return invalid("activityId", "is required")
	case activity.JoinTime.IsZero():
		return invalid("joinTime", "is required")
	case activity.Duration < 0:
		return invalid("duration", "must not be negative")
	}
	return nil
}
