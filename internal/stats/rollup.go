package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"voicestats/internal/models"
	"voicestats/internal/period"
)

// DefaultBatchSize is the ledger page size used when none is given.
const DefaultBatchSize = 500

// Rollup job names for metrics and logs.
const (
	JobUserTotals       = "user_totals"
	JobPeriodAggregates = "period_aggregates"
)

// Rollup recomputes totals from the immutable ledger. It never increments
// existing aggregates, so it can be re-run safely after drift or failed merges.
type Rollup struct {
	ledger  ScanLedger
	store   RebuildStore
	calc    *period.Calculator
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewRollup creates a rollup. store may be nil when only RebuildUserTotals is used.
func NewRollup(ledger ScanLedger, store RebuildStore, calc *period.Calculator, opts Options) *Rollup {
	opts = opts.withDefaults()
	return &Rollup{
		ledger:  ledger,
		store:   store,
		calc:    calc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

// RebuildUserTotals pages through the server's closed records and returns
// per-user totals sorted by user id. Memory grows with the number of users,
// not the number of records.
func (r *Rollup) RebuildUserTotals(ctx context.Context, serverID string, batchSize int) ([]models.UserTotals, error) {
	if strings.TrimSpace(serverID) == "" {
		return nil, invalid("serverId", "is required")
	}

	start := r.now()
	totals := make(map[string]*models.UserTotals)

	scanned, err := r.scan(ctx, serverID, batchSize, func(record models.ActivityRecord) {
		user, ok := totals[record.UserID]
		if !ok {
			user = &models.UserTotals{UserID: record.UserID}
			totals[record.UserID] = user
		}
		duration := recordDuration(record)

		user.Username = record.Username
		user.TotalDuration += duration
		user.SessionCount++
		if record.IsSessionStarter {
			user.StartedSessionCount++
		}
		if duration > user.LongestSession {
			user.LongestSession = duration
		}
	})
	r.finish(JobUserTotals, serverID, start, scanned, err)
	if err != nil {
		return nil, err
	}

	result := make([]models.UserTotals, 0, len(totals))
	for _, user := range totals {
		result = append(result, *user)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].UserID < result[j].UserID
	})
	return result, nil
}

type aggregateKey struct {
	userID     string
	periodType models.PeriodType
	periodKey  string
}

// RebuildPeriodAggregates recomputes every week, month and year aggregate of
// the server from the ledger and overwrites the stored rows. It returns the
// number of rows written.
func (r *Rollup) RebuildPeriodAggregates(ctx context.Context, serverID string, batchSize int) (int, error) {
	if strings.TrimSpace(serverID) == "" {
		return 0, invalid("serverId", "is required")
	}
	if r.store == nil {
		return 0, fmt.Errorf("rollup has no aggregate store")
	}

	start := r.now()
	aggregates := make(map[aggregateKey]*models.PeriodAggregate)

	scanned, err := r.scan(ctx, serverID, batchSize, func(record models.ActivityRecord) {
		duration := recordDuration(record)
		for periodType, periodKey := range r.calc.Keys(record.JoinTime) {
			key := aggregateKey{userID: record.UserID, periodType: periodType, periodKey: periodKey}
			agg, ok := aggregates[key]
			if !ok {
				agg = &models.PeriodAggregate{
					ServerID:   serverID,
					UserID:     record.UserID,
					PeriodType: periodType,
					PeriodKey:  periodKey,
				}
				aggregates[key] = agg
			}

			agg.Username = record.Username
			agg.TotalDuration += duration
			agg.SessionCount++
			if record.IsSessionStarter {
				agg.StartedSessionCount++
			}
			if duration > agg.LongestSession {
				agg.LongestSession = duration
			}
			agg.LastActivityID = record.ID
		}
	})
	if err != nil {
		r.finish(JobPeriodAggregates, serverID, start, scanned, err)
		return 0, err
	}

	keys := make([]aggregateKey, 0, len(aggregates))
	for key := range aggregates {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.userID != b.userID {
			return a.userID < b.userID
		}
		if a.periodType != b.periodType {
			return a.periodType < b.periodType
		}
		return a.periodKey < b.periodKey
	})

	updatedAt := r.now().UTC()
	written := 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			r.finish(JobPeriodAggregates, serverID, start, scanned, err)
			return written, err
		}

		agg := aggregates[key]
		agg.AverageSession = 0
		if agg.SessionCount > 0 {
			agg.AverageSession = agg.TotalDuration / agg.SessionCount
		}
		agg.UpdatedAt = updatedAt

		if err := r.store.ReplacePeriodAggregate(ctx, *agg); err != nil {
			r.finish(JobPeriodAggregates, serverID, start, scanned, err)
			return written, fmt.Errorf("failed to rebuild aggregates after %d rows: %w", written, err)
		}
		written++
	}

	r.finish(JobPeriodAggregates, serverID, start, scanned, nil)
	return written, nil
}

// scan feeds every closed record of the server to fn, one page at a time.
// Cancellation is checked at each page boundary and no state is held across
// pages other than what fn accumulates.
func (r *Rollup) scan(ctx context.Context, serverID string, batchSize int, fn func(models.ActivityRecord)) (int, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	scanned := 0
	for offset := 0; ; offset += batchSize {
		if err := ctx.Err(); err != nil {
			return scanned, err
		}

		page, err := r.ledger.ClosedActivitiesPage(ctx, serverID, batchSize, offset)
		if err != nil {
			return scanned, fmt.Errorf("failed to read ledger page at offset %d: %w", offset, err)
		}

		for _, record := range page {
			fn(record)
		}
		scanned += len(page)
		r.metrics.AddRollupRecords(len(page))

		if len(page) < batchSize {
			return scanned, nil
		}
	}
}

func (r *Rollup) finish(job, serverID string, start time.Time, scanned int, err error) {
	elapsed := r.now().Sub(start)
	r.metrics.ObserveRollup(job, elapsed.Seconds())

	if err != nil {
		r.logger.Error("rollup failed",
			"job", job,
			"server_id", serverID,
			"records", scanned,
			"error", err)
		return
	}
	r.logger.Info("rollup complete",
		"job", job,
		"server_id", serverID,
		"records", scanned,
		"duration", elapsed)
}

func recordDuration(record models.ActivityRecord) int64 {
	if record.Duration != nil {
		return *record.Duration
	}
	if record.LeaveTime != nil {
		return clampSeconds(record.LeaveTime.Sub(record.JoinTime))
	}
	return 0
}
