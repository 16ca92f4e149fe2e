// Package stats is the voice-activity statistics engine: incremental period
// aggregation, rankings with period-over-period comparison, timeline
// reconstruction from raw ledger records, period summaries and batch rollups.
package stats

import (
	"context"
	"log/slog"
	"time"

	"voicestats/internal/models"
)

// MergeStore applies atomic increments to period aggregates.
type MergeStore interface {
	MergePeriodActivity(ctx context.Context, merge models.PeriodMerge) error
}

// RankingStore reads period aggregates for rankings.
type RankingStore interface {
	TopAggregates(ctx context.Context, serverID string, periodType models.PeriodType, periodKey string, metric models.Metric, limit int) ([]models.PeriodAggregate, error)
	PeriodAggregates(ctx context.Context, serverID string, periodType models.PeriodType, periodKey string, metric models.Metric) ([]models.PeriodAggregate, error)
	PeriodTotals(ctx context.Context, serverID string, periodType models.PeriodType, periodKey string) (models.PeriodTotals, error)
}

// RebuildStore overwrites aggregates with values recomputed from the ledger.
type RebuildStore interface {
	ReplacePeriodAggregate(ctx context.Context, aggregate models.PeriodAggregate) error
}

// WindowLedger reads the raw records intersecting a timeline window.
type WindowLedger interface {
	ActivitiesInWindow(ctx context.Context, serverID string, from, to time.Time) ([]models.ActivityRecord, error)
}

// ScanLedger pages through closed records ordered by (user, join time).
type ScanLedger interface {
	ClosedActivitiesPage(ctx context.Context, serverID string, limit, offset int) ([]models.ActivityRecord, error)
}

// PageLedger pages through records joined inside [from, to).
type PageLedger interface {
	ActivitiesPage(ctx context.Context, serverID string, from, to time.Time, limit, offset int) ([]models.ActivityRecord, error)
}

// ChannelDirectory resolves channel names for display.
type ChannelDirectory interface {
	ChannelName(ctx context.Context, serverID, channelID string) (string, error)
}

// Options carries the ambient collaborators shared by every component.
type Options struct {
	Logger  *slog.Logger
	Metrics *Metrics
	Now     func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
