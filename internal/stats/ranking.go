package stats

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"voicestats/internal/models"
	"voicestats/internal/period"
)

// RankingQuery is a validated ranking request.
type RankingQuery struct {
	ServerID string
	Metric   models.Metric
	From     time.Time
	To       time.Time
	Limit    int
	Compare  bool
}

func (q RankingQuery) validate() error {
	if strings.TrimSpace(q.ServerID) == "" {
		return invalid("serverId", "is required")
	}
	if !q.Metric.Valid() {
		return invalid("metric", "must be one of duration, sessions, started_sessions")
	}
	return validateRange(q.From, q.To, MaxQuerySpan)
}

// Comparison describes how an entry moved against the previous period.
// ChangePercentage is nil when the previous value was zero; RankChange is nil
// for users absent from the previous period. A positive RankChange means the
// user climbed.
type Comparison struct {
	PreviousValue    int64  `json:"previousValue"`
	Change           int64  `json:"change"`
	ChangePercentage *int64 `json:"changePercentage"`
	RankChange       *int   `json:"rankChange"`
	IsNew            bool   `json:"isNew"`
}

// RankingEntry is one ranked user.
type RankingEntry struct {
	Rank           int         `json:"rank"`
	UserID         string      `json:"userId"`
	Username       string      `json:"username"`
	Value          int64       `json:"value"`
	SessionCount   int64       `json:"sessionCount"`
	LongestSession int64       `json:"longestSession"`
	Comparison     *Comparison `json:"comparison,omitempty"`
}

// RankingPeriod describes the aggregate bucket a ranking was read from.
type RankingPeriod struct {
	Type              models.PeriodType `json:"type"`
	Key               string            `json:"key"`
	PreviousKey       string            `json:"previousKey,omitempty"`
	StartDate         time.Time         `json:"startDate"`
	EndDate           time.Time         `json:"endDate"`
	TotalParticipants int64             `json:"totalParticipants"`
	TotalDuration     int64             `json:"totalDuration"`
}

// RankingResult is the ordered ranking plus period metadata.
type RankingResult struct {
	Metric   models.Metric  `json:"metric"`
	Rankings []RankingEntry `json:"rankings"`
	Period   RankingPeriod  `json:"period"`
}

// Ranker computes rankings from period aggregates.
type Ranker struct {
	store   RankingStore
	calc    *period.Calculator
	logger  *slog.Logger
	metrics *Metrics
}

// NewRanker creates a ranker reading from store.
func NewRanker(store RankingStore, calc *period.Calculator, opts Options) *Ranker {
	opts = opts.withDefaults()
	return &Ranker{
		store:   store,
		calc:    calc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}
}

// ComputeRanking ranks users of the period containing q.From by q.Metric.
// Rank ties keep the store's row order. When q.Compare is set, each entry is
// compared against the user's row in the immediately preceding period; users
// who dropped out of the current top N are not reported.
func (r *Ranker) ComputeRanking(ctx context.Context, q RankingQuery) (result *RankingResult, err error) {
	defer func() { r.metrics.IncQuery("ranking", err) }()

	if err := q.validate(); err != nil {
		return nil, err
	}
	limit := clampLimit(q.Limit, DefaultRankingLimit)

	periodType := period.ForSpan(q.To.Sub(q.From))
	key := r.calc.Key(q.From, periodType)
	start, end, err := r.calc.Bounds(periodType, key)
	if err != nil {
		return nil, err
	}

	current, err := r.store.TopAggregates(ctx, q.ServerID, periodType, key, q.Metric, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s ranking %s: %w", periodType, key, err)
	}

	totals, err := r.store.PeriodTotals(ctx, q.ServerID, periodType, key)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s totals %s: %w", periodType, key, err)
	}

	result = &RankingResult{
		Metric:   q.Metric,
		Rankings: make([]RankingEntry, 0, len(current)),
		Period: RankingPeriod{
			Type:              periodType,
			Key:               key,
			StartDate:         start,
			EndDate:           end,
			TotalParticipants: totals.TotalParticipants,
			TotalDuration:     totals.TotalDuration,
		},
	}

	var previous map[string]rankedAggregate
	if q.Compare {
		previousKey, err := period.PreviousKey(periodType, key)
		if err != nil {
			return nil, err
		}
		result.Period.PreviousKey = previousKey

		rows, err := r.store.PeriodAggregates(ctx, q.ServerID, periodType, previousKey, q.Metric)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s ranking %s: %w", periodType, previousKey, err)
		}
		previous = indexByUser(rows)
	}

	for i, row := range current {
		entry := RankingEntry{
			Rank:           i + 1,
			UserID:         row.UserID,
			Username:       row.Username,
			Value:          row.Value(q.Metric),
			SessionCount:   row.SessionCount,
			LongestSession: row.LongestSession,
		}
		if q.Compare {
			entry.Comparison = compare(entry, previous, q.Metric)
		}
		result.Rankings = append(result.Rankings, entry)
	}

	r.logger.Debug("ranking computed",
		"server_id", q.ServerID,
		"metric", q.Metric,
		"period_type", periodType,
		"period_key", key,
		"entries", len(result.Rankings))

	return result, nil
}

type rankedAggregate struct {
	rank      int
	aggregate models.PeriodAggregate
}

func indexByUser(rows []models.PeriodAggregate) map[string]rankedAggregate {
	index := make(map[string]rankedAggregate, len(rows))
	for i, row := range rows {
		if _, seen := index[row.UserID]; !seen {
			index[row.UserID] = rankedAggregate{rank: i + 1, aggregate: row}
		}
	}
	return index
}

func compare(entry RankingEntry, previous map[string]rankedAggregate, metric models.Metric) *Comparison {
	prev, ok := previous[entry.UserID]
	if !ok {
		return &Comparison{
			PreviousValue: 0,
			Change:        entry.Value,
			IsNew:         true,
		}
	}

	previousValue := prev.aggregate.Value(metric)
	comparison := &Comparison{
		PreviousValue: previousValue,
		Change:        entry.Value - previousValue,
	}
	if previousValue > 0 {
		pct := changePercentage(comparison.Change, previousValue)
		comparison.ChangePercentage = &pct
	}
	rankChange := prev.rank - entry.Rank
	comparison.RankChange = &rankChange
	return comparison
}

// changePercentage rounds halves up, so -2.5 becomes -2 and 2.5 becomes 3.
func changePercentage(change, previous int64) int64 {
	return int64(math.Floor(float64(change)/float64(previous)*100 + 0.5))
}
