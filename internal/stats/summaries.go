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

// SummaryType is the bucket granularity of a summaries query.
type SummaryType string

const (
	SummaryDaily   SummaryType = "daily"
	SummaryWeekly  SummaryType = "weekly"
	SummaryMonthly SummaryType = "monthly"
)

// Valid reports whether t is a known summary type.
func (t SummaryType) Valid() bool {
	switch t {
	case SummaryDaily, SummaryWeekly, SummaryMonthly:
		return true
	}
	return false
}

// SummariesQuery is a validated summaries request. From and To are calendar
// days in the org timezone; both are inclusive.
type SummariesQuery struct {
	ServerID string
	Type     SummaryType
	From     time.Time
	To       time.Time
	Limit    int
	Offset   int
}

func (q SummariesQuery) validate() error {
	if strings.TrimSpace(q.ServerID) == "" {
		return invalid("serverId", "is required")
	}
	if !q.Type.Valid() {
		return invalid("type", "must be one of daily, weekly, monthly")
	}
	if q.To.Before(q.From) {
		return invalid("from", "must not be after to")
	}
	if q.To.Sub(q.From) > MaxQuerySpan {
		return invalid("to", "range must not exceed %d days", int(MaxQuerySpan/(24*time.Hour)))
	}
	if q.Offset < 0 {
		return invalid("offset", "must not be negative")
	}
	return nil
}

// PeriodSummary holds server-wide figures for one bucket.
type PeriodSummary struct {
	Key                 string    `json:"key"`
	Start               time.Time `json:"start"`
	End                 time.Time `json:"end"`
	TotalDuration       int64     `json:"totalDuration"`
	SessionCount        int64     `json:"sessionCount"`
	StartedSessionCount int64     `json:"startedSessionCount"`
	UniqueUsers         int       `json:"uniqueUsers"`
	LongestSession      int64     `json:"longestSession"`
	AverageSession      int64     `json:"averageSession"`
}

// SummariesResult is one page of buckets, newest first.
type SummariesResult struct {
	Type      SummaryType     `json:"type"`
	Summaries []PeriodSummary `json:"summaries"`
	Total     int             `json:"total"`
	Limit     int             `json:"limit"`
	Offset    int             `json:"offset"`
}

// Summarizer buckets raw ledger records into daily, weekly or monthly summaries.
type Summarizer struct {
	ledger  PageLedger
	calc    *period.Calculator
	logger  *slog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewSummarizer creates a summarizer reading from ledger.
func NewSummarizer(ledger PageLedger, calc *period.Calculator, opts Options) *Summarizer {
	opts = opts.withDefaults()
	return &Summarizer{
		ledger:  ledger,
		calc:    calc,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
}

type summaryBucket struct {
	summary PeriodSummary
	users   map[string]struct{}
}

// Summaries returns the requested page of buckets for records joined between
// the start of q.From and the end of q.To.
func (s *Summarizer) Summaries(ctx context.Context, q SummariesQuery) (result *SummariesResult, err error) {
	defer func() { s.metrics.IncQuery("summaries", err) }()

	if err := q.validate(); err != nil {
		return nil, err
	}
	limit := clampLimit(q.Limit, DefaultSummariesLimit)

	loc := s.calc.Location()
	from := q.From.In(loc)
	windowStart := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, loc)
	to := q.To.In(loc)
	windowEnd := time.Date(to.Year(), to.Month(), to.Day()+1, 0, 0, 0, 0, loc)

	clipAt := s.now()
	if windowEnd.Before(clipAt) {
		clipAt = windowEnd
	}

	buckets := make(map[string]*summaryBucket)
	for offset := 0; ; offset += DefaultBatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page, err := s.ledger.ActivitiesPage(ctx, q.ServerID, windowStart, windowEnd, DefaultBatchSize, offset)
		if err != nil {
			return nil, fmt.Errorf("failed to load summary activities: %w", err)
		}

		for _, record := range page {
			if err := s.add(buckets, q.Type, record, clipAt); err != nil {
				return nil, err
			}
		}
		if len(page) < DefaultBatchSize {
			break
		}
	}

	keys := make([]string, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(keys)))

	result = &SummariesResult{
		Type:      q.Type,
		Summaries: []PeriodSummary{},
		Total:     len(keys),
		Limit:     limit,
		Offset:    q.Offset,
	}
	if q.Offset >= len(keys) {
		return result, nil
	}

	end := q.Offset + limit
	if end > len(keys) {
		end = len(keys)
	}
	for _, key := range keys[q.Offset:end] {
		bucket := buckets[key]
		bucket.summary.UniqueUsers = len(bucket.users)
		if bucket.summary.SessionCount > 0 {
			bucket.summary.AverageSession = bucket.summary.TotalDuration / bucket.summary.SessionCount
		}
		result.Summaries = append(result.Summaries, bucket.summary)
	}

	s.logger.Debug("summaries computed",
		"server_id", q.ServerID,
		"type", q.Type,
		"buckets", len(keys),
		"returned", len(result.Summaries))

	return result, nil
}

func (s *Summarizer) add(buckets map[string]*summaryBucket, summaryType SummaryType, record models.ActivityRecord, clipAt time.Time) error {
	key, start, end, err := s.bucket(summaryType, record.JoinTime)
	if err != nil {
		return err
	}

	bucket, ok := buckets[key]
	if !ok {
		bucket = &summaryBucket{
			summary: PeriodSummary{Key: key, Start: start, End: end},
			users:   make(map[string]struct{}),
		}
		buckets[key] = bucket
	}

	duration := recordDuration(record)
	if record.IsActive || record.LeaveTime == nil {
		duration = clampSeconds(clipAt.Sub(record.JoinTime))
	}

	bucket.users[record.UserID] = struct{}{}
	bucket.summary.TotalDuration += duration
	bucket.summary.SessionCount++
	if record.IsSessionStarter {
		bucket.summary.StartedSessionCount++
	}
	if duration > bucket.summary.LongestSession {
		bucket.summary.LongestSession = duration
	}
	return nil
}

func (s *Summarizer) bucket(summaryType SummaryType, t time.Time) (string, time.Time, time.Time, error) {
	switch summaryType {
	case SummaryWeekly:
		return s.periodBucket(models.PeriodWeek, t)
	case SummaryMonthly:
		return s.periodBucket(models.PeriodMonth, t)
	default:
		local := t.In(s.calc.Location())
		start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, local.Location())
		return start.Format(dateLayout), start, start.AddDate(0, 0, 1), nil
	}
}

func (s *Summarizer) periodBucket(periodType models.PeriodType, t time.Time) (string, time.Time, time.Time, error) {
	key := s.calc.Key(t, periodType)
	start, end, err := s.calc.Bounds(periodType, key)
	if err != nil {
		return "", time.Time{}, time.Time{}, err
	}
	return key, start, end, nil
}
