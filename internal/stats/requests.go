package stats

import (
	"strings"
	"time"

	"voicestats/internal/models"
)

// Query limits.
const (
	DefaultRankingLimit   = 10
	DefaultSummariesLimit = 30
	MaxLimit              = 100
	MaxTimelineWindow     = 7 * 24 * time.Hour
	MaxQuerySpan          = 365 * 24 * time.Hour
	DefaultSummariesSpan  = 30 * 24 * time.Hour
)

const dateLayout = "2006-01-02"

// RankingRequest is a ranking query as received from the dashboard.
type RankingRequest struct {
	ServerID string `json:"serverId"`
	Metric   string `json:"metric"`
	From     string `json:"from"`
	To       string `json:"to"`
	Limit    int    `json:"limit,omitempty"`
	Compare  bool   `json:"compare,omitempty"`
}

// Query validates the request and converts its calendar dates in loc.
func (r RankingRequest) Query(loc *time.Location) (RankingQuery, error) {
	if strings.TrimSpace(r.ServerID) == "" {
		return RankingQuery{}, invalid("serverId", "is required")
	}

	metric := models.Metric(r.Metric)
	if !metric.Valid() {
		return RankingQuery{}, invalid("metric", "must be one of duration, sessions, started_sessions")
	}

	from, err := parseDate("from", r.From, loc)
	if err != nil {
		return RankingQuery{}, err
	}
	to, err := parseDate("to", r.To, loc)
	if err != nil {
		return RankingQuery{}, err
	}

	query := RankingQuery{
		ServerID: r.ServerID,
		Metric:   metric,
		From:     from,
		To:       to,
		Limit:    r.Limit,
		Compare:  r.Compare,
	}
	return query, query.validate()
}

// TimelineRequest is a timeline query as received from the dashboard.
type TimelineRequest struct {
	ServerID string `json:"serverId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Query validates the request and parses its ISO 8601 datetimes.
func (r TimelineRequest) Query() (TimelineQuery, error) {
	if strings.TrimSpace(r.ServerID) == "" {
		return TimelineQuery{}, invalid("serverId", "is required")
	}

	from, err := parseDateTime("from", r.From)
	if err != nil {
		return TimelineQuery{}, err
	}
	to, err := parseDateTime("to", r.To)
	if err != nil {
		return TimelineQuery{}, err
	}

	query := TimelineQuery{ServerID: r.ServerID, From: from, To: to}
	return query, query.validate()
}

// SummariesRequest is a summaries query as received from the dashboard.
// From and To are optional.
type SummariesRequest struct {
	ServerID string `json:"serverId"`
	Type     string `json:"type"`
	From     string `json:"from,omitempty"`
	To       string `json:"to,omitempty"`
	Limit    int    `json:"limit,omitempty"`
	Offset   int    `json:"offset,omitempty"`
}

// Query validates the request. Missing dates default to the thirty days
// ending today in loc.
func (r SummariesRequest) Query(loc *time.Location, now time.Time) (SummariesQuery, error) {
	if strings.TrimSpace(r.ServerID) == "" {
		return SummariesQuery{}, invalid("serverId", "is required")
	}

	summaryType := SummaryType(r.Type)
	if !summaryType.Valid() {
		return SummariesQuery{}, invalid("type", "must be one of daily, weekly, monthly")
	}

	local := now.In(loc)
	to := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if r.To != "" {
		parsed, err := parseDate("to", r.To, loc)
		if err != nil {
			return SummariesQuery{}, err
		}
		to = parsed
	}

	from := to.Add(-DefaultSummariesSpan)
	if r.From != "" {
		parsed, err := parseDate("from", r.From, loc)
		if err != nil {
			return SummariesQuery{}, err
		}
		from = parsed
	}

	query := SummariesQuery{
		ServerID: r.ServerID,
		Type:     summaryType,
		From:     from,
		To:       to,
		Limit:    r.Limit,
		Offset:   r.Offset,
	}
	return query, query.validate()
}

func parseDate(field, value string, loc *time.Location) (time.Time, error) {
	if value == "" {
		return time.Time{}, invalid(field, "is required")
	}
	t, err := time.ParseInLocation(dateLayout, value, loc)
	if err != nil {
		return time.Time{}, invalid(field, "must be a YYYY-MM-DD date")
	}
	return t, nil
}

func parseDateTime(field, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, invalid(field, "is required")
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, invalid(field, "must be an ISO 8601 datetime")
	}
	return t, nil
}

func validateRange(from, to time.Time, maxSpan time.Duration) error {
	if !from.Before(to) {
		return invalid("from", "must be before to")
	}
	if to.Sub(from) > maxSpan {
		return invalid("to", "range must not exceed %d days", int(maxSpan/(24*time.Hour)))
	}
	return nil
}

func clampLimit(limit, defaultLimit int) int {
	switch {
	case limit == 0:
		return defaultLimit
	case limit < 1:
		return 1
	case limit > MaxLimit:
		return MaxLimit
	}
	return limit
}
