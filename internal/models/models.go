package models

import "time"

// PeriodType is the granularity of a PeriodAggregate bucket.
type PeriodType string

const (
	PeriodWeek  PeriodType = "week"
	PeriodMonth PeriodType = "month"
	PeriodYear  PeriodType = "year"
)

// PeriodTypes lists every granularity a closed activity is merged into.
var PeriodTypes = []PeriodType{PeriodWeek, PeriodMonth, PeriodYear}

// Valid reports whether p is a known period type.
func (p PeriodType) Valid() bool {
	switch p {
	case PeriodWeek, PeriodMonth, PeriodYear:
		return true
	}
	return false
}

// Metric selects the aggregate column a ranking is ordered by.
type Metric string

const (
	MetricDuration        Metric = "duration"
	MetricSessions        Metric = "sessions"
	MetricStartedSessions Metric = "started_sessions"
)

// Valid reports whether m is a known ranking metric.
func (m Metric) Valid() bool {
	switch m {
	case MetricDuration, MetricSessions, MetricStartedSessions:
		return true
	}
	return false
}

// ActivityRecord is one user's continuous occupancy of one voice channel.
// LeaveTime and Duration stay nil while the user is still connected.
type ActivityRecord struct {
	ID               string     `json:"id"`
	ServerID         string     `json:"serverId"`
	UserID           string     `json:"userId"`
	Username         string     `json:"username"`
	ChannelID        string     `json:"channelId"`
	SessionID        string     `json:"sessionId"`
	JoinTime         time.Time  `json:"joinTime"`
	LeaveTime        *time.Time `json:"leaveTime,omitempty"`
	Duration         *int64     `json:"duration,omitempty"` // seconds
	IsSessionStarter bool       `json:"isSessionStarter"`
	IsActive         bool       `json:"isActive"`
}

// VoiceSession is one continuous non-empty occupancy interval of a channel.
type VoiceSession struct {
	ID        string     `json:"id"`
	ServerID  string     `json:"serverId"`
	ChannelID string     `json:"channelId"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	IsActive  bool       `json:"isActive"`
}

// ClosedActivity is what the presence observer hands over once an
// ActivityRecord has been closed in the ledger.
type ClosedActivity struct {
	ActivityID       string
	ServerID         string
	UserID           string
	Username         string
	ChannelID        string
	JoinTime         time.Time
	LeaveTime        time.Time
	Duration         int64
	IsSessionStarter bool
}

// PeriodMerge is a single increment-or-initialize against one aggregate row.
type PeriodMerge struct {
	ServerID         string
	UserID           string
	Username         string
	PeriodType       PeriodType
	PeriodKey        string
	Duration         int64
	IsSessionStarter bool
	ActivityID       string
	UpdatedAt        time.Time
}

// PeriodAggregate holds per-user counters for one calendar period.
type PeriodAggregate struct {
	ServerID            string     `json:"serverId"`
	UserID              string     `json:"userId"`
	Username            string     `json:"username"`
	PeriodType          PeriodType `json:"periodType"`
	PeriodKey           string     `json:"periodKey"`
	TotalDuration       int64      `json:"totalDuration"`
	SessionCount        int64      `json:"sessionCount"`
	StartedSessionCount int64      `json:"startedSessionCount"`
	LongestSession      int64      `json:"longestSession"`
	AverageSession      int64      `json:"averageSession"`
	LastActivityID      string     `json:"lastActivityId"`
	UpdatedAt           time.Time  `json:"updatedAt"`
}

// Value returns the counter selected by metric.
func (a PeriodAggregate) Value(metric Metric) int64 {
	switch metric {
	case MetricSessions:
		return a.SessionCount
	case MetricStartedSessions:
		return a.StartedSessionCount
	default:
		return a.TotalDuration
	}
}

// PeriodTotals are server-wide figures for one period.
type PeriodTotals struct {
	TotalParticipants int64 `json:"totalParticipants"`
	TotalDuration     int64 `json:"totalDuration"`
}

// UserTotals is a per-user rollup recomputed from the ledger.
type UserTotals struct {
	UserID              string `json:"userId"`
	Username            string `json:"username"`
	TotalDuration       int64  `json:"totalDuration"`
	SessionCount        int64  `json:"sessionCount"`
	StartedSessionCount int64  `json:"startedSessionCount"`
	LongestSession      int64  `json:"longestSession"`
}
