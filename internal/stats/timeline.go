package stats

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"voicestats/internal/models"
)

// TimelineQuery is a validated timeline request.
type TimelineQuery struct {
	ServerID string
	From     time.Time
	To       time.Time
}

func (q TimelineQuery) validate() error {
	if strings.TrimSpace(q.ServerID) == "" {
		return invalid("serverId", "is required")
	}
	return validateRange(q.From, q.To, MaxTimelineWindow)
}

// TimelineSession is one accepted occupancy interval. For sessions that are
// still open, LeaveTime is the window end and Duration is clipped to it.
type TimelineSession struct {
	ActivityID       string    `json:"activityId"`
	ChannelID        string    `json:"channelId"`
	ChannelName      string    `json:"channelName"`
	JoinTime         time.Time `json:"joinTime"`
	LeaveTime        time.Time `json:"leaveTime"`
	Duration         int64     `json:"duration"`
	IsActive         bool      `json:"isActive"`
	IsSessionStarter bool      `json:"isSessionStarter"`
}

// UserTimeline holds one user's accepted sessions in join order.
type UserTimeline struct {
	UserID        string            `json:"userId"`
	Username      string            `json:"username"`
	TotalDuration int64             `json:"totalDuration"`
	Sessions      []TimelineSession `json:"sessions"`
}

// MostActiveUser is the user with the largest summed duration in the window.
type MostActiveUser struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Duration int64  `json:"duration"`
}

// TimelineSummary aggregates every accepted session of the window.
type TimelineSummary struct {
	TotalDuration     int64           `json:"totalDuration"`
	TotalParticipants int             `json:"totalParticipants"`
	TotalSessions     int             `json:"totalSessions"`
	LongestSession    int64           `json:"longestSession"`
	MostActiveUser    *MostActiveUser `json:"mostActiveUser"`
}

// Timeline is the reconstructed per-user activity view of a window.
type Timeline struct {
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`
	Activities []UserTimeline  `json:"activities"`
	Summary    TimelineSummary `json:"summary"`
}

// TimelineBuilder reconstructs timelines from raw ledger records.
type TimelineBuilder struct {
	ledger    WindowLedger
	directory ChannelDirectory
	logger    *slog.Logger
	metrics   *Metrics
}

// NewTimelineBuilder creates a builder. directory may be nil, in which case
// every channel gets a placeholder name.
func NewTimelineBuilder(ledger WindowLedger, directory ChannelDirectory, opts Options) *TimelineBuilder {
	opts = opts.withDefaults()
	return &TimelineBuilder{
		ledger:    ledger,
		directory: directory,
		logger:    opts.Logger,
		metrics:   opts.Metrics,
	}
}

// BuildTimeline groups the window's records per user, clips open sessions to
// q.To and drops any session overlapping one already accepted for that user.
// The first-seen interval wins; overlapping spans are not merged into a union.
func (b *TimelineBuilder) BuildTimeline(ctx context.Context, q TimelineQuery) (timeline *Timeline, err error) {
	defer func() { b.metrics.IncQuery("timeline", err) }()

	if err := q.validate(); err != nil {
		return nil, err
	}

	records, err := b.ledger.ActivitiesInWindow(ctx, q.ServerID, q.From, q.To)
	if err != nil {
		return nil, fmt.Errorf("failed to load timeline activities: %w", err)
	}

	names := make(map[string]string)
	users := make(map[string]*UserTimeline)
	var order []string

	for _, record := range records {
		session := effectiveSession(record, q.To)

		user, ok := users[record.UserID]
		if !ok {
			user = &UserTimeline{UserID: record.UserID, Username: record.Username}
			users[record.UserID] = user
			order = append(order, record.UserID)
		}
		if overlapsAny(user.Sessions, session) {
			b.logger.Debug("dropping overlapping session",
				"server_id", q.ServerID,
				"user_id", record.UserID,
				"activity_id", record.ID)
			continue
		}

		session.ChannelName = b.channelName(ctx, q.ServerID, record.ChannelID, names)
		user.Sessions = append(user.Sessions, session)
		user.TotalDuration += session.Duration
		if record.Username != "" {
			user.Username = record.Username
		}
	}

	timeline = &Timeline{
		From:       q.From,
		To:         q.To,
		Activities: make([]UserTimeline, 0, len(order)),
	}
	summary := &timeline.Summary

	for _, userID := range order {
		user := users[userID]
		if len(user.Sessions) == 0 {
			continue
		}
		timeline.Activities = append(timeline.Activities, *user)

		summary.TotalParticipants++
		summary.TotalSessions += len(user.Sessions)
		summary.TotalDuration += user.TotalDuration
		for _, session := range user.Sessions {
			if session.Duration > summary.LongestSession {
				summary.LongestSession = session.Duration
			}
		}
		if summary.MostActiveUser == nil || user.TotalDuration > summary.MostActiveUser.Duration {
			summary.MostActiveUser = &MostActiveUser{
				UserID:   user.UserID,
				Username: user.Username,
				Duration: user.TotalDuration,
			}
		}
	}

	return timeline, nil
}

// effectiveSession converts a record into a session as seen from a window
// ending at windowEnd. Nothing computed here is written back to the ledger.
func effectiveSession(record models.ActivityRecord, windowEnd time.Time) TimelineSession {
	session := TimelineSession{
		ActivityID:       record.ID,
		ChannelID:        record.ChannelID,
		JoinTime:         record.JoinTime,
		IsActive:         record.IsActive,
		IsSessionStarter: record.IsSessionStarter,
	}

	if record.LeaveTime != nil && !record.IsActive {
		session.LeaveTime = *record.LeaveTime
		if record.Duration != nil {
			session.Duration = *record.Duration
		} else {
			session.Duration = clampSeconds(record.LeaveTime.Sub(record.JoinTime))
		}
		return session
	}

	session.LeaveTime = windowEnd
	session.Duration = clampSeconds(windowEnd.Sub(record.JoinTime))
	return session
}

func overlapsAny(accepted []TimelineSession, candidate TimelineSession) bool {
	for _, existing := range accepted {
		if !candidate.JoinTime.After(existing.LeaveTime) && !candidate.LeaveTime.Before(existing.JoinTime) {
			return true
		}
	}
	return false
}

func (b *TimelineBuilder) channelName(ctx context.Context, serverID, channelID string, cache map[string]string) string {
	if name, ok := cache[channelID]; ok {
		return name
	}

	name := ""
	if b.directory != nil {
		resolved, err := b.directory.ChannelName(ctx, serverID, channelID)
		if err != nil {
			b.logger.Warn("channel name lookup failed",
				"server_id", serverID,
				"channel_id", channelID,
				"error", err)
		}
		name = resolved
	}
	if name == "" {
		b.metrics.IncUnresolvedChannel()
		name = ChannelPlaceholder(channelID)
	}

	cache[channelID] = name
	return name
}

// ChannelPlaceholder is the display name used when a channel cannot be resolved.
func ChannelPlaceholder(channelID string) string {
	return "channel-" + channelID
}

func clampSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	return int64(d / time.Second)
}
