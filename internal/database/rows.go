package database

import (
	"database/sql"
	"fmt"
	"time"

	"voicestats/internal/models"
)

const activityColumns = `id, server_id, user_id, username, channel_id, session_id,
	join_time, leave_time, duration, is_session_starter, is_active`

const aggregateColumns = `server_id, user_id, username, period_type, period_key,
	total_duration, session_count, started_session_count, longest_session,
	average_session, last_activity_id, updated_at`

const voiceSessionColumns = `id, server_id, channel_id, start_time, end_time, is_active`

type scanner interface {
	Scan(dest ...any) error
}

// activityRow mirrors one voice_activities row.
type activityRow struct {
	ID               string
	ServerID         string
	UserID           string
	Username         string
	ChannelID        string
	SessionID        string
	JoinTime         time.Time
	LeaveTime        sql.NullTime
	Duration         sql.NullInt64
	IsSessionStarter bool
	IsActive         bool
}

func decodeActivity(s scanner) (models.ActivityRecord, error) {
	var row activityRow
	err := s.Scan(&row.ID, &row.ServerID, &row.UserID, &row.Username, &row.ChannelID, &row.SessionID,
		&row.JoinTime, &row.LeaveTime, &row.Duration, &row.IsSessionStarter, &row.IsActive)
	if err != nil {
		return models.ActivityRecord{}, fmt.Errorf("failed to decode activity row: %w", err)
	}

	record := models.ActivityRecord{
		ID:               row.ID,
		ServerID:         row.ServerID,
		UserID:           row.UserID,
		Username:         row.Username,
		ChannelID:        row.ChannelID,
		SessionID:        row.SessionID,
		JoinTime:         row.JoinTime.UTC(),
		IsSessionStarter: row.IsSessionStarter,
		IsActive:         row.IsActive,
	}
	if row.LeaveTime.Valid {
		leave := row.LeaveTime.Time.UTC()
		record.LeaveTime = &leave
	}
	if row.Duration.Valid {
		duration := row.Duration.Int64
		record.Duration = &duration
	}
	return record, nil
}

func decodeActivities(rows *sql.Rows) ([]models.ActivityRecord, error) {
	defer rows.Close()

	var records []models.ActivityRecord
	for rows.Next() {
		record, err := decodeActivity(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity rows: %w", err)
	}
	return records, nil
}

// aggregateRow mirrors one period_aggregates row.
type aggregateRow struct {
	ServerID            string
	UserID              string
	Username            string
	PeriodType          string
	PeriodKey           string
	TotalDuration       int64
	SessionCount        int64
	StartedSessionCount int64
	LongestSession      int64
	AverageSession      int64
	LastActivityID      string
	UpdatedAt           time.Time
}

func decodeAggregate(s scanner) (models.PeriodAggregate, error) {
	var row aggregateRow
	err := s.Scan(&row.ServerID, &row.UserID, &row.Username, &row.PeriodType, &row.PeriodKey,
		&row.TotalDuration, &row.SessionCount, &row.StartedSessionCount, &row.LongestSession,
		&row.AverageSession, &row.LastActivityID, &row.UpdatedAt)
	if err != nil {
		return models.PeriodAggregate{}, fmt.Errorf("failed to decode aggregate row: %w", err)
	}

	periodType := models.PeriodType(row.PeriodType)
	if !periodType.Valid() {
		return models.PeriodAggregate{}, fmt.Errorf("failed to decode aggregate row: unknown period type %q", row.PeriodType)
	}

	return models.PeriodAggregate{
		ServerID:            row.ServerID,
		UserID:              row.UserID,
		Username:            row.Username,
		PeriodType:          periodType,
		PeriodKey:           row.PeriodKey,
		TotalDuration:       row.TotalDuration,
		SessionCount:        row.SessionCount,
		StartedSessionCount: row.StartedSessionCount,
		LongestSession:      row.LongestSession,
		AverageSession:      row.AverageSession,
		LastActivityID:      row.LastActivityID,
		UpdatedAt:           row.UpdatedAt.UTC(),
	}, nil
}

func decodeAggregates(rows *sql.Rows) ([]models.PeriodAggregate, error) {
	defer rows.Close()

	var aggregates []models.PeriodAggregate
	for rows.Next() {
		aggregate, err := decodeAggregate(rows)
		if err != nil {
			return nil, err
		}
		aggregates = append(aggregates, aggregate)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate aggregate rows: %w", err)
	}
	return aggregates, nil
}

// voiceSessionRow mirrors one voice_sessions row.
type voiceSessionRow struct {
	ID        string
	ServerID  string
	ChannelID string
	StartTime time.Time
	EndTime   sql.NullTime
	IsActive  bool
}

func decodeVoiceSession(s scanner) (models.VoiceSession, error) {
	var row voiceSessionRow
	if err := s.Scan(&row.ID, &row.ServerID, &row.ChannelID, &row.StartTime, &row.EndTime, &row.IsActive); err != nil {
		return models.VoiceSession{}, fmt.Errorf("failed to decode voice session row: %w", err)
	}

	session := models.VoiceSession{
		ID:        row.ID,
		ServerID:  row.ServerID,
		ChannelID: row.ChannelID,
		StartTime: row.StartTime.UTC(),
		IsActive:  row.IsActive,
	}
	if row.EndTime.Valid {
		end := row.EndTime.Time.UTC()
		session.EndTime = &end
	}
	return session, nil
}
