package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voicestats/internal/models"
)

// Ledger errors
var (
	ErrActivityNotFound      = errors.New("active activity not found")
	ErrActivityAlreadyActive = errors.New("user already has an active activity in this channel")
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// OpenActivity appends a new, still active record to the ledger.
func (r *Repository) OpenActivity(ctx context.Context, record models.ActivityRecord) error {
	result, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO voice_activities (id, server_id, user_id, username, channel_id, session_id,
			join_time, is_session_starter, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT DO NOTHING`,
		record.ID, record.ServerID, record.UserID, record.Username, record.ChannelID, record.SessionID,
		record.JoinTime.UTC(), record.IsSessionStarter, true)
	if err != nil {
		return fmt.Errorf("failed to open activity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to open activity: %w", err)
	}
	if affected == 0 {
		return ErrActivityAlreadyActive
	}
	return nil
}

// GetActivity loads a single record by id.
func (r *Repository) GetActivity(ctx context.Context, id string) (models.ActivityRecord, error) {
	row := r.db.conn.QueryRowContext(ctx,
		`SELECT `+activityColumns+` FROM voice_activities WHERE id = $1`, id)
	record, err := decodeActivity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.ActivityRecord{}, ErrActivityNotFound
	}
	return record, err
}

// ActiveActivities returns the user's open records in a server.
func (r *Repository) ActiveActivities(ctx context.Context, serverID, userID string) ([]models.ActivityRecord, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM voice_activities
		WHERE server_id = $1 AND user_id = $2 AND is_active = $3
		ORDER BY join_time`,
		serverID, userID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get active activities: %w", err)
	}
	return decodeActivities(rows)
}

// CloseActivity sets leave time and duration on an open record. The update is
// conditional on the record still being active, so two closers cannot both win.
func (r *Repository) CloseActivity(ctx context.Context, id string, leaveTime time.Time) (models.ActivityRecord, error) {
	record, err := r.GetActivity(ctx, id)
	if err != nil {
		return models.ActivityRecord{}, err
	}
	if !record.IsActive {
		return models.ActivityRecord{}, ErrActivityNotFound
	}

	leave := leaveTime.UTC()
	duration := int64(leave.Sub(record.JoinTime).Seconds())
	if duration < 0 {
		duration = 0
	}

	result, err := r.db.conn.ExecContext(ctx, `
		UPDATE voice_activities
		SET leave_time = $1, duration = $2, is_active = $3
		WHERE id = $4 AND is_active = $5`,
		leave, duration, false, id, true)
	if err != nil {
		return models.ActivityRecord{}, fmt.Errorf("failed to close activity: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return models.ActivityRecord{}, fmt.Errorf("failed to close activity: %w", err)
	}
	if affected == 0 {
		return models.ActivityRecord{}, ErrActivityNotFound
	}

	record.LeaveTime = &leave
	record.Duration = &duration
	record.IsActive = false
	return record, nil
}

// CountActiveInChannel returns the channel's current occupancy.
func (r *Repository) CountActiveInChannel(ctx context.Context, serverID, channelID string) (int, error) {
	var count int
	err := r.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM voice_activities
		WHERE server_id = $1 AND channel_id = $2 AND is_active = $3`,
		serverID, channelID, true).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count active activities: %w", err)
	}
	return count, nil
}

// OpenVoiceSession inserts session unless the channel already has an open one.
// It reports whether this call created the session.
func (r *Repository) OpenVoiceSession(ctx context.Context, session models.VoiceSession) (bool, error) {
	result, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO voice_sessions (id, server_id, channel_id, start_time, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT DO NOTHING`,
		session.ID, session.ServerID, session.ChannelID, session.StartTime.UTC(), true)
	if err != nil {
		return false, fmt.Errorf("failed to open voice session: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to open voice session: %w", err)
	}
	return affected == 1, nil
}

// ActiveVoiceSession returns the channel's open session, or nil if it is empty.
func (r *Repository) ActiveVoiceSession(ctx context.Context, serverID, channelID string) (*models.VoiceSession, error) {
	row := r.db.conn.QueryRowContext(ctx, `
		SELECT `+voiceSessionColumns+`
		FROM voice_sessions
		WHERE server_id = $1 AND channel_id = $2 AND is_active = $3`,
		serverID, channelID, true)
	session, err := decodeVoiceSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// CloseVoiceSession ends the channel's open session, if any. A session whose
// channel still has an active record is left open.
func (r *Repository) CloseVoiceSession(ctx context.Context, serverID, channelID string, endTime time.Time) error {
	_, err := r.db.conn.ExecContext(ctx, `
		UPDATE voice_sessions
		SET end_time = $1, is_active = $2
		WHERE server_id = $3 AND channel_id = $4 AND is_active = $5
			AND NOT EXISTS (
				SELECT 1 FROM voice_activities a
				WHERE a.server_id = $3 AND a.channel_id = $4 AND a.is_active = $5
			)`,
		endTime.UTC(), false, serverID, channelID, true)
	if err != nil {
		return fmt.Errorf("failed to close voice session: %w", err)
	}
	return nil
}

// ActivitiesInWindow returns records that start inside [from, to] and have
// either ended by to or are still open.
func (r *Repository) ActivitiesInWindow(ctx context.Context, serverID string, from, to time.Time) ([]models.ActivityRecord, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM voice_activities
		WHERE server_id = $1
			AND join_time >= $2
			AND ((leave_time IS NOT NULL AND leave_time <= $3)
				OR (leave_time IS NULL AND join_time <= $3))
		ORDER BY join_time, id`,
		serverID, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to get activities in window: %w", err)
	}
	return decodeActivities(rows)
}

// ClosedActivitiesPage returns one page of closed records ordered by user and join time.
func (r *Repository) ClosedActivitiesPage(ctx context.Context, serverID string, limit, offset int) ([]models.ActivityRecord, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM voice_activities
		WHERE server_id = $1 AND is_active = $2
		ORDER BY user_id, join_time, id
		LIMIT $3 OFFSET $4`,
		serverID, false, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get closed activities page: %w", err)
	}
	return decodeActivities(rows)
}

// ActivitiesPage returns one page of records joined in [from, to) ordered by join time.
func (r *Repository) ActivitiesPage(ctx context.Context, serverID string, from, to time.Time, limit, offset int) ([]models.ActivityRecord, error) {
	rows, err := r.db.conn.QueryContext(ctx, `
		SELECT `+activityColumns+`
		FROM voice_activities
		WHERE server_id = $1 AND join_time >= $2 AND join_time < $3
		ORDER BY join_time, id
		LIMIT $4 OFFSET $5`,
		serverID, from.UTC(), to.UTC(), limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to get activities page: %w", err)
	}
	return decodeActivities(rows)
}
