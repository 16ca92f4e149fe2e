// Package tracker turns gateway voice state changes into ledger records and
// hands each closed record to the aggregator.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicestats/internal/database"
	"voicestats/internal/models"
)

// Ledger is the part of the activity ledger the tracker writes to.
type Ledger interface {
	OpenActivity(ctx context.Context, record models.ActivityRecord) error
	ActiveActivities(ctx context.Context, serverID, userID string) ([]models.ActivityRecord, error)
	CloseActivity(ctx context.Context, id string, leaveTime time.Time) (models.ActivityRecord, error)
	CountActiveInChannel(ctx context.Context, serverID, channelID string) (int, error)
	OpenVoiceSession(ctx context.Context, session models.VoiceSession) (bool, error)
	ActiveVoiceSession(ctx context.Context, serverID, channelID string) (*models.VoiceSession, error)
	CloseVoiceSession(ctx context.Context, serverID, channelID string, endTime time.Time) error
}

// Recorder receives every record the tracker closes.
type Recorder interface {
	RecordClosedActivity(ctx context.Context, activity models.ClosedActivity) error
}

// VoiceStateChange is one observed voice state. An empty ChannelID means the
// user disconnected.
type VoiceStateChange struct {
	ServerID  string
	UserID    string
	Username  string
	ChannelID string
	At        time.Time
}

const lockStripes = 64

// Tracker records voice presence. Changes for the same user are applied one
// at a time, and occupancy changes of a channel (a join, or a leave with its
// session close) never interleave.
type Tracker struct {
	ledger       Ledger
	recorder     Recorder
	logger       *slog.Logger
	newID        func() string
	userLocks    [lockStripes]sync.Mutex
	channelLocks [lockStripes]sync.Mutex
}

// New creates a tracker.
func New(ledger Ledger, recorder Recorder, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		ledger:   ledger,
		recorder: recorder,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

func stripe(serverID, id string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(serverID))
	h.Write([]byte{0})
	h.Write([]byte(id))
	return h.Sum32() % lockStripes
}

func (t *Tracker) userLock(serverID, userID string) *sync.Mutex {
	return &t.userLocks[stripe(serverID, userID)]
}

// channelLock is always taken after the user lock and never held across a
// second channel lock.
func (t *Tracker) channelLock(serverID, channelID string) *sync.Mutex {
	return &t.channelLocks[stripe(serverID, channelID)]
}

// HandleVoiceState closes the user's records in any other channel and opens
// one in the new channel, if any. Aggregation failures are logged and
// returned but never roll back the ledger.
func (t *Tracker) HandleVoiceState(ctx context.Context, change VoiceStateChange) error {
	if change.ServerID == "" || change.UserID == "" {
		return fmt.Errorf("voice state without server or user")
	}
	if change.At.IsZero() {
		change.At = time.Now()
	}

	mu := t.userLock(change.ServerID, change.UserID)
	mu.Lock()
	defer mu.Unlock()

	active, err := t.ledger.ActiveActivities(ctx, change.ServerID, change.UserID)
	if err != nil {
		return err
	}

	var errs []error
	alreadyIn := false
	for _, record := range active {
		if record.ChannelID == change.ChannelID {
			alreadyIn = true
			continue
		}
		if err := t.leave(ctx, record, change.At); err != nil {
			errs = append(errs, err)
		}
	}

	if change.ChannelID != "" && !alreadyIn {
		if err := t.join(ctx, change); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) leave(ctx context.Context, record models.ActivityRecord, at time.Time) error {
	mu := t.channelLock(record.ServerID, record.ChannelID)
	mu.Lock()
	defer mu.Unlock()

	closed, err := t.ledger.CloseActivity(ctx, record.ID, at)
	if errors.Is(err, database.ErrActivityNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	var duration int64
	if closed.Duration != nil {
		duration = *closed.Duration
	}
	t.logger.Info("⬅️ leave",
		"server_id", closed.ServerID,
		"user_id", closed.UserID,
		"channel_id", closed.ChannelID,
		"duration", duration)

	var errs []error
	if t.recorder != nil {
		err := t.recorder.RecordClosedActivity(ctx, models.ClosedActivity{
			ActivityID:       closed.ID,
			ServerID:         closed.ServerID,
			UserID:           closed.UserID,
			Username:         closed.Username,
			ChannelID:        closed.ChannelID,
			JoinTime:         closed.JoinTime,
			LeaveTime:        at,
			Duration:         duration,
			IsSessionStarter: closed.IsSessionStarter,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to aggregate activity %s: %w", closed.ID, err))
		}
	}

	remaining, err := t.ledger.CountActiveInChannel(ctx, closed.ServerID, closed.ChannelID)
	if err != nil {
		return errors.Join(append(errs, err)...)
	}
	if remaining == 0 {
		if err := t.ledger.CloseVoiceSession(ctx, closed.ServerID, closed.ChannelID, at); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) join(ctx context.Context, change VoiceStateChange) error {
	mu := t.channelLock(change.ServerID, change.ChannelID)
	mu.Lock()
	defer mu.Unlock()

	sessionID := t.newID()
	created, err := t.ledger.OpenVoiceSession(ctx, models.VoiceSession{
		ID:        sessionID,
		ServerID:  change.ServerID,
		ChannelID: change.ChannelID,
		StartTime: change.At,
		IsActive:  true,
	})
	if err != nil {
		return err
	}
	if !created {
		session, err := t.ledger.ActiveVoiceSession(ctx, change.ServerID, change.ChannelID)
		if err != nil {
			return err
		}
		if session != nil {
			sessionID = session.ID
		}
	}

	err = t.ledger.OpenActivity(ctx, models.ActivityRecord{
		ID:               t.newID(),
		ServerID:         change.ServerID,
		UserID:           change.UserID,
		Username:         change.Username,
		ChannelID:        change.ChannelID,
		SessionID:        sessionID,
		JoinTime:         change.At,
		IsSessionStarter: created,
		IsActive:         true,
	})
	if errors.Is(err, database.ErrActivityAlreadyActive) {
		return nil
	}
	if err != nil {
		return err
	}

	t.logger.Info("➡️ join",
		"server_id", change.ServerID,
		"user_id", change.UserID,
		"channel_id", change.ChannelID,
		"session_starter", created)
	return nil
}
