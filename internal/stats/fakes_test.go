package stats

import (
	"context"
	"sort"
	"sync"
	"time"

	"voicestats/internal/models"
)

type fakeMergeStore struct {
	mu     sync.Mutex
	merges []models.PeriodMerge
	fail   map[models.PeriodType]error
}

func (f *fakeMergeStore) MergePeriodActivity(_ context.Context, merge models.PeriodMerge) error {
	if err := f.fail[merge.PeriodType]; err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.merges = append(f.merges, merge)
	return nil
}

func (f *fakeMergeStore) byType() map[models.PeriodType]models.PeriodMerge {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[models.PeriodType]models.PeriodMerge, len(f.merges))
	for _, m := range f.merges {
		out[m.PeriodType] = m
	}
	return out
}

// fakeRankingStore holds rows already in ranking order per (type, key).
type fakeRankingStore struct {
	rows map[string][]models.PeriodAggregate
	err  error
}

func rankingKey(periodType models.PeriodType, periodKey string) string {
	return string(periodType) + "|" + periodKey
}

func (f *fakeRankingStore) TopAggregates(_ context.Context, _ string, periodType models.PeriodType, periodKey string, _ models.Metric, limit int) ([]models.PeriodAggregate, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows := f.rows[rankingKey(periodType, periodKey)]
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (f *fakeRankingStore) PeriodAggregates(_ context.Context, _ string, periodType models.PeriodType, periodKey string, _ models.Metric) ([]models.PeriodAggregate, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.rows[rankingKey(periodType, periodKey)], nil
}

func (f *fakeRankingStore) PeriodTotals(_ context.Context, _ string, periodType models.PeriodType, periodKey string) (models.PeriodTotals, error) {
	var totals models.PeriodTotals
	for _, row := range f.rows[rankingKey(periodType, periodKey)] {
		totals.TotalParticipants++
		totals.TotalDuration += row.TotalDuration
	}
	return totals, nil
}

type fakeLedger struct {
	records []models.ActivityRecord
	err     error
	pages   int
	onPage  func(page int)
}

func (f *fakeLedger) ActivitiesInWindow(_ context.Context, _ string, _, _ time.Time) ([]models.ActivityRecord, error) {
	return f.records, f.err
}

func (f *fakeLedger) ClosedActivitiesPage(_ context.Context, _ string, limit, offset int) ([]models.ActivityRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.pages++
	if f.onPage != nil {
		f.onPage(f.pages)
	}

	var closed []models.ActivityRecord
	for _, r := range f.records {
		if !r.IsActive {
			closed = append(closed, r)
		}
	}
	sort.SliceStable(closed, func(i, j int) bool {
		if closed[i].UserID != closed[j].UserID {
			return closed[i].UserID < closed[j].UserID
		}
		return closed[i].JoinTime.Before(closed[j].JoinTime)
	})
	return window(closed, limit, offset), nil
}

func (f *fakeLedger) ActivitiesPage(_ context.Context, _ string, from, to time.Time, limit, offset int) ([]models.ActivityRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.pages++

	var inside []models.ActivityRecord
	for _, r := range f.records {
		if !r.JoinTime.Before(from) && r.JoinTime.Before(to) {
			inside = append(inside, r)
		}
	}
	return window(inside, limit, offset), nil
}

func window(records []models.ActivityRecord, limit, offset int) []models.ActivityRecord {
	if offset >= len(records) {
		return nil
	}
	end := offset + limit
	if end > len(records) {
		end = len(records)
	}
	return records[offset:end]
}

type fakeRebuildStore struct {
	rows   map[string]models.PeriodAggregate
	writes int
}

func (f *fakeRebuildStore) ReplacePeriodAggregate(_ context.Context, agg models.PeriodAggregate) error {
	if f.rows == nil {
		f.rows = make(map[string]models.PeriodAggregate)
	}
	f.rows[agg.UserID+"|"+rankingKey(agg.PeriodType, agg.PeriodKey)] = agg
	f.writes++
	return nil
}

type fakeDirectory struct {
	names   map[string]string
	err     error
	lookups int
}

func (f *fakeDirectory) ChannelName(_ context.Context, _, channelID string) (string, error) {
	f.lookups++
	if f.err != nil {
		return "", f.err
	}
	return f.names[channelID], nil
}

func closedRecord(id, userID string, join time.Time, seconds int64, starter bool) models.ActivityRecord {
	leave := join.Add(time.Duration(seconds) * time.Second)
	return models.ActivityRecord{
		ID:               id,
		ServerID:         "guild",
		UserID:           userID,
		Username:         userID + "-name",
		ChannelID:        "lounge",
		JoinTime:         join,
		LeaveTime:        &leave,
		Duration:         &seconds,
		IsSessionStarter: starter,
	}
}

func openRecord(id, userID string, join time.Time) models.ActivityRecord {
	return models.ActivityRecord{
		ID:        id,
		ServerID:  "guild",
		UserID:    userID,
		Username:  userID + "-name",
		ChannelID: "lounge",
		JoinTime:  join,
		IsActive:  true,
	}
}

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}
