package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"voicestats/internal/database"
	"voicestats/internal/models"
	"voicestats/internal/period"
	"voicestats/internal/stats"
	"voicestats/pkg/utils"
)

const leaderboardSize = 10

var periodLabels = map[models.PeriodType]string{
	models.PeriodWeek:  "minggu ini",
	models.PeriodMonth: "bulan ini",
	models.PeriodYear:  "tahun ini",
}

type commands struct {
	ranker RankingComputer
	totals AggregateReader
	calc   *period.Calculator
	logger *slog.Logger
	now    func() time.Time
}

func newCommands(opts Options) *commands {
	return &commands{
		ranker: opts.Ranker,
		totals: opts.Totals,
		calc:   opts.Calc,
		logger: opts.Logger,
		now:    opts.Now,
	}
}

// handle returns the reply for content, or false if it is not a command.
func (c *commands) handle(ctx context.Context, guildID string, author *discordgo.User, content string) (string, bool) {
	fields := strings.Fields(content)
	if len(fields) == 0 {
		return "", false
	}

	switch fields[0] {
	case "!top":
		return c.top(ctx, guildID, fields[1:]), true
	case "!voice":
		return c.voice(ctx, guildID, author, fields[1:]), true
	}
	return "", false
}

// top handles the !top command
func (c *commands) top(ctx context.Context, guildID string, args []string) string {
	periodType := models.PeriodWeek
	if len(args) > 0 {
		periodType = models.PeriodType(strings.ToLower(args[0]))
		if !periodType.Valid() {
			return "Format: !top [week|month|year]"
		}
	}

	key := c.calc.Key(c.now(), periodType)
	start, end, err := c.calc.Bounds(periodType, key)
	if err != nil {
		c.logger.Error("failed to compute period bounds", "period_key", key, "error", err)
		return "Terjadi kesalahan mengambil ranking."
	}

	lastDay := end.AddDate(0, 0, -1)
	result, err := c.ranker.ComputeRanking(ctx, stats.RankingQuery{
		ServerID: guildID,
		Metric:   models.MetricDuration,
		From:     start,
		To:       lastDay,
		Limit:    leaderboardSize,
		Compare:  true,
	})
	if err != nil {
		c.logger.Error("failed to compute ranking",
			"server_id", guildID,
			"period_key", key,
			"error", err)
		return "Terjadi kesalahan mengambil ranking."
	}

	if len(result.Rankings) == 0 {
		return fmt.Sprintf("🏆 Belum ada aktivitas voice %s (%s).", periodLabels[periodType], key)
	}

	lines := make([]string, 0, len(result.Rankings)+2)
	lines = append(lines, fmt.Sprintf("🏆 Top voice %s (%s)", periodLabels[periodType], key))
	for _, entry := range result.Rankings {
		lines = append(lines, utils.FormatLeaderboardEntry(
			entry.Rank,
			utils.FormatUserMention(entry.UserID),
			utils.FormatDuration(entry.Value),
			trend(entry.Comparison),
		))
	}
	lines = append(lines, fmt.Sprintf("Total: %s dari %d orang",
		utils.FormatDuration(result.Period.TotalDuration), result.Period.TotalParticipants))

	return strings.Join(lines, "\n")
}

// trend renders the rank movement and, when defined, the value change.
func trend(comparison *stats.Comparison) string {
	if comparison == nil {
		return ""
	}
	marker := utils.FormatTrend(comparison.RankChange, comparison.IsNew)
	if comparison.IsNew || comparison.ChangePercentage == nil {
		return marker
	}
	return fmt.Sprintf("%s (%s)", marker, utils.FormatPercentage(comparison.ChangePercentage))
}

// voice handles the !voice command
func (c *commands) voice(ctx context.Context, guildID string, author *discordgo.User, args []string) string {
	userID := author.ID
	name := utils.TruncateString(author.Username, 32)
	if len(args) > 0 {
		if !utils.IsUserMention(args[0]) {
			return "Format: !voice [@user]"
		}
		userID = utils.ExtractUserIDFromMention(args[0])
		name = utils.FormatUserMention(userID)
	}

	keys := c.calc.Keys(c.now())
	lines := []string{fmt.Sprintf("🔊 %s, waktu voice:", name)}
	for _, periodType := range models.PeriodTypes {
		agg, err := c.totals.GetPeriodAggregate(ctx, guildID, userID, periodType, keys[periodType])
		if err != nil && !errors.Is(err, database.ErrAggregateNotFound) {
			c.logger.Error("failed to get period aggregate",
				"server_id", guildID,
				"user_id", userID,
				"period_key", keys[periodType],
				"error", err)
			return "Terjadi kesalahan mengambil data voice."
		}
		lines = append(lines, fmt.Sprintf("%s (%s): %s, %d sesi",
			periodLabels[periodType], keys[periodType], utils.FormatDuration(agg.TotalDuration), agg.SessionCount))
	}
	return strings.Join(lines, "\n")
}
