package utils

import (
	"fmt"
	"strings"
)

// FormatUserMention formats a user ID as a Discord mention
func FormatUserMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// ExtractUserIDFromMention extracts user ID from Discord mention
func ExtractUserIDFromMention(mention string) string {
	userID := strings.TrimPrefix(mention, "<@")
	userID = strings.TrimSuffix(userID, ">")
	// nickname mentions
	userID = strings.TrimPrefix(userID, "!")
	return userID
}

// IsUserMention checks if a string is a valid user mention
func IsUserMention(text string) bool {
	return strings.HasPrefix(text, "<@") && strings.HasSuffix(text, ">") && len(text) > 3
}

// FormatLeaderboardEntry formats a leaderboard line with rank, user, value and
// an optional trend suffix.
func FormatLeaderboardEntry(rank int, userMention, value, trend string) string {
	var medal string
	switch rank {
	case 1:
		medal = "🥇"
	case 2:
		medal = "🥈"
	case 3:
		medal = "🥉"
	default:
		medal = fmt.Sprintf("%d.", rank)
	}

	line := fmt.Sprintf("%s %s - %s", medal, userMention, value)
	if trend != "" {
		line += " " + trend
	}
	return line
}

// FormatTrend renders a rank movement. isNew wins over rankChange; a nil
// rankChange with isNew false renders nothing.
func FormatTrend(rankChange *int, isNew bool) string {
	switch {
	case isNew:
		return "🆕"
	case rankChange == nil:
		return ""
	case *rankChange > 0:
		return fmt.Sprintf("▲%d", *rankChange)
	case *rankChange < 0:
		return fmt.Sprintf("▼%d", -*rankChange)
	}
	return "="
}

// FormatChannelMention formats a channel ID as a Discord channel mention
func FormatChannelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

// TruncateString truncates a string to max runes and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
