package utils

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MessageLimit is the longest message content Discord accepts.
const MessageLimit = 2000

// FormatUserMention formats a user ID as a Discord mention
func FormatUserMention(userID string) string {
	return fmt.Sprintf("<@%s>", userID)
}

// FormatChannelMention formats a channel ID as a Discord channel mention
func FormatChannelMention(channelID string) string {
	return fmt.Sprintf("<#%s>", channelID)
}

// ParseChannelRef accepts a raw id or a <#id> mention and returns the id.
func ParseChannelRef(ref string) (string, bool) {
	id := strings.TrimSpace(ref)
	if strings.HasPrefix(id, "<#") && strings.HasSuffix(id, ">") {
		id = id[2 : len(id)-1]
	}
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

// FormatLeaderboardEntry formats a leaderboard entry with rank, user, and duration
func FormatLeaderboardEntry(rank int, userMention, duration string) string {
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

	return fmt.Sprintf("%s %s - %s", medal, userMention, duration)
}

// TruncateString truncates s to at most maxLen runes, ending in an ellipsis
// when cut.
func TruncateString(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxLen-3]) + "..."
}
