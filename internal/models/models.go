package models

import "time"

// Tag names the subsystem a tracked channel is registered for.
type Tag string

const (
	TagVoice Tag = "voice"
	TagHerb  Tag = "herb"
)

// Valid reports whether t is a known subsystem tag.
func (t Tag) Valid() bool {
	return t == TagVoice || t == TagHerb
}

// Period selects an aggregation window.
type Period string

const (
	Daily      Period = "일간"
	Weekly     Period = "주간"
	Monthly    Period = "월간"
	Cumulative Period = "누적"
)

// Valid reports whether p is a known period.
func (p Period) Valid() bool {
	switch p {
	case Daily, Weekly, Monthly, Cumulative:
		return true
	}
	return false
}

// PresenceKey identifies one open voice interval.
type PresenceKey struct {
	UserID    string
	ChannelID string
}

// VoiceTime is one ledger row: seconds a user spent in a channel on a local date.
type VoiceTime struct {
	UserID    string
	ChannelID string
	LocalDate string
	Seconds   int64
}

// DeletedChannel maps a gone channel to the category it was in.
type DeletedChannel struct {
	ChannelID  string
	CategoryID string
}

// QuestAward records a dispatched reward for one window.
type QuestAward struct {
	UserID    string
	QuestKey  string
	WindowKey string
	AwardedAt time.Time
}

// DailySchedule is today's persisted set of random local times.
type DailySchedule struct {
	Date  string   `json:"date"`
	Times []string `json:"times"`
}
