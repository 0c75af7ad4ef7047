package discord

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/charmbracelet/log"

	"github.com/skylantern/voicetime/pkg/utils"
)

var questTitles = map[string]string{
	"voice_30min_daily": "오늘 음성 30분",
	"voice_5h_weekly":   "이번 주 음성 5시간",
	"voice_10h_weekly":  "이번 주 음성 10시간",
	"voice_20h_weekly":  "이번 주 음성 20시간",
}

// QuestAnnouncer is a reward sink that congratulates users in a channel.
type QuestAnnouncer struct {
	messenger Messenger
	channelID string
}

// NewQuestAnnouncer creates an announcer for channelID.
func NewQuestAnnouncer(m Messenger, channelID string) *QuestAnnouncer {
	return &QuestAnnouncer{messenger: m, channelID: channelID}
}

// Award posts the completion message. A failed post fails the award.
func (a *QuestAnnouncer) Award(_ context.Context, userID, questKey string) error {
	title, ok := questTitles[questKey]
	if !ok {
		title = questKey
	}
	msg := fmt.Sprintf("🎉 %s 님이 **%s** 퀘스트를 달성했습니다!", utils.FormatUserMention(userID), title)
	_, err := a.messenger.Send(a.channelID, msg)
	return err
}

// LogSink accepts every award and only logs it.
type LogSink struct {
	Logger *log.Logger
}

func (s LogSink) Award(_ context.Context, userID, questKey string) error {
	logger := s.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Info("Quest completed", "user", userID, "quest", questKey)
	return nil
}

var dropLines = []string{
	"🌿 허브가 떨어졌어요! 먼저 줍는 사람이 임자!",
	"🎁 보급 상자가 도착했습니다!",
	"✨ 반짝이는 무언가가 음성 채널 근처에 떨어졌어요.",
}

// DropAnnouncer posts a random drop message to channelID.
func DropAnnouncer(m Messenger, channelID string, logger *log.Logger) func(context.Context) {
	if logger == nil {
		logger = log.Default().WithPrefix("drops")
	}
	return func(context.Context) {
		line := dropLines[rand.Intn(len(dropLines))]
		if _, err := m.Send(channelID, line); err != nil {
			logger.Error("Drop announcement failed", "channel", channelID, "err", err)
			return
		}
		logger.Info("Drop announced", "channel", channelID)
	}
}
