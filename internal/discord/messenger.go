package discord

//go:generate mockgen -destination=../../mocks/messenger.go -package=mocks . Messenger

import (
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/skylantern/voicetime/pkg/utils"
)

// Messenger sends, edits and deletes channel messages.
type Messenger interface {
	Send(channelID, content string) (string, error)
	Edit(channelID, messageID, content string) error
	Delete(channelID, messageID string) error
}

type sessionMessenger struct {
	session *discordgo.Session
}

// NewMessenger returns a Messenger over a discordgo session.
func NewMessenger(s *discordgo.Session) Messenger {
	return &sessionMessenger{session: s}
}

func (m *sessionMessenger) Send(channelID, content string) (string, error) {
	msg, err := m.session.ChannelMessageSend(channelID, utils.TruncateString(content, utils.MessageLimit))
	if err != nil {
		return "", fmt.Errorf("failed to send message to %s: %w", channelID, err)
	}
	return msg.ID, nil
}

func (m *sessionMessenger) Edit(channelID, messageID, content string) error {
	if _, err := m.session.ChannelMessageEdit(channelID, messageID, utils.TruncateString(content, utils.MessageLimit)); err != nil {
		return fmt.Errorf("failed to edit message %s: %w", messageID, err)
	}
	return nil
}

func (m *sessionMessenger) Delete(channelID, messageID string) error {
	if err := m.session.ChannelMessageDelete(channelID, messageID); err != nil {
		return fmt.Errorf("failed to delete message %s: %w", messageID, err)
	}
	return nil
}
