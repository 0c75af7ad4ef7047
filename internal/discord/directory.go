package discord

import (
	"sort"

	"github.com/bwmarrin/discordgo"
)

// StateDirectory answers channel tree questions from the session state cache.
type StateDirectory struct {
	state *discordgo.State
}

// NewStateDirectory wraps a session state.
func NewStateDirectory(state *discordgo.State) *StateDirectory {
	return &StateDirectory{state: state}
}

// IsCategory reports whether id is a cached category.
func (d *StateDirectory) IsCategory(id string) bool {
	ch, err := d.state.Channel(id)
	return err == nil && ch.Type == discordgo.ChannelTypeGuildCategory
}

// VoiceChildren lists the cached voice and stage channels under a category.
func (d *StateDirectory) VoiceChildren(categoryID string) []string {
	d.state.RLock()
	defer d.state.RUnlock()

	var out []string
	for _, g := range d.state.Guilds {
		for _, ch := range g.Channels {
			if ch.ParentID == categoryID && isVoice(ch) {
				out = append(out, ch.ID)
			}
		}
	}
	sort.Strings(out)
	return out
}

// ParentOf returns the category of a cached channel, or "".
func (d *StateDirectory) ParentOf(channelID string) string {
	ch, err := d.state.Channel(channelID)
	if err != nil {
		return ""
	}
	return ch.ParentID
}

func isVoice(ch *discordgo.Channel) bool {
	return ch.Type == discordgo.ChannelTypeGuildVoice || ch.Type == discordgo.ChannelTypeGuildStageVoice
}
