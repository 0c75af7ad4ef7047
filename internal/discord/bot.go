// Package discord adapts gateway events to the presence tracker and serves
// the bot's chat commands.
package discord

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/charmbracelet/log"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/ledger"
	"github.com/skylantern/voicetime/internal/models"
	"github.com/skylantern/voicetime/pkg/utils"
)

// Presence is the tracker capability the adapter drives.
type Presence interface {
	Join(ctx context.Context, userID, channelID string, at time.Time)
	Leave(ctx context.Context, userID, channelID string, at time.Time) error
	Move(ctx context.Context, userID, from, to string, at time.Time) error
	ChannelsOf(userID string) []string
	Reconcile(ctx context.Context, scope []string, members map[string][]string) error
	ChannelGone(ctx context.Context, channelID string) error
}

// Channels is the tracked-channel capability of the ledger.
type Channels interface {
	RegisterChannel(ctx context.Context, id string, tag models.Tag) error
	UnregisterChannel(ctx context.Context, id string, tag models.Tag) error
	ListTracked(ctx context.Context, tag models.Tag) ([]string, error)
	IsTracked(ctx context.Context, channelID, parentID string) (bool, error)
	RememberDeleted(ctx context.Context, channelID, categoryID string) error
	Reset(ctx context.Context, tag models.Tag) (int64, error)
}

// Deps are the capabilities handed to the bot at wiring time.
type Deps struct {
	Clock     *clock.Clock
	Presence  Presence
	Channels  Channels
	Totals    Totals
	Directory ledger.Directory
	Messenger Messenger
	Admins    []string
	Logger    *log.Logger
}

// Bot represents the Discord bot
type Bot struct {
	session   *discordgo.Session
	clock     *clock.Clock
	presence  Presence
	channels  Channels
	totals    Totals
	dir       ledger.Directory
	messenger Messenger
	admins    map[string]struct{}
	logger    *log.Logger
}

// NewSession creates a Discord session with the intents the bot needs.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsMessageContent
	session.StateEnabled = true
	return session, nil
}

// New creates the bot over session and registers its handlers.
func New(session *discordgo.Session, deps Deps) *Bot {
	logger := deps.Logger
	if logger == nil {
		logger = log.Default().WithPrefix("discord")
	}
	messenger := deps.Messenger
	if messenger == nil {
		messenger = NewMessenger(session)
	}
	dir := deps.Directory
	if dir == nil {
		dir = NewStateDirectory(session.State)
	}
	admins := make(map[string]struct{}, len(deps.Admins))
	for _, id := range deps.Admins {
		admins[id] = struct{}{}
	}

	bot := &Bot{
		session:   session,
		clock:     deps.Clock,
		presence:  deps.Presence,
		channels:  deps.Channels,
		totals:    deps.Totals,
		dir:       dir,
		messenger: messenger,
		admins:    admins,
		logger:    logger,
	}

	session.AddHandler(bot.voiceStateUpdate)
	session.AddHandler(bot.channelDelete)
	session.AddHandler(bot.guildCreate)
	session.AddHandler(bot.messageCreate)

	return bot
}

// Start opens the gateway connection.
func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w: %w", models.ErrAdapterDisconnect, err)
	}
	b.logger.Info("Bot is running")
	return nil
}

// Stop closes the gateway connection.
func (b *Bot) Stop() error {
	return b.session.Close()
}

// voiceStateUpdate turns a voice state change into tracker events. The
// tracker's open intervals, not the cached previous state, decide what the
// user is leaving.
func (b *Bot) voiceStateUpdate(s *discordgo.Session, vs *discordgo.VoiceStateUpdate) {
	if vs.VoiceState == nil || b.isBot(s, vs.GuildID, vs.UserID, vs.Member) {
		return
	}
	ctx := context.Background()
	now := b.clock.Now()
	target := vs.ChannelID

	var leaving []string
	stay := false
	for _, ch := range b.presence.ChannelsOf(vs.UserID) {
		if ch == target {
			stay = true
			continue
		}
		leaving = append(leaving, ch)
	}

	var err error
	switch {
	case target != "" && !stay && len(leaving) == 1:
		err = b.presence.Move(ctx, vs.UserID, leaving[0], target, now)
		b.logger.Debug("Voice move", "user", vs.UserID, "from", leaving[0], "to", target)
	default:
		for _, ch := range leaving {
			if lerr := b.presence.Leave(ctx, vs.UserID, ch, now); lerr != nil && err == nil {
				err = lerr
			}
		}
		if target != "" && !stay {
			b.presence.Join(ctx, vs.UserID, target, now)
		}
	}
	if err != nil {
		b.logger.Warn("Voice accrual failed", "user", vs.UserID, "channel", target, "err", err)
	}
}

// channelDelete closes intervals in the deleted channel and remembers its
// category so the category keeps its history.
func (b *Bot) channelDelete(s *discordgo.Session, ev *discordgo.ChannelDelete) {
	if ev.Channel == nil {
		return
	}
	ctx := context.Background()
	ch := ev.Channel

	if isVoice(ch) && ch.ParentID != "" {
		tracked, err := b.channels.IsTracked(ctx, ch.ID, ch.ParentID)
		switch {
		case err != nil:
			b.logger.Error("Failed to check deleted channel", "channel", ch.ID, "err", err)
		case tracked:
			if err := b.channels.RememberDeleted(ctx, ch.ID, ch.ParentID); err != nil {
				b.logger.Error("Failed to remember deleted channel", "channel", ch.ID, "category", ch.ParentID, "err", err)
			}
		}
	}
	if err := b.presence.ChannelGone(ctx, ch.ID); err != nil {
		b.logger.Warn("Failed to close intervals in deleted channel", "channel", ch.ID, "err", err)
	}
	b.logger.Info("Channel deleted", "channel", ch.ID, "category", ch.ParentID)
}

// guildCreate reconciles the tracker with the guild's voice members. It
// fires on connect and on every reconnect.
func (b *Bot) guildCreate(s *discordgo.Session, ev *discordgo.GuildCreate) {
	if ev.Guild == nil || ev.Unavailable {
		return
	}
	scope := make([]string, 0, len(ev.Channels))
	for _, ch := range ev.Channels {
		if isVoice(ch) {
			scope = append(scope, ch.ID)
		}
	}

	members := make(map[string][]string)
	for _, vs := range ev.VoiceStates {
		if vs.ChannelID == "" || b.isBot(s, ev.ID, vs.UserID, vs.Member) {
			continue
		}
		members[vs.ChannelID] = append(members[vs.ChannelID], vs.UserID)
	}

	if err := b.presence.Reconcile(context.Background(), scope, members); err != nil {
		b.logger.Warn("Reconcile left accruals pending", "guild", ev.ID, "err", err)
	}
}

func (b *Bot) isBot(s *discordgo.Session, guildID, userID string, member *discordgo.Member) bool {
	if member != nil && member.User != nil {
		return member.User.Bot
	}
	if s == nil || s.State == nil {
		return false
	}
	m, err := s.State.Member(guildID, userID)
	return err == nil && m.User != nil && m.User.Bot
}

// messageCreate handles message creation events
func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	fields := strings.Fields(m.Content)
	if len(fields) == 0 {
		return
	}
	ctx := context.Background()

	switch fields[0] {
	case "!voice":
		b.handleVoiceCommand(ctx, m, fields[1:])
	case "!rank":
		b.handleRankCommand(ctx, m, fields[1:])
	case "!track", "!untrack", "!tracked", "!완전초기화":
		if _, ok := b.admins[m.Author.ID]; !ok {
			b.reply(m.ChannelID, "권한이 없습니다.")
			return
		}
		b.handleAdminCommand(ctx, m, fields[0], fields[1:])
	}
}

func parsePeriod(args []string) (models.Period, bool) {
	if len(args) == 0 {
		return models.Daily, true
	}
	p := models.Period(args[0])
	return p, p.Valid()
}

// handleVoiceCommand handles the !voice command
func (b *Bot) handleVoiceCommand(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	p, ok := parsePeriod(args)
	if !ok {
		b.reply(m.ChannelID, "사용법: !voice [일간|주간|월간|누적]")
		return
	}

	res, err := b.totals.User(ctx, m.Author.ID, models.TagVoice, p, b.clock.Now())
	if err != nil {
		b.logger.Error("Error getting voice time", "user", m.Author.ID, "period", p, "err", err)
		b.reply(m.ChannelID, "음성 기록을 불러오지 못했습니다.")
		return
	}
	b.reply(m.ChannelID, RenderUser(m.Author.Username, p, res.Channels))
}

// handleRankCommand replies with the top users of a period.
func (b *Bot) handleRankCommand(ctx context.Context, m *discordgo.MessageCreate, args []string) {
	p, ok := parsePeriod(args)
	if !ok {
		b.reply(m.ChannelID, "사용법: !rank [일간|주간|월간|누적]")
		return
	}
	res, err := b.totals.All(ctx, models.TagVoice, p, b.clock.Now())
	if err != nil {
		b.logger.Error("Error getting ranking", "period", p, "err", err)
		b.reply(m.ChannelID, "순위를 불러오지 못했습니다.")
		return
	}
	b.reply(m.ChannelID, RenderRanking(p, res.Ranked(), BoardSize))
}

// RenderUser formats one user's per-channel time, longest first.
func RenderUser(name string, p models.Period, channels map[string]int64) string {
	type row struct {
		id      string
		seconds int64
	}
	rows := make([]row, 0, len(channels))
	var total int64
	for id, s := range channels {
		rows = append(rows, row{id, s})
		total += s
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].seconds != rows[j].seconds {
			return rows[i].seconds > rows[j].seconds
		}
		return rows[i].id < rows[j].id
	})

	var lines []string
	for _, r := range rows {
		lines = append(lines, fmt.Sprintf("%s: %s", utils.FormatChannelMention(r.id), utils.FormatKorean(r.seconds)))
	}
	if len(lines) == 0 {
		lines = append(lines, "(기록 없음)")
	}
	return fmt.Sprintf("🔊 %s님의 %s 음성 기록\n%s\n합계: %s (%s)",
		name, periodTitles[p], strings.Join(lines, "\n"), utils.FormatKorean(total), utils.FormatDuration(total))
}

func parseTag(args []string) (models.Tag, bool) {
	if len(args) == 0 {
		return models.TagVoice, true
	}
	tag := models.Tag(args[0])
	return tag, tag.Valid()
}

func (b *Bot) handleAdminCommand(ctx context.Context, m *discordgo.MessageCreate, cmd string, args []string) {
	switch cmd {
	case "!track", "!untrack":
		if len(args) == 0 {
			b.reply(m.ChannelID, fmt.Sprintf("사용법: %s <채널> [voice|herb]", cmd))
			return
		}
		id, ok := utils.ParseChannelRef(args[0])
		tag, tagOK := parseTag(args[1:])
		if !ok || !tagOK {
			b.reply(m.ChannelID, fmt.Sprintf("사용법: %s <채널> [voice|herb]", cmd))
			return
		}
		var err error
		if cmd == "!track" {
			err = b.channels.RegisterChannel(ctx, id, tag)
		} else {
			err = b.channels.UnregisterChannel(ctx, id, tag)
		}
		if err != nil {
			b.logger.Error("Tracked channel update failed", "cmd", cmd, "channel", id, "tag", tag, "err", err)
			b.reply(m.ChannelID, "채널 설정을 저장하지 못했습니다.")
			return
		}
		format := "%s 채널을 %s 추적 대상으로 등록했습니다."
		if cmd == "!untrack" {
			format = "%s 채널을 %s 추적 대상에서 해제했습니다."
		}
		b.logger.Info("Tracked channels changed", "cmd", cmd, "channel", id, "tag", tag, "by", m.Author.ID)
		b.reply(m.ChannelID, fmt.Sprintf(format, utils.FormatChannelMention(id), tag))

	case "!tracked":
		tag, ok := parseTag(args)
		if !ok {
			b.reply(m.ChannelID, "사용법: !tracked [voice|herb]")
			return
		}
		ids, err := b.channels.ListTracked(ctx, tag)
		if err != nil {
			b.logger.Error("Failed to list tracked channels", "tag", tag, "err", err)
			b.reply(m.ChannelID, "채널 목록을 불러오지 못했습니다.")
			return
		}
		if len(ids) == 0 {
			b.reply(m.ChannelID, fmt.Sprintf("%s 추적 채널이 없습니다.", tag))
			return
		}
		mentions := make([]string, len(ids))
		for i, id := range ids {
			mentions[i] = utils.FormatChannelMention(id)
		}
		b.reply(m.ChannelID, fmt.Sprintf("%s 추적 채널: %s", tag, strings.Join(mentions, " ")))

	case "!완전초기화":
		tag, ok := parseTag(args)
		if !ok {
			b.reply(m.ChannelID, "사용법: !완전초기화 [voice|herb]")
			return
		}
		n, err := b.channels.Reset(ctx, tag)
		if err != nil {
			b.logger.Error("Reset failed", "tag", tag, "err", err)
			b.reply(m.ChannelID, "초기화에 실패했습니다.")
			return
		}
		b.logger.Warn("Ledger reset", "tag", tag, "rows", n, "by", m.Author.ID)
		b.reply(m.ChannelID, fmt.Sprintf("%s 기록 %d건을 초기화했습니다.", tag, n))
	}
}

func (b *Bot) reply(channelID, content string) {
	if _, err := b.messenger.Send(channelID, content); err != nil {
		b.logger.Error("Failed to reply", "channel", channelID, "err", err)
	}
}
