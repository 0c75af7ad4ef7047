package discord

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/models"
	"github.com/skylantern/voicetime/internal/period"
	"github.com/skylantern/voicetime/pkg/utils"
)

// Totals is the period query capability the adapter reads.
type Totals interface {
	User(ctx context.Context, userID string, tag models.Tag, p models.Period, ref time.Time) (period.Result, error)
	All(ctx context.Context, tag models.Tag, p models.Period, ref time.Time) (period.AllResult, error)
}

// BoardSize is how many users the rank board lists.
const BoardSize = 10

var periodTitles = map[models.Period]string{
	models.Daily:      "오늘",
	models.Weekly:     "이번 주",
	models.Monthly:    "이번 달",
	models.Cumulative: "누적",
}

// RenderRanking formats the top users of a period.
func RenderRanking(p models.Period, ranked []period.UserTotal, limit int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🏆 **%s 음성 순위**\n", periodTitles[p])
	if len(ranked) == 0 {
		b.WriteString("(기록 없음)")
		return b.String()
	}
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	for i, u := range ranked {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(utils.FormatLeaderboardEntry(i+1, utils.FormatUserMention(u.UserID), utils.FormatKorean(u.Seconds)))
	}
	return b.String()
}

// Board keeps one rank message per channel up to date.
type Board struct {
	clock     *clock.Clock
	totals    Totals
	messenger Messenger
	channelID string
	logger    *log.Logger

	mu        sync.Mutex
	messageID string
}

// NewBoard creates a weekly rank board posting to channelID.
func NewBoard(c *clock.Clock, totals Totals, m Messenger, channelID string, logger *log.Logger) *Board {
	if logger == nil {
		logger = log.Default().WithPrefix("board")
	}
	return &Board{clock: c, totals: totals, messenger: m, channelID: channelID, logger: logger}
}

// Refresh posts the board the first time and edits it afterwards. A failed
// edit replaces the message with a new one.
func (b *Board) Refresh(ctx context.Context) error {
	res, err := b.totals.All(ctx, models.TagVoice, models.Weekly, b.clock.Now())
	if err != nil {
		return err
	}
	content := RenderRanking(models.Weekly, res.Ranked(), BoardSize) +
		fmt.Sprintf("\n\n_%s 기준_", b.clock.Now().Format("01/02 15:04"))

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.messageID != "" {
		err := b.messenger.Edit(b.channelID, b.messageID, content)
		if err == nil {
			return nil
		}
		b.logger.Warn("Board edit failed, posting again", "message", b.messageID, "err", err)
		if err := b.messenger.Delete(b.channelID, b.messageID); err != nil {
			b.logger.Debug("Stale board message not deleted", "message", b.messageID, "err", err)
		}
	}
	id, err := b.messenger.Send(b.channelID, content)
	if err != nil {
		return err
	}
	b.messageID = id
	return nil
}

// Job adapts Refresh to a scheduler callback.
func (b *Board) Job(ctx context.Context) {
	if err := b.Refresh(ctx); err != nil {
		b.logger.Error("Board refresh failed", "channel", b.channelID, "err", err)
	}
}
