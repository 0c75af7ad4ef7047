// Package quest awards voice-time quests at most once per daily or weekly window.
package quest

//go:generate mockgen -destination=../../mocks/reward_sink.go -package=mocks . RewardSink

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/keylock"
	"github.com/skylantern/voicetime/internal/models"
	"github.com/skylantern/voicetime/internal/period"
)

// RewardSink hands out the reward for a completed quest.
type RewardSink interface {
	Award(ctx context.Context, userID, questKey string) error
}

// Totals is the read-only view of the period engine the dispatcher needs.
type Totals interface {
	User(ctx context.Context, userID string, tag models.Tag, p models.Period, ref time.Time) (period.Result, error)
}

// AwardLedger records dispatched awards.
type AwardLedger interface {
	HasQuestAward(ctx context.Context, userID, questKey, windowKey string) (bool, error)
	RecordQuestAward(ctx context.Context, award models.QuestAward) (bool, error)
}

// Window is the reward period of a quest.
type Window int

const (
	Day Window = iota
	Week
)

func (w Window) String() string {
	if w == Week {
		return "weekly"
	}
	return "daily"
}

// Quest is a voice-time threshold within a window.
type Quest struct {
	Key       string
	Window    Window
	Threshold time.Duration
}

// NewQuest derives the quest key from its threshold, e.g. voice_30min_daily
// or voice_5h_weekly.
func NewQuest(w Window, threshold time.Duration) Quest {
	var amount string
	if threshold%time.Hour == 0 {
		amount = fmt.Sprintf("%dh", int64(threshold/time.Hour))
	} else {
		amount = fmt.Sprintf("%dmin", int64(threshold/time.Minute))
	}
	return Quest{Key: fmt.Sprintf("voice_%s_%s", amount, w), Window: w, Threshold: threshold}
}

// Build turns daily and weekly thresholds into quests.
func Build(daily, weekly []time.Duration) []Quest {
	quests := make([]Quest, 0, len(daily)+len(weekly))
	for _, th := range daily {
		quests = append(quests, NewQuest(Day, th))
	}
	for _, th := range weekly {
		quests = append(quests, NewQuest(Week, th))
	}
	return quests
}

// Defaults are the standard voice quests.
func Defaults() []Quest {
	return Build(
		[]time.Duration{30 * time.Minute},
		[]time.Duration{5 * time.Hour, 10 * time.Hour, 20 * time.Hour},
	)
}

// Dispatcher checks quests for a user and awards the ones newly completed.
type Dispatcher struct {
	clock  *clock.Clock
	totals Totals
	awards AwardLedger
	sink   RewardSink
	quests []Quest
	logger *log.Logger

	// Checks for the same user run one after another, so a check issued
	// after an accrual always reads it.
	users *keylock.KeyLock
}

// New creates a dispatcher.
func New(c *clock.Clock, totals Totals, awards AwardLedger, sink RewardSink, quests []Quest, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.Default().WithPrefix("quest")
	}
	return &Dispatcher{
		clock:  c,
		totals: totals,
		awards: awards,
		sink:   sink,
		quests: quests,
		logger: logger,
		users:  keylock.New(),
	}
}

// Quests returns the configured quests.
func (d *Dispatcher) Quests() []Quest {
	return append([]Quest(nil), d.quests...)
}

// WindowKey returns the current window key of w.
func (d *Dispatcher) WindowKey(w Window) string {
	return windowKey(w, d.clock.Today())
}

func windowKey(w Window, today clock.Date) string {
	if w == Week {
		return clock.WeekKey(today)
	}
	return clock.DayKey(today)
}

// OnAccrued checks the user's quests and logs failures. It matches the
// tracker's listener signature.
func (d *Dispatcher) OnAccrued(ctx context.Context, userID string) {
	if _, err := d.Check(ctx, userID); err != nil {
		d.logger.Warn("Quest check failed", "user", userID, "err", err)
	}
}

// Check awards every quest the user has completed in its current window and
// not yet been awarded for. It returns the keys awarded by this call.
// A sink failure leaves the quest unrecorded so the next check retries it.
func (d *Dispatcher) Check(ctx context.Context, userID string) ([]string, error) {
	unlock := d.users.Lock(userID)
	defer unlock()
	return d.check(ctx, userID)
}

func (d *Dispatcher) check(ctx context.Context, userID string) ([]string, error) {
	now := d.clock.Now()
	today := d.clock.DateOf(now)
	totals := make(map[Window]int64, 2)

	var (
		awarded []string
		errs    []error
	)
	for _, q := range d.quests {
		total, ok := totals[q.Window]
		if !ok {
			p := models.Daily
			if q.Window == Week {
				p = models.Weekly
			}
			res, err := d.totals.User(ctx, userID, models.TagVoice, p, now)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			total = res.Total()
			totals[q.Window] = total
		}
		if total < int64(q.Threshold/time.Second) {
			continue
		}

		window := windowKey(q.Window, today)
		if !clock.ValidWindowKey(window) {
			return awarded, fmt.Errorf("window key %q for %s: %w", window, q.Key, models.ErrInvariantViolation)
		}

		done, err := d.dispatch(ctx, userID, q, window, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if done {
			awarded = append(awarded, q.Key)
		}
	}
	return awarded, errors.Join(errs...)
}

// dispatch runs IDLE -> DISPATCHING -> DONE for one quest window.
func (d *Dispatcher) dispatch(ctx context.Context, userID string, q Quest, window string, now time.Time) (bool, error) {
	has, err := d.awards.HasQuestAward(ctx, userID, q.Key, window)
	if err != nil {
		return false, err
	}
	if has {
		return false, nil
	}

	if err := d.sink.Award(ctx, userID, q.Key); err != nil {
		d.logger.Warn("Reward sink rejected award", "user", userID, "quest", q.Key, "window", window, "err", err)
		return false, fmt.Errorf("award %s to %s: %w: %w", q.Key, userID, models.ErrSinkFailure, err)
	}

	inserted, err := d.awards.RecordQuestAward(ctx, models.QuestAward{
		UserID:    userID,
		QuestKey:  q.Key,
		WindowKey: window,
		AwardedAt: now,
	})
	if err != nil {
		d.logger.Error("Awarded but failed to record quest", "user", userID, "quest", q.Key, "window", window, "err", err)
		return true, err
	}
	if !inserted {
		d.logger.Warn("Quest award already recorded", "user", userID, "quest", q.Key, "window", window)
	}
	d.logger.Info("Quest awarded", "user", userID, "quest", q.Key, "window", window)
	return true, nil
}
