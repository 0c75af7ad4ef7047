// Package engine owns the accounting components and their lifecycle.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/config"
	"github.com/skylantern/voicetime/internal/database"
	"github.com/skylantern/voicetime/internal/ledger"
	"github.com/skylantern/voicetime/internal/period"
	"github.com/skylantern/voicetime/internal/presence"
	"github.com/skylantern/voicetime/internal/quest"
	"github.com/skylantern/voicetime/internal/scheduler"
)

// Options configure an engine.
type Options struct {
	Core         config.Core
	SchedulePath string
	DropCount    int
	// Clock overrides the system clock built from Core.FixedZone.
	Clock  *clock.Clock
	Logger *log.Logger
}

// Engine wires the clock, ledger, tracker, period queries, quests and
// scheduler together.
type Engine struct {
	Clock      *clock.Clock
	Repository *database.Repository
	Ledger     *ledger.Store
	Tracker    *presence.Tracker
	Periods    *period.Engine
	Quests     *quest.Dispatcher
	Scheduler  *scheduler.Scheduler

	core   config.Core
	drops  *scheduler.DailyRandom
	logger *log.Logger

	mu     sync.Mutex
	dropFn scheduler.Job
}

// New builds an engine over an open database.
func New(db *database.DB, dir ledger.Directory, sink quest.RewardSink, opts Options) (*Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	c := opts.Clock
	if c == nil {
		loc, err := clock.LoadZone(opts.Core.FixedZone)
		if err != nil {
			return nil, err
		}
		c = clock.New(loc)
	}

	repo := database.NewRepository(db)
	store := ledger.New(repo, dir)
	tracker := presence.New(c, store, logger.WithPrefix("tracker"))
	periods := period.New(c, store)
	quests := quest.New(c, periods, repo, sink,
		quest.Build(opts.Core.DailyQuestThresholds, opts.Core.WeeklyQuestThresholds),
		logger.WithPrefix("quest"))
	tracker.OnAccrued(quests.OnAccrued)

	e := &Engine{
		Clock:      c,
		Repository: repo,
		Ledger:     store,
		Tracker:    tracker,
		Periods:    periods,
		Quests:     quests,
		Scheduler:  scheduler.New(c, logger.WithPrefix("scheduler")),
		core:       opts.Core,
		logger:     logger.WithPrefix("engine"),
	}
	if opts.SchedulePath != "" && opts.DropCount > 0 {
		e.drops = scheduler.NewDailyRandom(opts.SchedulePath, opts.DropCount, c, time.Now().UnixNano())
	}
	return e, nil
}

// ArmDrops arms today's random drop times to call fn and re-arms them at
// every midnight rollover. It is a no-op without a schedule path.
func (e *Engine) ArmDrops(fn scheduler.Job) (int, error) {
	if e.drops == nil {
		return 0, nil
	}
	e.mu.Lock()
	e.dropFn = fn
	e.mu.Unlock()
	return e.Scheduler.ArmDaily(e.drops, "drop", fn)
}

// Start registers the flush and rollover jobs and starts the scheduler.
func (e *Engine) Start() error {
	if err := e.Scheduler.Every(e.core.FlushInterval(), "presence-flush", e.flush); err != nil {
		return err
	}
	if err := e.Scheduler.EveryDayAt(0, 0, "midnight-rollover", e.rollover); err != nil {
		return err
	}
	if err := e.Scheduler.Start(); err != nil {
		return err
	}
	e.logger.Info("Engine started", "zone", e.Clock.Location(), "flush", e.core.FlushInterval(), "quests", len(e.Quests.Quests()))
	return nil
}

// Shutdown stops the scheduler and flushes open intervals up to now.
func (e *Engine) Shutdown(ctx context.Context) error {
	stopErr := e.Scheduler.Stop(ctx)
	flushErr := e.Tracker.Flush(ctx)
	if flushErr != nil {
		flushErr = fmt.Errorf("final flush: %w", flushErr)
	}
	e.logger.Info("Engine stopped", "open", len(e.Tracker.Snapshot()), "pending", e.Tracker.Pending())
	return errors.Join(stopErr, flushErr)
}

func (e *Engine) flush(ctx context.Context) {
	if err := e.Tracker.Flush(ctx); err != nil {
		e.logger.Warn("Flush left accruals pending", "pending", e.Tracker.Pending(), "err", err)
	}
}

func (e *Engine) rollover(ctx context.Context) {
	closed := e.Clock.Today().AddDays(-1)
	e.flush(ctx)
	e.logger.Info("Day closed", "date", closed, "open", len(e.Tracker.Snapshot()))

	e.mu.Lock()
	fn := e.dropFn
	e.mu.Unlock()
	if fn == nil {
		return
	}
	if _, err := e.Scheduler.ArmDaily(e.drops, "drop", fn); err != nil {
		e.logger.Error("Failed to arm drops", "err", err)
	}
}
