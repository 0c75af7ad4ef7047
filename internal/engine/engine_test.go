package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/config"
	"github.com/skylantern/voicetime/internal/database"
	"github.com/skylantern/voicetime/internal/ledger"
	"github.com/skylantern/voicetime/internal/models"
	"github.com/skylantern/voicetime/internal/scheduler"
	"github.com/skylantern/voicetime/mocks"
)

var seoul, _ = clock.LoadZone(clock.DefaultZone)

func at(day, h, m, s int) time.Time {
	return time.Date(2025, 3, day, h, m, s, 0, seoul)
}

type harness struct {
	engine *Engine
	db     *database.DB
	sink   *mocks.MockRewardSink
	dir    *ledger.StaticDirectory
}

func newHarness(t *testing.T, db *database.DB, now time.Time, opts Options) harness {
	t.Helper()
	if db == nil {
		db = database.SetupTestDB(t)
	}
	sink := mocks.NewMockRewardSink(gomock.NewController(t))
	dir := ledger.NewStaticDirectory()

	opts.Core = config.DefaultCore()
	opts.Clock = clock.NewFake(now)
	e, err := New(db, dir, sink, opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Scheduler.Stop(context.Background()) })

	require.NoError(t, e.Ledger.RegisterChannel(context.Background(), "C", models.TagVoice))
	return harness{engine: e, db: db, sink: sink, dir: dir}
}

func rows(t *testing.T, e *Engine, userID string) map[string]int64 {
	t.Helper()
	got := make(map[string]int64)
	vs, err := e.Repository.VoiceRows(context.Background(), userID)
	require.NoError(t, err)
	for _, v := range vs {
		got[v.LocalDate] += v.Seconds
	}
	return got
}

func TestEngine_SimpleAccrual(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, at(1, 10, 0, 0), Options{})
	e := h.engine

	e.Tracker.Join(ctx, "U", "C", e.Clock.Now())
	e.Clock.Set(at(1, 10, 25, 30))
	require.NoError(t, e.Tracker.Leave(ctx, "U", "C", e.Clock.Now()))

	assert.Equal(t, map[string]int64{"2025-03-01": 1530}, rows(t, e, "U"))
}

func TestEngine_MidnightSplit(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, at(1, 23, 40, 0), Options{})
	e := h.engine
	h.sink.EXPECT().Award(gomock.Any(), "U", "voice_30min_daily").Return(nil).AnyTimes()

	e.Tracker.Join(ctx, "U", "C", e.Clock.Now())
	e.Clock.Set(at(2, 0, 10, 0))
	require.NoError(t, e.Tracker.Leave(ctx, "U", "C", e.Clock.Now()))

	assert.Equal(t, map[string]int64{"2025-03-01": 1200, "2025-03-02": 600}, rows(t, e, "U"))
}

func TestEngine_DailyQuestOnLeave(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, at(1, 10, 0, 0), Options{})
	e := h.engine
	h.sink.EXPECT().Award(gomock.Any(), "U", "voice_30min_daily").Return(nil).Times(1)

	e.Tracker.Join(ctx, "U", "C", e.Clock.Now())
	e.Clock.Set(at(1, 10, 30, 0))
	require.NoError(t, e.Tracker.Leave(ctx, "U", "C", e.Clock.Now()))

	// Later flushes and events never award the same window twice.
	e.Tracker.Join(ctx, "U", "C", e.Clock.Now())
	for i := 0; i < 3; i++ {
		e.Clock.Advance(time.Minute)
		require.NoError(t, e.Tracker.Flush(ctx))
	}

	awards, err := e.Repository.QuestAwards(ctx, "U")
	require.NoError(t, err)
	require.Len(t, awards, 1)
	assert.Equal(t, "voice_30min_daily", awards[0].QuestKey)
	assert.Equal(t, "2025-03-01", awards[0].WindowKey)
}

func TestEngine_WeeklyQuestsOverFlushes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, at(3, 0, 0, 0), Options{})
	e := h.engine

	h.sink.EXPECT().Award(gomock.Any(), "U", "voice_30min_daily").Return(nil).Times(4)
	h.sink.EXPECT().Award(gomock.Any(), "U", "voice_5h_weekly").Return(nil).Times(1)
	h.sink.EXPECT().Award(gomock.Any(), "U", "voice_10h_weekly").Return(nil).Times(1)
	h.sink.EXPECT().Award(gomock.Any(), "U", "voice_20h_weekly").Return(nil).Times(1)

	// Five hours a day, Monday to Thursday of 2025-W10, flushed hourly.
	for day := 3; day <= 6; day++ {
		e.Clock.Set(at(day, 9, 0, 0))
		e.Tracker.Join(ctx, "U", "C", e.Clock.Now())
		for hour := 0; hour < 5; hour++ {
			e.Clock.Advance(time.Hour)
			require.NoError(t, e.Tracker.Flush(ctx))
		}
		require.NoError(t, e.Tracker.Leave(ctx, "U", "C", e.Clock.Now()))
	}

	res, err := e.Periods.User(ctx, "U", models.TagVoice, models.Weekly, e.Clock.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(72000), res.Total())
}

func TestEngine_RestartDuringPresence(t *testing.T) {
	ctx := context.Background()
	db := database.SetupTestDB(t)

	first := newHarness(t, db, at(1, 10, 0, 0), Options{}).engine
	first.Tracker.Join(ctx, "U", "C", first.Clock.Now())
	first.Clock.Set(at(1, 10, 4, 0))
	require.NoError(t, first.Tracker.Flush(ctx))
	// Crash at 10:05: no shutdown flush.

	second := newHarness(t, db, at(1, 10, 6, 0), Options{}).engine
	require.NoError(t, second.Tracker.Reconcile(ctx, []string{"C"}, map[string][]string{"C": {"U"}}))
	second.Clock.Set(at(1, 10, 10, 0))
	require.NoError(t, second.Tracker.Leave(ctx, "U", "C", second.Clock.Now()))

	assert.Equal(t, map[string]int64{"2025-03-01": 480}, rows(t, second, "U"))
}

func TestEngine_ShutdownFlushes(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, at(1, 10, 0, 0), Options{})
	e := h.engine

	e.Tracker.Join(ctx, "U", "C", e.Clock.Now())
	e.Clock.Set(at(1, 10, 2, 0))
	require.NoError(t, e.Shutdown(ctx))

	assert.Equal(t, map[string]int64{"2025-03-01": 120}, rows(t, e, "U"))
	assert.ErrorIs(t, e.Start(), scheduler.ErrStopped)
}

func writeSchedule(t *testing.T, path string, sched models.DailySchedule) {
	t.Helper()
	data, err := json.Marshal(sched)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestEngine_DropsSurviveRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_schedule.json")
	writeSchedule(t, path, models.DailySchedule{Date: "2025-03-01", Times: []string{"14:00"}})

	fired := 0
	drop := func(context.Context) { fired++ }

	e := newHarness(t, nil, at(1, 13, 50, 0), Options{SchedulePath: path, DropCount: 1}).engine
	armed, err := e.ArmDrops(drop)
	require.NoError(t, err)
	assert.Equal(t, 1, armed)
	e.Scheduler.Tick(at(1, 14, 0, 0))
	assert.Equal(t, 1, fired)

	late := newHarness(t, nil, at(1, 14, 5, 0), Options{SchedulePath: path, DropCount: 1}).engine
	armed, err = late.ArmDrops(drop)
	require.NoError(t, err)
	assert.Zero(t, armed)
	late.Scheduler.Tick(at(1, 14, 6, 0))
	assert.Equal(t, 1, fired)
}

func TestEngine_MidnightRolloverRearmsDrops(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_schedule.json")
	writeSchedule(t, path, models.DailySchedule{Date: "2025-03-01", Times: []string{"23:30"}})

	e := newHarness(t, nil, at(1, 23, 0, 0), Options{SchedulePath: path, DropCount: 1}).engine
	_, err := e.ArmDrops(func(context.Context) {})
	require.NoError(t, err)
	require.NoError(t, e.Scheduler.EveryDayAt(0, 0, "midnight-rollover", e.rollover))

	e.Clock.Set(at(2, 0, 0, 0))
	fired := e.Scheduler.Tick(e.Clock.Now())
	assert.ElementsMatch(t, []string{"midnight-rollover", "drop#1"}, fired)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var sched models.DailySchedule
	require.NoError(t, json.Unmarshal(data, &sched))
	assert.Equal(t, "2025-03-02", sched.Date)
	assert.Len(t, sched.Times, 1)
	assert.Len(t, e.Scheduler.Pending(), 1)
}

func TestEngine_NoDropsWithoutSchedule(t *testing.T) {
	e := newHarness(t, nil, at(1, 9, 0, 0), Options{}).engine
	armed, err := e.ArmDrops(func(context.Context) {})
	require.NoError(t, err)
	assert.Zero(t, armed)
}
