package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/models"
)

func setup(t *testing.T, h, m int) (*Scheduler, *clock.Clock, *time.Location) {
	t.Helper()
	loc, err := clock.LoadZone(clock.DefaultZone)
	require.NoError(t, err)
	c := clock.NewFake(time.Date(2025, 3, 1, h, m, 0, 0, loc))
	s := New(c, nil)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s, c, loc
}

func TestScheduler_EveryDayAtFiresOncePerDay(t *testing.T) {
	s, _, loc := setup(t, 0, 0)

	var calls int32
	require.NoError(t, s.EveryDayAt(14, 0, "board", func(context.Context) { atomic.AddInt32(&calls, 1) }))

	ticks := []time.Time{
		time.Date(2025, 3, 1, 13, 59, 0, 0, loc),
		time.Date(2025, 3, 1, 14, 0, 0, 0, loc),
		time.Date(2025, 3, 1, 14, 0, 30, 0, loc),
		time.Date(2025, 3, 1, 14, 1, 0, 0, loc),
		time.Date(2025, 3, 2, 13, 59, 59, 0, loc),
		time.Date(2025, 3, 2, 14, 0, 1, 0, loc),
	}
	for _, at := range ticks {
		s.Tick(at)
	}
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestScheduler_EveryDayAtUsesLocalTime(t *testing.T) {
	s, _, _ := setup(t, 0, 0)

	var calls int32
	require.NoError(t, s.EveryDayAt(0, 0, "rollover", func(context.Context) { atomic.AddInt32(&calls, 1) }))

	// 15:00 UTC is midnight in Seoul.
	fired := s.Tick(time.Date(2025, 3, 1, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, []string{"rollover"}, fired)
}

func TestScheduler_EveryDayAtRejectsBadTime(t *testing.T) {
	s, _, _ := setup(t, 0, 0)
	assert.Error(t, s.EveryDayAt(24, 0, "x", func(context.Context) {}))
	assert.Error(t, s.EveryDayAt(0, 60, "x", func(context.Context) {}))
}

func TestScheduler_OnceAt(t *testing.T) {
	s, c, loc := setup(t, 13, 30)

	var calls int32
	require.NoError(t, s.OnceAt(time.Date(2025, 3, 1, 14, 0, 0, 0, loc), "drop", func(context.Context) {
		atomic.AddInt32(&calls, 1)
	}))
	assert.Equal(t, []string{"drop"}, s.Pending())

	assert.Empty(t, s.Tick(time.Date(2025, 3, 1, 13, 59, 0, 0, loc)))
	assert.Equal(t, []string{"drop"}, s.Tick(time.Date(2025, 3, 1, 14, 0, 0, 0, loc)))
	assert.Empty(t, s.Tick(time.Date(2025, 3, 1, 14, 1, 0, 0, loc)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Empty(t, s.Pending())

	c.Set(time.Date(2025, 3, 1, 14, 5, 0, 0, loc))
	err := s.OnceAt(time.Date(2025, 3, 1, 14, 0, 0, 0, loc), "late", func(context.Context) {})
	assert.True(t, errors.Is(err, ErrInPast))
}

func TestScheduler_PendingOrder(t *testing.T) {
	s, _, loc := setup(t, 0, 0)
	noop := func(context.Context) {}
	require.NoError(t, s.OnceAt(time.Date(2025, 3, 1, 18, 0, 0, 0, loc), "c", noop))
	require.NoError(t, s.OnceAt(time.Date(2025, 3, 1, 9, 0, 0, 0, loc), "a", noop))
	require.NoError(t, s.OnceAt(time.Date(2025, 3, 1, 9, 0, 0, 0, loc), "b", noop))
	assert.Equal(t, []string{"a", "b", "c"}, s.Pending())
}

func TestScheduler_PanicIsRecovered(t *testing.T) {
	s, _, loc := setup(t, 0, 0)

	var after int32
	require.NoError(t, s.EveryDayAt(1, 0, "boom", func(context.Context) { panic("boom") }))
	require.NoError(t, s.EveryDayAt(1, 0, "after", func(context.Context) { atomic.AddInt32(&after, 1) }))

	assert.NotPanics(t, func() { s.Tick(time.Date(2025, 3, 1, 1, 0, 0, 0, loc)) })
	assert.Equal(t, int32(1), atomic.LoadInt32(&after))
}

func TestScheduler_StopRefusesRegistrations(t *testing.T) {
	s, _, loc := setup(t, 0, 0)
	require.NoError(t, s.Stop(context.Background()))

	noop := func(context.Context) {}
	assert.ErrorIs(t, s.EveryDayAt(1, 0, "x", noop), ErrStopped)
	assert.ErrorIs(t, s.OnceAt(time.Date(2025, 3, 2, 0, 0, 0, 0, loc), "x", noop), ErrStopped)
	assert.ErrorIs(t, s.Every(time.Minute, "x", noop), ErrStopped)
	assert.ErrorIs(t, s.Start(), ErrStopped)
	assert.NoError(t, s.Stop(context.Background()), "stop is idempotent")
}

func TestScheduler_EveryRunsOnCron(t *testing.T) {
	if testing.Short() {
		t.Skip("waits on the wall clock")
	}
	s, _, _ := setup(t, 0, 0)

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Every(time.Second, "flush", func(context.Context) {
		select {
		case ran <- struct{}{}:
		default:
		}
	}))
	require.NoError(t, s.Start())

	select {
	case <-ran:
	case <-time.After(5 * time.Second):
		t.Fatal("interval job did not run")
	}
}

func TestScheduler_EveryRejectsSubSecond(t *testing.T) {
	s, _, _ := setup(t, 0, 0)
	assert.Error(t, s.Every(10*time.Millisecond, "x", func(context.Context) {}))
}

func TestDailyRandom_ReloadsSameDay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_schedule.json")
	_, c, loc := setup(t, 9, 0)

	first, err := NewDailyRandom(path, 3, c, 1).Today()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", first.Date)
	assert.Len(t, first.Times, 3)
	assert.IsIncreasing(t, first.Times)

	// A restart with a different seed still reloads the persisted set.
	c.Set(time.Date(2025, 3, 1, 21, 0, 0, 0, loc))
	again, err := NewDailyRandom(path, 3, c, 2).Today()
	require.NoError(t, err)
	assert.Equal(t, first, again)

	c.Set(time.Date(2025, 3, 2, 0, 0, 0, 0, loc))
	next, err := NewDailyRandom(path, 3, c, 3).Today()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-02", next.Date)
	assert.Len(t, next.Times, 3)
}

func TestDailyRandom_CorruptFileRegenerates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_schedule.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	_, c, _ := setup(t, 9, 0)

	sched, err := NewDailyRandom(path, 2, c, 1).Today()
	require.NoError(t, err)
	assert.Equal(t, "2025-03-01", sched.Date)
	assert.Len(t, sched.Times, 2)
}

func TestDailyRandom_NeverDrawsMidnight(t *testing.T) {
	_, c, _ := setup(t, 0, 0)
	for seed := int64(0); seed < 200; seed++ {
		times := NewDailyRandom(filepath.Join(t.TempDir(), "s.json"), 5, c, seed).generate()
		assert.NotContains(t, times, "00:00", "seed %d", seed)
	}

	// Asking for more than a day holds yields every minute but midnight.
	all := NewDailyRandom(filepath.Join(t.TempDir(), "s.json"), 24*60, c, 1).generate()
	require.Len(t, all, 24*60-1)
	assert.Equal(t, "00:01", all[0])
	assert.Equal(t, "23:59", all[len(all)-1])
}

func TestScheduler_ArmDailyAtMidnightArmsEveryTime(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_schedule.json")
	s, c, _ := setup(t, 0, 0)

	const count = 24*60 - 1
	armed, err := s.ArmDaily(NewDailyRandom(path, count, c, 4), "drop", func(context.Context) {})
	require.NoError(t, err)
	assert.Equal(t, count, armed)
}

func writeSchedule(t *testing.T, path string, times ...string) {
	t.Helper()
	d := NewDailyRandom(path, len(times), nil, 0)
	require.NoError(t, d.save(models.DailySchedule{Date: "2025-03-01", Times: times}))
}

func TestScheduler_ArmDailyAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daily_schedule.json")
	writeSchedule(t, path, "14:00")

	// Restart at 13:50: the 14:00 job is re-armed and fires.
	s, c, loc := setup(t, 13, 50)
	var calls int32
	armed, err := s.ArmDaily(NewDailyRandom(path, 1, c, 9), "drop", func(context.Context) { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)
	assert.Equal(t, 1, armed)
	s.Tick(time.Date(2025, 3, 1, 14, 0, 0, 0, loc))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	// Restart at 14:05: nothing fires retroactively.
	late, c2, _ := setup(t, 14, 5)
	armed, err = late.ArmDaily(NewDailyRandom(path, 1, c2, 9), "drop", func(context.Context) { atomic.AddInt32(&calls, 1) })
	require.NoError(t, err)
	assert.Zero(t, armed)
	assert.Empty(t, late.Tick(time.Date(2025, 3, 1, 14, 6, 0, 0, loc)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}
