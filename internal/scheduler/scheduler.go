// Package scheduler fires recurring daily jobs and one-shot jobs against the
// clock. A robfig/cron entry drives Tick once per minute; interval jobs such
// as the presence flush run as their own cron entries.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/robfig/cron/v3"

	"github.com/skylantern/voicetime/internal/clock"
)

var (
	// ErrStopped is returned when registering on a stopped scheduler.
	ErrStopped = errors.New("scheduler stopped")
	// ErrInPast is returned for one-shot jobs whose instant already passed.
	ErrInPast = errors.New("instant already passed")
)

// Job is a scheduled callback.
type Job func(ctx context.Context)

type dailyJob struct {
	name   string
	hour   int
	minute int
	fn     Job
	last   clock.Date
}

type onceJob struct {
	id   int
	name string
	at   time.Time
	fn   Job
}

// Scheduler holds registered jobs. The zero value is not usable; use New.
type Scheduler struct {
	clock  *clock.Clock
	logger *log.Logger
	cron   *cron.Cron

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	daily   []*dailyJob
	once    []*onceJob
	nextID  int
	started bool
	stopped bool

	running sync.WaitGroup
}

// New creates a scheduler in the clock's zone.
func New(c *clock.Clock, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default().WithPrefix("scheduler")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger}
	return &Scheduler{
		clock:  c,
		logger: logger,
		cron: cron.New(
			cron.WithLocation(c.Location()),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		ctx:    ctx,
		cancel: cancel,
	}
}

// EveryDayAt registers fn to run once per local day at hour:minute.
func (s *Scheduler) EveryDayAt(hour, minute int, name string, fn Job) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return fmt.Errorf("invalid time %02d:%02d for %s", hour, minute, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	s.daily = append(s.daily, &dailyJob{name: name, hour: hour, minute: minute, fn: fn})
	s.logger.Debug("Registered daily job", "name", name, "at", fmt.Sprintf("%02d:%02d", hour, minute))
	return nil
}

// OnceAt registers fn to run at the first tick at or after at. Instants
// that already passed are rejected with ErrInPast and never fire.
func (s *Scheduler) OnceAt(at time.Time, name string, fn Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if at.Before(s.clock.Now()) {
		return fmt.Errorf("one-shot %s at %s: %w", name, at.In(s.clock.Location()).Format(time.DateTime), ErrInPast)
	}
	s.nextID++
	s.once = append(s.once, &onceJob{id: s.nextID, name: name, at: at, fn: fn})
	s.logger.Debug("Registered one-shot job", "name", name, "at", at)
	return nil
}

// Every runs fn on a fixed interval. A run still in progress when the next
// is due causes that run to be skipped.
func (s *Scheduler) Every(interval time.Duration, name string, fn Job) error {
	if interval < time.Second {
		return fmt.Errorf("interval %s for %s is below one second", interval, name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	job := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.logger})).Then(cron.FuncJob(func() {
		s.run(name, fn)
	}))
	if _, err := s.cron.AddJob(fmt.Sprintf("@every %s", interval), job); err != nil {
		return fmt.Errorf("failed to add interval job %s: %w", name, err)
	}
	return nil
}

// Pending lists the names of one-shot jobs not yet fired, in firing order.
func (s *Scheduler) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := append([]*onceJob(nil), s.once...)
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].at.Equal(jobs[j].at) {
			return jobs[i].id < jobs[j].id
		}
		return jobs[i].at.Before(jobs[j].at)
	})
	names := make([]string, len(jobs))
	for i, j := range jobs {
		names[i] = j.name
	}
	return names
}

// Tick fires every job due at now and waits for them. Daily jobs fire when
// now falls in their minute and they have not run today; one-shot jobs fire
// once now reaches their instant and are then removed. It returns the names
// of the jobs fired.
func (s *Scheduler) Tick(now time.Time) []string {
	local := now.In(s.clock.Location())
	today := clock.DateOf(local)

	type due struct {
		name string
		fn   Job
	}
	var fire []due

	s.mu.Lock()
	for _, j := range s.daily {
		if local.Hour() == j.hour && local.Minute() == j.minute && j.last != today {
			j.last = today
			fire = append(fire, due{j.name, j.fn})
		}
	}
	kept := s.once[:0]
	ready := make([]*onceJob, 0)
	for _, j := range s.once {
		if now.Before(j.at) {
			kept = append(kept, j)
			continue
		}
		ready = append(ready, j)
	}
	s.once = kept
	s.mu.Unlock()

	sort.Slice(ready, func(i, k int) bool { return ready[i].id < ready[k].id })
	for _, j := range ready {
		fire = append(fire, due{j.name, j.fn})
	}

	var wg sync.WaitGroup
	names := make([]string, 0, len(fire))
	for _, d := range fire {
		names = append(names, d.name)
		wg.Add(1)
		go func(d due) {
			defer wg.Done()
			s.run(d.name, d.fn)
		}(d)
	}
	wg.Wait()
	return names
}

// Start begins driving Tick from the top of every minute.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return ErrStopped
	}
	if s.started {
		return nil
	}
	if _, err := s.cron.AddFunc("* * * * *", func() { s.Tick(s.clock.Now()) }); err != nil {
		return fmt.Errorf("failed to add minute driver: %w", err)
	}
	s.cron.Start()
	s.started = true
	s.logger.Info("Scheduler started", "daily", len(s.daily), "once", len(s.once))
	return nil
}

// Stop refuses new registrations, stops the driver and waits for running
// callbacks until ctx is done. Callbacks see their context cancelled only
// after that wait.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	defer s.cancel()

	done := make(chan struct{})
	go func() {
		<-s.cron.Stop().Done()
		s.running.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out with callbacks running")
		return ctx.Err()
	}
}

func (s *Scheduler) run(name string, fn Job) {
	s.running.Add(1)
	defer s.running.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Job panicked", "name", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	start := time.Now()
	fn(s.ctx)
	s.logger.Debug("Job finished", "name", name, "took", time.Since(start))
}

// cronLogger adapts a charm logger to cron.Logger.
type cronLogger struct {
	l *log.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
