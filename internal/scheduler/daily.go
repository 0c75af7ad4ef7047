package scheduler

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/models"
)

// DailyRandom keeps today's random times of day in a JSON file so that a
// restart on the same date reloads the same set.
type DailyRandom struct {
	path  string
	count int
	clock *clock.Clock

	mu   sync.Mutex
	rand *rand.Rand
}

// NewDailyRandom creates a store of count random times per day at path.
func NewDailyRandom(path string, count int, c *clock.Clock, seed int64) *DailyRandom {
	return &DailyRandom{
		path:  path,
		count: count,
		clock: c,
		rand:  rand.New(rand.NewSource(seed)),
	}
}

// Today returns today's schedule, loading it from disk when its date matches
// and regenerating it otherwise.
func (d *DailyRandom) Today() (models.DailySchedule, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	today := d.clock.Today().String()
	sched, err := d.load()
	if err == nil && sched.Date == today && len(sched.Times) == d.count {
		return sched, nil
	}
	// A missing, stale or unreadable file all mean a fresh set for today.
	sched = models.DailySchedule{Date: today, Times: d.generate()}
	return sched, d.save(sched)
}

// Instants resolves a schedule's times on its date.
func (d *DailyRandom) Instants(sched models.DailySchedule) ([]time.Time, error) {
	date, err := clock.ParseDate(sched.Date)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, len(sched.Times))
	for _, hm := range sched.Times {
		t, err := time.Parse("15:04", hm)
		if err != nil {
			return nil, fmt.Errorf("bad time %q in schedule: %w", hm, err)
		}
		out = append(out, d.clock.At(date, t.Hour(), t.Minute()))
	}
	return out, nil
}

// generate draws distinct minutes from 00:01 to 23:59. Midnight is excluded
// because the rollover arms the set at that instant.
func (d *DailyRandom) generate() []string {
	const slots = 24*60 - 1
	n := d.count
	if n > slots {
		n = slots
	}
	picked := make(map[int]struct{}, n)
	for len(picked) < n {
		picked[1+d.rand.Intn(slots)] = struct{}{}
	}
	minutes := make([]int, 0, n)
	for m := range picked {
		minutes = append(minutes, m)
	}
	sort.Ints(minutes)

	times := make([]string, len(minutes))
	for i, m := range minutes {
		times[i] = fmt.Sprintf("%02d:%02d", m/60, m%60)
	}
	return times
}

func (d *DailyRandom) load() (models.DailySchedule, error) {
	var sched models.DailySchedule
	data, err := os.ReadFile(d.path)
	if err != nil {
		return sched, err
	}
	if err := json.Unmarshal(data, &sched); err != nil {
		return sched, fmt.Errorf("failed to parse %s: %w", d.path, err)
	}
	return sched, nil
}

func (d *DailyRandom) save(sched models.DailySchedule) error {
	data, err := json.MarshalIndent(sched, "", "  ")
	if err != nil {
		return err
	}
	tmp := d.path + ".tmp"
	if dir := filepath.Dir(d.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, d.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", d.path, err)
	}
	return nil
}

// ArmDaily registers fn as a one-shot job for each of today's random times
// still in the future. Times already passed are skipped. It returns the
// number of jobs armed.
func (s *Scheduler) ArmDaily(d *DailyRandom, name string, fn Job) (int, error) {
	sched, err := d.Today()
	if err != nil {
		s.logger.Warn("Daily schedule not persisted", "path", d.path, "err", err)
	}
	instants, err := d.Instants(sched)
	if err != nil {
		return 0, err
	}

	armed := 0
	for i, at := range instants {
		err := s.OnceAt(at, fmt.Sprintf("%s#%d", name, i+1), fn)
		switch {
		case err == nil:
			armed++
		case errors.Is(err, ErrInPast):
			continue
		default:
			return armed, err
		}
	}
	s.logger.Info("Armed daily random jobs", "name", name, "date", sched.Date, "armed", armed, "total", len(instants))
	return armed, nil
}
