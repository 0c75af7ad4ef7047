// Package period aggregates ledger rows into daily, weekly, monthly and
// cumulative totals for a subsystem's tracked channels.
package period

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/ledger"
	"github.com/skylantern/voicetime/internal/models"
)

// Ledger is the read side of the ledger store used for aggregation.
type Ledger interface {
	ListTracked(ctx context.Context, tag models.Tag) ([]string, error)
	Expand(ctx context.Context, ids []string) ([]string, error)
	Query(ctx context.Context, userID string, channelIDs []string, rng ledger.Range) (map[string]int64, error)
	QueryAll(ctx context.Context, channelIDs []string, rng ledger.Range) (map[string]map[string]int64, error)
}

// Window is a half-open [Start, End) local time window. Both are zero for
// the cumulative period.
type Window struct {
	Period models.Period
	Start  time.Time
	End    time.Time
	Range  ledger.Range
}

// Result is one user's per-channel totals in a window.
type Result struct {
	Window
	Channels map[string]int64
}

// Total sums the per-channel seconds.
func (r Result) Total() int64 {
	var sum int64
	for _, s := range r.Channels {
		sum += s
	}
	return sum
}

// UserTotal is one line of a ranking.
type UserTotal struct {
	UserID  string
	Seconds int64
}

// AllResult holds every user's per-channel totals in a window.
type AllResult struct {
	Window
	Users map[string]map[string]int64
}

// Ranked returns users ordered by total seconds, highest first; ties break
// by user id.
func (r AllResult) Ranked() []UserTotal {
	out := make([]UserTotal, 0, len(r.Users))
	for u, chans := range r.Users {
		var sum int64
		for _, s := range chans {
			sum += s
		}
		out = append(out, UserTotal{UserID: u, Seconds: sum})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seconds != out[j].Seconds {
			return out[i].Seconds > out[j].Seconds
		}
		return out[i].UserID < out[j].UserID
	})
	return out
}

// Engine answers period queries.
type Engine struct {
	clock  *clock.Clock
	ledger Ledger
}

// New creates a query engine.
func New(c *clock.Clock, l Ledger) *Engine {
	return &Engine{clock: c, ledger: l}
}

// Window computes the local window of period p containing ref.
func (e *Engine) Window(p models.Period, ref time.Time) (Window, error) {
	day := e.clock.DateOf(ref)
	var from, to clock.Date
	switch p {
	case models.Daily:
		from, to = day, day.AddDays(1)
	case models.Weekly:
		from = e.clock.StartOfWeek(day)
		to = from.AddDays(7)
	case models.Monthly:
		from = e.clock.StartOfMonth(day)
		to = from.AddMonths(1)
	case models.Cumulative:
		return Window{Period: p}, nil
	default:
		return Window{}, fmt.Errorf("unknown period %q: %w", p, models.ErrInvariantViolation)
	}
	return Window{
		Period: p,
		Start:  e.clock.StartOfDay(from),
		End:    e.clock.StartOfDay(to),
		Range:  ledger.Range{From: from, To: to},
	}, nil
}

// User returns a user's per-channel seconds for tag's tracked channels.
func (e *Engine) User(ctx context.Context, userID string, tag models.Tag, p models.Period, ref time.Time) (Result, error) {
	w, ids, err := e.prepare(ctx, tag, p, ref)
	if err != nil {
		return Result{}, err
	}
	chans, err := e.ledger.Query(ctx, userID, ids, w.Range)
	if err != nil {
		return Result{}, err
	}
	return Result{Window: w, Channels: chans}, nil
}

// All returns every user's per-channel seconds for tag's tracked channels.
func (e *Engine) All(ctx context.Context, tag models.Tag, p models.Period, ref time.Time) (AllResult, error) {
	w, ids, err := e.prepare(ctx, tag, p, ref)
	if err != nil {
		return AllResult{}, err
	}
	users, err := e.ledger.QueryAll(ctx, ids, w.Range)
	if err != nil {
		return AllResult{}, err
	}
	return AllResult{Window: w, Users: users}, nil
}

// prepare resolves the window and the expanded channel set. An empty set
// matches nothing, except for the cumulative period where it lifts the
// channel filter.
func (e *Engine) prepare(ctx context.Context, tag models.Tag, p models.Period, ref time.Time) (Window, []string, error) {
	w, err := e.Window(p, ref)
	if err != nil {
		return Window{}, nil, err
	}
	ids, err := e.ledger.ListTracked(ctx, tag)
	if err != nil {
		return Window{}, nil, err
	}
	ids, err = e.ledger.Expand(ctx, ids)
	if err != nil {
		return Window{}, nil, err
	}
	if len(ids) == 0 && p == models.Cumulative {
		ids = nil
	}
	return w, ids, nil
}
