// Package clock is the single source of wall time for the bot. Every component
// reads "now" and calendar boundaries through a *Clock so tests can freeze and
// advance time deterministically.
package clock

import (
	"fmt"
	"sync"
	"time"
	_ "time/tzdata"
)

// DefaultZone is the fixed zone all local dates are computed in.
const DefaultZone = "Asia/Seoul"

// Clock returns instants in a fixed location, truncated to whole seconds.
type Clock struct {
	loc *time.Location

	mu    sync.RWMutex
	fixed *time.Time
}

// New creates a clock backed by the system time in loc.
func New(loc *time.Location) *Clock {
	return &Clock{loc: loc}
}

// NewFake creates a frozen clock reading at, in at's location.
// Use Set and Advance to move it.
func NewFake(at time.Time) *Clock {
	t := at.Truncate(time.Second)
	return &Clock{loc: at.Location(), fixed: &t}
}

// LoadZone resolves a zone name, falling back to a fixed UTC+9 zone for
// DefaultZone when the tz database is unavailable.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZone
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		if name == DefaultZone {
			return time.FixedZone("KST", 9*3600), nil
		}
		return nil, fmt.Errorf("failed to load zone %q: %w", name, err)
	}
	return loc, nil
}

// Location returns the clock's fixed zone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current instant in the clock's zone.
func (c *Clock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.fixed != nil {
		return c.fixed.In(c.loc)
	}
	return time.Now().In(c.loc).Truncate(time.Second)
}

// Set moves a fake clock to t. It turns a real clock into a frozen one.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t = t.Truncate(time.Second)
	c.fixed = &t
}

// Advance moves a fake clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fixed == nil {
		return
	}
	t := c.fixed.Add(d).Truncate(time.Second)
	c.fixed = &t
}

// Today returns the local date of Now.
func (c *Clock) Today() Date {
	return c.DateOf(c.Now())
}

// DateOf returns the local calendar date of t.
func (c *Clock) DateOf(t time.Time) Date {
	return DateOf(t.In(c.loc))
}

// StartOfDay returns local midnight of d.
func (c *Clock) StartOfDay(d Date) time.Time {
	return d.In(c.loc)
}

// StartOfWeek returns the Monday of the week containing d.
func (c *Clock) StartOfWeek(d Date) Date {
	return StartOfWeek(d)
}

// StartOfMonth returns the first day of d's month.
func (c *Clock) StartOfMonth(d Date) Date {
	return Date{Year: d.Year, Month: d.Month, Day: 1}
}

// At returns the local instant of date d at hh:mm.
func (c *Clock) At(d Date, hour, minute int) time.Time {
	return time.Date(d.Year, d.Month, d.Day, hour, minute, 0, 0, c.loc)
}
