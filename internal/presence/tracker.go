// Package presence turns voice join/leave events into ledger accruals.
//
// The tracker keeps one open interval per (user, channel). Leaving closes it;
// the periodic Flush accrues every open interval up to now and advances its
// start, so a crash loses at most one flush period per pair. Intervals that
// cross local midnight are split so each part lands on its own date.
package presence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/keylock"
	"github.com/skylantern/voicetime/internal/models"
)

// Accruer persists seconds for a (user, channel, date).
type Accruer interface {
	Accrue(ctx context.Context, userID, channelID string, date clock.Date, seconds int64) error
}

// AccrualListener is told after a user's time was written to the ledger.
type AccrualListener func(ctx context.Context, userID string)

type segment struct {
	UserID    string
	ChannelID string
	Date      clock.Date
	Seconds   int64
}

// Tracker holds open voice intervals.
type Tracker struct {
	clock  *clock.Clock
	ledger Accruer
	logger *log.Logger

	users *keylock.KeyLock

	mu        sync.Mutex
	presence  map[models.PresenceKey]time.Time
	backlog   []segment
	listeners []AccrualListener
}

// New creates an empty tracker.
func New(c *clock.Clock, ledger Accruer, logger *log.Logger) *Tracker {
	if logger == nil {
		logger = log.Default().WithPrefix("tracker")
	}
	return &Tracker{
		clock:    c,
		ledger:   ledger,
		logger:   logger,
		users:    keylock.New(),
		presence: make(map[models.PresenceKey]time.Time),
	}
}

// OnAccrued registers fn to run after a leave or flush wrote a user's time.
func (t *Tracker) OnAccrued(fn AccrualListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, fn)
}

// Join opens an interval at the given instant. A duplicate join keeps the
// earlier start.
func (t *Tracker) Join(ctx context.Context, userID, channelID string, at time.Time) {
	unlock := t.users.Lock(userID)
	defer unlock()
	t.join(userID, channelID, at)
}

// Leave closes the interval and accrues it.
func (t *Tracker) Leave(ctx context.Context, userID, channelID string, at time.Time) error {
	unlock := t.users.Lock(userID)
	err := t.leave(ctx, userID, channelID, at)
	unlock()

	t.notify(ctx, userID)
	return err
}

// Move is a leave from one channel followed by a join to another at the same instant.
func (t *Tracker) Move(ctx context.Context, userID, from, to string, at time.Time) error {
	unlock := t.users.Lock(userID)
	err := t.leave(ctx, userID, from, at)
	t.join(userID, to, at)
	unlock()

	t.notify(ctx, userID)
	return err
}

// ChannelsOf lists the channels a user currently has open intervals in.
func (t *Tracker) ChannelsOf(userID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []string
	for key := range t.presence {
		if key.UserID == userID {
			out = append(out, key.ChannelID)
		}
	}
	sort.Strings(out)
	return out
}

// Snapshot copies the open intervals.
func (t *Tracker) Snapshot() map[models.PresenceKey]time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[models.PresenceKey]time.Time, len(t.presence))
	for k, v := range t.presence {
		out[k] = v
	}
	return out
}

// Pending returns how many failed accruals wait for the next flush.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.backlog)
}

// Flush accrues every open interval up to now and advances its start.
// Failed writes leave the interval untouched so the next flush accrues the
// cumulative delta.
func (t *Tracker) Flush(ctx context.Context) error {
	now := t.clock.Now()
	errs := []error{t.retryBacklog(ctx)}

	keys := t.keys()
	touched := make(map[string]struct{})
	for _, key := range keys {
		if err := t.flushKey(ctx, key, now); err != nil {
			errs = append(errs, err)
		}
		touched[key.UserID] = struct{}{}
	}

	users := make([]string, 0, len(touched))
	for u := range touched {
		users = append(users, u)
	}
	sort.Strings(users)
	for _, u := range users {
		t.notify(ctx, u)
	}

	return errors.Join(errs...)
}

// Reconcile seeds the tracker from a membership snapshot (channel -> users)
// taken after the gateway connects. Only channels in scope are reconciled;
// a nil scope means every channel. Users seen for the first time start now.
// Intervals for users no longer present are closed at now.
func (t *Tracker) Reconcile(ctx context.Context, scope []string, members map[string][]string) error {
	now := t.clock.Now()

	present := make(map[models.PresenceKey]struct{})
	for channelID, users := range members {
		for _, u := range users {
			present[models.PresenceKey{UserID: u, ChannelID: channelID}] = struct{}{}
		}
	}

	inScope := func(string) bool { return true }
	if scope != nil {
		set := make(map[string]struct{}, len(scope))
		for _, id := range scope {
			set[id] = struct{}{}
		}
		inScope = func(id string) bool {
			_, ok := set[id]
			return ok
		}
	}

	var errs []error
	for _, key := range t.keys() {
		if _, ok := present[key]; ok || !inScope(key.ChannelID) {
			continue
		}
		if err := t.Leave(ctx, key.UserID, key.ChannelID, now); err != nil {
			errs = append(errs, err)
		}
	}

	seeded := 0
	for key := range present {
		unlock := t.users.Lock(key.UserID)
		if t.join(key.UserID, key.ChannelID, now) {
			seeded++
		}
		unlock()
	}
	t.logger.Info("Reconciled voice presence", "seeded", seeded, "channels", len(members))
	return errors.Join(errs...)
}

// ChannelGone closes every interval in a deleted channel at now.
func (t *Tracker) ChannelGone(ctx context.Context, channelID string) error {
	now := t.clock.Now()
	var errs []error
	for _, key := range t.keys() {
		if key.ChannelID != channelID {
			continue
		}
		if err := t.Leave(ctx, key.UserID, key.ChannelID, now); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// join reports whether a new interval was opened. Callers hold the user lock.
func (t *Tracker) join(userID, channelID string, at time.Time) bool {
	key := models.PresenceKey{UserID: userID, ChannelID: channelID}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.presence[key]; ok {
		return false
	}
	t.presence[key] = at
	t.logger.Debug("Join", "user", userID, "channel", channelID, "at", at)
	return true
}

// leave closes an interval. Callers hold the user lock. Segments that fail
// to persist move to the backlog.
func (t *Tracker) leave(ctx context.Context, userID, channelID string, at time.Time) error {
	key := models.PresenceKey{UserID: userID, ChannelID: channelID}

	t.mu.Lock()
	start, ok := t.presence[key]
	delete(t.presence, key)
	t.mu.Unlock()
	if !ok {
		return nil
	}

	parts := t.split(userID, channelID, start, at)
	var total int64
	var errs []error
	for _, seg := range parts {
		if err := t.ledger.Accrue(ctx, seg.UserID, seg.ChannelID, seg.Date, seg.Seconds); err != nil {
			t.logger.Warn("Accrual failed, queued for retry", "user", userID, "channel", channelID, "date", seg.Date, "seconds", seg.Seconds, "err", err)
			t.queue(seg)
			errs = append(errs, err)
			continue
		}
		total += seg.Seconds
	}
	t.logger.Debug("Leave", "user", userID, "channel", channelID, "seconds", total)
	return errors.Join(errs...)
}

func (t *Tracker) flushKey(ctx context.Context, key models.PresenceKey, now time.Time) error {
	unlock := t.users.Lock(key.UserID)
	defer unlock()

	t.mu.Lock()
	start, ok := t.presence[key]
	t.mu.Unlock()
	if !ok || !now.After(start) {
		return nil
	}

	advanced := start
	for _, seg := range t.split(key.UserID, key.ChannelID, start, now) {
		if err := t.ledger.Accrue(ctx, seg.UserID, seg.ChannelID, seg.Date, seg.Seconds); err != nil {
			// Keep the start at the last persisted boundary.
			t.setStart(key, advanced)
			t.logger.Warn("Flush accrual failed", "user", key.UserID, "channel", key.ChannelID, "err", err)
			return err
		}
		advanced = advanced.Add(time.Duration(seg.Seconds) * time.Second)
	}
	t.setStart(key, now)
	return nil
}

func (t *Tracker) setStart(key models.PresenceKey, at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.presence[key]; ok {
		t.presence[key] = at
	}
}

func (t *Tracker) retryBacklog(ctx context.Context) error {
	t.mu.Lock()
	pending := t.backlog
	t.backlog = nil
	t.mu.Unlock()

	var errs []error
	for _, seg := range pending {
		if err := t.ledger.Accrue(ctx, seg.UserID, seg.ChannelID, seg.Date, seg.Seconds); err != nil {
			t.queue(seg)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (t *Tracker) queue(seg segment) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.backlog = append(t.backlog, seg)
}

func (t *Tracker) keys() []models.PresenceKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]models.PresenceKey, 0, len(t.presence))
	for k := range t.presence {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].UserID != keys[j].UserID {
			return keys[i].UserID < keys[j].UserID
		}
		return keys[i].ChannelID < keys[j].ChannelID
	})
	return keys
}

func (t *Tracker) notify(ctx context.Context, userID string) {
	t.mu.Lock()
	listeners := append([]AccrualListener(nil), t.listeners...)
	t.mu.Unlock()
	for _, fn := range listeners {
		fn(ctx, userID)
	}
}

// split cuts [from, to) at every local midnight into whole-second segments.
func (t *Tracker) split(userID, channelID string, from, to time.Time) []segment {
	if !to.After(from) {
		if to.Before(from) {
			t.logger.Warn("Interval ends before it starts", "user", userID, "channel", channelID, "from", from, "to", to)
		}
		return nil
	}

	var out []segment
	cursor := from
	for {
		day := t.clock.DateOf(cursor)
		next := t.clock.StartOfDay(day.AddDays(1))
		if !to.After(next) {
			if s := int64(to.Sub(cursor) / time.Second); s > 0 {
				out = append(out, segment{userID, channelID, day, s})
			}
			return out
		}
		if s := int64(next.Sub(cursor) / time.Second); s > 0 {
			out = append(out, segment{userID, channelID, day, s})
		}
		cursor = next
	}
}
