// Package ledger is the durable store of accrued voice seconds per
// (user, channel, local date), plus the tracked-channel set and the
// deleted-channel remap used to expand categories at query time.
package ledger

import (
	"context"
	"fmt"
	"sort"

	"github.com/skylantern/voicetime/internal/clock"
	"github.com/skylantern/voicetime/internal/database"
	"github.com/skylantern/voicetime/internal/models"
)

// Directory answers questions about the gateway's current channel tree.
type Directory interface {
	// IsCategory reports whether id is a live category.
	IsCategory(id string) bool
	// VoiceChildren lists the live voice channels under a category.
	VoiceChildren(categoryID string) []string
	// ParentOf returns the category of a live channel, or "".
	ParentOf(channelID string) string
}

// Range is a half-open [From, To) range of local dates. A zero bound is unbounded.
type Range struct {
	From clock.Date
	To   clock.Date
}

func (r Range) db() database.DateRange {
	var rng database.DateRange
	if !r.From.IsZero() {
		rng.From = r.From.String()
	}
	if !r.To.IsZero() {
		rng.To = r.To.String()
	}
	return rng
}

// Store wraps the repository with validation and category expansion.
type Store struct {
	repo *database.Repository
	dir  Directory
}

// New creates a store. dir may be nil, in which case no id is a category.
func New(repo *database.Repository, dir Directory) *Store {
	return &Store{repo: repo, dir: dir}
}

// RegisterChannel adds id to tag's tracked set.
func (s *Store) RegisterChannel(ctx context.Context, id string, tag models.Tag) error {
	if !tag.Valid() {
		return fmt.Errorf("unknown tag %q: %w", tag, models.ErrInvariantViolation)
	}
	return s.repo.RegisterChannel(ctx, id, tag)
}

// UnregisterChannel removes id from tag's tracked set.
func (s *Store) UnregisterChannel(ctx context.Context, id string, tag models.Tag) error {
	return s.repo.UnregisterChannel(ctx, id, tag)
}

// ListTracked returns tag's registered ids, categories unexpanded.
func (s *Store) ListTracked(ctx context.Context, tag models.Tag) ([]string, error) {
	return s.repo.TrackedChannels(ctx, tag)
}

// IsTracked reports whether a channel is tracked under some tag, either
// directly or through its parent category.
func (s *Store) IsTracked(ctx context.Context, channelID, parentID string) (bool, error) {
	ok, err := s.repo.IsTracked(ctx, channelID)
	if err != nil || ok || parentID == "" {
		return ok, err
	}
	return s.repo.IsTracked(ctx, parentID)
}

// RememberDeleted records that channelID lived under categoryID when it was deleted.
func (s *Store) RememberDeleted(ctx context.Context, channelID, categoryID string) error {
	if channelID == "" || categoryID == "" {
		return fmt.Errorf("deleted channel remap needs both ids: %w", models.ErrInvariantViolation)
	}
	return s.repo.RememberDeleted(ctx, channelID, categoryID)
}

// Expand replaces category ids with their live voice children and any
// deleted channels remapped to them. Channel ids pass through.
// The result is sorted and free of duplicates.
func (s *Store) Expand(ctx context.Context, ids []string) ([]string, error) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if s.dir != nil && s.dir.IsCategory(id) {
			for _, child := range s.dir.VoiceChildren(id) {
				set[child] = struct{}{}
			}
		} else {
			set[id] = struct{}{}
		}

		deleted, err := s.repo.DeletedChildren(ctx, id)
		if err != nil {
			return nil, err
		}
		for _, child := range deleted {
			set[child] = struct{}{}
		}
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

// Accrue adds seconds to the user's row for (channel, date).
func (s *Store) Accrue(ctx context.Context, userID, channelID string, date clock.Date, seconds int64) error {
	if seconds < 0 {
		return fmt.Errorf("accrue %d seconds for %s in %s: %w", seconds, userID, channelID, models.ErrInvariantViolation)
	}
	if seconds == 0 {
		return nil
	}
	return s.repo.AddVoiceSeconds(ctx, userID, channelID, date.String(), seconds)
}

// Query sums a user's seconds per channel. A nil channelIDs matches every channel.
func (s *Store) Query(ctx context.Context, userID string, channelIDs []string, rng Range) (map[string]int64, error) {
	return s.repo.ChannelSeconds(ctx, userID, channelIDs, rng.db())
}

// QueryAll sums seconds per user and channel.
func (s *Store) QueryAll(ctx context.Context, channelIDs []string, rng Range) (map[string]map[string]int64, error) {
	return s.repo.AllChannelSeconds(ctx, channelIDs, rng.db())
}

// Reset purges every ledger row belonging to tag's expanded channel set.
func (s *Store) Reset(ctx context.Context, tag models.Tag) (int64, error) {
	ids, err := s.ListTracked(ctx, tag)
	if err != nil {
		return 0, err
	}
	ids, err = s.Expand(ctx, ids)
	if err != nil {
		return 0, err
	}
	return s.repo.DeleteVoiceTime(ctx, ids)
}
