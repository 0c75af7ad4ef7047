package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/skylantern/voicetime/internal/models"
)

// Repository handles database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// DateRange is a half-open [From, To) range of YYYY-MM-DD dates.
// An empty bound is unbounded.
type DateRange struct {
	From string
	To   string
}

// AddVoiceSeconds adds seconds to the (user, channel, date) row, creating it if absent.
func (r *Repository) AddVoiceSeconds(ctx context.Context, userID, channelID, localDate string, seconds int64) error {
	_, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO voice_time (user_id, channel_id, local_date, seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, channel_id, local_date) DO UPDATE SET seconds = voice_time.seconds + EXCLUDED.seconds`,
		userID, channelID, localDate, seconds)
	if err != nil {
		return fmt.Errorf("failed to add voice seconds: %w", transient(err))
	}
	return nil
}

// ChannelSeconds sums a user's seconds per channel within rng.
// A nil channelIDs matches every channel; an empty one matches none.
func (r *Repository) ChannelSeconds(ctx context.Context, userID string, channelIDs []string, rng DateRange) (map[string]int64, error) {
	result := make(map[string]int64)
	if channelIDs != nil && len(channelIDs) == 0 {
		return result, nil
	}

	q := newQuery(`SELECT channel_id, SUM(seconds) FROM voice_time WHERE user_id = `)
	q.arg(userID)
	q.filter(channelIDs, rng)
	q.sql.WriteString(` GROUP BY channel_id`)

	rows, err := r.db.conn.QueryContext(ctx, q.sql.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get channel seconds: %w", transient(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			channelID string
			seconds   int64
		)
		if err := rows.Scan(&channelID, &seconds); err != nil {
			return nil, fmt.Errorf("failed to scan channel seconds: %w", transient(err))
		}
		result[channelID] = seconds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read channel seconds: %w", transient(err))
	}
	return result, nil
}

// AllChannelSeconds sums seconds per user and channel within rng.
func (r *Repository) AllChannelSeconds(ctx context.Context, channelIDs []string, rng DateRange) (map[string]map[string]int64, error) {
	result := make(map[string]map[string]int64)
	if channelIDs != nil && len(channelIDs) == 0 {
		return result, nil
	}

	q := newQuery(`SELECT user_id, channel_id, SUM(seconds) FROM voice_time WHERE 1 = 1`)
	q.filter(channelIDs, rng)
	q.sql.WriteString(` GROUP BY user_id, channel_id`)

	rows, err := r.db.conn.QueryContext(ctx, q.sql.String(), q.args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get all channel seconds: %w", transient(err))
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID    string
			channelID string
			seconds   int64
		)
		if err := rows.Scan(&userID, &channelID, &seconds); err != nil {
			return nil, fmt.Errorf("failed to scan channel seconds: %w", transient(err))
		}
		if result[userID] == nil {
			result[userID] = make(map[string]int64)
		}
		result[userID][channelID] = seconds
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read channel seconds: %w", transient(err))
	}
	return result, nil
}

// VoiceRows returns the raw ledger rows of a user ordered by date and channel.
func (r *Repository) VoiceRows(ctx context.Context, userID string) ([]models.VoiceTime, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT user_id, channel_id, local_date, seconds FROM voice_time WHERE user_id = $1 ORDER BY local_date, channel_id`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get voice rows: %w", transient(err))
	}
	defer rows.Close()

	var list []models.VoiceTime
	for rows.Next() {
		var vt models.VoiceTime
		if err := rows.Scan(&vt.UserID, &vt.ChannelID, &vt.LocalDate, &vt.Seconds); err != nil {
			return nil, fmt.Errorf("failed to scan voice row: %w", transient(err))
		}
		list = append(list, vt)
	}
	return list, rows.Err()
}

// DeleteVoiceTime removes every ledger row for the given channels.
func (r *Repository) DeleteVoiceTime(ctx context.Context, channelIDs []string) (int64, error) {
	if len(channelIDs) == 0 {
		return 0, nil
	}
	q := newQuery(`DELETE FROM voice_time WHERE 1 = 1`)
	q.filter(channelIDs, DateRange{})

	res, err := r.db.conn.ExecContext(ctx, q.sql.String(), q.args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete voice time: %w", transient(err))
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RegisterChannel adds id to the tracked set of tag. Registering twice is a no-op.
func (r *Repository) RegisterChannel(ctx context.Context, id string, tag models.Tag) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO tracked_channel (id, tag) VALUES ($1, $2) ON CONFLICT (id, tag) DO NOTHING`,
		id, string(tag))
	if err != nil {
		return fmt.Errorf("failed to register channel: %w", transient(err))
	}
	return nil
}

// UnregisterChannel removes id from the tracked set of tag.
func (r *Repository) UnregisterChannel(ctx context.Context, id string, tag models.Tag) error {
	_, err := r.db.conn.ExecContext(ctx,
		`DELETE FROM tracked_channel WHERE id = $1 AND tag = $2`,
		id, string(tag))
	if err != nil {
		return fmt.Errorf("failed to unregister channel: %w", transient(err))
	}
	return nil
}

// TrackedChannels lists the ids registered for tag.
func (r *Repository) TrackedChannels(ctx context.Context, tag models.Tag) ([]string, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT id FROM tracked_channel WHERE tag = $1 ORDER BY id`, string(tag))
	if err != nil {
		return nil, fmt.Errorf("failed to list tracked channels: %w", transient(err))
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tracked channel: %w", transient(err))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsTracked reports whether id is registered under any tag.
func (r *Repository) IsTracked(ctx context.Context, id string) (bool, error) {
	var n int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracked_channel WHERE id = $1`, id).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check tracked channel: %w", transient(err))
	}
	return n > 0, nil
}

// RememberDeleted maps a deleted channel to its former category.
// The first mapping for a channel wins.
func (r *Repository) RememberDeleted(ctx context.Context, channelID, categoryID string) error {
	_, err := r.db.conn.ExecContext(ctx,
		`INSERT INTO deleted_channel (channel_id, category_id) VALUES ($1, $2) ON CONFLICT (channel_id) DO NOTHING`,
		channelID, categoryID)
	if err != nil {
		return fmt.Errorf("failed to remember deleted channel: %w", transient(err))
	}
	return nil
}

// DeletedChildren lists the deleted channels that belonged to categoryID.
func (r *Repository) DeletedChildren(ctx context.Context, categoryID string) ([]string, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT channel_id FROM deleted_channel WHERE category_id = $1 ORDER BY channel_id`, categoryID)
	if err != nil {
		return nil, fmt.Errorf("failed to list deleted channels: %w", transient(err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan deleted channel: %w", transient(err))
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// HasQuestAward reports whether the (user, quest, window) triple was recorded.
func (r *Repository) HasQuestAward(ctx context.Context, userID, questKey, windowKey string) (bool, error) {
	var one int
	err := r.db.conn.QueryRowContext(ctx,
		`SELECT 1 FROM quest_award WHERE user_id = $1 AND quest_key = $2 AND window_key = $3`,
		userID, questKey, windowKey).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check quest award: %w", transient(err))
	}
	return true, nil
}

// RecordQuestAward inserts the award. It reports false if the triple already existed.
func (r *Repository) RecordQuestAward(ctx context.Context, award models.QuestAward) (bool, error) {
	res, err := r.db.conn.ExecContext(ctx, `
		INSERT INTO quest_award (user_id, quest_key, window_key, awarded_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, quest_key, window_key) DO NOTHING`,
		award.UserID, award.QuestKey, award.WindowKey, award.AwardedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("failed to record quest award: %w", transient(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to record quest award: %w", transient(err))
	}
	return n > 0, nil
}

// QuestAwards lists a user's recorded awards.
func (r *Repository) QuestAwards(ctx context.Context, userID string) ([]models.QuestAward, error) {
	rows, err := r.db.conn.QueryContext(ctx,
		`SELECT user_id, quest_key, window_key, awarded_at FROM quest_award WHERE user_id = $1 ORDER BY awarded_at, quest_key`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get quest awards: %w", transient(err))
	}
	defer rows.Close()

	var list []models.QuestAward
	for rows.Next() {
		var (
			award     models.QuestAward
			awardedAt string
		)
		if err := rows.Scan(&award.UserID, &award.QuestKey, &award.WindowKey, &awardedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quest award: %w", transient(err))
		}
		award.AwardedAt, _ = time.Parse(time.RFC3339, awardedAt)
		list = append(list, award)
	}
	return list, rows.Err()
}

// query assembles numbered placeholders, which both lib/pq and go-sqlite3 accept.
type query struct {
	sql  strings.Builder
	args []any
}

func newQuery(prefix string) *query {
	q := &query{}
	q.sql.WriteString(prefix)
	return q
}

func (q *query) arg(v any) {
	q.args = append(q.args, v)
	fmt.Fprintf(&q.sql, "$%d", len(q.args))
}

func (q *query) filter(channelIDs []string, rng DateRange) {
	if len(channelIDs) > 0 {
		q.sql.WriteString(` AND channel_id IN (`)
		for i, id := range channelIDs {
			if i > 0 {
				q.sql.WriteString(", ")
			}
			q.arg(id)
		}
		q.sql.WriteString(`)`)
	}
	if rng.From != "" {
		q.sql.WriteString(` AND local_date >= `)
		q.arg(rng.From)
	}
	if rng.To != "" {
		q.sql.WriteString(` AND local_date < `)
		q.arg(rng.To)
	}
}
