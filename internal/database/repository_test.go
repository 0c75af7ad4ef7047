package database

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylantern/voicetime/internal/models"
)

func TestRepository_AddVoiceSeconds(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	require.NoError(t, repo.AddVoiceSeconds(ctx, "U1", "C1", "2025-03-01", 1200))
	require.NoError(t, repo.AddVoiceSeconds(ctx, "U1", "C1", "2025-03-01", 330))
	require.NoError(t, repo.AddVoiceSeconds(ctx, "U1", "C1", "2025-03-02", 600))

	rows, err := repo.VoiceRows(ctx, "U1")
	require.NoError(t, err)
	assert.Equal(t, []models.VoiceTime{
		{UserID: "U1", ChannelID: "C1", LocalDate: "2025-03-01", Seconds: 1530},
		{UserID: "U1", ChannelID: "C1", LocalDate: "2025-03-02", Seconds: 600},
	}, rows)
}

func TestRepository_AddVoiceSeconds_Concurrent(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, repo.AddVoiceSeconds(ctx, "U1", "C1", "2025-03-01", 60))
		}()
	}
	wg.Wait()

	got, err := repo.ChannelSeconds(ctx, "U1", nil, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, int64(1200), got["C1"])
}

func TestRepository_AddVoiceSeconds_NegativeRejectedBySchema(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	err := repo.AddVoiceSeconds(ctx, "U1", "C1", "2025-03-01", -5)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrStorageTransient))
}

func TestRepository_ChannelSeconds(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	seed := []models.VoiceTime{
		{UserID: "U1", ChannelID: "C1", LocalDate: "2025-02-28", Seconds: 100},
		{UserID: "U1", ChannelID: "C1", LocalDate: "2025-03-01", Seconds: 200},
		{UserID: "U1", ChannelID: "C2", LocalDate: "2025-03-02", Seconds: 300},
		{UserID: "U1", ChannelID: "C3", LocalDate: "2025-03-02", Seconds: 400},
		{UserID: "U2", ChannelID: "C1", LocalDate: "2025-03-01", Seconds: 999},
	}
	for _, row := range seed {
		require.NoError(t, repo.AddVoiceSeconds(ctx, row.UserID, row.ChannelID, row.LocalDate, row.Seconds))
	}

	tests := []struct {
		name     string
		channels []string
		rng      DateRange
		want     map[string]int64
	}{
		{
			name: "unbounded, all channels",
			want: map[string]int64{"C1": 300, "C2": 300, "C3": 400},
		},
		{
			name:     "filtered channels",
			channels: []string{"C1", "C2"},
			want:     map[string]int64{"C1": 300, "C2": 300},
		},
		{
			name:     "empty channel set matches nothing",
			channels: []string{},
			want:     map[string]int64{},
		},
		{
			name: "half-open range",
			rng:  DateRange{From: "2025-03-01", To: "2025-03-02"},
			want: map[string]int64{"C1": 200},
		},
		{
			name: "lower bound only",
			rng:  DateRange{From: "2025-03-02"},
			want: map[string]int64{"C2": 300, "C3": 400},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repo.ChannelSeconds(ctx, "U1", tt.channels, tt.rng)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRepository_AllChannelSeconds(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	require.NoError(t, repo.AddVoiceSeconds(ctx, "U1", "C1", "2025-03-01", 10))
	require.NoError(t, repo.AddVoiceSeconds(ctx, "U2", "C1", "2025-03-01", 20))
	require.NoError(t, repo.AddVoiceSeconds(ctx, "U2", "C2", "2025-03-01", 30))
	require.NoError(t, repo.AddVoiceSeconds(ctx, "U3", "C9", "2025-03-01", 40))

	got, err := repo.AllChannelSeconds(ctx, []string{"C1", "C2"}, DateRange{From: "2025-03-01", To: "2025-03-02"})
	require.NoError(t, err)
	assert.Equal(t, map[string]map[string]int64{
		"U1": {"C1": 10},
		"U2": {"C1": 20, "C2": 30},
	}, got)
}

func TestRepository_DeleteVoiceTime(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	require.NoError(t, repo.AddVoiceSeconds(ctx, "U1", "C1", "2025-03-01", 10))
	require.NoError(t, repo.AddVoiceSeconds(ctx, "U1", "C2", "2025-03-01", 20))

	n, err := repo.DeleteVoiceTime(ctx, []string{"C1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.DeleteVoiceTime(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n, "an empty set deletes nothing")

	got, err := repo.ChannelSeconds(ctx, "U1", nil, DateRange{})
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"C2": 20}, got)
}

func TestRepository_TrackedChannels(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	require.NoError(t, repo.RegisterChannel(ctx, "C2", models.TagVoice))
	require.NoError(t, repo.RegisterChannel(ctx, "C1", models.TagVoice))
	require.NoError(t, repo.RegisterChannel(ctx, "C1", models.TagVoice), "registration is idempotent")
	require.NoError(t, repo.RegisterChannel(ctx, "C1", models.TagHerb))

	ids, err := repo.TrackedChannels(ctx, models.TagVoice)
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2"}, ids)

	require.NoError(t, repo.UnregisterChannel(ctx, "C1", models.TagVoice))
	require.NoError(t, repo.UnregisterChannel(ctx, "C1", models.TagVoice), "unregistering is idempotent")

	ids, err = repo.TrackedChannels(ctx, models.TagVoice)
	require.NoError(t, err)
	assert.Equal(t, []string{"C2"}, ids)

	tracked, err := repo.IsTracked(ctx, "C1")
	require.NoError(t, err)
	assert.True(t, tracked, "still registered for herb")

	tracked, err = repo.IsTracked(ctx, "C404")
	require.NoError(t, err)
	assert.False(t, tracked)
}

func TestRepository_DeletedChannels(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))

	require.NoError(t, repo.RememberDeleted(ctx, "C1", "CAT1"))
	require.NoError(t, repo.RememberDeleted(ctx, "C2", "CAT1"))
	require.NoError(t, repo.RememberDeleted(ctx, "C1", "CAT2"), "entries are append-only")

	ids, err := repo.DeletedChildren(ctx, "CAT1")
	require.NoError(t, err)
	assert.Equal(t, []string{"C1", "C2"}, ids)

	ids, err = repo.DeletedChildren(ctx, "CAT2")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestRepository_QuestAwards(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(SetupTestDB(t))
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	award := models.QuestAward{UserID: "U1", QuestKey: "voice_30min_daily", WindowKey: "2025-03-01", AwardedAt: at}

	has, err := repo.HasQuestAward(ctx, "U1", "voice_30min_daily", "2025-03-01")
	require.NoError(t, err)
	assert.False(t, has)

	inserted, err := repo.RecordQuestAward(ctx, award)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.RecordQuestAward(ctx, award)
	require.NoError(t, err)
	assert.False(t, inserted, "the triple is unique")

	has, err = repo.HasQuestAward(ctx, "U1", "voice_30min_daily", "2025-03-01")
	require.NoError(t, err)
	assert.True(t, has)

	awards, err := repo.QuestAwards(ctx, "U1")
	require.NoError(t, err)
	require.Len(t, awards, 1)
	assert.Equal(t, award, awards[0])
}
