package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-harvester/internal/collector"
	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/database"
	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/media"
	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/blockedby/channel-harvester/internal/output"
	"github.com/blockedby/channel-harvester/internal/repository"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

// stubTelegram serves a fixed newest-first history per channel.
type stubTelegram struct {
	history map[string][]models.RawMessage
}

func (s *stubTelegram) Ready() error { return nil }

func (s *stubTelegram) ResolveChannel(_ context.Context, identifier string) (*models.ChannelTarget, error) {
	if _, ok := s.history[identifier]; !ok {
		return nil, telegram.ErrChannelNotFound
	}
	return &models.ChannelTarget{Identifier: identifier, ID: 1, Username: identifier, Title: identifier}, nil
}

func (s *stubTelegram) FetchPage(_ context.Context, ch *models.ChannelTarget, beforeID int, limit int) (*models.Page, error) {
	page := &models.Page{}
	for _, m := range s.history[ch.Key()] {
		if beforeID > 0 && m.ID >= beforeID {
			continue
		}
		if len(page.Messages) == limit {
			break
		}
		page.Messages = append(page.Messages, m)
		page.OldestID = m.ID
	}
	return page, nil
}

func (s *stubTelegram) FetchMedia(_ context.Context, _ models.RawMessage, w io.Writer) (int64, error) {
	n, err := w.Write([]byte("\x89PNG\r\n\x1a\n"))
	return int64(n), err
}

func history(channel string, n int) []models.RawMessage {
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	msgs := make([]models.RawMessage, 0, n)
	for id := n; id >= 1; id-- {
		m := models.RawMessage{ID: id, Date: base.Add(time.Duration(id) * time.Minute), Text: fmt.Sprintf("%s post %d", channel, id)}
		if id%3 == 0 {
			m.Text = "new prompt engineering trick"
		}
		if id == n {
			m.Media = models.Media{Kind: models.MediaPhoto}
		}
		msgs = append(msgs, m)
	}
	return msgs
}

func newHarvest(t *testing.T) (*collector.Service, *repository.CursorsRepository, string) {
	t.Helper()
	dir := t.TempDir()

	db, err := database.OpenState(filepath.Join(dir, "state", "state.db"))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	cursors := repository.NewCursorsRepository(db)
	require.NoError(t, cursors.Migrate())

	tg := &stubTelegram{history: map[string][]models.RawMessage{
		"ai_news": history("ai_news", 10),
		"prompts": history("prompts", 3),
	}}
	svc := collector.NewService(tg, cursors, media.NewFileStorage(filepath.Join(dir, "media")), logger.Nop())
	return svc, cursors, dir
}

func runOptions(limit int, channels ...string) collector.RunOptions {
	rc := config.DefaultRunConfig()
	rc.Channels = channels
	rc.PerChannelLimit = limit
	rc.RateLimit = config.RateLimitConfig{RequestsPerWindow: 1000, Window: time.Second, Burst: 4}
	rc.Backoff = config.BackoffConfig{BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, MaxAttempts: 2}
	rc.MediaWaitTimeout = 5 * time.Second
	return collector.RunOptionsFromConfig(rc)
}

func messageIDs(snap *models.RunSnapshot, channel string) []int {
	var out []int
	for _, m := range snap.Messages {
		if m.ChannelUsername == channel {
			out = append(out, m.ID)
		}
	}
	return out
}

func TestHarvest_ResumesAcrossRuns(t *testing.T) {
	svc, cursors, dir := newHarvest(t)
	ctx := context.Background()

	// first run stops at the limit
	snap, err := svc.Run(ctx, runOptions(4, "ai_news", "@prompts", "missing_channel"))
	require.NoError(t, err)

	assert.Equal(t, []int{10, 9, 8, 7}, messageIDs(snap, "ai_news"))
	assert.Equal(t, []int{3, 2, 1}, messageIDs(snap, "prompts"))
	assert.Equal(t, 7, snap.TotalMessages)
	assert.Len(t, snap.Errors, 1, "unknown channel is reported, not fatal")

	st, err := cursors.Get(ctx, "ai_news")
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.Equal(t, 7, st.LastSeenID)
	assert.True(t, st.Terminal)

	paths, err := output.SaveFiles(filepath.Join(dir, "out"), "", config.FormatBoth, snap)
	require.NoError(t, err)
	require.Len(t, paths, 2)

	raw, err := os.ReadFile(paths[0])
	require.NoError(t, err)
	var decoded models.RunSnapshot
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, snap.RunID, decoded.RunID)
	assert.Len(t, decoded.Messages, 7)

	// a larger limit continues below the stored position
	snap, err = svc.Run(ctx, runOptions(8, "ai_news", "prompts"))
	require.NoError(t, err)

	assert.Equal(t, []int{6, 5, 4, 3}, messageIDs(snap, "ai_news"))
	assert.Empty(t, messageIDs(snap, "prompts"), "exhausted channel stays exhausted")

	// reset starts the channel over
	require.NoError(t, cursors.Reset(ctx, "ai_news"))
	snap, err = svc.Run(ctx, runOptions(2, "ai_news"))
	require.NoError(t, err)
	assert.Equal(t, []int{10, 9}, messageIDs(snap, "ai_news"))
}

func TestHarvest_DownloadsMedia(t *testing.T) {
	svc, _, dir := newHarvest(t)

	opts := runOptions(3, "ai_news")
	opts.DownloadMedia = true
	opts.Fresh = true

	snap, err := svc.Run(context.Background(), opts)
	require.NoError(t, err)

	require.NotEmpty(t, snap.Messages)
	first := snap.Messages[0]
	require.NotNil(t, first.MediaURL)
	assert.Equal(t, 1, snap.MediaDownloaded)

	_, err = os.Stat(filepath.Join(dir, "media", filepath.Base(*first.MediaURL)))
	assert.NoError(t, err)
}
