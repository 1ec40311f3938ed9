package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/blockedby/channel-harvester/internal/models"
)

// HarvestStats contains aggregated numbers over every stored run.
type HarvestStats struct {
	TotalMessages int `json:"total_messages"`
	TotalPrompts  int `json:"total_prompts"`
	TotalMedia    int `json:"total_media"`
	Channels      int `json:"channels"`
	Runs          int `json:"runs"`
}

// MessagesRepository stores run snapshots in postgresql.
type MessagesRepository struct {
	pool *pgxpool.Pool
}

// NewMessagesRepository creates a new messages repository
func NewMessagesRepository(pool *pgxpool.Pool) *MessagesRepository {
	return &MessagesRepository{pool: pool}
}

const upsertMessageSQL = `
	INSERT INTO harvested_messages (channel_username, message_id, run_id, posted_at, text,
	                                sender_id, sender_name, message_type, has_media, media_url,
	                                is_prompt, views, forwards)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	ON CONFLICT (channel_username, message_id)
	DO UPDATE SET
		run_id = EXCLUDED.run_id,
		text = EXCLUDED.text,
		media_url = COALESCE(EXCLUDED.media_url, harvested_messages.media_url),
		is_prompt = EXCLUDED.is_prompt,
		views = EXCLUDED.views,
		forwards = EXCLUDED.forwards,
		updated_at = NOW()
`

// SaveSnapshot writes the run row and upserts every message in one transaction.
// Messages already stored keep their media reference when the new run has none.
func (r *MessagesRepository) SaveSnapshot(ctx context.Context, snap *models.RunSnapshot) error {
	runID, err := uuid.Parse(snap.RunID)
	if err != nil {
		return fmt.Errorf("parse run id: %w", err)
	}

	errs, err := json.Marshal(nonNil(snap.Errors))
	if err != nil {
		return fmt.Errorf("marshal run errors: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO harvest_runs (run_id, scraped_at, total_messages, total_images,
		                          total_videos, total_prompts, media_failed, errors)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (run_id) DO NOTHING
	`, runID, snap.ScrapedAt, snap.TotalMessages, snap.TotalImages,
		snap.TotalVideos, snap.TotalPrompts, snap.MediaFailed, errs)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range snap.Messages {
		batch.Queue(upsertMessageSQL, messageArgs(runID, &snap.Messages[i])...)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert messages: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit snapshot: %w", err)
	}
	return nil
}

// Stats returns totals across all stored runs.
func (r *MessagesRepository) Stats(ctx context.Context) (*HarvestStats, error) {
	stats := &HarvestStats{}

	err := r.pool.QueryRow(ctx, `
		SELECT
			COUNT(*),
			COUNT(CASE WHEN is_prompt THEN 1 END),
			COUNT(CASE WHEN has_media THEN 1 END),
			COUNT(DISTINCT channel_username)
		FROM harvested_messages
	`).Scan(&stats.TotalMessages, &stats.TotalPrompts, &stats.TotalMedia, &stats.Channels)
	if err != nil {
		return nil, fmt.Errorf("get message stats: %w", err)
	}

	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM harvest_runs`).Scan(&stats.Runs); err != nil {
		return nil, fmt.Errorf("get run stats: %w", err)
	}

	return stats, nil
}

// messageArgs returns the positional arguments of upsertMessageSQL.
func messageArgs(runID uuid.UUID, m *models.Message) []any {
	return []any{
		m.ChannelUsername, m.ID, runID, m.Date, m.Text,
		m.SenderID, m.SenderName, string(m.MessageType), m.HasMedia, m.MediaURL,
		m.IsPrompt, m.Views, m.Forwards,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
