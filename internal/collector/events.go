package collector

import (
	"context"
	"time"

	"github.com/blockedby/channel-harvester/internal/models"
)

// EventPublisher publishes harvest events.
type EventPublisher interface {
	PublishMessages(ctx context.Context, event MessagesEvent) error
	PublishRun(ctx context.Context, event RunEvent) error
}

// MessagesEvent carries the records of one merged page.
type MessagesEvent struct {
	RunID     string           `json:"run_id"`
	Channel   string           `json:"channel"`
	Messages  []models.Message `json:"messages"`
	CreatedAt time.Time        `json:"created_at"`
}

// RunEvent is published once per finished run.
type RunEvent struct {
	RunID           string                 `json:"run_id"`
	Outcome         string                 `json:"outcome"` // "ok" | "partial" | "canceled"
	TotalMessages   int                    `json:"total_messages"`
	TotalPrompts    int                    `json:"total_prompts"`
	MediaDownloaded int                    `json:"media_downloaded"`
	MediaFailed     int                    `json:"media_failed"`
	Channels        []models.ChannelResult `json:"channels"`
	FinishedAt      time.Time              `json:"finished_at"`
}

// ProgressNotifier receives live progress of a run.
type ProgressNotifier interface {
	RunStarted(runID string, channels []string)
	Progress(runID, channel string, messages, prompts int)
	ChannelDone(runID, channel string, messages, prompts int)
	RunFinished(snap *models.RunSnapshot)
}
