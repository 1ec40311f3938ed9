package web

import (
	"encoding/json"

	"github.com/blockedby/channel-harvester/internal/models"
)

// WebSocket event types
const (
	EventRunStarted  = "run.started"
	EventRunProgress = "run.progress"
	EventChannelDone = "channel.done"
	EventRunFinished = "run.finished"
)

// WSEvent represents a structured WebSocket message
type WSEvent struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// RunStartedPayload is the payload for EventRunStarted
type RunStartedPayload struct {
	RunID    string   `json:"run_id"`
	Channels []string `json:"channels"`
}

// ProgressPayload is the payload for EventRunProgress and EventChannelDone
type ProgressPayload struct {
	RunID    string `json:"run_id"`
	Channel  string `json:"channel"`
	Messages int    `json:"messages"`
	Prompts  int    `json:"prompts"`
}

// RunFinishedPayload is the payload for EventRunFinished
type RunFinishedPayload struct {
	RunID           string                 `json:"run_id"`
	TotalMessages   int                    `json:"total_messages"`
	TotalPrompts    int                    `json:"total_prompts"`
	MediaDownloaded int                    `json:"media_downloaded"`
	MediaFailed     int                    `json:"media_failed"`
	Channels        []models.ChannelResult `json:"channels"`
	Warnings        int                    `json:"warnings"`
}

// Event encodes an event for the wire.
func Event(typ string, payload interface{}) []byte {
	b, _ := json.Marshal(WSEvent{Type: typ, Payload: payload})
	return b
}

// Notifier turns run progress into hub broadcasts.
type Notifier struct {
	hub *Hub
}

// NewNotifier creates a notifier over hub.
func NewNotifier(hub *Hub) *Notifier {
	return &Notifier{hub: hub}
}

// RunStarted broadcasts EventRunStarted.
func (n *Notifier) RunStarted(runID string, channels []string) {
	n.hub.Broadcast(Event(EventRunStarted, RunStartedPayload{RunID: runID, Channels: channels}))
}

// Progress broadcasts EventRunProgress.
func (n *Notifier) Progress(runID, channel string, messages, prompts int) {
	n.hub.Broadcast(Event(EventRunProgress, ProgressPayload{
		RunID: runID, Channel: channel, Messages: messages, Prompts: prompts,
	}))
}

// ChannelDone broadcasts EventChannelDone.
func (n *Notifier) ChannelDone(runID, channel string, messages, prompts int) {
	n.hub.Broadcast(Event(EventChannelDone, ProgressPayload{
		RunID: runID, Channel: channel, Messages: messages, Prompts: prompts,
	}))
}

// RunFinished broadcasts EventRunFinished.
func (n *Notifier) RunFinished(snap *models.RunSnapshot) {
	n.hub.Broadcast(Event(EventRunFinished, RunFinishedPayload{
		RunID:           snap.RunID,
		TotalMessages:   snap.TotalMessages,
		TotalPrompts:    snap.TotalPrompts,
		MediaDownloaded: snap.MediaDownloaded,
		MediaFailed:     snap.MediaFailed,
		Channels:        snap.ChannelResults,
		Warnings:        len(snap.Warnings),
	}))
}
