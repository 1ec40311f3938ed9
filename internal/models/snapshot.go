package models

import "time"

// ChannelStatus is the outcome of one channel in a run.
type ChannelStatus string

const (
	ChannelOK      ChannelStatus = "ok"      // limit reached or history exhausted
	ChannelPartial ChannelStatus = "partial" // stopped early, some messages collected
	ChannelFailed  ChannelStatus = "failed"  // could not be resolved or read
)

// ChannelResult summarises one channel of a run.
type ChannelResult struct {
	Channel   string        `json:"channel"`
	Status    ChannelStatus `json:"status"`
	Collected int           `json:"collected"`
	Error     string        `json:"error,omitempty"`
}

// RunSnapshot is the result of a run. Field names are part of the output format.
type RunSnapshot struct {
	RunID           string          `json:"run_id"`
	ScrapedAt       time.Time       `json:"scraped_at"`
	Channels        []ChannelTarget `json:"channels"`
	TotalMessages   int             `json:"total_messages"`
	TotalImages     int             `json:"total_images"`
	TotalVideos     int             `json:"total_videos"`
	TotalAudio      int             `json:"total_audio"`
	TotalDocuments  int             `json:"total_documents"`
	TotalPrompts    int             `json:"total_prompts"`
	MediaDownloaded int             `json:"media_downloaded"`
	MediaFailed     int             `json:"media_failed"`
	MediaBytes      int64           `json:"media_bytes"`
	Messages        []Message       `json:"messages"`
	ChannelResults  []ChannelResult `json:"channel_results"`
	Warnings        []string        `json:"warnings"`
	Errors          []string        `json:"errors"`
}
