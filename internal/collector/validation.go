package collector

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

// validation errors
var (
	ErrChannelRequired = errors.New("at least one channel is required")
	ErrInvalidChannel  = errors.New("channel must be a username, a t.me link or a numeric id")
	ErrInvalidLimit    = errors.New("limit must be non-negative")
	ErrInvalidParallel = errors.New("max_concurrent_channels must be non-negative")
)

var identifierPattern = regexp.MustCompile(`^([A-Za-z][A-Za-z0-9_]{2,63}|-?[0-9]+)$`)

// RunRequest represents a request to start a run
type RunRequest struct {
	// Channels - usernames (with or without @), t.me links or numeric ids.
	Channels []string `json:"channels,omitempty"`

	// Channel - single channel shorthand, appended to Channels.
	Channel string `json:"channel,omitempty"`

	// Limit - messages per channel.
	// 0 means the configured default.
	Limit int `json:"limit,omitempty"`

	// DownloadMedia - overrides the configured default when set.
	DownloadMedia *bool `json:"download_media,omitempty"`

	// MaxConcurrentChannels - 0 means the configured default.
	MaxConcurrentChannels int `json:"max_concurrent_channels,omitempty"`

	// Fresh - ignore stored cursor state.
	Fresh bool `json:"fresh,omitempty"`
}

// Validate performs basic validation of the request
// does not check if channels exist (that requires network call)
func (r *RunRequest) Validate() error {
	if r.Channel != "" {
		r.Channels = append(r.Channels, r.Channel)
		r.Channel = ""
	}

	channels := normalizeChannels(r.Channels)
	if len(channels) == 0 {
		return ErrChannelRequired
	}
	for _, c := range channels {
		if !identifierPattern.MatchString(c) {
			return ErrInvalidChannel
		}
	}
	r.Channels = channels

	if r.Limit < 0 {
		return ErrInvalidLimit
	}
	if r.MaxConcurrentChannels < 0 {
		return ErrInvalidParallel
	}

	return nil
}

// Options merges the request over the configured run options.
func (r *RunRequest) Options(base config.RunConfig) RunOptions {
	opts := RunOptionsFromConfig(base)
	opts.Channels = r.Channels
	if r.Limit > 0 {
		opts.PerChannelLimit = r.Limit
	}
	if r.DownloadMedia != nil {
		opts.DownloadMedia = *r.DownloadMedia
	}
	if r.MaxConcurrentChannels > 0 {
		opts.MaxConcurrentChannels = r.MaxConcurrentChannels
	}
	opts.Fresh = opts.Fresh || r.Fresh
	return opts
}

// RunResponse represents response to run request
type RunResponse struct {
	RunID     uuid.UUID `json:"run_id"`
	Status    string    `json:"status"` // "running" | "idle"
	Channels  []string  `json:"channels"`
	StartedAt time.Time `json:"started_at"`
}

// StatusResponse is the body of the status endpoint.
type StatusResponse struct {
	Status         string          `json:"status"`
	TelegramStatus telegram.Status `json:"telegram_status"`
	RunID          string          `json:"run_id,omitempty"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	Channels       []string        `json:"channels,omitempty"`
}

// channelKey normalizes a single identifier for URL parameters.
func channelKey(s string) string {
	return strings.TrimSpace(telegram.NormalizeIdentifier(s))
}
