package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("HARVEST_CONFIG", "")
	t.Setenv("HARVEST_LIMIT", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Run.PerChannelLimit != 100 {
		t.Errorf("PerChannelLimit = %d, want 100", cfg.Run.PerChannelLimit)
	}
	if cfg.Run.DownloadMedia {
		t.Error("DownloadMedia should default to false")
	}
	if cfg.Run.RateLimit.Burst != 1 {
		t.Errorf("Burst = %d, want 1", cfg.Run.RateLimit.Burst)
	}
	if len(cfg.Run.Keywords) != len(DefaultKeywords) {
		t.Errorf("Keywords = %v, want defaults", cfg.Run.Keywords)
	}
	if err := cfg.Run.Validate(); err != nil {
		t.Errorf("default run config invalid: %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("HARVEST_CHANNELS", "ai_news, @prompts ,,")
	t.Setenv("HARVEST_LIMIT", "3")
	t.Setenv("HARVEST_DOWNLOAD_MEDIA", "true")
	t.Setenv("HARVEST_RATE_WINDOW", "250ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"ai_news", "@prompts"}, cfg.Run.Channels)
	assert.Equal(t, 3, cfg.Run.PerChannelLimit)
	assert.True(t, cfg.Run.DownloadMedia)
	assert.Equal(t, 250*time.Millisecond, cfg.Run.RateLimit.Window)
}

func TestLoad_RunFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "run.yaml")
	body := `
channels: [alpha, beta]
per_channel_limit: 50
media_worker_count: 8
rate_limit:
  requests_per_window: 5
  window: 2s
  burst: 2
backoff:
  base_delay: 500ms
  max_delay: 10s
  max_attempts: 3
keywords: [golang]
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	t.Setenv("HARVEST_LIMIT", "7")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"alpha", "beta"}, cfg.Run.Channels)
	assert.Equal(t, 7, cfg.Run.PerChannelLimit, "env wins over file")
	assert.Equal(t, 8, cfg.Run.MediaWorkerCount)
	assert.Equal(t, RateLimitConfig{RequestsPerWindow: 5, Window: 2 * time.Second, Burst: 2}, cfg.Run.RateLimit)
	assert.Equal(t, 500*time.Millisecond, cfg.Run.Backoff.BaseDelay)
	assert.Equal(t, []string{"golang"}, cfg.Run.Keywords)
	assert.Equal(t, 100, cfg.Run.PageSize, "absent keys keep defaults")
}

func TestLoad_MissingRunFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestRunConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*RunConfig)
		want   error
	}{
		{"valid", func(*RunConfig) {}, nil},
		{"zero limit", func(r *RunConfig) { r.PerChannelLimit = 0 }, ErrInvalidLimit},
		{"page too big", func(r *RunConfig) { r.PageSize = 101 }, ErrInvalidPageSize},
		{"zero burst", func(r *RunConfig) { r.RateLimit.Burst = 0 }, ErrInvalidRateLimit},
		{"zero window", func(r *RunConfig) { r.RateLimit.Window = 0 }, ErrInvalidRateLimit},
		{"max below base", func(r *RunConfig) { r.Backoff.MaxDelay = time.Millisecond }, ErrInvalidBackoff},
		{"no attempts", func(r *RunConfig) { r.Backoff.MaxAttempts = 0 }, ErrInvalidBackoff},
		{"no workers", func(r *RunConfig) { r.MediaWorkerCount = 0 }, ErrInvalidWorkerCount},
		{"bad format", func(r *RunConfig) { r.Format = "xml" }, ErrInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := DefaultRunConfig()
			tt.modify(&r)
			assert.ErrorIs(t, r.Validate(), tt.want)
		})
	}
}
