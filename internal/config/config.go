// package config loads application configuration from a YAML run file and environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Output formats understood by the result writers.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatBoth = "both"
)

var (
	ErrInvalidLimit       = errors.New("per_channel_limit must be positive")
	ErrInvalidPageSize    = errors.New("page_size must be between 1 and 100")
	ErrInvalidRateLimit   = errors.New("rate_limit requires positive requests_per_window, window and burst")
	ErrInvalidBackoff     = errors.New("backoff requires positive base_delay, max_delay >= base_delay and max_attempts >= 1")
	ErrInvalidWorkerCount = errors.New("media_worker_count must be positive")
	ErrInvalidFormat      = errors.New("format must be one of json, csv, both")
)

// DefaultKeywords is the topical keyword list used when none is configured.
var DefaultKeywords = []string{
	"prompt", "chatgpt", "gpt", "claude", "gemini", "ai", "ia",
	"engenharia de prompt", "prompt engineering", "llm",
	"midjourney", "dall-e", "stable diffusion", "runway",
	"automação", "automation", "n8n", "make", "zapier", "workflow",
	"agente", "agent",
}

// Config holds all application configuration.
type Config struct {
	// cursor state store: sqlite file path or postgres url
	StateDSN string

	// optional postgres sink for collected messages
	DatabaseURL string

	// nats, empty disables event publishing
	NatsURL string

	// telegram
	TGApiID       int
	TGApiHash     string
	TGSessionStr  string
	TGSessionFile string

	// server
	HTTPPort int

	// logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	Run RunConfig
}

// RunConfig holds the options of a single collection run.
type RunConfig struct {
	Channels              []string        `yaml:"channels"`
	PerChannelLimit       int             `yaml:"per_channel_limit"`
	DownloadMedia         bool            `yaml:"download_media"`
	MaxConcurrentChannels int             `yaml:"max_concurrent_channels"` // 0 = all
	MediaWorkerCount      int             `yaml:"media_worker_count"`
	PageSize              int             `yaml:"page_size"`
	RateLimit             RateLimitConfig `yaml:"rate_limit"`
	Backoff               BackoffConfig   `yaml:"backoff"`
	Keywords              []string        `yaml:"keywords"`
	MediaDir              string          `yaml:"media_dir"`
	OutputDir             string          `yaml:"output_dir"`
	Format                string          `yaml:"format"`
	MediaWaitTimeout      time.Duration   `yaml:"media_wait_timeout"`
	RunTimeout            time.Duration   `yaml:"run_timeout"` // 0 = none
	Fresh                 bool            `yaml:"fresh"`       // ignore persisted cursor state
}

// RateLimitConfig is the token bucket shared by every channel.
type RateLimitConfig struct {
	RequestsPerWindow int           `yaml:"requests_per_window"`
	Window            time.Duration `yaml:"window"`
	Burst             int           `yaml:"burst"`
}

// BackoffConfig is the retry curve applied after throttling or transient failures.
type BackoffConfig struct {
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// DefaultRunConfig returns run options with conservative settings.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		PerChannelLimit:  100,
		MediaWorkerCount: 4,
		PageSize:         100,
		RateLimit: RateLimitConfig{
			RequestsPerWindow: 2,
			Window:            time.Second,
			Burst:             1,
		},
		Backoff: BackoffConfig{
			BaseDelay:   time.Second,
			MaxDelay:    time.Minute,
			MaxAttempts: 5,
		},
		Keywords:         append([]string(nil), DefaultKeywords...),
		MediaDir:         "./data/media",
		OutputDir:        "./data",
		Format:           FormatJSON,
		MediaWaitTimeout: 2 * time.Minute,
	}
}

// Load reads configuration with the precedence defaults < run file < environment.
// runFile may be empty; HARVEST_CONFIG is used then.
func Load(runFile string) (*Config, error) {
	// .env is optional
	_ = godotenv.Load()

	cfg := &Config{
		StateDSN:      getEnv("STATE_DSN", "./data/state.db"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),
		NatsURL:       getEnv("NATS_URL", ""),
		TGApiID:       getEnvInt("TG_API_ID", 0),
		TGApiHash:     getEnv("TG_API_HASH", ""),
		TGSessionStr:  getEnv("TG_SESSION_STRING", ""),
		TGSessionFile: getEnv("TG_SESSION_FILE", "./data/session.db"),
		HTTPPort:      getEnvInt("HTTP_PORT", 3100),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogJSON:       getEnvBool("LOG_JSON", false),
		Run:           DefaultRunConfig(),
	}

	if runFile == "" {
		runFile = getEnv("HARVEST_CONFIG", "")
	}
	if runFile != "" {
		if err := cfg.Run.MergeFile(runFile); err != nil {
			return nil, err
		}
	}

	cfg.Run.applyEnv()

	return cfg, nil
}

// MergeFile overlays the values present in a YAML run file.
func (r *RunConfig) MergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read run file: %w", err)
	}
	return r.MergeYAML(data)
}

// MergeYAML overlays the values present in a YAML document. Keys absent from
// the document keep their current value.
func (r *RunConfig) MergeYAML(data []byte) error {
	if err := yaml.Unmarshal(data, r); err != nil {
		return fmt.Errorf("parse run file: %w", err)
	}
	return nil
}

func (r *RunConfig) applyEnv() {
	r.Channels = getEnvList("HARVEST_CHANNELS", r.Channels)
	r.PerChannelLimit = getEnvInt("HARVEST_LIMIT", r.PerChannelLimit)
	r.DownloadMedia = getEnvBool("HARVEST_DOWNLOAD_MEDIA", r.DownloadMedia)
	r.MaxConcurrentChannels = getEnvInt("HARVEST_MAX_CONCURRENT_CHANNELS", r.MaxConcurrentChannels)
	r.MediaWorkerCount = getEnvInt("HARVEST_MEDIA_WORKERS", r.MediaWorkerCount)
	r.PageSize = getEnvInt("HARVEST_PAGE_SIZE", r.PageSize)
	r.RateLimit.RequestsPerWindow = getEnvInt("HARVEST_RATE_REQUESTS", r.RateLimit.RequestsPerWindow)
	r.RateLimit.Window = getEnvDuration("HARVEST_RATE_WINDOW", r.RateLimit.Window)
	r.RateLimit.Burst = getEnvInt("HARVEST_RATE_BURST", r.RateLimit.Burst)
	r.Backoff.BaseDelay = getEnvDuration("HARVEST_BACKOFF_BASE", r.Backoff.BaseDelay)
	r.Backoff.MaxDelay = getEnvDuration("HARVEST_BACKOFF_MAX", r.Backoff.MaxDelay)
	r.Backoff.MaxAttempts = getEnvInt("HARVEST_BACKOFF_ATTEMPTS", r.Backoff.MaxAttempts)
	r.Keywords = getEnvList("HARVEST_KEYWORDS", r.Keywords)
	r.MediaDir = getEnv("MEDIA_DIR", r.MediaDir)
	r.OutputDir = getEnv("OUTPUT_DIR", r.OutputDir)
	r.Format = getEnv("HARVEST_FORMAT", r.Format)
	r.MediaWaitTimeout = getEnvDuration("HARVEST_MEDIA_WAIT", r.MediaWaitTimeout)
	r.RunTimeout = getEnvDuration("HARVEST_RUN_TIMEOUT", r.RunTimeout)
	r.Fresh = getEnvBool("HARVEST_FRESH", r.Fresh)
}

// Validate checks the run options. Channels are checked by the caller since
// the server mode receives them per request.
func (r RunConfig) Validate() error {
	if r.PerChannelLimit <= 0 {
		return ErrInvalidLimit
	}
	if r.PageSize < 1 || r.PageSize > 100 {
		return ErrInvalidPageSize
	}
	if r.RateLimit.RequestsPerWindow < 1 || r.RateLimit.Window <= 0 || r.RateLimit.Burst < 1 {
		return ErrInvalidRateLimit
	}
	if r.Backoff.BaseDelay <= 0 || r.Backoff.MaxDelay < r.Backoff.BaseDelay || r.Backoff.MaxAttempts < 1 {
		return ErrInvalidBackoff
	}
	if r.MediaWorkerCount < 1 {
		return ErrInvalidWorkerCount
	}
	switch r.Format {
	case FormatJSON, FormatCSV, FormatBoth:
	default:
		return ErrInvalidFormat
	}
	return nil
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

// getEnvInt returns the integer value of an environment variable or a default.
func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList splits a comma separated variable, dropping blanks.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
