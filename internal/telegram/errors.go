package telegram

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gotd/td/tgerr"
)

var (
	// ErrNotAuthorized means no usable session exists.
	ErrNotAuthorized = errors.New("telegram client not authorized")
	// ErrChannelNotFound means the identifier does not resolve to a channel.
	ErrChannelNotFound = errors.New("channel not found")
	// ErrAccessDenied means the channel exists but cannot be read.
	ErrAccessDenied = errors.New("channel access denied")
	// ErrNoMedia means the message has no downloadable attachment.
	ErrNoMedia = errors.New("message has no downloadable media")
	// ErrMissingCredentials means TG_API_ID or TG_API_HASH is unset.
	ErrMissingCredentials = errors.New("TG_API_ID and TG_API_HASH are required")
)

// RateLimitError is returned when the service asks the caller to slow down.
type RateLimitError struct {
	Wait time.Duration // service hint, 0 if none
	Err  error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s: %v", e.Wait, e.Err)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// IsRateLimited reports whether err is a throttling signal and returns the wait hint.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.Wait, true
	}
	return 0, false
}

// IsPermanent reports whether retrying err within the same run is pointless.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrChannelNotFound) ||
		errors.Is(err, ErrAccessDenied) ||
		errors.Is(err, ErrNotAuthorized) ||
		errors.Is(err, ErrNoMedia)
}

var notFoundCodes = []string{
	"USERNAME_NOT_OCCUPIED",
	"USERNAME_INVALID",
	"CHANNEL_INVALID",
	"PEER_ID_INVALID",
}

var deniedCodes = []string{
	"CHANNEL_PRIVATE",
	"CHAT_FORBIDDEN",
	"CHANNEL_PUBLIC_GROUP_NA",
	"USER_BANNED_IN_CHANNEL",
}

// classifyError maps an rpc error onto the package error kinds.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}

	if d, ok := tgerr.AsFloodWait(err); ok {
		return &RateLimitError{Wait: d, Err: fmt.Errorf("%s: %w", op, err)}
	}
	if seconds := parseFloodWait(err); seconds > 0 {
		return &RateLimitError{Wait: time.Duration(seconds) * time.Second, Err: fmt.Errorf("%s: %w", op, err)}
	}

	switch {
	case tgerr.Is(err, notFoundCodes...):
		return fmt.Errorf("%s: %w: %v", op, ErrChannelNotFound, err)
	case tgerr.Is(err, deniedCodes...):
		return fmt.Errorf("%s: %w: %v", op, ErrAccessDenied, err)
	case tgerr.Is(err, "AUTH_KEY_UNREGISTERED", "SESSION_REVOKED", "USER_DEACTIVATED"):
		return fmt.Errorf("%s: %w: %v", op, ErrNotAuthorized, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// parseFloodWait extracts X from a textual FLOOD_WAIT_X when the typed error was lost in wrapping.
func parseFloodWait(err error) int {
	str := err.Error()
	idx := strings.Index(str, "FLOOD_WAIT_")
	if idx < 0 {
		return 0
	}

	var seconds int
	// e.g. "rpc error code 420: FLOOD_WAIT_15 (caused by ...)"
	_, _ = fmt.Sscanf(str[idx+len("FLOOD_WAIT_"):], "%d", &seconds)
	return seconds
}
