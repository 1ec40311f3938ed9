// Package cursor walks one channel's history backwards, page by page, and
// persists its position after every page so an interrupted run can resume.
package cursor

import (
	"context"
	"errors"
	"fmt"

	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/blockedby/channel-harvester/internal/ratelimit"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

// ErrDone is returned by Next once the cursor reached a terminal phase.
var ErrDone = errors.New("cursor done")

// Phase is the position of a cursor in its state machine.
type Phase int

const (
	Pending   Phase = iota // not started
	Fetching               // page request in flight
	PageReady              // last page accepted
	Throttled              // waiting for the limiter after a rate limit signal
	Exhausted              // terminal: history ended or limit reached
	Failed                 // terminal: non-retryable error or retries used up
)

func (p Phase) String() string {
	switch p {
	case Pending:
		return "pending"
	case Fetching:
		return "fetching"
	case PageReady:
		return "page_ready"
	case Throttled:
		return "throttled"
	case Exhausted:
		return "exhausted"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen.
func (p Phase) Terminal() bool {
	return p == Exhausted || p == Failed
}

// PageFetcher is the history call of the messaging client.
type PageFetcher interface {
	FetchPage(ctx context.Context, channel *models.ChannelTarget, beforeID int, limit int) (*models.Page, error)
}

// Store persists cursor state between runs.
type Store interface {
	Get(ctx context.Context, channel string) (*models.CursorState, error)
	Save(ctx context.Context, st *models.CursorState) error
}

// Options configures a cursor.
type Options struct {
	Limit       int  // messages to emit for this channel
	PageSize    int  // at most telegram.MaxPageSize
	MaxAttempts int  // consecutive failed requests before the channel fails
	Fresh       bool // ignore stored state
}

// Cursor is owned by exactly one goroutine.
type Cursor struct {
	target  *models.ChannelTarget
	fetcher PageFetcher
	limiter *ratelimit.Limiter
	store   Store
	opts    Options
	log     *logger.Logger

	state   models.CursorState
	phase   Phase
	resumed bool
	err     error
	pages   int
}

// New creates a cursor in the Pending phase. store may be nil.
func New(target *models.ChannelTarget, fetcher PageFetcher, limiter *ratelimit.Limiter, store Store, opts Options, log *logger.Logger) *Cursor {
	if opts.PageSize <= 0 || opts.PageSize > telegram.MaxPageSize {
		opts.PageSize = telegram.MaxPageSize
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if log == nil {
		log = logger.Get()
	}

	return &Cursor{
		target:  target,
		fetcher: fetcher,
		limiter: limiter,
		store:   store,
		opts:    opts,
		log:     log,
		state:   models.CursorState{Channel: target.Key(), Limit: opts.Limit},
		phase:   Pending,
	}
}

// Load reads the stored state. It must be called before the first Next.
func (c *Cursor) Load(ctx context.Context) error {
	if c.store == nil || c.opts.Fresh {
		c.state.Recompute()
		c.settle()
		return nil
	}

	st, err := c.store.Get(ctx, c.state.Channel)
	if err != nil {
		return fmt.Errorf("load cursor %s: %w", c.state.Channel, err)
	}
	if st != nil {
		c.state.LastSeenID = st.LastSeenID
		c.state.Collected = st.Collected
		c.state.Exhausted = st.Exhausted
		c.resumed = st.LastSeenID > 0
	}
	// the configured limit replaces the stored one
	c.state.Limit = c.opts.Limit
	c.state.Recompute()
	c.settle()

	if c.resumed {
		c.log.Info().
			Str("channel", c.state.Channel).
			Int("last_seen_id", c.state.LastSeenID).
			Int("collected", c.state.Collected).
			Bool("terminal", c.state.Terminal).
			Msg("cursor: resuming from stored state")
	}
	return nil
}

func (c *Cursor) settle() {
	if c.state.Terminal {
		c.phase = Exhausted
	}
}

// Next fetches the next page and returns the accepted messages, newest first.
// It returns ErrDone once the cursor is terminal, the failure cause when the
// channel fails, or the context error on cancellation. An empty slice with a
// nil error is possible when a page held only service entries.
func (c *Cursor) Next(ctx context.Context) ([]models.RawMessage, error) {
	if c.phase.Terminal() {
		return nil, ErrDone
	}

	attempts := 0
	for {
		c.phase = Fetching

		permit, err := c.limiter.Acquire(ctx)
		if err != nil {
			c.phase = Pending
			return nil, err
		}
		page, err := c.fetcher.FetchPage(ctx, c.target, c.state.LastSeenID, c.opts.PageSize)
		permit.Release()

		if err == nil {
			c.limiter.Succeeded()
			return c.accept(ctx, page), nil
		}

		if ctx.Err() != nil {
			c.phase = Pending
			return nil, ctx.Err()
		}

		attempts++
		if telegram.IsPermanent(err) {
			return nil, c.fail(err)
		}
		if attempts >= c.opts.MaxAttempts {
			return nil, c.fail(fmt.Errorf("giving up after %d attempts: %w", attempts, err))
		}

		if hint, limited := telegram.IsRateLimited(err); limited {
			c.phase = Throttled
			d := c.limiter.Throttled(hint)
			c.log.Warn().
				Str("channel", c.state.Channel).
				Dur("wait", d).
				Int("attempt", attempts).
				Msg("cursor: throttled by service")
			continue
		}

		c.log.Warn().Err(err).
			Str("channel", c.state.Channel).
			Int("attempt", attempts).
			Msg("cursor: transient error, backing off")
		if err := c.limiter.Backoff(ctx, attempts); err != nil {
			c.phase = Pending
			return nil, err
		}
	}
}

// accept applies a page to the state, persists it and returns the messages to emit.
func (c *Cursor) accept(ctx context.Context, page *models.Page) []models.RawMessage {
	c.pages++
	bound := c.state.LastSeenID

	if page.Empty() || (bound > 0 && page.OldestID >= bound) {
		// nothing older than the bound, including a service that ignores the offset
		c.state.Exhausted = true
		c.finishPage(ctx)
		return nil
	}

	msgs := make([]models.RawMessage, 0, len(page.Messages))
	for _, m := range page.Messages {
		if bound == 0 || m.ID < bound {
			msgs = append(msgs, m)
		}
	}

	next := page.OldestID
	if remaining := c.state.Remaining(); len(msgs) > remaining {
		msgs = msgs[:remaining]
		next = minID(msgs)
	}

	c.state.LastSeenID = next
	c.state.Collected += len(msgs)
	c.finishPage(ctx)
	return msgs
}

func (c *Cursor) finishPage(ctx context.Context) {
	c.state.Recompute()
	if c.state.Terminal {
		c.phase = Exhausted
	} else {
		c.phase = PageReady
	}

	if c.store == nil {
		return
	}
	// written even when the run is being canceled
	st := c.state
	if err := c.store.Save(context.WithoutCancel(ctx), &st); err != nil {
		c.log.Error().Err(err).Str("channel", c.state.Channel).Msg("cursor: failed to persist state")
	}
}

func (c *Cursor) fail(err error) error {
	c.phase = Failed
	c.err = err
	c.log.Error().Err(err).Str("channel", c.state.Channel).Msg("cursor: channel failed")
	return err
}

func minID(msgs []models.RawMessage) int {
	lowest := 0
	for _, m := range msgs {
		if lowest == 0 || m.ID < lowest {
			lowest = m.ID
		}
	}
	return lowest
}

// Phase returns the current phase.
func (c *Cursor) Phase() Phase { return c.phase }

// State returns a copy of the current state.
func (c *Cursor) State() models.CursorState { return c.state }

// Target returns the channel the cursor reads.
func (c *Cursor) Target() *models.ChannelTarget { return c.target }

// Err returns the failure cause once the cursor is Failed.
func (c *Cursor) Err() error { return c.err }

// Resumed reports whether stored state was picked up by Load.
func (c *Cursor) Resumed() bool { return c.resumed }

// Pages returns how many pages were accepted.
func (c *Cursor) Pages() int { return c.pages }
