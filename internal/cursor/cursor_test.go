package cursor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/blockedby/channel-harvester/internal/ratelimit"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

// fakeHistory serves a channel history of descending ids.
type fakeHistory struct {
	mu      sync.Mutex
	ids     []int   // newest first
	errs    []error // returned before any page, one per call
	calls   []int   // beforeID of every call
	ignores bool    // ignore beforeID, always return the newest page
}

func (f *fakeHistory) FetchPage(ctx context.Context, ch *models.ChannelTarget, beforeID int, limit int) (*models.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, beforeID)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}

	page := &models.Page{}
	for _, id := range f.ids {
		if !f.ignores && beforeID > 0 && id >= beforeID {
			continue
		}
		if len(page.Messages) == limit {
			break
		}
		page.Messages = append(page.Messages, models.RawMessage{ID: id, Text: "msg"})
		page.OldestID = id
	}
	return page, nil
}

type memStore struct {
	mu     sync.Mutex
	states map[string]models.CursorState
	saves  int
}

func newMemStore() *memStore {
	return &memStore{states: map[string]models.CursorState{}}
}

func (s *memStore) Get(_ context.Context, channel string) (*models.CursorState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[channel]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) Save(_ context.Context, st *models.CursorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[st.Channel] = *st
	s.saves++
	return nil
}

func fastLimiter() *ratelimit.Limiter {
	return ratelimit.New(ratelimit.Config{
		RequestsPerWindow: 10000,
		Window:            time.Second,
		Burst:             1,
		BaseDelay:         time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
	})
}

var aiNews = &models.ChannelTarget{ID: 1, Username: "ai_news"}

func drain(t *testing.T, c *Cursor) ([]int, error) {
	t.Helper()
	var ids []int
	for {
		msgs, err := c.Next(context.Background())
		if errors.Is(err, ErrDone) {
			return ids, nil
		}
		if err != nil {
			return ids, err
		}
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
	}
}

func TestCursor_LimitReachedOnFirstPage(t *testing.T) {
	hist := &fakeHistory{ids: []int{103, 102, 101}}
	store := newMemStore()
	c := New(aiNews, hist, fastLimiter(), store, Options{Limit: 3, PageSize: 100, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))
	assert.Equal(t, Pending, c.Phase())

	ids, err := drain(t, c)

	require.NoError(t, err)
	assert.Equal(t, []int{103, 102, 101}, ids)
	assert.Equal(t, Exhausted, c.Phase())
	assert.Len(t, hist.calls, 1, "limit reached, no second request")

	st := store.states["ai_news"]
	assert.Equal(t, 101, st.LastSeenID)
	assert.Equal(t, 3, st.Collected)
	assert.True(t, st.Terminal)
}

func TestCursor_PaginatesUntilHistoryEnds(t *testing.T) {
	hist := &fakeHistory{ids: []int{105, 104, 103, 102, 101}}
	store := newMemStore()
	c := New(aiNews, hist, fastLimiter(), store, Options{Limit: 100, PageSize: 2, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))

	ids, err := drain(t, c)

	require.NoError(t, err)
	assert.Equal(t, []int{105, 104, 103, 102, 101}, ids)
	assert.Equal(t, []int{0, 104, 102, 101}, hist.calls)
	assert.Equal(t, Exhausted, c.Phase())
	assert.True(t, store.states["ai_news"].Exhausted)
	assert.Equal(t, 4, store.saves, "state written after every page")
	assert.Equal(t, 4, c.Pages())
}

func TestCursor_TruncatesToRemainingLimit(t *testing.T) {
	hist := &fakeHistory{ids: []int{105, 104, 103, 102, 101}}
	store := newMemStore()
	c := New(aiNews, hist, fastLimiter(), store, Options{Limit: 3, PageSize: 2, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))

	ids, err := drain(t, c)

	require.NoError(t, err)
	assert.Equal(t, []int{105, 104, 103}, ids)
	st := store.states["ai_news"]
	assert.Equal(t, 103, st.LastSeenID, "bound follows the last emitted id")
	assert.False(t, st.Exhausted)
	assert.True(t, st.Terminal)
}

func TestCursor_ResumesBelowStoredBound(t *testing.T) {
	hist := &fakeHistory{ids: []int{105, 104, 103, 102, 101}}
	store := newMemStore()
	store.states["ai_news"] = models.CursorState{Channel: "ai_news", LastSeenID: 103, Collected: 2, Limit: 2, Terminal: true}

	c := New(aiNews, hist, fastLimiter(), store, Options{Limit: 10, PageSize: 100, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))
	assert.True(t, c.Resumed())

	ids, err := drain(t, c)

	require.NoError(t, err)
	assert.Equal(t, []int{102, 101}, ids)
	assert.Equal(t, 103, hist.calls[0])
	for _, id := range ids {
		assert.Less(t, id, 103, "never re-emits at or above the stored bound")
	}
	assert.Equal(t, 4, store.states["ai_news"].Collected)
}

func TestCursor_TerminalStoredStateSkipsFetch(t *testing.T) {
	hist := &fakeHistory{ids: []int{105}}
	store := newMemStore()
	store.states["ai_news"] = models.CursorState{Channel: "ai_news", LastSeenID: 50, Collected: 1, Limit: 1, Exhausted: true, Terminal: true}

	c := New(aiNews, hist, fastLimiter(), store, Options{Limit: 100, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Next(context.Background())

	assert.ErrorIs(t, err, ErrDone)
	assert.Empty(t, hist.calls)
}

func TestCursor_FreshIgnoresStore(t *testing.T) {
	hist := &fakeHistory{ids: []int{105, 104}}
	store := newMemStore()
	store.states["ai_news"] = models.CursorState{Channel: "ai_news", LastSeenID: 104, Collected: 1, Limit: 1, Terminal: true}

	c := New(aiNews, hist, fastLimiter(), store, Options{Limit: 2, MaxAttempts: 3, Fresh: true}, nil)
	require.NoError(t, c.Load(context.Background()))

	ids, err := drain(t, c)

	require.NoError(t, err)
	assert.Equal(t, []int{105, 104}, ids)
	assert.False(t, c.Resumed())
}

func TestCursor_ThrottleThenSuccess(t *testing.T) {
	hist := &fakeHistory{
		ids:  []int{3, 2, 1},
		errs: []error{&telegram.RateLimitError{Wait: 10 * time.Millisecond, Err: errors.New("FLOOD_WAIT_0")}},
	}
	limiter := fastLimiter()
	c := New(aiNews, hist, limiter, nil, Options{Limit: 3, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))

	start := time.Now()
	msgs, err := c.Next(context.Background())

	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	assert.Equal(t, int64(1), limiter.Throttles())
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond, "service hint honored")
	assert.Equal(t, []int{0, 0}, hist.calls, "retry does not advance the bound")
}

func TestCursor_PermanentErrorFailsImmediately(t *testing.T) {
	hist := &fakeHistory{errs: []error{telegram.ErrAccessDenied}}
	c := New(aiNews, hist, fastLimiter(), nil, Options{Limit: 3, MaxAttempts: 5}, nil)
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Next(context.Background())

	assert.ErrorIs(t, err, telegram.ErrAccessDenied)
	assert.Equal(t, Failed, c.Phase())
	assert.ErrorIs(t, c.Err(), telegram.ErrAccessDenied)
	assert.Len(t, hist.calls, 1)

	_, err = c.Next(context.Background())
	assert.ErrorIs(t, err, ErrDone)
}

func TestCursor_TransientErrorsExhaustAttempts(t *testing.T) {
	boom := errors.New("connection reset")
	hist := &fakeHistory{ids: []int{1}, errs: []error{boom, boom, boom}}
	c := New(aiNews, hist, fastLimiter(), nil, Options{Limit: 3, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))

	_, err := c.Next(context.Background())

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, c.Phase())
	assert.Len(t, hist.calls, 3)
}

func TestCursor_ServiceIgnoringOffsetStops(t *testing.T) {
	hist := &fakeHistory{ids: []int{3, 2}, ignores: true}
	c := New(aiNews, hist, fastLimiter(), nil, Options{Limit: 100, PageSize: 2, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))

	ids, err := drain(t, c)

	require.NoError(t, err)
	assert.Equal(t, []int{3, 2}, ids, "no duplicates from a repeated page")
	assert.Equal(t, Exhausted, c.Phase())
}

func TestCursor_CanceledContext(t *testing.T) {
	hist := &fakeHistory{ids: []int{3, 2, 1}}
	c := New(aiNews, hist, fastLimiter(), nil, Options{Limit: 3, MaxAttempts: 3}, nil)
	require.NoError(t, c.Load(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Next(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, c.Phase().Terminal())
	assert.Empty(t, hist.calls)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "throttled", Throttled.String())
	assert.True(t, Failed.Terminal())
	assert.False(t, PageReady.Terminal())
}
