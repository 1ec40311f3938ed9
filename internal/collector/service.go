package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"

	"github.com/blockedby/channel-harvester/internal/aggregator"
	"github.com/blockedby/channel-harvester/internal/classifier"
	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/cursor"
	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/media"
	"github.com/blockedby/channel-harvester/internal/metrics"
	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/blockedby/channel-harvester/internal/ratelimit"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

// ErrNoChannels is returned when a run has nothing to collect.
var ErrNoChannels = errors.New("at least one channel is required")

// TelegramClient defines the messaging operations a run needs.
type TelegramClient interface {
	Ready() error
	ResolveChannel(ctx context.Context, identifier string) (*models.ChannelTarget, error)
	cursor.PageFetcher
	media.Downloader
}

// SnapshotSink stores finished snapshots.
type SnapshotSink interface {
	SaveSnapshot(ctx context.Context, snap *models.RunSnapshot) error
}

// RunOptions configures one run.
type RunOptions struct {
	RunID                 string // generated when empty
	Channels              []string
	PerChannelLimit       int
	DownloadMedia         bool
	MaxConcurrentChannels int // 0 = all
	PageSize              int
	MediaWorkerCount      int
	RateLimit             ratelimit.Config
	MaxAttempts           int
	Keywords              []string
	MediaWaitTimeout      time.Duration
	Fresh                 bool
}

// RunOptionsFromConfig converts the configured run options.
func RunOptionsFromConfig(rc config.RunConfig) RunOptions {
	return RunOptions{
		Channels:              rc.Channels,
		PerChannelLimit:       rc.PerChannelLimit,
		DownloadMedia:         rc.DownloadMedia,
		MaxConcurrentChannels: rc.MaxConcurrentChannels,
		PageSize:              rc.PageSize,
		MediaWorkerCount:      rc.MediaWorkerCount,
		RateLimit: ratelimit.Config{
			RequestsPerWindow: rc.RateLimit.RequestsPerWindow,
			Window:            rc.RateLimit.Window,
			Burst:             rc.RateLimit.Burst,
			BaseDelay:         rc.Backoff.BaseDelay,
			MaxDelay:          rc.Backoff.MaxDelay,
			Jitter:            0.2,
		},
		MaxAttempts:      rc.Backoff.MaxAttempts,
		Keywords:         rc.Keywords,
		MediaWaitTimeout: rc.MediaWaitTimeout,
		Fresh:            rc.Fresh,
	}
}

// Service orchestrates collection runs.
type Service struct {
	client    TelegramClient
	store     cursor.Store
	storage   media.Storage
	publisher EventPublisher
	notifier  ProgressNotifier
	sink      SnapshotSink
	log       *logger.Logger
}

// NewService creates a new collector service. store and storage may be nil;
// without storage media downloads are skipped.
func NewService(client TelegramClient, store cursor.Store, storage media.Storage, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Get()
	}
	return &Service{
		client:  client,
		store:   store,
		storage: storage,
		log:     log,
	}
}

// SetPublisher sets the event publisher.
func (s *Service) SetPublisher(p EventPublisher) { s.publisher = p }

// SetNotifier sets the progress notifier.
func (s *Service) SetNotifier(n ProgressNotifier) { s.notifier = n }

// SetSink sets where finished snapshots are stored.
func (s *Service) SetSink(sink SnapshotSink) { s.sink = sink }

// GetTelegramStatus reports whether the client can serve requests.
func (s *Service) GetTelegramStatus() telegram.Status {
	if err := s.client.Ready(); err != nil {
		return telegram.StatusUnauthorized
	}
	return telegram.StatusReady
}

// pageBatch is what a cursor hands to the merge loop.
type pageBatch struct {
	channel  string
	messages []models.RawMessage
}

// pendingMedia is a submitted fetch and its future.
type pendingMedia struct {
	req    media.Request
	future *media.Future
}

// run is the state of one Run call.
type run struct {
	id       string
	opts     RunOptions
	agg      *aggregator.Aggregator
	cls      *classifier.Classifier
	limiter  *ratelimit.Limiter
	fetcher  *media.Fetcher
	pending  []pendingMedia
	started  time.Time
	canceled bool
}

// Run collects every channel and returns the finalized snapshot. Setup
// errors are returned before any channel is attempted. Channel failures and
// cancellation still yield a snapshot.
func (s *Service) Run(ctx context.Context, opts RunOptions) (*models.RunSnapshot, error) {
	if err := s.client.Ready(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	channels := normalizeChannels(opts.Channels)
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	if opts.PerChannelLimit <= 0 {
		return nil, config.ErrInvalidLimit
	}
	opts = withDefaults(opts)

	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}

	r := &run{
		id:      opts.RunID,
		opts:    opts,
		cls:     classifier.New(opts.Keywords),
		limiter: ratelimit.New(opts.RateLimit),
		started: time.Now(),
	}
	r.agg = aggregator.New(r.id, r.started)
	log := s.log.With().Str("run_id", r.id).Logger()

	log.Info().
		Strs("channels", channels).
		Int("limit", opts.PerChannelLimit).
		Bool("download_media", opts.DownloadMedia).
		Msg("run started")
	metrics.RunStarted()
	if s.notifier != nil {
		s.notifier.RunStarted(r.id, channels)
	}

	mediaCtx, cancelMedia := context.WithCancel(ctx)
	defer cancelMedia()
	if opts.DownloadMedia {
		if s.storage == nil {
			r.agg.Warn("media download requested but no media storage is configured")
		} else {
			r.fetcher = media.NewFetcher(s.client, s.storage, media.Options{
				Workers:     opts.MediaWorkerCount,
				MaxAttempts: opts.MaxAttempts,
				BaseDelay:   opts.RateLimit.BaseDelay,
				MaxDelay:    opts.RateLimit.MaxDelay,
				OnResult:    s.onMedia(r),
			}, s.log.Component("media"))
			r.fetcher.Start(mediaCtx)
		}
	}

	targets := s.resolveAll(ctx, r, channels)
	s.collect(ctx, r, targets)
	s.waitMedia(ctx, r)
	cancelMedia()
	r.canceled = ctx.Err() != nil

	metrics.ObserveThrottles(r.limiter.Throttles())
	if r.canceled {
		r.agg.Warn("run canceled, snapshot is partial")
	}

	snap := r.agg.Finalize()
	s.finish(ctx, r, snap)
	return snap, nil
}

// resolveAll resolves channels in request order. Failed channels are recorded and skipped.
func (s *Service) resolveAll(ctx context.Context, r *run, channels []string) []*models.ChannelTarget {
	var targets []*models.ChannelTarget
	for _, id := range channels {
		if ctx.Err() != nil {
			r.agg.Track(id)
			r.agg.Complete(id, false)
			continue
		}

		target, err := s.resolve(ctx, r, id)
		if err != nil {
			r.agg.Track(id)
			if ctx.Err() != nil {
				r.agg.Complete(id, false)
				continue
			}
			s.log.Warn().Err(err).Str("channel", id).Msg("channel resolve failed")
			r.agg.Fail(id, fmt.Errorf("resolve: %w", err))
			continue
		}
		if target.Identifier == "" {
			target.Identifier = id
		}

		r.agg.AddChannel(*target)
		r.agg.Track(target.Key())
		targets = append(targets, target)
	}
	return targets
}

// resolve applies the same retry rules as page requests.
func (s *Service) resolve(ctx context.Context, r *run, id string) (*models.ChannelTarget, error) {
	for attempt := 1; ; attempt++ {
		permit, err := r.limiter.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		target, err := s.client.ResolveChannel(ctx, id)
		permit.Release()

		if err == nil {
			r.limiter.Succeeded()
			return target, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if telegram.IsPermanent(err) || attempt >= r.opts.MaxAttempts {
			return nil, err
		}
		if hint, limited := telegram.IsRateLimited(err); limited {
			r.limiter.Throttled(hint)
			continue
		}
		if err := r.limiter.Backoff(ctx, attempt); err != nil {
			return nil, err
		}
	}
}

// collect runs the cursors on a bounded group and merges their pages.
func (s *Service) collect(ctx context.Context, r *run, targets []*models.ChannelTarget) {
	if len(targets) == 0 {
		return
	}

	pages := make(chan pageBatch)
	go func() {
		var g errgroup.Group
		g.SetLimit(parallelism(r.opts.MaxConcurrentChannels, len(targets), r.limiter.Burst()))
		for _, t := range targets {
			g.Go(func() error {
				s.drain(ctx, r, t, pages)
				return nil
			})
		}
		_ = g.Wait()
		close(pages)
	}()

	// pages already accepted by a cursor are persisted as seen, so the loop
	// drains until every cursor is done even after cancellation
	for batch := range pages {
		s.merge(ctx, r, batch)
	}
}

// drain pulls pages from one channel until its cursor is terminal.
func (s *Service) drain(ctx context.Context, r *run, target *models.ChannelTarget, pages chan<- pageBatch) {
	key := target.Key()
	c := cursor.New(target, s.client, r.limiter, s.store, cursor.Options{
		Limit:       r.opts.PerChannelLimit,
		PageSize:    r.opts.PageSize,
		MaxAttempts: r.opts.MaxAttempts,
		Fresh:       r.opts.Fresh,
	}, s.log.Component("cursor"))

	if err := c.Load(ctx); err != nil {
		s.log.Error().Err(err).Str("channel", key).Msg("load cursor state")
		s.channelDone(r, key, err)
		return
	}

	for {
		msgs, err := c.Next(ctx)
		switch {
		case errors.Is(err, cursor.ErrDone):
			s.log.Info().
				Str("channel", key).
				Int("collected", c.State().Collected).
				Int("pages", c.Pages()).
				Msg("channel exhausted")
			s.channelDone(r, key, nil)
			return
		case err != nil && ctx.Err() != nil:
			r.agg.Complete(key, false)
			s.notifyChannel(r, key)
			return
		case err != nil:
			s.log.Warn().Err(err).Str("channel", key).Msg("channel failed")
			s.channelDone(r, key, err)
			return
		}
		if len(msgs) > 0 {
			pages <- pageBatch{channel: key, messages: msgs}
		}
	}
}

func (s *Service) channelDone(r *run, channel string, err error) {
	if err != nil {
		r.agg.Fail(channel, err)
	} else {
		r.agg.Complete(channel, true)
	}
	s.notifyChannel(r, channel)
}

func (s *Service) notifyChannel(r *run, channel string) {
	if s.notifier == nil {
		return
	}
	messages, prompts, _, _ := r.agg.Progress()
	s.notifier.ChannelDone(r.id, channel, messages, prompts)
}

// merge classifies a page, records it and submits its media.
func (s *Service) merge(ctx context.Context, r *run, batch pageBatch) {
	recorded := make([]models.Message, 0, len(batch.messages))
	for _, raw := range batch.messages {
		msg := s.toMessage(r.cls, batch.channel, raw)
		if !r.agg.Record(msg) {
			s.log.Debug().Str("channel", batch.channel).Int("message_id", raw.ID).Msg("duplicate message skipped")
			continue
		}
		recorded = append(recorded, msg)
		metrics.ObserveMessage(batch.channel, string(msg.MessageType), msg.IsPrompt)

		if r.fetcher != nil && raw.Media.Present() && ctx.Err() == nil {
			req := media.Request{Channel: batch.channel, Message: raw}
			r.pending = append(r.pending, pendingMedia{req: req, future: r.fetcher.Enqueue(req)})
		}
	}

	if s.publisher != nil && len(recorded) > 0 && ctx.Err() == nil {
		event := MessagesEvent{
			RunID:     r.id,
			Channel:   batch.channel,
			Messages:  recorded,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.publisher.PublishMessages(ctx, event); err != nil {
			s.log.Warn().Err(err).Str("channel", batch.channel).Msg("failed to publish messages event")
		}
	}
	if s.notifier != nil {
		messages, prompts, _, _ := r.agg.Progress()
		s.notifier.Progress(r.id, batch.channel, messages, prompts)
	}
}

// toMessage builds the record of a raw message.
func (s *Service) toMessage(cls *classifier.Classifier, channel string, raw models.RawMessage) models.Message {
	return models.Message{
		ID:              raw.ID,
		Date:            raw.Date.UTC(),
		Text:            raw.Text,
		SenderID:        raw.SenderID,
		SenderName:      raw.SenderName,
		MessageType:     classifier.ContentTypeOf(raw.Media),
		HasMedia:        raw.Media.Present(),
		IsPrompt:        cls.IsTopical(raw.Text),
		Views:           raw.Views,
		Forwards:        raw.Forwards,
		ChannelUsername: channel,
	}
}

// onMedia attaches a fetch outcome to its record.
func (s *Service) onMedia(r *run) func(media.Result) {
	return func(res media.Result) {
		if err := r.agg.AttachMedia(res.Channel, res.MessageID, res.Ref, res.Size, res.Err); err != nil {
			s.log.Debug().Err(err).Msg("media outcome dropped")
			return
		}
		metrics.ObserveMedia(res.Err == nil, res.Size)
	}
}

// waitMedia waits for outstanding fetches up to the media wait timeout and
// abandons the rest.
func (s *Service) waitMedia(ctx context.Context, r *run) {
	if r.fetcher == nil {
		return
	}

	waitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.opts.MediaWaitTimeout)
	defer cancel()

	var wg sync.WaitGroup
	for _, p := range r.pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = p.future.Wait(waitCtx)
		}()
	}
	wg.Wait()

	// queued requests resolve as abandoned through OnResult
	r.fetcher.Abort()

	// transfers still running resolve after the snapshot, their outcome is fixed here.
	// A transfer finishing right now may win the attach, then it is not abandoned.
	abandoned := 0
	for _, p := range r.pending {
		select {
		case <-p.future.Done():
			continue
		default:
		}
		if err := r.agg.AttachMedia(p.req.Channel, p.req.Message.ID, "", 0, media.ErrAbandoned); err != nil {
			continue
		}
		abandoned++
		metrics.ObserveMedia(false, 0)
	}
	if abandoned > 0 {
		r.agg.Warn("%d media fetches abandoned after %s", abandoned, r.opts.MediaWaitTimeout)
	}

	s.log.Info().
		Int64("enqueued", r.fetcher.Enqueued()).
		Int("max_in_flight", r.fetcher.MaxInFlight()).
		Int64("bytes", r.fetcher.Bytes()).
		Int("abandoned", abandoned).
		Msg("media: done")
}

// finish emits the run outcome to the side channels.
func (s *Service) finish(ctx context.Context, r *run, snap *models.RunSnapshot) {
	outcome := "ok"
	switch {
	case r.canceled:
		outcome = "canceled"
	case len(snap.Errors) > 0:
		outcome = "partial"
	}
	for _, res := range snap.ChannelResults {
		metrics.ObserveChannel(string(res.Status))
	}
	metrics.RunFinished(outcome, time.Since(r.started).Seconds())

	s.log.Info().
		Str("run_id", r.id).
		Str("outcome", outcome).
		Int("messages", snap.TotalMessages).
		Int("prompts", snap.TotalPrompts).
		Int("media_downloaded", snap.MediaDownloaded).
		Int("media_failed", snap.MediaFailed).
		Int("errors", len(snap.Errors)).
		Dur("elapsed", time.Since(r.started)).
		Msg("run completed")

	// side effects of a finished run survive cancellation of the caller
	sideCtx := context.WithoutCancel(ctx)
	if s.sink != nil {
		if err := s.sink.SaveSnapshot(sideCtx, snap); err != nil {
			s.log.Error().Err(err).Str("run_id", r.id).Msg("failed to store snapshot")
		}
	}
	if s.publisher != nil {
		event := RunEvent{
			RunID:           snap.RunID,
			Outcome:         outcome,
			TotalMessages:   snap.TotalMessages,
			TotalPrompts:    snap.TotalPrompts,
			MediaDownloaded: snap.MediaDownloaded,
			MediaFailed:     snap.MediaFailed,
			Channels:        snap.ChannelResults,
			FinishedAt:      time.Now().UTC(),
		}
		if err := s.publisher.PublishRun(sideCtx, event); err != nil {
			s.log.Warn().Err(err).Msg("failed to publish run event")
		}
	}
	if s.notifier != nil {
		s.notifier.RunFinished(snap)
	}
}

// normalizeChannels strips prefixes, drops blanks and duplicates, keeping request order.
func normalizeChannels(channels []string) []string {
	normalized := lo.FilterMap(channels, func(c string, _ int) (string, bool) {
		n := telegram.NormalizeIdentifier(c)
		return n, n != ""
	})
	return lo.Uniq(normalized)
}

// parallelism bounds the number of channels collected at once.
func parallelism(requested, channels, burst int) int {
	n := requested
	if n <= 0 || n > channels {
		n = channels
	}
	if limit := burst * 4; limit > 0 && n > limit {
		n = limit
	}
	return max(n, 1)
}

func withDefaults(opts RunOptions) RunOptions {
	def := RunOptionsFromConfig(config.DefaultRunConfig())
	if opts.PageSize <= 0 {
		opts.PageSize = def.PageSize
	}
	if opts.MediaWorkerCount <= 0 {
		opts.MediaWorkerCount = def.MediaWorkerCount
	}
	if opts.RateLimit.RequestsPerWindow <= 0 || opts.RateLimit.Window <= 0 {
		opts.RateLimit.RequestsPerWindow = def.RateLimit.RequestsPerWindow
		opts.RateLimit.Window = def.RateLimit.Window
	}
	if opts.RateLimit.Burst <= 0 {
		opts.RateLimit.Burst = def.RateLimit.Burst
	}
	if opts.RateLimit.BaseDelay <= 0 {
		opts.RateLimit.BaseDelay = def.RateLimit.BaseDelay
	}
	if opts.RateLimit.MaxDelay <= 0 {
		opts.RateLimit.MaxDelay = def.RateLimit.MaxDelay
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if len(opts.Keywords) == 0 {
		opts.Keywords = def.Keywords
	}
	if opts.MediaWaitTimeout <= 0 {
		opts.MediaWaitTimeout = def.MediaWaitTimeout
	}
	return opts
}
