// Package media downloads message attachments on a bounded worker pool.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

var (
	// ErrClosed is the result of a request submitted after Close or Abort.
	ErrClosed = errors.New("media fetcher closed")
	// ErrAbandoned is the result of a request still queued when the fetcher was aborted.
	ErrAbandoned = errors.New("media fetch abandoned")
)

// Downloader is the media call of the messaging client.
type Downloader interface {
	FetchMedia(ctx context.Context, msg models.RawMessage, w io.Writer) (int64, error)
}

// Request is one attachment to fetch.
type Request struct {
	Channel string
	Message models.RawMessage
}

// Result is the outcome of a request. Exactly one of Ref and Err is set.
type Result struct {
	Channel   string
	MessageID int
	Ref       string
	Size      int64
	Attempts  int
	Err       error
}

// Future resolves once the request completes.
type Future struct {
	done chan struct{}
	res  Result
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) resolve(r Result) {
	f.res = r
	close(f.done)
}

// Done is closed when the result is available.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx ends.
func (f *Future) Wait(ctx context.Context) (Result, error) {
	select {
	case <-f.done:
		return f.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Options configures the pool.
type Options struct {
	Workers     int
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// OnResult runs on the worker goroutine for each request, before its
	// future resolves, so a resolved future means the outcome was delivered.
	OnResult func(Result)
}

type job struct {
	req    Request
	future *Future
}

// Fetcher runs a fixed number of workers over an unbounded queue, so
// submitting never blocks the caller.
type Fetcher struct {
	dl      Downloader
	storage Storage
	opts    Options
	log     *logger.Logger

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	closed  bool
	started bool
	wg      sync.WaitGroup

	enqueued    atomic.Int64
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	bytes       atomic.Int64
}

// NewFetcher creates a fetcher. Call Start before results are expected.
func NewFetcher(dl Downloader, storage Storage, opts Options, log *logger.Logger) *Fetcher {
	if opts.Workers < 1 {
		opts.Workers = 4
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 3
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = 500 * time.Millisecond
	}
	if opts.MaxDelay < opts.BaseDelay {
		opts.MaxDelay = 10 * opts.BaseDelay
	}
	if log == nil {
		log = logger.Get()
	}

	f := &Fetcher{dl: dl, storage: storage, opts: opts, log: log}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Start launches the workers. Transfers in progress are canceled with ctx.
func (f *Fetcher) Start(ctx context.Context) {
	f.mu.Lock()
	if f.started {
		f.mu.Unlock()
		return
	}
	f.started = true
	f.mu.Unlock()

	f.log.Debug().Int("workers", f.opts.Workers).Msg("media: starting worker pool")
	for i := 0; i < f.opts.Workers; i++ {
		f.wg.Add(1)
		go f.worker(ctx)
	}

	// a canceled run drops whatever is still queued
	go func() {
		<-ctx.Done()
		f.Abort()
	}()
}

// Enqueue submits a request and returns its future.
func (f *Fetcher) Enqueue(req Request) *Future {
	fut := newFuture()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		fut.resolve(Result{Channel: req.Channel, MessageID: req.Message.ID, Err: ErrClosed})
		return fut
	}
	f.queue = append(f.queue, &job{req: req, future: fut})
	f.enqueued.Add(1)
	f.cond.Signal()
	f.mu.Unlock()

	return fut
}

// Close stops accepting requests, lets the workers finish the queue and waits for them.
func (f *Fetcher) Close() {
	f.mu.Lock()
	f.closed = true
	f.cond.Broadcast()
	f.mu.Unlock()

	f.wg.Wait()
}

// Abort stops accepting requests and resolves everything still queued with
// ErrAbandoned. Transfers already running are not interrupted.
func (f *Fetcher) Abort() {
	f.mu.Lock()
	f.closed = true
	pending := f.queue
	f.queue = nil
	f.cond.Broadcast()
	f.mu.Unlock()

	for _, j := range pending {
		f.finish(j, Result{Channel: j.req.Channel, MessageID: j.req.Message.ID, Err: ErrAbandoned})
	}
}

// Enqueued returns how many requests were accepted.
func (f *Fetcher) Enqueued() int64 { return f.enqueued.Load() }

// MaxInFlight returns the highest number of simultaneous transfers seen.
func (f *Fetcher) MaxInFlight() int { return int(f.maxInFlight.Load()) }

// Bytes returns the total size of stored payloads.
func (f *Fetcher) Bytes() int64 { return f.bytes.Load() }

func (f *Fetcher) worker(ctx context.Context) {
	defer f.wg.Done()

	for {
		f.mu.Lock()
		for len(f.queue) == 0 && !f.closed {
			f.cond.Wait()
		}
		if len(f.queue) == 0 {
			f.mu.Unlock()
			return
		}
		j := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()

		f.finish(j, f.process(ctx, j.req))
	}
}

func (f *Fetcher) finish(j *job, res Result) {
	if f.opts.OnResult != nil {
		f.opts.OnResult(res)
	}
	j.future.resolve(res)
}

func (f *Fetcher) process(ctx context.Context, req Request) Result {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		seen := f.maxInFlight.Load()
		if n <= seen || f.maxInFlight.CompareAndSwap(seen, n) {
			break
		}
	}

	res := Result{Channel: req.Channel, MessageID: req.Message.ID}
	name := fmt.Sprintf("%s_%d", req.Channel, req.Message.ID)

	op := func() error {
		res.Attempts++

		var size int64
		var fetchErr error
		ref, err := f.storage.Save(name, req.Message.Media.FileName, func(w io.Writer) error {
			size, fetchErr = f.dl.FetchMedia(ctx, req.Message, w)
			return fetchErr
		})
		if fetchErr != nil {
			if telegram.IsPermanent(fetchErr) {
				return backoff.Permanent(fetchErr)
			}
			return fetchErr
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		res.Ref, res.Size = ref, size
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = f.opts.BaseDelay
	eb.MaxInterval = f.opts.MaxDelay
	eb.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(f.opts.MaxAttempts-1)), ctx)
	err := backoff.RetryNotify(op, policy, func(err error, d time.Duration) {
		f.log.Warn().Err(err).
			Str("channel", req.Channel).
			Int("message_id", req.Message.ID).
			Dur("retry_in", d).
			Msg("media: fetch failed, retrying")
	})
	if err != nil {
		res.Err = err
		f.log.Warn().Err(err).
			Str("channel", req.Channel).
			Int("message_id", req.Message.ID).
			Int("attempts", res.Attempts).
			Msg("media: fetch failed")
		return res
	}

	f.bytes.Add(res.Size)
	return res
}
