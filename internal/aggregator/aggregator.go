// Package aggregator accumulates classified messages into the run snapshot.
package aggregator

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/blockedby/channel-harvester/internal/models"
)

// ErrFinalized is returned for mutations after Finalize.
var ErrFinalized = errors.New("snapshot already finalized")

// Aggregator is the only writer of the snapshot. It is safe for concurrent use:
// the orchestrator records messages while media workers attach references.
type Aggregator struct {
	mu sync.Mutex

	snap     models.RunSnapshot
	order    map[string]int // channel -> request position
	index    map[models.Key]int
	attached map[models.Key]bool
	results  map[string]*models.ChannelResult
	final    *models.RunSnapshot
}

// New creates an empty aggregator. Channels are ordered in the snapshot by
// their first registration through AddChannel, Track or Record.
func New(runID string, startedAt time.Time) *Aggregator {
	return &Aggregator{
		snap: models.RunSnapshot{
			RunID:          runID,
			ScrapedAt:      startedAt.UTC(),
			Channels:       []models.ChannelTarget{},
			Messages:       []models.Message{},
			ChannelResults: []models.ChannelResult{},
			Warnings:       []string{},
			Errors:         []string{},
		},
		order:    make(map[string]int),
		index:    make(map[models.Key]int),
		attached: make(map[models.Key]bool),
		results:  make(map[string]*models.ChannelResult),
	}
}

// AddChannel records a resolved channel.
func (a *Aggregator) AddChannel(target models.ChannelTarget) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	a.register(target.Key())
	a.snap.Channels = append(a.snap.Channels, target)
}

// Record appends a message and updates the counters. A message already
// recorded for the same channel and id is ignored and false is returned.
func (a *Aggregator) Record(msg models.Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return false
	}
	key := msg.Key()
	if _, dup := a.index[key]; dup {
		return false
	}

	a.register(msg.ChannelUsername)
	a.index[key] = len(a.snap.Messages)
	a.snap.Messages = append(a.snap.Messages, msg)

	a.snap.TotalMessages++
	switch msg.MessageType {
	case models.ContentImage:
		a.snap.TotalImages++
	case models.ContentVideo:
		a.snap.TotalVideos++
	case models.ContentAudio:
		a.snap.TotalAudio++
	case models.ContentDocument:
		a.snap.TotalDocuments++
	}
	if msg.IsPrompt {
		a.snap.TotalPrompts++
	}

	a.ensureResult(msg.ChannelUsername).Collected++
	return true
}

// AttachMedia sets the media outcome of a recorded message. Exactly one
// outcome is accepted per message; ref is ignored when err is set.
func (a *Aggregator) AttachMedia(channel string, id int, ref string, size int64, err error) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return ErrFinalized
	}
	key := models.Key{Channel: channel, ID: id}
	i, ok := a.index[key]
	if !ok {
		return fmt.Errorf("attach media: message %s/%d not recorded", channel, id)
	}
	if a.attached[key] {
		return fmt.Errorf("attach media: message %s/%d already has a media outcome", channel, id)
	}
	a.attached[key] = true

	msg := &a.snap.Messages[i]
	if err != nil {
		text := err.Error()
		msg.MediaError = &text
		a.snap.MediaFailed++
		a.snap.Warnings = append(a.snap.Warnings, fmt.Sprintf("media %s/%d: %v", channel, id, err))
		return nil
	}

	msg.MediaURL = &ref
	a.snap.MediaDownloaded++
	a.snap.MediaBytes += size
	return nil
}

// Warn adds a run-level warning.
func (a *Aggregator) Warn(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	a.snap.Warnings = append(a.snap.Warnings, fmt.Sprintf(format, args...))
}

// Fail records a channel-level error.
func (a *Aggregator) Fail(channel string, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}

	a.snap.Errors = append(a.snap.Errors, fmt.Sprintf("%s: %v", channel, err))
	r := a.ensureResult(channel)
	r.Error = err.Error()
	if r.Collected > 0 {
		r.Status = models.ChannelPartial
	} else {
		r.Status = models.ChannelFailed
	}
}

// Complete marks a channel as finished. complete is false when the channel
// stopped early without an error, for example on cancellation.
func (a *Aggregator) Complete(channel string, complete bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}

	r := a.ensureResult(channel)
	if r.Error != "" {
		return
	}
	if complete {
		r.Status = models.ChannelOK
	} else {
		r.Status = models.ChannelPartial
	}
}

// Track registers a channel so it appears in the results even before any message.
func (a *Aggregator) Track(channel string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.final != nil {
		return
	}
	a.ensureResult(channel)
}

func (a *Aggregator) register(channel string) {
	if _, ok := a.order[channel]; !ok {
		a.order[channel] = len(a.order)
	}
}

func (a *Aggregator) ensureResult(channel string) *models.ChannelResult {
	a.register(channel)
	if r, ok := a.results[channel]; ok {
		return r
	}
	r := &models.ChannelResult{Channel: channel, Status: models.ChannelPartial}
	a.results[channel] = r
	return r
}

// Progress returns the running totals without finalizing.
func (a *Aggregator) Progress() (messages, prompts, mediaDone, mediaFailed int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snap.TotalMessages, a.snap.TotalPrompts, a.snap.MediaDownloaded, a.snap.MediaFailed
}

// Finalize freezes the snapshot and returns it. Later calls return the same
// snapshot and later mutations are ignored. Messages are ordered by channel
// request order, keeping the service order inside each channel.
func (a *Aggregator) Finalize() *models.RunSnapshot {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.final != nil {
		return a.final
	}

	snap := a.snap
	snap.Messages = append([]models.Message(nil), a.snap.Messages...)
	sort.SliceStable(snap.Messages, func(i, j int) bool {
		return a.rank(snap.Messages[i].ChannelUsername) < a.rank(snap.Messages[j].ChannelUsername)
	})

	snap.ChannelResults = make([]models.ChannelResult, 0, len(a.results))
	for _, r := range a.results {
		snap.ChannelResults = append(snap.ChannelResults, *r)
	}
	sort.SliceStable(snap.ChannelResults, func(i, j int) bool {
		ri, rj := a.rank(snap.ChannelResults[i].Channel), a.rank(snap.ChannelResults[j].Channel)
		if ri != rj {
			return ri < rj
		}
		return snap.ChannelResults[i].Channel < snap.ChannelResults[j].Channel
	})

	sort.SliceStable(snap.Channels, func(i, j int) bool {
		return a.rank(snap.Channels[i].Key()) < a.rank(snap.Channels[j].Key())
	})

	a.final = &snap
	return a.final
}

// rank returns the registration position of a channel.
func (a *Aggregator) rank(channel string) int {
	if i, ok := a.order[channel]; ok {
		return i
	}
	return len(a.order)
}
