// Package telegram provides the Telegram MTProto client wrapper used by the collector.
package telegram

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/celestix/gotgproto"
	"github.com/gotd/td/telegram/downloader"
	"github.com/gotd/td/tg"

	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/models"
)

// MaxPageSize is the largest history page the service returns.
const MaxPageSize = 100

// Client wraps gotgproto and exposes the three operations the collector needs.
// It never waits on its own; pacing is the caller's job.
type Client struct {
	manager    *Manager
	downloader *downloader.Downloader
	log        *logger.Logger
}

// NewClient creates a new telegram client wrapper using the Manager.
func NewClient(manager *Manager) *Client {
	return &Client{
		manager:    manager,
		downloader: downloader.NewDownloader(),
		log:        logger.Get().Component("telegram"),
	}
}

// Close stops the client via the manager.
func (c *Client) Close() {
	if c.manager != nil {
		c.manager.Stop()
	}
}

// Ready returns ErrNotAuthorized unless a session is loaded.
func (c *Client) Ready() error {
	if c.manager == nil || c.manager.GetStatus() != StatusReady {
		return ErrNotAuthorized
	}
	return nil
}

// getProto returns the current protocol client if available.
func (c *Client) getProto() (*gotgproto.Client, error) {
	if c.manager == nil {
		return nil, ErrNotAuthorized
	}
	proto := c.manager.GetClient()
	if proto == nil {
		return nil, ErrNotAuthorized
	}
	return proto, nil
}

// API returns the raw tg.Client for direct API calls.
func (c *Client) API() (*tg.Client, error) {
	proto, err := c.getProto()
	if err != nil {
		return nil, err
	}
	return proto.API(), nil
}

// ResolveChannel resolves a username (with or without @, or a t.me link) or a numeric id.
func (c *Client) ResolveChannel(ctx context.Context, identifier string) (*models.ChannelTarget, error) {
	api, err := c.API()
	if err != nil {
		return nil, err
	}

	name := NormalizeIdentifier(identifier)
	if name == "" {
		return nil, fmt.Errorf("resolve %q: %w", identifier, ErrChannelNotFound)
	}

	var ch *tg.Channel
	if id, ok := numericID(name); ok {
		ch, err = c.channelByID(ctx, api, id)
	} else {
		ch, err = c.channelByUsername(ctx, api, name)
	}
	if err != nil {
		return nil, err
	}

	target := &models.ChannelTarget{
		Identifier: name,
		ID:         ch.ID,
		AccessHash: ch.AccessHash,
		Username:   ch.Username,
		Title:      ch.Title,
	}
	if target.Username == "" {
		target.Username = name
	}

	// participant count is optional; a failure here does not fail the resolve
	full, err := api.ChannelsGetFullChannel(ctx, &tg.InputChannel{
		ChannelID:  ch.ID,
		AccessHash: ch.AccessHash,
	})
	if err != nil {
		cerr := classifyError("get full channel", err)
		if _, limited := IsRateLimited(cerr); limited {
			return nil, cerr
		}
		c.log.Warn().Err(err).Str("channel", name).Msg("telegram: get full channel failed")
	} else if chFull, ok := full.FullChat.(*tg.ChannelFull); ok {
		if n, ok := chFull.GetParticipantsCount(); ok {
			target.ParticipantsCount = &n
		}
	}

	c.log.Info().Str("channel", name).Int64("channel_id", ch.ID).Str("title", ch.Title).Msg("telegram: channel resolved")
	return target, nil
}

func (c *Client) channelByUsername(ctx context.Context, api *tg.Client, username string) (*tg.Channel, error) {
	resolved, err := api.ContactsResolveUsername(ctx, &tg.ContactsResolveUsernameRequest{
		Username: username,
	})
	if err != nil {
		return nil, classifyError("resolve username "+username, err)
	}

	for _, chat := range resolved.Chats {
		switch ch := chat.(type) {
		case *tg.Channel:
			return ch, nil
		case *tg.ChannelForbidden:
			return nil, fmt.Errorf("resolve username %s: %w", username, ErrAccessDenied)
		}
	}
	return nil, fmt.Errorf("resolve username %s: not a channel: %w", username, ErrChannelNotFound)
}

func (c *Client) channelByID(ctx context.Context, api *tg.Client, id int64) (*tg.Channel, error) {
	res, err := api.ChannelsGetChannels(ctx, []tg.InputChannelClass{
		&tg.InputChannel{ChannelID: id},
	})
	if err != nil {
		return nil, classifyError(fmt.Sprintf("get channel %d", id), err)
	}

	for _, chat := range res.GetChats() {
		switch ch := chat.(type) {
		case *tg.Channel:
			return ch, nil
		case *tg.ChannelForbidden:
			return nil, fmt.Errorf("get channel %d: %w", id, ErrAccessDenied)
		}
	}
	return nil, fmt.Errorf("get channel %d: %w", id, ErrChannelNotFound)
}

// FetchPage returns up to limit messages strictly older than beforeID, newest first.
// beforeID 0 starts from the newest message.
func (c *Client) FetchPage(ctx context.Context, channel *models.ChannelTarget, beforeID int, limit int) (*models.Page, error) {
	if limit > MaxPageSize || limit <= 0 {
		limit = MaxPageSize
	}

	api, err := c.API()
	if err != nil {
		return nil, err
	}

	c.log.Debug().Str("channel", channel.Key()).Int("offset_id", beforeID).Int("limit", limit).Msg("telegram: calling MessagesGetHistory API")
	history, err := api.MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
		Peer: &tg.InputPeerChannel{
			ChannelID:  channel.ID,
			AccessHash: channel.AccessHash,
		},
		OffsetID: beforeID,
		Limit:    limit,
	})
	if err != nil {
		return nil, classifyError("get history", err)
	}

	return extractPage(history, channel), nil
}

// FetchMedia streams the attachment of msg into w and returns the byte count.
func (c *Client) FetchMedia(ctx context.Context, msg models.RawMessage, w io.Writer) (int64, error) {
	loc, ok := msg.Media.Handle.(tg.InputFileLocationClass)
	if !ok || loc == nil {
		return 0, fmt.Errorf("message %d: %w", msg.ID, ErrNoMedia)
	}

	api, err := c.API()
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	if _, err := c.downloader.Download(api, loc).Stream(ctx, cw); err != nil {
		return cw.n, classifyError(fmt.Sprintf("download media of message %d", msg.ID), err)
	}
	return cw.n, nil
}

// NormalizeIdentifier strips @, t.me links and surrounding whitespace.
func NormalizeIdentifier(identifier string) string {
	s := strings.TrimSpace(identifier)
	for _, prefix := range []string{"https://", "http://"} {
		s = strings.TrimPrefix(s, prefix)
	}
	for _, prefix := range []string{"t.me/s/", "t.me/", "telegram.me/"} {
		s = strings.TrimPrefix(s, prefix)
	}
	s = strings.TrimPrefix(s, "@")
	s = strings.TrimSuffix(s, "/")
	return s
}

// numericID accepts plain ids and the -100 prefixed form used by bot APIs.
func numericID(s string) (int64, bool) {
	s = strings.TrimPrefix(s, "-100")
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
