package telegram

import (
	"bytes"
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/models"
)

func newUnauthorizedClient(t *testing.T) *Client {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	// manager never initialised, GetClient returns nil
	return NewClient(NewManager(&config.Config{}, db))
}

func TestClient_Ready_Unauthorized(t *testing.T) {
	client := newUnauthorizedClient(t)

	assert.ErrorIs(t, client.Ready(), ErrNotAuthorized)
}

func TestClient_API_UnauthorizedError(t *testing.T) {
	client := newUnauthorizedClient(t)

	api, err := client.API()

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, api)
}

func TestClient_ResolveChannel_UnauthorizedError(t *testing.T) {
	client := newUnauthorizedClient(t)

	channel, err := client.ResolveChannel(context.Background(), "testchannel")

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, channel)
}

func TestClient_FetchPage_UnauthorizedError(t *testing.T) {
	client := newUnauthorizedClient(t)

	page, err := client.FetchPage(context.Background(), &models.ChannelTarget{ID: 1}, 0, 10)

	assert.ErrorIs(t, err, ErrNotAuthorized)
	assert.Nil(t, page)
}

func TestClient_FetchMedia_NoHandle(t *testing.T) {
	client := newUnauthorizedClient(t)

	n, err := client.FetchMedia(context.Background(), models.RawMessage{ID: 1}, &bytes.Buffer{})

	assert.ErrorIs(t, err, ErrNoMedia)
	assert.True(t, IsPermanent(err))
	assert.Zero(t, n)
}
