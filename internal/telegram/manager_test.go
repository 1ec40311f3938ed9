package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/celestix/gotgproto"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/blockedby/channel-harvester/internal/config"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestManager_Init_NoSession_Unauthorized(t *testing.T) {
	// Arrange
	db := newTestDB(t)
	m := NewManager(&config.Config{TGApiID: 12345, TGApiHash: "test_hash"}, db)

	called := false
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		called = true
		return nil, nil
	})

	// Act
	err := m.Init(context.Background())

	// Assert
	require.NoError(t, err)
	assert.False(t, called, "factory must not run without a session")
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
	assert.Nil(t, m.GetClient())
}

func TestManager_Init_FactoryError_Unauthorized(t *testing.T) {
	// Arrange
	db := newTestDB(t)
	db.Exec("CREATE TABLE sessions (version integer primary key, data blob)")
	db.Exec("INSERT INTO sessions (version, data) VALUES (1, ?)", []byte(`{"DC":2,"AuthKey":"dGVzdA=="}`))

	m := NewManager(&config.Config{TGApiID: 12345, TGApiHash: "test_hash"}, db)
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		return nil, errors.New("factory failure")
	})

	// Act
	err := m.Init(context.Background())

	// Assert
	assert.NoError(t, err, "Init keeps the process alive on factory errors")
	assert.Equal(t, StatusUnauthorized, m.GetStatus())
}

func TestManager_StartQR_UsesQRFactory(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(&config.Config{TGApiID: 12345, TGApiHash: "test_hash"}, db)

	mockErr := errors.New("mock factory called")
	m.SetQRClientFactory(func(cfg *config.Config) (*QRClientBundle, error) {
		return nil, mockErr
	})
	regularCalled := false
	m.SetClientFactory(func(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
		regularCalled = true
		return nil, errors.New("regular factory called")
	})

	err := m.StartQR(context.Background(), func(string) {})

	assert.ErrorIs(t, err, mockErr)
	assert.False(t, regularCalled)
	assert.False(t, m.IsQRInProgress(), "flag is cleared when the flow ends")
}

func TestManager_StartQR_AlreadyInProgress(t *testing.T) {
	db := newTestDB(t)
	m := NewManager(&config.Config{}, db)
	m.qrInProgress.Store(true)

	err := m.StartQR(context.Background(), func(string) {})

	assert.ErrorIs(t, err, ErrQRInProgress)
}

func TestManager_CancelQR_Idempotent(t *testing.T) {
	m := NewManager(&config.Config{}, newTestDB(t))

	m.CancelQR()
	m.CancelQR()

	assert.False(t, m.IsQRInProgress())
}
