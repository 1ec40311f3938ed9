package telegram

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockedby/channel-harvester/internal/config"
)

func TestNewQRClient(t *testing.T) {
	cfg := &config.Config{TGApiID: 12345, TGApiHash: "test_hash"}

	bundle1, err := NewQRClient(cfg)
	require.NoError(t, err)
	bundle2, err := NewQRClient(cfg)
	require.NoError(t, err)

	require.NotNil(t, bundle1.Client)
	require.NotNil(t, bundle1.Storage)
	assert.True(t, bundle1.Storage != bundle2.Storage, "each bundle captures its own session")
}

func TestNewQRClient_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Config
	}{
		{"no api id", &config.Config{TGApiHash: "test_hash"}},
		{"no api hash", &config.Config{TGApiID: 12345}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bundle, err := NewQRClient(tt.cfg)

			assert.ErrorIs(t, err, ErrMissingCredentials)
			assert.Nil(t, bundle)
		})
	}
}

func TestDevice(t *testing.T) {
	d := Device()

	assert.Equal(t, "channel-harvester", d.DeviceModel)
	assert.Equal(t, AppVersion, d.AppVersion)
	assert.Equal(t, runtime.GOOS, d.SystemVersion)
}
