package telegram

import (
	"runtime"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/blockedby/channel-harvester/internal/config"
)

// AppVersion is reported to Telegram in initConnection.
const AppVersion = "1.0.0"

// Device is how harvester sessions appear under Settings > Devices.
func Device() telegram.DeviceConfig {
	return telegram.DeviceConfig{
		DeviceModel:    "channel-harvester",
		SystemVersion:  runtime.GOOS,
		AppVersion:     AppVersion,
		SystemLangCode: "en",
		LangCode:       "en",
	}
}

// QRClientBundle holds the raw client used for QR login and the memory
// storage that captures the resulting session before it is written to the
// session file.
type QRClientBundle struct {
	Client     *telegram.Client
	Dispatcher tg.UpdateDispatcher
	Storage    *session.StorageMemory
}

// NewQRClient creates a raw td/telegram client announcing the harvester
// device. It never falls back to interactive terminal auth.
func NewQRClient(cfg *config.Config) (*QRClientBundle, error) {
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, ErrMissingCredentials
	}

	mem := &session.StorageMemory{}
	// login token updates arrive through the dispatcher, so it must exist before the client
	dispatcher := tg.NewUpdateDispatcher()

	client := telegram.NewClient(cfg.TGApiID, cfg.TGApiHash, telegram.Options{
		SessionStorage: mem,
		UpdateHandler:  &dispatcher,
		Device:         Device(),
	})

	return &QRClientBundle{
		Client:     client,
		Dispatcher: dispatcher,
		Storage:    mem,
	}, nil
}
