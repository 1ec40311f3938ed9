package telegram

import (
	"context"
	"fmt"

	"github.com/celestix/gotgproto"
	"github.com/celestix/gotgproto/sessionMaker"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/blockedby/channel-harvester/internal/config"
)

// OpenSessionDB opens the sqlite file that holds the session and peer cache.
func OpenSessionDB(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open session db: %w", err)
	}
	return db, nil
}

// NewPersistentClient creates a client whose session lives in db.
// Auth key refreshes are written back by gotgproto.
func NewPersistentClient(ctx context.Context, cfg *config.Config, db *gorm.DB) (*gotgproto.Client, error) {
	return newClient(cfg, &gotgproto.ClientOpts{
		Session:          sessionMaker.SqlSession(db.Dialector),
		DisableCopyright: true,
		InMemory:         false,
	})
}

// NewStringSessionClient creates a client from TG_SESSION_STRING, keeping peers in memory.
func NewStringSessionClient(ctx context.Context, cfg *config.Config, _ *gorm.DB) (*gotgproto.Client, error) {
	return newClient(cfg, &gotgproto.ClientOpts{
		Session:          sessionMaker.StringSession(cfg.TGSessionStr),
		DisableCopyright: true,
		InMemory:         true,
	})
}

func newClient(cfg *config.Config, opts *gotgproto.ClientOpts) (*gotgproto.Client, error) {
	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, ErrMissingCredentials
	}
	if opts.Device == nil {
		device := Device()
		opts.Device = &device
	}

	// empty phone: use the stored session only, never prompt
	client, err := gotgproto.NewClient(
		cfg.TGApiID,
		cfg.TGApiHash,
		gotgproto.ClientTypePhone(""),
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram client: %w", err)
	}
	return client, nil
}
