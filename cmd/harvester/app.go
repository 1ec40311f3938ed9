package main

import (
	"context"
	"fmt"

	"github.com/blockedby/channel-harvester/internal/collector"
	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/database"
	"github.com/blockedby/channel-harvester/internal/logger"
	"github.com/blockedby/channel-harvester/internal/media"
	"github.com/blockedby/channel-harvester/internal/nats"
	"github.com/blockedby/channel-harvester/internal/publisher"
	"github.com/blockedby/channel-harvester/internal/repository"
	"github.com/blockedby/channel-harvester/internal/telegram"
)

// app holds the wired dependencies shared by the run and serve commands.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	cursors *repository.CursorsRepository
	tg      *telegram.Manager
	client  *telegram.Client
	svc     *collector.Service

	closers []func()
}

// openState opens the cursor store and creates its table.
func openState(cfg *config.Config) (*repository.CursorsRepository, error) {
	db, err := database.OpenState(cfg.StateDSN)
	if err != nil {
		return nil, err
	}
	cursors := repository.NewCursorsRepository(db)
	if err := cursors.Migrate(); err != nil {
		return nil, fmt.Errorf("migrate state store: %w", err)
	}
	return cursors, nil
}

// newApp wires the telegram session, the state store, the collector service
// and the optional nats publisher and postgres sink.
func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cfg: cfg, log: log}

	cursors, err := openState(cfg)
	if err != nil {
		return nil, err
	}
	a.cursors = cursors

	if cfg.TGApiID == 0 || cfg.TGApiHash == "" {
		return nil, telegram.ErrMissingCredentials
	}
	sessionDB, err := telegram.OpenSessionDB(cfg.TGSessionFile)
	if err != nil {
		return nil, err
	}
	a.tg = telegram.NewManager(cfg, sessionDB)
	if err := a.tg.Init(ctx); err != nil {
		log.Error().Err(err).Msg("telegram manager init failed")
	}
	a.client = telegram.NewClient(a.tg)
	a.closers = append(a.closers, a.client.Close)

	a.svc = collector.NewService(a.client, cursors, media.NewFileStorage(cfg.Run.MediaDir), log.Component("collector"))

	if cfg.NatsURL != "" {
		nc, err := nats.New(ctx, cfg.NatsURL)
		if err != nil {
			log.Warn().Err(err).Msg("failed to connect to nats, publishing disabled")
		} else if err := nc.EnsureStream(ctx, nats.StreamName, nats.StreamSubjects); err != nil {
			log.Warn().Err(err).Msg("failed to ensure nats stream, publishing disabled")
			nc.Close()
		} else {
			a.svc.SetPublisher(publisher.NewNATSPublisher(nc))
			a.closers = append(a.closers, nc.Close)
		}
	}

	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			a.Close()
			return nil, err
		}
		a.svc.SetSink(repository.NewMessagesRepository(db.Pool))
	}

	return a, nil
}

// Close releases everything opened by newApp in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
