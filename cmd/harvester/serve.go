package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/blockedby/channel-harvester/internal/collector"
	"github.com/blockedby/channel-harvester/internal/metrics"
	"github.com/blockedby/channel-harvester/internal/models"
	"github.com/blockedby/channel-harvester/internal/output"
	"github.com/blockedby/channel-harvester/internal/web"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API with live run progress",
	Long: `Serve the run API under /api/v1, live progress events on /ws and
Prometheus metrics on /metrics. One run is active at a time; finished
snapshots are written to the output directory.`,
	RunE: serve,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default $HTTP_PORT)")
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("port") {
		cfg.HTTPPort = servePort
	}
	if err := cfg.Run.Validate(); err != nil {
		return fmt.Errorf("invalid run defaults: %w", err)
	}
	log.Info().Msg("starting harvester api")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	hub := web.NewHub()
	go hub.Run()
	defer hub.Stop()
	a.svc.SetNotifier(web.NewNotifier(hub))

	runs := collector.NewRunManager(a.svc, cfg.Run.RunTimeout, log.Component("runs"))
	runs.SetOnFinish(func(snap *models.RunSnapshot) {
		paths, err := output.SaveFiles(cfg.Run.OutputDir, "", cfg.Run.Format, snap)
		if err != nil {
			log.Error().Err(err).Str("run_id", snap.RunID).Msg("failed to write results")
			return
		}
		log.Info().Str("run_id", snap.RunID).Strs("files", paths).Msg("results saved")
	})

	handler := collector.NewHandler(runs, a.cursors, cfg.Run)
	router := collector.NewRouter(handler, map[string]http.Handler{
		"/ws":      http.HandlerFunc(hub.ServeWs),
		"/metrics": metrics.Handler(),
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("starting web server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("received shutdown signal")
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info().Msg("shutting down services...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Run.MediaWaitTimeout+10*time.Second)
	defer cancel()

	// the active run still writes its partial snapshot
	runs.Stop()
	if err := runs.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("run did not finish before shutdown")
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown failed")
	}

	log.Info().Msg("shutdown complete")
	return nil
}
