package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blockedby/channel-harvester/internal/collector"
	"github.com/blockedby/channel-harvester/internal/config"
	"github.com/blockedby/channel-harvester/internal/output"
)

var (
	// run command flags
	runChannels      []string
	runLimit         int
	runDownloadMedia bool
	runFormat        string
	runOutputDir     string
	runOutputName    string
	runFresh         bool
	runMaxConcurrent int
	runMediaWorkers  int
	runTimeout       time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run [channel...]",
	Short: "Collect messages from the given channels once",
	Long: `Collect up to --limit messages from each channel, newest first, and write
the snapshot to the output directory.

Channels may be given as arguments, with --channels, in the run file or in
HARVEST_CHANNELS. Interrupting the run keeps everything collected so far.`,
	Example: `  # Last 50 messages of two channels, as JSON and CSV
  harvester run ai_news @prompts --limit 50 --format both

  # Download media too and ignore the saved position
  harvester run --channels ai_news --download-media --fresh`,
	RunE: runHarvest,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringSliceVar(&runChannels, "channels", nil, "comma separated channel usernames or ids")
	runCmd.Flags().IntVarP(&runLimit, "limit", "n", 0, "messages per channel")
	runCmd.Flags().BoolVar(&runDownloadMedia, "download-media", false, "download photos, videos and documents")
	runCmd.Flags().StringVarP(&runFormat, "format", "f", "", "output format: json, csv or both")
	runCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "directory for result files")
	runCmd.Flags().StringVar(&runOutputName, "output", "", "result file name without extension (default scrape_results_<timestamp>)")
	runCmd.Flags().BoolVar(&runFresh, "fresh", false, "ignore saved channel positions")
	runCmd.Flags().IntVar(&runMaxConcurrent, "max-concurrent", 0, "channels collected at once (0 = all)")
	runCmd.Flags().IntVar(&runMediaWorkers, "media-workers", 0, "parallel media downloads")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "stop the run after this long")
}

// applyRunFlags overlays the flags the user actually set.
func applyRunFlags(cmd *cobra.Command, rc *config.RunConfig, args []string) {
	flags := cmd.Flags()
	if flags.Changed("channels") || len(args) > 0 {
		rc.Channels = append(append([]string(nil), runChannels...), args...)
	}
	if flags.Changed("limit") {
		rc.PerChannelLimit = runLimit
	}
	if flags.Changed("download-media") {
		rc.DownloadMedia = runDownloadMedia
	}
	if flags.Changed("format") {
		rc.Format = runFormat
	}
	if flags.Changed("output-dir") {
		rc.OutputDir = runOutputDir
	}
	if flags.Changed("fresh") {
		rc.Fresh = runFresh
	}
	if flags.Changed("max-concurrent") {
		rc.MaxConcurrentChannels = runMaxConcurrent
	}
	if flags.Changed("media-workers") {
		rc.MediaWorkerCount = runMediaWorkers
	}
	if flags.Changed("timeout") {
		rc.RunTimeout = runTimeout
	}
}

func runHarvest(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, &cfg.Run, args)
	if err := cfg.Run.Validate(); err != nil {
		return fmt.Errorf("invalid run options: %w", err)
	}
	if len(cfg.Run.Channels) == 0 {
		return collector.ErrNoChannels
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.Run.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Run.RunTimeout)
		defer cancel()
	}

	snap, err := a.svc.Run(ctx, collector.RunOptionsFromConfig(cfg.Run))
	if err != nil {
		return err
	}

	paths, err := output.SaveFiles(cfg.Run.OutputDir, runOutputName, cfg.Run.Format, snap)
	if err != nil {
		return fmt.Errorf("write results: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), output.Summary(snap))
	for _, p := range paths {
		fmt.Fprintf(cmd.OutOrStdout(), "saved %s\n", p)
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		log.Warn().Dur("timeout", cfg.Run.RunTimeout).Msg("run stopped by timeout")
	}
	return nil
}
