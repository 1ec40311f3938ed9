package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/blockedby/channel-harvester/internal/collector"
	"github.com/blockedby/channel-harvester/internal/nats"
	"github.com/blockedby/channel-harvester/internal/publisher"
)

var eventsConsumer string

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Print harvest events published to NATS",
	Long: `Attach a durable JetStream consumer to the harvest stream and print
every run and message batch event as it arrives. Requires NATS_URL.`,
	Args: cobra.NoArgs,
	RunE: tailEvents,
}

func init() {
	rootCmd.AddCommand(eventsCmd)
	eventsCmd.Flags().StringVar(&eventsConsumer, "consumer", "harvester-events", "durable consumer name")
}

func tailEvents(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.NatsURL == "" {
		return fmt.Errorf("NATS_URL is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	nc, err := nats.New(ctx, cfg.NatsURL)
	if err != nil {
		return err
	}
	defer nc.Close()

	if err := nc.EnsureStream(ctx, nats.StreamName, nats.StreamSubjects); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	unsubscribe, err := nc.Subscribe(ctx, nats.StreamName, eventsConsumer, "harvest.>", func(subject string, data []byte) error {
		switch subject {
		case publisher.SubjectMessages:
			var ev collector.MessagesEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Warn().Err(err).Str("subject", subject).Msg("skipping malformed event")
				return nil
			}
			fmt.Fprintf(out, "%s  run=%s channel=%s messages=%d\n",
				ev.CreatedAt.Format("15:04:05"), ev.RunID, ev.Channel, len(ev.Messages))
		case publisher.SubjectRuns:
			var ev collector.RunEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				log.Warn().Err(err).Str("subject", subject).Msg("skipping malformed event")
				return nil
			}
			fmt.Fprintf(out, "%s  run=%s finished outcome=%s messages=%d prompts=%d media=%d/%d\n",
				ev.FinishedAt.Format("15:04:05"), ev.RunID, ev.Outcome, ev.TotalMessages, ev.TotalPrompts,
				ev.MediaDownloaded, ev.MediaDownloaded+ev.MediaFailed)
		default:
			fmt.Fprintf(out, "%s  %s\n", subject, data)
		}
		return nil
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	log.Info().Str("consumer", eventsConsumer).Msg("waiting for events, ctrl+c to stop")
	<-ctx.Done()
	return nil
}
