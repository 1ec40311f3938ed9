package publisher

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/blockedby/channel-harvester/internal/collector"
)

// Subjects of harvest events.
const (
	SubjectMessages = "harvest.messages"
	SubjectRuns     = "harvest.runs"
)

// NATSClient interface to allow mocking
type NATSClient interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// NATSPublisher implements collector.EventPublisher
type NATSPublisher struct {
	js NATSClient
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(client NATSClient) *NATSPublisher {
	return &NATSPublisher{js: client}
}

// PublishMessages publishes the records of one page
func (p *NATSPublisher) PublishMessages(ctx context.Context, event collector.MessagesEvent) error {
	return p.publish(ctx, SubjectMessages, event)
}

// PublishRun publishes a finished run
func (p *NATSPublisher) PublishRun(ctx context.Context, event collector.RunEvent) error {
	return p.publish(ctx, SubjectRuns, event)
}

func (p *NATSPublisher) publish(ctx context.Context, subject string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.js.Publish(ctx, subject, data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	return nil
}
