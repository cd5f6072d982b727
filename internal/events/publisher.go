// Package events publishes reconciliation outcomes to Kafka so downstream
// consumers (reporting, notifications) can react to applied links without
// polling the database.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// LinkApplied is emitted once per link written back in apply mode.
type LinkApplied struct {
	RunID      string    `json:"run_id"`
	LedgerID   string    `json:"ledger_id"`
	ExternalID string    `json:"external_id"`
	Confidence int       `json:"confidence"`
	Signals    []string  `json:"signals"`
	Amount     string    `json:"amount"`
	AppliedAt  time.Time `json:"applied_at"`
}

// RunCompleted is emitted once per completed apply-mode run.
type RunCompleted struct {
	RunID            string    `json:"run_id"`
	Status           string    `json:"status"`
	AutoApplied      int       `json:"auto_applied"`
	NeedsReview      int       `json:"needs_review"`
	UnmatchedLedger  int       `json:"unmatched_ledger"`
	SkippedDuplicate int       `json:"skipped_duplicate"`
	TotalReconciled  string    `json:"total_reconciled"`
	CompletedAt      time.Time `json:"completed_at"`
}

// Publisher delivers reconciliation events. Publishing is best-effort from
// the engine's perspective: a failed publish is logged, never rolled into the
// run outcome.
type Publisher interface {
	PublishLinkApplied(ctx context.Context, ev LinkApplied) error
	PublishRunCompleted(ctx context.Context, ev RunCompleted) error
	Close() error
}

// NopPublisher discards all events. Used when no brokers are configured and
// in dry-run heavy test setups.
type NopPublisher struct{}

func (NopPublisher) PublishLinkApplied(context.Context, LinkApplied) error   { return nil }
func (NopPublisher) PublishRunCompleted(context.Context, RunCompleted) error { return nil }
func (NopPublisher) Close() error                                            { return nil }

// KafkaPublisher writes events as JSON messages keyed by run id, so all
// events of one run land in the same partition in order.
type KafkaPublisher struct {
	writer *kafka.Writer
	logger *slog.Logger
}

// NewKafkaPublisher creates a publisher against the given brokers and topic.
func NewKafkaPublisher(brokers []string, topic string, logger *slog.Logger) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			RequiredAcks: kafka.RequireOne,
		},
		logger: logger,
	}
}

// PublishLinkApplied emits a link_applied event.
func (p *KafkaPublisher) PublishLinkApplied(ctx context.Context, ev LinkApplied) error {
	return p.publish(ctx, "link_applied", ev.RunID, ev)
}

// PublishRunCompleted emits a run_completed event.
func (p *KafkaPublisher) PublishRunCompleted(ctx context.Context, ev RunCompleted) error {
	return p.publish(ctx, "run_completed", ev.RunID, ev)
}

func (p *KafkaPublisher) publish(ctx context.Context, eventType, runID string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	msg := kafka.Message{
		Key:   []byte(runID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("failed to publish event", "type", eventType, "run_id", runID, "error", err)
		return err
	}

	p.logger.Debug("published event", "type", eventType, "run_id", runID)
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
