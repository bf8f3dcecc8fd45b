package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/protocol"
)

// AuditPublisher sends dispatch audit records to the audit topic instead of
// writing them to the database directly. It satisfies dispatch.Recorder and
// emergency.AlertLog.
type AuditPublisher struct {
	producer *Producer
	now      func() time.Time
}

// NewAuditPublisher creates a publisher on producer
func NewAuditPublisher(producer *Producer) *AuditPublisher {
	return &AuditPublisher{producer: producer, now: time.Now}
}

// RecordJob publishes a job snapshot
func (p *AuditPublisher) RecordJob(ctx context.Context, job *models.DispatchJob) error {
	return p.publish(ctx, protocol.NewJobEvent(job, p.now()))
}

// RecordOutcomes publishes a batch of outcomes as one event
func (p *AuditPublisher) RecordOutcomes(ctx context.Context, outcomes []models.DeliveryOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}
	return p.publish(ctx, protocol.NewOutcomesEvent(outcomes, p.now()))
}

// RecordAlert publishes a processed alert
func (p *AuditPublisher) RecordAlert(ctx context.Context, a models.AlertRecord, messageID, outcome string) error {
	return p.publish(ctx, protocol.NewAlertEvent(a, messageID, outcome, p.now()))
}

func (p *AuditPublisher) publish(ctx context.Context, e *protocol.AuditEvent) error {
	data, err := protocol.EncodeAuditEvent(e)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
	}
	return p.producer.Publish(ctx, e.Key(), data)
}
