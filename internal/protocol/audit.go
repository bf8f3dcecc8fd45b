package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/smukkama/welfare-notifier/internal/models"
)

// EventType identifies the payload of an AuditEvent
type EventType string

const (
	EventDispatchJob      EventType = "DISPATCH_JOB"
	EventDeliveryOutcomes EventType = "DELIVERY_OUTCOMES"
	EventAlertProcessed   EventType = "ALERT_PROCESSED"
)

// AuditEvent is the message format on the audit topic. Exactly one payload
// field is set, matching Type.
type AuditEvent struct {
	Type      EventType                `json:"type"`
	EmittedAt time.Time                `json:"emitted_at"`
	Job       *JobEvent                `json:"job,omitempty"`
	Outcomes  []models.DeliveryOutcome `json:"outcomes,omitempty"`
	Alert     *AlertEvent              `json:"alert,omitempty"`
}

// JobEvent is a dispatch job snapshot. Recipients is a count; phone numbers
// travel only in outcomes.
type JobEvent struct {
	MessageID    string    `json:"message_id"`
	Kind         string    `json:"kind"`
	Content      string    `json:"content"`
	AlertID      string    `json:"alert_id,omitempty"`
	Recipients   int       `json:"recipients"`
	Status       string    `json:"status"`
	SuccessCount int       `json:"success_count"`
	FailureCount int       `json:"failure_count"`
	CreatedAt    time.Time `json:"created_at"`
}

// AlertEvent records what happened to one emergency alert
type AlertEvent struct {
	Alert     models.AlertRecord `json:"alert"`
	MessageID string             `json:"message_id,omitempty"`
	Outcome   string             `json:"outcome"`
}

// NewJobEvent snapshots a job
func NewJobEvent(job *models.DispatchJob, at time.Time) *AuditEvent {
	return &AuditEvent{
		Type:      EventDispatchJob,
		EmittedAt: at,
		Job: &JobEvent{
			MessageID:    job.MessageID,
			Kind:         job.Kind,
			Content:      job.Content,
			AlertID:      job.AlertID,
			Recipients:   len(job.Recipients),
			Status:       string(job.Status),
			SuccessCount: job.SuccessCount,
			FailureCount: job.FailureCount,
			CreatedAt:    job.CreatedAt,
		},
	}
}

// NewOutcomesEvent wraps a batch of delivery outcomes
func NewOutcomesEvent(outcomes []models.DeliveryOutcome, at time.Time) *AuditEvent {
	return &AuditEvent{Type: EventDeliveryOutcomes, EmittedAt: at, Outcomes: outcomes}
}

// NewAlertEvent wraps a processed alert
func NewAlertEvent(a models.AlertRecord, messageID, outcome string, at time.Time) *AuditEvent {
	return &AuditEvent{
		Type:      EventAlertProcessed,
		EmittedAt: at,
		Alert:     &AlertEvent{Alert: a, MessageID: messageID, Outcome: outcome},
	}
}

// Key returns the partition key. Events of one dispatch share a key so they
// stay ordered.
func (e *AuditEvent) Key() string {
	switch e.Type {
	case EventDispatchJob:
		return e.Job.MessageID
	case EventDeliveryOutcomes:
		if len(e.Outcomes) > 0 {
			return e.Outcomes[0].MessageID
		}
	case EventAlertProcessed:
		if e.Alert.MessageID != "" {
			return e.Alert.MessageID
		}
		return e.Alert.Alert.ID
	}
	return ""
}

// EncodeAuditEvent encodes an AuditEvent to JSON
func EncodeAuditEvent(e *AuditEvent) ([]byte, error) {
	return json.Marshal(e)
}

// DecodeAuditEvent decodes JSON to an AuditEvent and checks that the payload
// matches the type.
func DecodeAuditEvent(data []byte) (*AuditEvent, error) {
	var e AuditEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}

	switch e.Type {
	case EventDispatchJob:
		if e.Job == nil {
			return nil, fmt.Errorf("%s event without job", e.Type)
		}
	case EventDeliveryOutcomes:
		if len(e.Outcomes) == 0 {
			return nil, fmt.Errorf("%s event without outcomes", e.Type)
		}
	case EventAlertProcessed:
		if e.Alert == nil {
			return nil, fmt.Errorf("%s event without alert", e.Type)
		}
	default:
		return nil, fmt.Errorf("unknown event type %q", e.Type)
	}
	return &e, nil
}
