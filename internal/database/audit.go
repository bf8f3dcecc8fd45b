package database

import (
	"context"
	"fmt"
	"time"

	"github.com/smukkama/welfare-notifier/internal/models"
)

// JobRow is a dispatch job as stored, with the recipient list reduced to a count
type JobRow struct {
	MessageID    string
	Kind         string
	Content      string
	AlertID      string
	Recipients   int
	Status       string
	SuccessCount int
	FailureCount int
	CreatedAt    time.Time
}

// JobRowFrom converts a dispatch job for storage
func JobRowFrom(job *models.DispatchJob) JobRow {
	return JobRow{
		MessageID:    job.MessageID,
		Kind:         job.Kind,
		Content:      job.Content,
		AlertID:      job.AlertID,
		Recipients:   len(job.Recipients),
		Status:       string(job.Status),
		SuccessCount: job.SuccessCount,
		FailureCount: job.FailureCount,
		CreatedAt:    job.CreatedAt,
	}
}

// RecordJob inserts or updates a dispatch job row
func (db *DB) RecordJob(ctx context.Context, job *models.DispatchJob) error {
	return db.SaveJob(ctx, JobRowFrom(job))
}

// SaveJob upserts a job row keyed by message ID
func (db *DB) SaveJob(ctx context.Context, job JobRow) error {
	query := `
		INSERT INTO dispatch_jobs (message_id, kind, content, alert_id, recipients, status, success_count, failure_count, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
		ON CONFLICT (message_id) DO UPDATE
		SET status = EXCLUDED.status,
		    success_count = EXCLUDED.success_count,
		    failure_count = EXCLUDED.failure_count,
		    updated_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query,
		job.MessageID,
		job.Kind,
		job.Content,
		job.AlertID,
		job.Recipients,
		job.Status,
		job.SuccessCount,
		job.FailureCount,
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record dispatch job %s: %w", job.MessageID, err)
	}
	return nil
}

// RecordOutcomes inserts delivery outcomes in one transaction
func (db *DB) RecordOutcomes(ctx context.Context, outcomes []models.DeliveryOutcome) error {
	if len(outcomes) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO delivery_outcomes (message_id, recipient_id, phone_number, succeeded, error, sent_at)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
		ON CONFLICT (message_id, recipient_id) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, o := range outcomes {
		if _, err := stmt.ExecContext(ctx, o.MessageID, o.RecipientID, o.PhoneNumber, o.Succeeded, o.Error, o.SentAt); err != nil {
			return fmt.Errorf("failed to insert outcome for recipient %d: %w", o.RecipientID, err)
		}
	}

	return tx.Commit()
}

// RecordAlert stores a processed alert and its dispatch outcome
func (db *DB) RecordAlert(ctx context.Context, a models.AlertRecord, messageID, outcome string) error {
	query := `
		INSERT INTO alert_log (alert_id, region, category, emergency_level, message, observed_at, message_id, outcome)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, NULLIF($7, '')::uuid, $8)
		ON CONFLICT (alert_id) DO UPDATE
		SET message_id = EXCLUDED.message_id,
		    outcome = EXCLUDED.outcome,
		    processed_at = CURRENT_TIMESTAMP
	`
	_, err := db.ExecContext(ctx, query, a.ID, a.Region, a.Category, a.EmergencyLevel, a.Message, a.ObservedAt, messageID, outcome)
	if err != nil {
		return fmt.Errorf("failed to record alert %s: %w", a.ID, err)
	}
	return nil
}

// ProcessedAlerts lists alerts handled since the given time, oldest first
func (db *DB) ProcessedAlerts(ctx context.Context, since time.Time) ([]models.ProcessedAlert, error) {
	query := `
		SELECT alert_id, processed_at
		FROM alert_log
		WHERE processed_at > $1
		ORDER BY processed_at
	`
	rows, err := db.QueryContext(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query alert log: %w", err)
	}
	defer rows.Close()

	var alerts []models.ProcessedAlert
	for rows.Next() {
		var a models.ProcessedAlert
		if err := rows.Scan(&a.AlertID, &a.ProcessedAt); err != nil {
			return nil, fmt.Errorf("failed to scan alert log: %w", err)
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
