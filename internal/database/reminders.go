package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/smukkama/welfare-notifier/internal/models"
)

const reminderColumns = `id, recipient_id, schedule_type, time_of_day, day_of_week_or_month, message, last_fired_at, is_active`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReminder(row rowScanner) (*models.ReminderSchedule, error) {
	var (
		rs        models.ReminderSchedule
		day       sql.NullInt32
		lastFired sql.NullTime
		schedType string
	)
	if err := row.Scan(&rs.ID, &rs.RecipientID, &schedType, &rs.TimeOfDay, &day, &rs.Message, &lastFired, &rs.IsActive); err != nil {
		return nil, err
	}
	rs.ScheduleType = models.ScheduleType(schedType)
	if day.Valid {
		d := int(day.Int32)
		rs.DayOfWeekOrMonth = &d
	}
	if lastFired.Valid {
		t := lastFired.Time
		rs.LastFiredAt = &t
	}
	return &rs, nil
}

// ActiveReminders returns every active reminder whose recipient is also active
func (db *DB) ActiveReminders(ctx context.Context) ([]models.ReminderSchedule, error) {
	query := `
		SELECT rs.id, rs.recipient_id, rs.schedule_type, rs.time_of_day, rs.day_of_week_or_month,
		       rs.message, rs.last_fired_at, rs.is_active
		FROM reminder_schedules rs
		JOIN recipients r ON r.id = rs.recipient_id
		WHERE rs.is_active = TRUE AND r.is_active = TRUE
		ORDER BY rs.id
	`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query active reminders: %w", err)
	}
	defer rows.Close()

	var reminders []models.ReminderSchedule
	for rows.Next() {
		rs, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan reminder: %w", err)
		}
		reminders = append(reminders, *rs)
	}

	return reminders, rows.Err()
}

// GetReminder retrieves one reminder by ID
func (db *DB) GetReminder(ctx context.Context, id int64) (*models.ReminderSchedule, error) {
	query := `SELECT ` + reminderColumns + ` FROM reminder_schedules WHERE id = $1`

	rs, err := scanReminder(db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reminder %d: %w", id, err)
	}
	return rs, nil
}

// CreateReminder inserts an active reminder. The recipient row is locked
// while counting so two concurrent creates cannot both pass the cap.
func (db *DB) CreateReminder(ctx context.Context, rs *models.ReminderSchedule) (int64, error) {
	if err := ValidateReminder(rs); err != nil {
		return 0, err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := checkReminderCap(ctx, tx, rs.RecipientID); err != nil {
		return 0, err
	}

	query := `
		INSERT INTO reminder_schedules (recipient_id, schedule_type, time_of_day, day_of_week_or_month, message, is_active)
		VALUES ($1, $2, $3, $4, $5, TRUE)
		RETURNING id
	`
	var day any
	if rs.DayOfWeekOrMonth != nil {
		day = *rs.DayOfWeekOrMonth
	}

	var id int64
	if err := tx.QueryRowContext(ctx, query, rs.RecipientID, string(rs.ScheduleType), rs.TimeOfDay, day, rs.Message).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to insert reminder: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit reminder: %w", err)
	}

	rs.ID = id
	rs.IsActive = true
	return id, nil
}

// SetReminderActive activates or deactivates a reminder. Activation is
// subject to the same cap as creation.
func (db *DB) SetReminderActive(ctx context.Context, id int64, active bool) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var recipientID int64
	var current bool
	err = tx.QueryRowContext(ctx, `SELECT recipient_id, is_active FROM reminder_schedules WHERE id = $1`, id).
		Scan(&recipientID, &current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("reminder %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to get reminder %d: %w", id, err)
	}
	if current == active {
		return nil
	}

	if active {
		if err := checkReminderCap(ctx, tx, recipientID); err != nil {
			return err
		}
	}

	query := `
		UPDATE reminder_schedules
		SET is_active = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	if _, err := tx.ExecContext(ctx, query, id, active); err != nil {
		return fmt.Errorf("failed to update reminder %d: %w", id, err)
	}

	return tx.Commit()
}

// MarkReminderFired stamps the last fire time
func (db *DB) MarkReminderFired(ctx context.Context, id int64, at time.Time) error {
	query := `
		UPDATE reminder_schedules
		SET last_fired_at = $2, updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`
	if _, err := db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("failed to mark reminder %d fired: %w", id, err)
	}
	return nil
}

func checkReminderCap(ctx context.Context, tx *sql.Tx, recipientID int64) error {
	var locked int64
	err := tx.QueryRowContext(ctx, `SELECT id FROM recipients WHERE id = $1 FOR UPDATE`, recipientID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("recipient %d: %w", recipientID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to lock recipient %d: %w", recipientID, err)
	}

	var count int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM reminder_schedules WHERE recipient_id = $1 AND is_active = TRUE`,
		recipientID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count reminders: %w", err)
	}
	if count >= models.MaxActiveReminders {
		return ErrReminderLimit
	}
	return nil
}

// ValidateReminder checks the schedule fields before they reach the database
func ValidateReminder(rs *models.ReminderSchedule) error {
	if _, err := time.Parse("15:04", rs.TimeOfDay); err != nil {
		return fmt.Errorf("invalid time of day %q", rs.TimeOfDay)
	}
	if rs.Message == "" {
		return errors.New("reminder message is empty")
	}

	switch rs.ScheduleType {
	case models.ScheduleDaily:
		return nil
	case models.ScheduleWeekly:
		if rs.DayOfWeekOrMonth == nil || *rs.DayOfWeekOrMonth < 0 || *rs.DayOfWeekOrMonth > 6 {
			return errors.New("weekly reminder needs a day of week 0-6")
		}
	case models.ScheduleMonthly:
		if rs.DayOfWeekOrMonth == nil || *rs.DayOfWeekOrMonth < 1 || *rs.DayOfWeekOrMonth > 31 {
			return errors.New("monthly reminder needs a day of month 1-31")
		}
	default:
		return fmt.Errorf("unknown schedule type %q", rs.ScheduleType)
	}
	return nil
}
