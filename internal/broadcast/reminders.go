package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/dispatch"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/notification"
	"github.com/smukkama/welfare-notifier/internal/scheduler"
	"github.com/smukkama/welfare-notifier/pkg/config"
)

// ReminderStore persists reminder definitions
type ReminderStore interface {
	ActiveReminders(ctx context.Context) ([]models.ReminderSchedule, error)
	GetReminder(ctx context.Context, id int64) (*models.ReminderSchedule, error)
	CreateReminder(ctx context.Context, rs *models.ReminderSchedule) (int64, error)
	SetReminderActive(ctx context.Context, id int64, active bool) error
	MarkReminderFired(ctx context.Context, id int64, at time.Time) error
	GetRecipient(ctx context.Context, id int64) (*models.Recipient, error)
}

// TaskRunner is the part of the scheduler reminders need
type TaskRunner interface {
	Register(name string, trigger scheduler.Trigger, action scheduler.Action)
	Start(name string) error
	Unregister(name string) error
}

// SingleSender sends to one recipient with retries
type SingleSender interface {
	SendSingle(ctx context.Context, kind string, recipient models.Recipient, text string) dispatch.Result
}

// Reminders keeps one scheduled task per active reminder
type Reminders struct {
	store  ReminderStore
	runner TaskRunner
	sender SingleSender
	loc    *time.Location
	now    func() time.Time
	logger *zap.Logger

	mu     sync.Mutex // serializes activate/deactivate so store and runner agree
	active map[int64]bool
}

// NewReminders creates the reminder service
func NewReminders(store ReminderStore, runner TaskRunner, sender SingleSender, loc *time.Location, logger *zap.Logger) *Reminders {
	return &Reminders{
		store:  store,
		runner: runner,
		sender: sender,
		loc:    loc,
		now:    time.Now,
		logger: logger,
		active: make(map[int64]bool),
	}
}

// TaskName is the scheduler name of a reminder task
func TaskName(id int64) string {
	return fmt.Sprintf("reminder:%d", id)
}

// TriggerFor maps a reminder schedule to a scheduler trigger
func TriggerFor(rs models.ReminderSchedule, loc *time.Location) (scheduler.Trigger, error) {
	hour, minute, err := config.ParseTimeOfDay(rs.TimeOfDay)
	if err != nil {
		return nil, err
	}

	switch rs.ScheduleType {
	case models.ScheduleDaily:
		return scheduler.DailyAt(hour, minute, loc), nil
	case models.ScheduleWeekly:
		if rs.DayOfWeekOrMonth == nil || *rs.DayOfWeekOrMonth < 0 || *rs.DayOfWeekOrMonth > 6 {
			return nil, fmt.Errorf("reminder %d: weekly schedule needs a day of week 0-6", rs.ID)
		}
		return scheduler.WeeklyAt(time.Weekday(*rs.DayOfWeekOrMonth), hour, minute, loc), nil
	case models.ScheduleMonthly:
		if rs.DayOfWeekOrMonth == nil || *rs.DayOfWeekOrMonth < 1 || *rs.DayOfWeekOrMonth > 31 {
			return nil, fmt.Errorf("reminder %d: monthly schedule needs a day of month 1-31", rs.ID)
		}
		return scheduler.MonthlyAt(*rs.DayOfWeekOrMonth, hour, minute, loc), nil
	}
	return nil, fmt.Errorf("reminder %d: unknown schedule type %q", rs.ID, rs.ScheduleType)
}

// Load schedules every active reminder in the store. Reminders with a broken
// schedule are logged and skipped.
func (r *Reminders) Load(ctx context.Context) (int, error) {
	reminders, err := r.store.ActiveReminders(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to load reminders: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, rs := range reminders {
		if err := r.scheduleLocked(rs); err != nil {
			r.logger.Error("Skipping reminder", zap.Int64("reminder_id", rs.ID), zap.Error(err))
			continue
		}
		loaded++
	}

	r.logger.Info("Reminders scheduled", zap.Int("count", loaded))
	return loaded, nil
}

// Create stores a new reminder and schedules it
func (r *Reminders) Create(ctx context.Context, rs *models.ReminderSchedule) error {
	if _, err := TriggerFor(*rs, r.loc); err != nil {
		return err
	}
	if _, err := r.store.CreateReminder(ctx, rs); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.scheduleLocked(*rs)
}

// Activate marks a reminder active and (re)registers its task
func (r *Reminders) Activate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SetReminderActive(ctx, id, true); err != nil {
		return err
	}
	rs, err := r.store.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	return r.scheduleLocked(*rs)
}

// Deactivate marks a reminder inactive and stops its task
func (r *Reminders) Deactivate(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.SetReminderActive(ctx, id, false); err != nil {
		return err
	}
	if err := r.runner.Unregister(TaskName(id)); err != nil && !errors.Is(err, scheduler.ErrUnknownTask) {
		return err
	}
	delete(r.active, id)

	r.logger.Info("Reminder deactivated", zap.Int64("reminder_id", id))
	return nil
}

// Scheduled reports whether a reminder currently has a task
func (r *Reminders) Scheduled(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active[id]
}

func (r *Reminders) scheduleLocked(rs models.ReminderSchedule) error {
	trigger, err := TriggerFor(rs, r.loc)
	if err != nil {
		return err
	}

	name := TaskName(rs.ID)
	id := rs.ID
	r.runner.Register(name, trigger, func(ctx context.Context) error {
		return r.fire(ctx, id)
	})
	if err := r.runner.Start(name); err != nil {
		return err
	}
	r.active[rs.ID] = true
	return nil
}

// fire re-reads the reminder so edits and deactivations made elsewhere are
// honoured.
func (r *Reminders) fire(ctx context.Context, id int64) error {
	rs, err := r.store.GetReminder(ctx, id)
	if err != nil {
		return err
	}
	if !rs.IsActive {
		r.logger.Info("Reminder no longer active, skipping", zap.Int64("reminder_id", id))
		return nil
	}

	recipient, err := r.store.GetRecipient(ctx, rs.RecipientID)
	if err != nil {
		return err
	}
	if !recipient.IsActive {
		r.logger.Info("Recipient inactive, skipping reminder",
			zap.Int64("reminder_id", id),
			zap.Int64("recipient_id", recipient.ID),
		)
		return nil
	}

	res := r.sender.SendSingle(ctx, models.KindReminder, *recipient, notification.RenderReminder(recipient.Name, rs.Message))

	if err := r.store.MarkReminderFired(ctx, id, r.now()); err != nil {
		r.logger.Error("Failed to stamp reminder", zap.Int64("reminder_id", id), zap.Error(err))
	}

	if res.Status == models.DispatchFailed {
		return fmt.Errorf("reminder %d to recipient %d failed: %s", id, recipient.ID, outcomeError(res))
	}
	return nil
}

func outcomeError(res dispatch.Result) string {
	if len(res.Outcomes) == 0 {
		return "no outcome"
	}
	return res.Outcomes[0].Error
}
