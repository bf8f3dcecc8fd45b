package emergency

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/alert"
	"github.com/smukkama/welfare-notifier/internal/dispatch"
	"github.com/smukkama/welfare-notifier/internal/metrics"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/notification"
	"github.com/smukkama/welfare-notifier/internal/retry"
)

// DisasterSource supplies disaster messages, normally the acquisition service
type DisasterSource interface {
	DisasterData(ctx context.Context, forceRefresh bool) ([]models.DisasterMessage, error)
}

// RecipientSource lists who receives emergency alerts
type RecipientSource interface {
	ActiveRecipients(ctx context.Context) ([]models.Recipient, error)
}

// Sender is the part of the dispatcher the monitor uses
type Sender interface {
	NewJob(kind, content string, recipients []models.Recipient) *models.DispatchJob
	Send(ctx context.Context, job *models.DispatchJob) dispatch.Result
}

// AlertLog records processed alerts for audit. Optional.
type AlertLog interface {
	RecordAlert(ctx context.Context, a models.AlertRecord, messageID, outcome string) error
}

// History lists alerts handled before this process started
type History interface {
	ProcessedAlerts(ctx context.Context, since time.Time) ([]models.ProcessedAlert, error)
}

// Config for the monitor
type Config struct {
	FetchTimeout   time.Duration
	SLA            time.Duration
	SendRetries    int
	SendRetryDelay time.Duration
	LookbackHours  int
	DedupWindow    time.Duration
	DedupMaxSize   int
}

// Alert outcomes reported in PollReport and the alert log
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)

// AlertReport describes what happened to one new alert
type AlertReport struct {
	AlertID   string        `json:"alert_id"`
	Category  string        `json:"category"`
	Level     string        `json:"level"`
	MessageID string        `json:"message_id,omitempty"`
	Outcome   string        `json:"outcome"`
	Attempts  int           `json:"attempts"`
	Success   int           `json:"success"`
	Failure   int           `json:"failure"`
	Elapsed   time.Duration `json:"elapsed"`
	Breached  bool          `json:"sla_breached"`
}

// PollReport summarizes one poll cycle
type PollReport struct {
	StartedAt  time.Time     `json:"started_at"`
	Fetched    int           `json:"fetched"`
	Emergency  int           `json:"emergency"`
	Duplicates int           `json:"duplicates"`
	Old        int           `json:"old"`
	Alerts     []AlertReport `json:"alerts"`
	FetchError string        `json:"fetch_error,omitempty"`
}

// Monitor polls disaster data and dispatches new emergency alerts
type Monitor struct {
	source     DisasterSource
	recipients RecipientSource
	classifier *alert.Classifier
	sender     Sender
	alertLog   AlertLog
	ops        notification.OpsNotifier
	cfg        Config
	logger     *zap.Logger

	processed *alert.ProcessedSet
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error

	pollMu        sync.Mutex // serializes polls; the admin trigger can race the scheduler
	lastCheckTime time.Time
}

// Option configures a Monitor
type Option func(*Monitor)

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// WithAlertLog records every processed alert
func WithAlertLog(l AlertLog) Option {
	return func(m *Monitor) { m.alertLog = l }
}

// WithOpsNotifier emails operators on SLA breach and terminal failure
func WithOpsNotifier(n notification.OpsNotifier) Option {
	return func(m *Monitor) { m.ops = n }
}

// NewMonitor creates an emergency monitor
func NewMonitor(source DisasterSource, recipients RecipientSource, classifier *alert.Classifier, sender Sender, cfg Config, logger *zap.Logger, opts ...Option) *Monitor {
	if cfg.SendRetries <= 0 {
		cfg.SendRetries = 3
	}
	if cfg.SLA <= 0 {
		cfg.SLA = 5 * time.Minute
	}
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = 24 * time.Hour
	}

	m := &Monitor{
		source:     source,
		recipients: recipients,
		classifier: classifier,
		sender:     sender,
		cfg:        cfg,
		logger:     logger,
		now:        time.Now,
		sleep:      retry.Sleep,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.processed = alert.NewProcessedSet(cfg.DedupWindow, cfg.DedupMaxSize, m.now)

	return m
}

// LastCheckTime returns the current watermark
func (m *Monitor) LastCheckTime() time.Time {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	return m.lastCheckTime
}

// Restore seeds the processed set from history within the dedup window so
// alerts handled before a restart are not sent again. Call before the first
// Poll.
func (m *Monitor) Restore(ctx context.Context, h History) (int, error) {
	alerts, err := h.ProcessedAlerts(ctx, m.now().Add(-m.cfg.DedupWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to restore processed alerts: %w", err)
	}

	restored := 0
	for _, a := range alerts {
		if m.processed.AddAt(a.AlertID, a.ProcessedAt) {
			restored++
		}
	}
	m.logger.Info("Processed alerts restored", zap.Int("count", restored))
	return restored, nil
}

// Poll runs one detection cycle. It never panics and never returns an error;
// problems are logged and reflected in the report.
func (m *Monitor) Poll(ctx context.Context) (report PollReport) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	start := m.now()
	report.StartedAt = start

	watermark := m.lastCheckTime
	if watermark.IsZero() {
		watermark = start.Add(-time.Duration(m.cfg.LookbackHours) * time.Hour)
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Emergency poll panicked", zap.Any("panic", r))
		}
		if start.After(m.lastCheckTime) {
			m.lastCheckTime = start
		}
	}()

	msgs, err := m.fetch(ctx)
	if err != nil {
		report.FetchError = err.Error()
		m.logger.Warn("No disaster data this cycle", zap.Error(err))
		return report
	}
	report.Fetched = len(msgs)

	var fresh []models.AlertRecord
	seen := make(map[string]struct{})
	for _, a := range m.classifier.Filter(msgs) {
		if !a.IsEmergency {
			continue
		}
		report.Emergency++
		if _, dup := seen[a.ID]; dup || m.processed.Contains(a.ID) {
			report.Duplicates++
			continue
		}
		seen[a.ID] = struct{}{}
		if !a.ObservedAt.After(watermark) {
			report.Old++
			continue
		}
		fresh = append(fresh, a)
	}

	if len(fresh) == 0 {
		m.logger.Debug("No new emergency alerts",
			zap.Int("fetched", report.Fetched),
			zap.Int("duplicates", report.Duplicates),
			zap.Int("old", report.Old),
		)
		return report
	}

	// New alerts are delivered even if the caller goes away, otherwise they
	// would be marked processed without reaching anyone.
	ctx = context.WithoutCancel(ctx)

	recipients, err := m.recipients.ActiveRecipients(ctx)
	if err != nil {
		m.logger.Error("Failed to load recipients for emergency dispatch", zap.Error(err))
	}

	report.Alerts = make([]AlertReport, len(fresh))
	var wg sync.WaitGroup
	for i, a := range fresh {
		wg.Add(1)
		go func(i int, a models.AlertRecord) {
			defer wg.Done()
			report.Alerts[i] = m.handle(ctx, a, recipients, err, start)
		}(i, a)
	}
	wg.Wait()

	return report
}

func (m *Monitor) fetch(ctx context.Context) ([]models.DisasterMessage, error) {
	fetchCtx := ctx
	if m.cfg.FetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, m.cfg.FetchTimeout)
		defer cancel()
	}

	// Always go to the provider: a 10 minute cache hit would hide new alerts
	// for longer than the delivery budget allows.
	msgs, err := m.source.DisasterData(fetchCtx, true)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("disaster fetch timed out after %s: %w", m.cfg.FetchTimeout, err)
		}
		return nil, err
	}
	return msgs, nil
}

// handle dispatches one alert with send retries. The alert is marked processed
// whatever the outcome.
func (m *Monitor) handle(ctx context.Context, a models.AlertRecord, recipients []models.Recipient, recipientsErr error, start time.Time) (ar AlertReport) {
	ar = AlertReport{
		AlertID:  a.ID,
		Category: a.Category,
		Level:    a.EmergencyLevel,
		Outcome:  OutcomeFailed,
	}

	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Emergency dispatch panicked", zap.String("alert_id", a.ID), zap.Any("panic", r))
			ar.Outcome = OutcomeFailed
		}
		m.processed.Add(a.ID)
		m.finish(ctx, a, &ar, start)
	}()

	if recipientsErr != nil {
		return ar
	}

	text, err := notification.RenderEmergency(a)
	if err != nil {
		m.logger.Error("Failed to render emergency message", zap.String("alert_id", a.ID), zap.Error(err))
		text = a.Message
	}

	for attempt := 1; attempt <= m.cfg.SendRetries; attempt++ {
		ar.Attempts = attempt

		job := m.sender.NewJob(models.KindEmergency, text, recipients)
		job.AlertID = a.ID
		res := m.sender.Send(ctx, job)

		ar.MessageID = res.MessageID
		ar.Success = res.SuccessCount
		ar.Failure = res.FailureCount
		if res.Status == models.DispatchSent {
			ar.Outcome = OutcomeSent
			return ar
		}

		m.logger.Warn("Emergency dispatch failed",
			zap.String("alert_id", a.ID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", m.cfg.SendRetries),
			zap.Int("failure", res.FailureCount),
		)
		if attempt < m.cfg.SendRetries {
			if err := m.sleep(ctx, m.cfg.SendRetryDelay); err != nil {
				break
			}
		}
	}

	return ar
}

func (m *Monitor) finish(ctx context.Context, a models.AlertRecord, ar *AlertReport, start time.Time) {
	ar.Elapsed = m.now().Sub(start)
	metrics.EmergencyAlerts.WithLabelValues(ar.Outcome).Inc()
	metrics.EmergencyLatency.Observe(ar.Elapsed.Seconds())

	if ar.Outcome == OutcomeSent {
		m.logger.Info("Emergency alert dispatched",
			zap.String("alert_id", a.ID),
			zap.String("category", a.Category),
			zap.String("level", a.EmergencyLevel),
			zap.String("message_id", ar.MessageID),
			zap.Int("success", ar.Success),
			zap.Int("failure", ar.Failure),
			zap.Duration("elapsed", ar.Elapsed),
		)
	} else {
		m.logger.Error("Emergency alert delivery failed permanently",
			zap.String("alert_id", a.ID),
			zap.Int("attempts", ar.Attempts),
		)
		m.notifyOps(fmt.Sprintf("Emergency alert %s delivery failed", a.ID),
			fmt.Sprintf("Alert %s (%s %s) could not be delivered after %d attempts.\n\n%s",
				a.ID, a.Category, a.EmergencyLevel, ar.Attempts, a.Message))
	}

	if ar.Elapsed > m.cfg.SLA {
		ar.Breached = true
		metrics.SLABreaches.Inc()
		m.logger.Warn("Emergency delivery SLA breached",
			zap.String("alert_id", a.ID),
			zap.Duration("elapsed", ar.Elapsed),
			zap.Duration("sla", m.cfg.SLA),
		)
		m.notifyOps(fmt.Sprintf("Emergency SLA breach for alert %s", a.ID),
			fmt.Sprintf("Alert %s took %s from detection to dispatch (budget %s).", a.ID, ar.Elapsed, m.cfg.SLA))
	}

	if m.alertLog != nil {
		if err := m.alertLog.RecordAlert(context.WithoutCancel(ctx), a, ar.MessageID, ar.Outcome); err != nil {
			m.logger.Error("Failed to record alert", zap.String("alert_id", a.ID), zap.Error(err))
		}
	}
}

func (m *Monitor) notifyOps(subject, body string) {
	if m.ops == nil {
		return
	}
	if err := m.ops.NotifyOps(subject, body); err != nil {
		m.logger.Error("Failed to notify operators", zap.String("subject", subject), zap.Error(err))
	}
}
