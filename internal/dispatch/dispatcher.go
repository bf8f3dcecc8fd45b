package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smukkama/welfare-notifier/internal/metrics"
	"github.com/smukkama/welfare-notifier/internal/models"
	"github.com/smukkama/welfare-notifier/internal/retry"
	"github.com/smukkama/welfare-notifier/internal/sms"
)

// Recorder persists dispatch jobs and their per-recipient outcomes for audit
type Recorder interface {
	RecordJob(ctx context.Context, job *models.DispatchJob) error
	RecordOutcomes(ctx context.Context, outcomes []models.DeliveryOutcome) error
}

// Result is the rollup of one Send
type Result struct {
	MessageID    string
	Status       models.DispatchStatus
	SuccessCount int
	FailureCount int
	Outcomes     []models.DeliveryOutcome
}

// Config controls batching
type Config struct {
	BatchSize     int
	BatchPause    time.Duration
	SingleRetries int
	SingleDelay   time.Duration
}

// Dispatcher sends one message to many recipients in bounded concurrent
// batches and records exactly one outcome per recipient.
type Dispatcher struct {
	transport sms.Transport
	recorder  Recorder
	cfg       Config
	single    *retry.Retrier
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. recorder may be nil.
func NewDispatcher(transport sms.Transport, recorder Recorder, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.SingleRetries <= 0 {
		cfg.SingleRetries = 3
	}

	return &Dispatcher{
		transport: transport,
		recorder:  recorder,
		cfg:       cfg,
		single:    retry.New(cfg.SingleRetries, cfg.SingleDelay, 1),
		sleep:     retry.Sleep,
		now:       time.Now,
		logger:    logger,
	}
}

// NewJob creates a pending job with a fresh message ID
func (d *Dispatcher) NewJob(kind, content string, recipients []models.Recipient) *models.DispatchJob {
	return &models.DispatchJob{
		MessageID:  uuid.NewString(),
		Kind:       kind,
		Content:    content,
		Recipients: recipients,
		CreatedAt:  d.now(),
		Status:     models.DispatchPending,
	}
}

// Send delivers job.Content to every recipient. Counts and status are written
// back to job. A cancelled context stops new sends; recipients not yet
// attempted are recorded as failures.
func (d *Dispatcher) Send(ctx context.Context, job *models.DispatchJob) Result {
	job.Status = models.DispatchSending
	job.SuccessCount, job.FailureCount = 0, 0
	d.recordJob(ctx, job)

	outcomes := make([]models.DeliveryOutcome, 0, len(job.Recipients))
	total := len(job.Recipients)

	for start := 0; start < total; start += d.cfg.BatchSize {
		end := start + d.cfg.BatchSize
		if end > total {
			end = total
		}

		var batch []models.DeliveryOutcome
		if err := ctx.Err(); err != nil {
			batch = d.abandon(job, job.Recipients[start:end], err)
		} else {
			batch = d.sendBatch(ctx, job, job.Recipients[start:end])
		}

		for _, o := range batch {
			if o.Succeeded {
				job.SuccessCount++
			} else {
				job.FailureCount++
			}
		}
		outcomes = append(outcomes, batch...)
		d.recordOutcomes(ctx, batch)

		if end < total && ctx.Err() == nil {
			_ = d.sleep(ctx, d.cfg.BatchPause)
		}
	}

	job.Resolve()
	d.recordJob(ctx, job)

	d.logger.Info("Dispatch finished",
		zap.String("message_id", job.MessageID),
		zap.String("kind", job.Kind),
		zap.String("status", string(job.Status)),
		zap.Int("recipients", total),
		zap.Int("success", job.SuccessCount),
		zap.Int("failure", job.FailureCount),
	)

	return Result{
		MessageID:    job.MessageID,
		Status:       job.Status,
		SuccessCount: job.SuccessCount,
		FailureCount: job.FailureCount,
		Outcomes:     outcomes,
	}
}

// SendSingle sends directly to one recipient, retrying on failure. Used for
// targeted reminders.
func (d *Dispatcher) SendSingle(ctx context.Context, kind string, recipient models.Recipient, text string) Result {
	job := d.NewJob(kind, text, []models.Recipient{recipient})
	job.Status = models.DispatchSending
	d.recordJob(ctx, job)

	err := retry.Do(ctx, d.single, func(ctx context.Context) error {
		return d.attempt(ctx, recipient.PhoneNumber, text)
	})

	outcome := models.DeliveryOutcome{
		MessageID:   job.MessageID,
		RecipientID: recipient.ID,
		PhoneNumber: recipient.PhoneNumber,
		Succeeded:   err == nil,
		SentAt:      d.now(),
	}
	if err != nil {
		outcome.Error = err.Error()
		job.FailureCount = 1
	} else {
		job.SuccessCount = 1
	}
	metrics.DeliveryOutcomes.WithLabelValues(kind, resultLabel(outcome.Succeeded)).Inc()
	d.recordOutcomes(ctx, []models.DeliveryOutcome{outcome})

	job.Resolve()
	d.recordJob(ctx, job)

	return Result{
		MessageID:    job.MessageID,
		Status:       job.Status,
		SuccessCount: job.SuccessCount,
		FailureCount: job.FailureCount,
		Outcomes:     []models.DeliveryOutcome{outcome},
	}
}

func (d *Dispatcher) sendBatch(ctx context.Context, job *models.DispatchJob, recipients []models.Recipient) []models.DeliveryOutcome {
	batch := make([]models.DeliveryOutcome, len(recipients))

	var wg sync.WaitGroup
	for i, r := range recipients {
		wg.Add(1)
		go func(i int, r models.Recipient) {
			defer wg.Done()
			batch[i] = d.deliver(ctx, job, r)
		}(i, r)
	}
	wg.Wait()

	return batch
}

// deliver never panics and always returns an outcome for r
func (d *Dispatcher) deliver(ctx context.Context, job *models.DispatchJob, r models.Recipient) (outcome models.DeliveryOutcome) {
	outcome = models.DeliveryOutcome{
		MessageID:   job.MessageID,
		RecipientID: r.ID,
		PhoneNumber: r.PhoneNumber,
	}

	defer func() {
		if p := recover(); p != nil {
			outcome.Succeeded = false
			outcome.Error = fmt.Sprintf("panic during send: %v", p)
			d.logger.Error("Recovered panic during send",
				zap.String("message_id", job.MessageID),
				zap.Int64("recipient_id", r.ID),
				zap.Any("panic", p),
			)
		}
		outcome.SentAt = d.now()
		metrics.DeliveryOutcomes.WithLabelValues(job.Kind, resultLabel(outcome.Succeeded)).Inc()
	}()

	if err := d.attempt(ctx, r.PhoneNumber, job.Content); err != nil {
		outcome.Error = err.Error()
		return outcome
	}
	outcome.Succeeded = true
	return outcome
}

var errNotDelivered = errors.New("transport reported message not delivered")

func (d *Dispatcher) attempt(ctx context.Context, phone, text string) error {
	delivered, err := d.transport.SendOne(ctx, phone, text)
	if err != nil {
		return err
	}
	if !delivered {
		return errNotDelivered
	}
	return nil
}

func (d *Dispatcher) abandon(job *models.DispatchJob, recipients []models.Recipient, cause error) []models.DeliveryOutcome {
	batch := make([]models.DeliveryOutcome, len(recipients))
	for i, r := range recipients {
		batch[i] = models.DeliveryOutcome{
			MessageID:   job.MessageID,
			RecipientID: r.ID,
			PhoneNumber: r.PhoneNumber,
			Error:       fmt.Sprintf("not attempted: %v", cause),
			SentAt:      d.now(),
		}
		metrics.DeliveryOutcomes.WithLabelValues(job.Kind, "failure").Inc()
	}
	return batch
}

func (d *Dispatcher) recordJob(ctx context.Context, job *models.DispatchJob) {
	if d.recorder == nil {
		return
	}
	if err := d.recorder.RecordJob(context.WithoutCancel(ctx), job); err != nil {
		d.logger.Error("Failed to record dispatch job",
			zap.String("message_id", job.MessageID),
			zap.Error(err),
		)
	}
}

func (d *Dispatcher) recordOutcomes(ctx context.Context, outcomes []models.DeliveryOutcome) {
	if d.recorder == nil || len(outcomes) == 0 {
		return
	}
	if err := d.recorder.RecordOutcomes(context.WithoutCancel(ctx), outcomes); err != nil {
		d.logger.Error("Failed to record delivery outcomes",
			zap.String("message_id", outcomes[0].MessageID),
			zap.Int("count", len(outcomes)),
			zap.Error(err),
		)
	}
}

func resultLabel(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
